package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullspace-labs/lobby-relay/chatcmd"
	"github.com/nullspace-labs/lobby-relay/state"
	"github.com/nullspace-labs/lobby-relay/wire"
)

func newRoomWithTwo(t *testing.T) (*state.Room, *state.Connection, *state.Connection) {
	t.Helper()
	rooms := state.NewRoomRegistry()
	room, err := rooms.CreateRoom(1, state.GameSettings{MaxPlayers: 10}, time.Now())
	require.NoError(t, err)
	a := state.NewConnection(mustAddr("127.0.0.1:1"), 1)
	b := state.NewConnection(mustAddr("127.0.0.1:2"), 2)
	room.AddMember(a)
	room.AddMember(b)
	return room, a, b
}

func chatChild(text string) wire.HazelMessage {
	rpc := wire.EncodeChatRpc(1, text, wire.ChatSideRight)
	return wire.EncodeGameDataChild(wire.GameDataRpc, rpc)
}

func TestHandleGameData_PassesOrdinaryChatThrough(t *testing.T) {
	svc, _ := newService()
	room, a, b := newRoomWithTwo(t)
	out := svc.HandleGameData(a, room, wire.GameData{Code: room.Code, Children: []wire.HazelMessage{chatChild("hello")}})
	require.Len(t, out.Deliveries, 1)
	assert.Contains(t, out.Deliveries[0].Exclude, a.ClientID)
	_ = b
}

func TestHandleGameData_SlashCommandIsCanceledAndDispatched(t *testing.T) {
	svc, _ := newService()
	room, a, _ := newRoomWithTwo(t)

	d := chatcmd.NewDispatcher()
	d.Register("ping", "Replies pong.", func(ctx *chatcmd.Context, args map[string]string) (string, error) {
		return "pong", nil
	})
	svc.SetChatDispatcher(d)

	out := svc.HandleGameData(a, room, wire.GameData{Code: room.Code, Children: []wire.HazelMessage{chatChild("/ping")}})

	// the command is never relayed to the rest of the room
	for _, del := range out.Deliveries {
		if del.Room != nil {
			t.Fatalf("expected no room-wide delivery for a canceled chat command, got %+v", del)
		}
	}
	require.Len(t, out.Deliveries, 1)
	require.Len(t, out.Deliveries[0].To, 1)
	assert.Equal(t, a, out.Deliveries[0].To[0])

	gd := out.Deliveries[0].Messages[0].Body.(wire.GameData)
	rpc := wire.DecodeGameDataChild(gd.Children[0].Tag, gd.Children[0].Payload).(wire.Rpc)
	text, side, ok := wire.DecodeChatText(rpc)
	require.True(t, ok)
	assert.Equal(t, wire.ChatSideLeft, side)
	assert.Contains(t, text, "pong")
}

func TestHandleGameData_UnknownSlashCommandRepliesToSenderOnly(t *testing.T) {
	svc, _ := newService()
	room, a, _ := newRoomWithTwo(t)
	svc.SetChatDispatcher(chatcmd.NewDispatcher())

	out := svc.HandleGameData(a, room, wire.GameData{Code: room.Code, Children: []wire.HazelMessage{chatChild("/nope")}})
	require.Len(t, out.Deliveries, 1)
	require.Equal(t, []*state.Connection{a}, out.Deliveries[0].To)
}

func TestFilterThroughPerspective_PhaseOneCancelDoesNotAffectPhaseTwo(t *testing.T) {
	svc, _ := newService()
	room, a, b := newRoomWithTwo(t)

	var canceledTag uint8 = wire.GameDataSpawn
	seenInFilter := false
	room.Perspectives = []*state.Perspective{{
		Room:    room,
		Members: map[uint32]struct{}{a.ClientID: {}},
		DecodeHook: func(tag uint8, body any) bool {
			return tag == canceledTag
		},
		OutgoingFilter: func(tag uint8, body any) bool {
			seenInFilter = seenInFilter || tag != canceledTag
			return true
		},
	}}

	spawn := wire.EncodeGameDataChild(wire.GameDataSpawn, wire.Spawn{ObjectType: 1, OwnerID: a.ClientID})
	ready := wire.EncodeGameDataChild(wire.GameDataReadyUp, wire.ReadyUp{ClientID: a.ClientID})

	_, phaseTwo := svc.filterThroughPerspective(room.Perspectives[0], []wire.HazelMessage{spawn, ready})
	require.Len(t, phaseTwo, 1)
	assert.Equal(t, wire.GameDataReadyUp, phaseTwo[0].Tag)
	assert.True(t, seenInFilter)
	_ = b
}

func TestHandleGameData_PerspectiveMembersSeeBothBaseRoomSeesFiltered(t *testing.T) {
	svc, _ := newService()
	room, a, b := newRoomWithTwo(t)
	outsider := state.NewConnection(mustAddr("127.0.0.1:3"), 3)
	room.AddMember(outsider)

	const canceledTag = wire.GameDataReadyUp
	room.Perspectives = []*state.Perspective{{
		Room:    room,
		Members: map[uint32]struct{}{a.ClientID: {}, b.ClientID: {}},
		OutgoingFilter: func(tag uint8, body any) bool {
			return tag != canceledTag
		},
	}}

	normal := wire.EncodeGameDataChild(wire.GameDataSpawn, wire.Spawn{ObjectType: 1, OwnerID: a.ClientID})
	filtered := wire.EncodeGameDataChild(wire.GameDataReadyUp, wire.ReadyUp{ClientID: a.ClientID})

	out := svc.HandleGameData(a, room, wire.GameData{Code: room.Code, Children: []wire.HazelMessage{normal, filtered}})

	var roomDelivery, perspectiveDelivery *Delivery
	for i := range out.Deliveries {
		d := &out.Deliveries[i]
		if d.Room != nil {
			roomDelivery = d
		} else if len(d.To) == 1 && d.To[0] == b {
			perspectiveDelivery = d
		}
	}
	require.NotNil(t, roomDelivery)
	require.NotNil(t, perspectiveDelivery)

	gd := roomDelivery.Messages[0].Body.(wire.GameData)
	require.Len(t, gd.Children, 1)
	assert.Equal(t, wire.GameDataSpawn, gd.Children[0].Tag)
	assert.Contains(t, roomDelivery.Exclude, b.ClientID, "perspective members must not also get the direct base-room delivery")

	pgd := perspectiveDelivery.Messages[0].Body.(wire.GameData)
	require.Len(t, pgd.Children, 2, "X's other members must see both the filtered and the normal child")
}

func TestHandleGameData_DisablePerspectivesBypassesPipeline(t *testing.T) {
	svc, rooms := newService()
	svc.cfg.OptimizationsDisablePerspectives = true
	room, a, b := newRoomWithTwo(t)
	_ = rooms

	const canceledTag = wire.GameDataReadyUp
	room.Perspectives = []*state.Perspective{{
		Room:    room,
		Members: map[uint32]struct{}{a.ClientID: {}},
		OutgoingFilter: func(tag uint8, body any) bool {
			return tag != canceledTag
		},
	}}

	filtered := wire.EncodeGameDataChild(wire.GameDataReadyUp, wire.ReadyUp{ClientID: a.ClientID})
	out := svc.HandleGameData(a, room, wire.GameData{Code: room.Code, Children: []wire.HazelMessage{filtered}})

	require.Len(t, out.Deliveries, 1)
	require.NotNil(t, out.Deliveries[0].Room)
	assert.NotContains(t, out.Deliveries[0].Exclude, b.ClientID)
	gd := out.Deliveries[0].Messages[0].Body.(wire.GameData)
	require.Len(t, gd.Children, 1, "disabled perspectives must not filter anything out")
}
