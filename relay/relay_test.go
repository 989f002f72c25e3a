package relay

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullspace-labs/lobby-relay/config"
	"github.com/nullspace-labs/lobby-relay/state"
	"github.com/nullspace-labs/lobby-relay/wire"
)

func mustAddr(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }

func newService() (*Service, *state.RoomRegistry) {
	rooms := state.NewRoomRegistry()
	return NewService(nil, config.Config{RoomsGameCodes: "v2"}, rooms, nil), rooms
}

func settingsBlob(t *testing.T, maxPlayers uint8) []byte {
	t.Helper()
	b, err := config.EncodeGameSettings(state.GameSettings{MaxPlayers: maxPlayers})
	require.NoError(t, err)
	return b
}

func TestHandleHostGame_CreatesRoomAndMakesHost(t *testing.T) {
	svc, rooms := newService()
	host := state.NewConnection(mustAddr("127.0.0.1:1"), 1)

	out := svc.HandleHostGame(host, wire.HostGame{SettingsBlob: settingsBlob(t, 10)}, time.Now())
	require.False(t, out.Disconnect)
	require.Len(t, out.Deliveries, 1)

	joined := out.Deliveries[0].Messages[0].Body.(wire.JoinedGame)
	room, ok := rooms.Get(joined.Code)
	require.True(t, ok)
	assert.Equal(t, host.ClientID, room.HostID)
}

func TestHandleJoinGame_Success(t *testing.T) {
	svc, rooms := newService()
	host := state.NewConnection(mustAddr("127.0.0.1:1"), 1)
	code, _ := rooms.Generate(state.CodeV2)
	room, _ := rooms.CreateRoom(code, state.GameSettings{MaxPlayers: 10}, time.Now())
	room.AddMember(host)

	joiner := state.NewConnection(mustAddr("127.0.0.1:2"), 2)
	out := svc.HandleJoinGame(joiner, wire.JoinGame{Code: code}, time.Now())
	require.False(t, out.Disconnect)
	require.Len(t, out.Deliveries, 2)
	assert.Len(t, room.Members, 2)
}

func TestHandleJoinGame_GameFull(t *testing.T) {
	svc, rooms := newService()
	host := state.NewConnection(mustAddr("127.0.0.1:1"), 1)
	code, _ := rooms.Generate(state.CodeV2)
	room, _ := rooms.CreateRoom(code, state.GameSettings{MaxPlayers: 1}, time.Now())
	room.AddMember(host)

	joiner := state.NewConnection(mustAddr("127.0.0.1:2"), 2)
	out := svc.HandleJoinGame(joiner, wire.JoinGame{Code: code}, time.Now())
	require.Len(t, out.Deliveries, 1)
	joinErr := out.Deliveries[0].Messages[0].Body.(wire.JoinError)
	assert.Equal(t, wire.DisconnectGameFull, joinErr.Reason.Code)
}

func TestHandleJoinGame_NotFound(t *testing.T) {
	svc, _ := newService()
	joiner := state.NewConnection(mustAddr("127.0.0.1:2"), 2)
	out := svc.HandleJoinGame(joiner, wire.JoinGame{Code: 12345}, time.Now())
	joinErr := out.Deliveries[0].Messages[0].Body.(wire.JoinError)
	assert.Equal(t, wire.DisconnectGameNotFound, joinErr.Reason.Code)
}

func TestHandleJoinGame_ReservedLocalCodeNeverJoinable(t *testing.T) {
	svc, rooms := newService()
	room, err := rooms.CreateRoom(state.ReservedLocalCode, state.GameSettings{}, time.Now())
	require.NoError(t, err)
	_ = room

	joiner := state.NewConnection(mustAddr("127.0.0.1:2"), 2)
	out := svc.HandleJoinGame(joiner, wire.JoinGame{Code: state.ReservedLocalCode}, time.Now())
	joinErr := out.Deliveries[0].Messages[0].Body.(wire.JoinError)
	assert.Equal(t, wire.DisconnectGameNotFound, joinErr.Reason.Code)
}

func TestHostOnlyCommands_DisconnectNonHost(t *testing.T) {
	svc, rooms := newService()
	host := state.NewConnection(mustAddr("127.0.0.1:1"), 1)
	code, _ := rooms.Generate(state.CodeV2)
	room, _ := rooms.CreateRoom(code, state.GameSettings{}, time.Now())
	room.AddMember(host)

	other := state.NewConnection(mustAddr("127.0.0.1:2"), 2)
	room.AddMember(other)

	out := svc.HandleStartGame(other, room, wire.StartGame{Code: code})
	assert.True(t, out.Disconnect)
	assert.Equal(t, wire.DisconnectHacking, out.Reason.Code)
}

func TestHandleStartGame_HostSucceeds(t *testing.T) {
	svc, rooms := newService()
	host := state.NewConnection(mustAddr("127.0.0.1:1"), 1)
	code, _ := rooms.Generate(state.CodeV2)
	room, _ := rooms.CreateRoom(code, state.GameSettings{}, time.Now())
	room.AddMember(host)

	out := svc.HandleStartGame(host, room, wire.StartGame{Code: code})
	assert.False(t, out.Disconnect)
	assert.Equal(t, state.RoomStarted, room.State)
}

func TestHandleGameData_UnreliableClassification(t *testing.T) {
	svc, rooms := newService()
	host := state.NewConnection(mustAddr("127.0.0.1:1"), 1)
	code, _ := rooms.Generate(state.CodeV2)
	room, _ := rooms.CreateRoom(code, state.GameSettings{}, time.Now())
	room.AddMember(host)
	other := state.NewConnection(mustAddr("127.0.0.1:2"), 2)
	room.AddMember(other)

	data := wire.Data{NetID: 1, NetRole: wire.NetObjectCustomNetworkTransform, Payload: []byte{1, 2, 3}}
	child := wire.EncodeGameDataChild(wire.GameDataData, data)

	out := svc.HandleGameData(host, room, wire.GameData{Code: code, Children: []wire.HazelMessage{child}})
	require.Len(t, out.Deliveries, 1)
	assert.True(t, out.Deliveries[0].Unreliable)
}

func TestHandleGameData_ReliableWhenMultipleChildren(t *testing.T) {
	svc, rooms := newService()
	host := state.NewConnection(mustAddr("127.0.0.1:1"), 1)
	code, _ := rooms.Generate(state.CodeV2)
	room, _ := rooms.CreateRoom(code, state.GameSettings{}, time.Now())
	room.AddMember(host)

	data := wire.Data{NetID: 1, NetRole: wire.NetObjectCustomNetworkTransform}
	readyUp := wire.ReadyUp{ClientID: host.ClientID}
	children := []wire.HazelMessage{
		wire.EncodeGameDataChild(wire.GameDataData, data),
		wire.EncodeGameDataChild(wire.GameDataReadyUp, readyUp),
	}
	out := svc.HandleGameData(host, room, wire.GameData{Code: code, Children: children})
	require.Len(t, out.Deliveries, 1)
	assert.False(t, out.Deliveries[0].Unreliable)
}

func TestFilterThroughPerspective_DecodeHookCancelsIndependentlyOfOutgoingFilter(t *testing.T) {
	svc, rooms := newService()
	host := state.NewConnection(mustAddr("127.0.0.1:1"), 1)
	code, _ := rooms.Generate(state.CodeV2)
	room, _ := rooms.CreateRoom(code, state.GameSettings{}, time.Now())
	room.AddMember(host)

	perspective := &state.Perspective{
		Room:    room,
		Members: map[uint32]struct{}{host.ClientID: {}},
		DecodeHook: func(tag uint8, body any) bool {
			ru, ok := body.(wire.ReadyUp)
			return ok && ru.ClientID == 999 // cancel only this specific one
		},
		OutgoingFilter: func(tag uint8, body any) bool {
			return true // everything that survives phase 1 passes through
		},
	}
	room.Perspectives = append(room.Perspectives, perspective)

	canceled := wire.EncodeGameDataChild(wire.GameDataReadyUp, wire.ReadyUp{ClientID: 999})
	kept := wire.EncodeGameDataChild(wire.GameDataReadyUp, wire.ReadyUp{ClientID: host.ClientID})

	_, phaseTwo := svc.filterThroughPerspective(perspective, []wire.HazelMessage{canceled, kept})
	require.Len(t, phaseTwo, 1)
	decoded := wire.DecodeGameDataChild(phaseTwo[0].Tag, phaseTwo[0].Payload)
	assert.Equal(t, host.ClientID, decoded.(wire.ReadyUp).ClientID)
}

func TestHandleGetGameList_CapsAtTenAndExcludesLocal(t *testing.T) {
	svc, rooms := newService()
	for i := 0; i < 12; i++ {
		code, err := rooms.Generate(state.CodeV2)
		require.NoError(t, err)
		_, err = rooms.CreateRoom(code, state.GameSettings{MaxPlayers: 10}, time.Now())
		require.NoError(t, err)
	}
	_, err := rooms.CreateRoom(state.ReservedLocalCode, state.GameSettings{}, time.Now())
	require.NoError(t, err)

	conn := state.NewConnection(mustAddr("127.0.0.1:9"), 9)
	out := svc.HandleGetGameList(conn, wire.GetGameList{}, time.Now())
	list := out.Deliveries[0].Messages[0].Body.(wire.GameList)
	assert.Len(t, list.Entries, 10)
	for _, e := range list.Entries {
		assert.NotEqual(t, state.ReservedLocalCode, e.Code)
	}
}
