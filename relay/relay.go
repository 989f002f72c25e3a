// Package relay implements the room registry's business logic: joining and
// leaving rooms, host-only room-lifecycle commands, game-data broadcast
// (including the perspective pipeline), and the room listing query (§4.5,
// §4.6). It never performs network I/O itself — every handler returns an
// Outcome describing what the caller (the socket event loop) should send,
// the same explicit-data-flow shape modpolicy uses for the handshake.
package relay

import (
	"log/slog"
	"time"

	"github.com/nullspace-labs/lobby-relay/chatcmd"
	"github.com/nullspace-labs/lobby-relay/config"
	"github.com/nullspace-labs/lobby-relay/modpolicy"
	"github.com/nullspace-labs/lobby-relay/state"
	"github.com/nullspace-labs/lobby-relay/wire"
)

// Message is one Reliable-child-shaped payload awaiting delivery.
type Message struct {
	Tag  uint8
	Body any
}

// Delivery addresses a batch of Messages either to an explicit recipient
// list (To) or to a room's membership minus an exclude set. Unreliable
// marks the whole batch for unreliable (non-acked) delivery, matching the
// CustomNetworkTransform fast path (§4.6).
type Delivery struct {
	To         []*state.Connection
	Room       *state.Room
	Exclude    map[uint32]struct{}
	Messages   []Message
	Unreliable bool
}

// Outcome is the result of one relay operation.
type Outcome struct {
	Disconnect bool
	Reason     wire.DisconnectReason
	Deliveries []Delivery
}

// Service implements the room relay. It holds no network state; Rooms and
// mods are shared, single-threaded runtime state per §5.
type Service struct {
	logger *slog.Logger
	cfg    config.Config
	rooms  *state.RoomRegistry
	mods   *modpolicy.HandshakeService
	chat   *chatcmd.Dispatcher
}

// NewService constructs a relay Service.
func NewService(logger *slog.Logger, cfg config.Config, rooms *state.RoomRegistry, mods *modpolicy.HandshakeService) *Service {
	return &Service{logger: logger, cfg: cfg, rooms: rooms, mods: mods}
}

func exclude(ids ...uint32) map[uint32]struct{} {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// HandleHostGame creates a new room for conn, who becomes its host.
func (s *Service) HandleHostGame(conn *state.Connection, body wire.HostGame, now time.Time) Outcome {
	settings, err := config.DecodeGameSettings(body.SettingsBlob)
	if err != nil {
		return Outcome{Disconnect: true, Reason: wire.ReasonLocalized("Malformed game settings")}
	}

	code, err := s.rooms.Generate(state.CodeScheme(s.cfg.CodeScheme()))
	if err != nil {
		return Outcome{Disconnect: true, Reason: wire.ReasonLocalized("No room codes available")}
	}
	room, err := s.rooms.CreateRoom(code, settings, now)
	if err != nil {
		return Outcome{Disconnect: true, Reason: wire.ReasonLocalized("Could not create room")}
	}
	room.AddMember(conn)

	return Outcome{Deliveries: []Delivery{{
		To:       []*state.Connection{conn},
		Messages: []Message{{Tag: wire.ChildJoinedGame, Body: wire.JoinedGame{Code: code, ClientID: conn.ClientID, HostID: room.HostID, Members: room.MemberIDs()}}},
	}}}
}

// HandleJoinGame attempts to join conn into the room named by body.Code,
// enforcing capacity, lifecycle state, bans, and mod policy before
// committing (§4.6).
func (s *Service) HandleJoinGame(conn *state.Connection, body wire.JoinGame, now time.Time) Outcome {
	room, ok := s.rooms.Get(body.Code)
	if !ok || body.Code == state.ReservedLocalCode {
		return s.joinError(conn, wire.ReasonGameNotFound())
	}
	if room.State != state.RoomNotStarted {
		return s.joinError(conn, wire.ReasonGameStarted())
	}
	if room.IsBanned(conn.RemoteAddr.Addr()) {
		return s.joinError(conn, wire.ReasonBanned())
	}
	if room.Settings.MaxPlayers > 0 && uint8(len(room.Members)) >= room.Settings.MaxPlayers {
		return s.joinError(conn, wire.ReasonGameFull())
	}

	host := room.Members[room.HostID]
	if s.mods != nil {
		if out := s.mods.ValidateJoin(conn, host); out.Disconnect {
			return s.joinError(conn, out.Reason)
		}
	}

	room.AddMember(conn)
	joined := wire.JoinedGame{Code: room.Code, ClientID: conn.ClientID, HostID: room.HostID, Members: room.MemberIDs()}

	return Outcome{Deliveries: []Delivery{
		{
			To:       []*state.Connection{conn},
			Messages: []Message{{Tag: wire.ChildJoinedGame, Body: joined}},
		},
		{
			Room:     room,
			Exclude:  exclude(conn.ClientID),
			Messages: []Message{{Tag: wire.ChildJoinedGame, Body: joined}},
		},
	}}
}

func (s *Service) joinError(conn *state.Connection, reason wire.DisconnectReason) Outcome {
	return Outcome{Deliveries: []Delivery{{
		To:       []*state.Connection{conn},
		Messages: []Message{{Tag: wire.ChildJoinError, Body: wire.JoinError{Reason: reason}}},
	}}}
}

// LeaveRoom removes conn from whatever room it belongs to and, if it was the
// room's sole member, destroys the room (§4.5, §8 invariant). It returns the
// delivery needed to notify remaining members, if any.
func (s *Service) LeaveRoom(conn *state.Connection) Outcome {
	room := conn.Room
	if room == nil {
		return Outcome{}
	}
	room.RemoveMember(conn.ClientID)
	if len(room.Members) == 0 {
		s.rooms.Destroy(room.Code)
		return Outcome{}
	}
	return Outcome{Deliveries: []Delivery{{
		Room:     room,
		Messages: []Message{{Tag: wire.ChildKickPlayer, Body: wire.KickPlayer{Code: room.Code, ClientID: conn.ClientID}}},
	}}}
}

// hostOnly disconnects sender with ReasonHacking if it isn't room's host,
// otherwise reports ok so the caller proceeds (§4.6).
func hostOnly(room *state.Room, sender *state.Connection) (ok bool, outcome Outcome) {
	if !room.IsHost(sender.ClientID) {
		return false, Outcome{Disconnect: true, Reason: wire.ReasonHacking()}
	}
	return true, Outcome{}
}

// HandleStartGame marks room Started and rebroadcasts the command to every
// other member. Host-only (§4.6).
func (s *Service) HandleStartGame(sender *state.Connection, room *state.Room, body wire.StartGame) Outcome {
	if ok, out := hostOnly(room, sender); !ok {
		return out
	}
	room.State = state.RoomStarted
	return Outcome{Deliveries: []Delivery{{
		Room: room, Exclude: exclude(sender.ClientID),
		Messages: []Message{{Tag: wire.ChildStartGame, Body: body}},
	}}}
}

// HandleEndGame marks room Ended and rebroadcasts. Host-only (§4.6).
func (s *Service) HandleEndGame(sender *state.Connection, room *state.Room, body wire.EndGame) Outcome {
	if ok, out := hostOnly(room, sender); !ok {
		return out
	}
	room.State = state.RoomEnded
	return Outcome{Deliveries: []Delivery{{
		Room: room, Exclude: exclude(sender.ClientID),
		Messages: []Message{{Tag: wire.ChildEndGame, Body: body}},
	}}}
}

// HandleRemoveGame destroys room. Host-only (§4.6).
func (s *Service) HandleRemoveGame(sender *state.Connection, room *state.Room, body wire.RemoveGame) Outcome {
	if ok, out := hostOnly(room, sender); !ok {
		return out
	}
	out := Outcome{Deliveries: []Delivery{{
		Room: room, Exclude: exclude(sender.ClientID),
		Messages: []Message{{Tag: wire.ChildRemoveGame, Body: body}},
	}}}
	s.rooms.Destroy(room.Code)
	return out
}

// HandleAlterGame replaces room's settings and rebroadcasts. Host-only
// (§4.6).
func (s *Service) HandleAlterGame(sender *state.Connection, room *state.Room, body wire.AlterGame) Outcome {
	if ok, out := hostOnly(room, sender); !ok {
		return out
	}
	settings, err := config.DecodeGameSettings(body.SettingsBlob)
	if err != nil {
		return Outcome{Disconnect: true, Reason: wire.ReasonLocalized("Malformed game settings")}
	}
	room.Settings = settings
	return Outcome{Deliveries: []Delivery{{
		Room: room, Exclude: exclude(sender.ClientID),
		Messages: []Message{{Tag: wire.ChildAlterGame, Body: body}},
	}}}
}

// HandleKickPlayer removes the named player (optionally banning them) and
// notifies the room. Host-only (§4.6).
func (s *Service) HandleKickPlayer(sender *state.Connection, room *state.Room, body wire.KickPlayer) Outcome {
	if ok, out := hostOnly(room, sender); !ok {
		return out
	}
	target, ok := room.Members[body.ClientID]
	if !ok {
		return Outcome{}
	}
	if body.Banned {
		room.Ban(target.RemoteAddr.Addr())
	}
	room.RemoveMember(body.ClientID)
	return Outcome{Deliveries: []Delivery{{
		Room:     room,
		Messages: []Message{{Tag: wire.ChildKickPlayer, Body: body}},
	}}}
}

// HandleGetGameList scans the registry for joinable rooms matching body's
// filters, capped at 10 entries (§4.6).
func (s *Service) HandleGetGameList(conn *state.Connection, body wire.GetGameList, now time.Time) Outcome {
	var entries []wire.GameListEntry
	for _, room := range s.rooms.All() {
		if room.Code == state.ReservedLocalCode || room.State != state.RoomNotStarted {
			continue
		}
		if body.MapFilter != 0 && body.MapFilter&(1<<room.Settings.MapID) == 0 {
			continue
		}
		if body.ImpostorCount != 0 && room.Settings.ImpostorCount != body.ImpostorCount {
			continue
		}
		if body.Keyword != "" && room.Settings.KeywordFilter != body.Keyword {
			continue
		}
		host, hostOK := room.Members[room.HostID]
		entry := wire.GameListEntry{
			Code:          room.Code,
			PlayerCount:   uint8(len(room.Members)),
			AgeSeconds:    uint32(now.Sub(room.CreatedAt).Seconds()),
			Map:           room.Settings.MapID,
			ImpostorCount: room.Settings.ImpostorCount,
			MaxPlayers:    room.Settings.MaxPlayers,
		}
		if hostOK {
			entry.HostAddr = host.RemoteAddr.Addr().String()
			entry.HostPort = host.RemoteAddr.Port()
			entry.HostUsername = host.Username
		}
		entries = append(entries, entry)
		if len(entries) == 10 {
			break
		}
	}
	return Outcome{Deliveries: []Delivery{{
		To:       []*state.Connection{conn},
		Messages: []Message{{Tag: wire.ChildGameList, Body: wire.GameList{Entries: entries}}},
	}}}
}
