package state

import (
	"net/netip"
	"time"
)

// RoomState is a room's lifecycle state (§3).
type RoomState int

const (
	RoomNotStarted RoomState = iota
	RoomStarted
	RoomEnded
	RoomDestroyed
)

// GameSettings is the opaque-to-the-core settings blob carried by HostGame
// and AlterGame (§3). The core reads only the fields it must enforce or
// filter on (max players, map, impostor count, keyword); Extra preserves the
// round-tripped rest of the document as decoded by config.DecodeGameSettings
// (gopkg.in/yaml.v3), so a client-mod-defined setting survives relay without
// the core needing to understand it.
type GameSettings struct {
	MaxPlayers    uint8
	MapID         uint8
	ImpostorCount uint8
	KeywordFilter string
	Raw           []byte
	Extra         map[string]any
}

// Perspective is a filtered sub-view of a room owned by a subset of players
// (§3, §4.6). DecodeHook lets the perspective's internal handlers observe
// (and cancel) a child before it is considered for relay to the base room;
// OutgoingFilter decides whether a still-live child may cross from the
// perspective back out to the base room. Both follow the explicit
// pre-operation hook shape from the design notes (§9) rather than a general
// event bus.
type Perspective struct {
	Room    *Room
	Members map[uint32]struct{}

	DecodeHook     func(tag uint8, body any) (canceled bool)
	OutgoingFilter func(tag uint8, body any) (passes bool)
}

// Has reports whether clientID is inside this perspective.
func (p *Perspective) Has(clientID uint32) bool {
	_, ok := p.Members[clientID]
	return ok
}

// Room is a game session: membership, host, settings, bans, and perspectives
// (§3).
type Room struct {
	Code      int32
	CreatedAt time.Time
	State     RoomState
	Settings  GameSettings
	HostID    uint32

	Members map[uint32]*Connection
	Banned  map[netip.Addr]struct{}

	Perspectives []*Perspective
}

// NewRoom constructs a room in NotStarted state with no members (§4.5).
func NewRoom(code int32, settings GameSettings, now time.Time) *Room {
	return &Room{
		Code:      code,
		CreatedAt: now,
		State:     RoomNotStarted,
		Settings:  settings,
		Members:   make(map[uint32]*Connection),
		Banned:    make(map[netip.Addr]struct{}),
	}
}

// IsBanned reports whether addr is banned from this room.
func (rm *Room) IsBanned(addr netip.Addr) bool {
	_, ok := rm.Banned[addr]
	return ok
}

// Ban adds addr to the room's ban set.
func (rm *Room) Ban(addr netip.Addr) {
	rm.Banned[addr] = struct{}{}
}

// AddMember attaches conn to the room, designating it host if the room has
// none (§4.6 join). Callers are responsible for the join-eligibility checks
// (capacity, state, bans) before calling this.
func (rm *Room) AddMember(conn *Connection) {
	rm.Members[conn.ClientID] = conn
	conn.Room = rm
	if rm.HostID == 0 && len(rm.Members) == 1 {
		rm.HostID = conn.ClientID
	}
}

// RemoveMember detaches clientID from the room. If it was host and members
// remain, host is reassigned deterministically to the lowest remaining
// client id (§3 invariant, §9 design note: host election is an explicit,
// documented choice where the original left the behavior unspecified).
func (rm *Room) RemoveMember(clientID uint32) {
	if conn, ok := rm.Members[clientID]; ok {
		conn.Room = nil
	}
	delete(rm.Members, clientID)
	for _, p := range rm.Perspectives {
		delete(p.Members, clientID)
	}
	if rm.HostID != clientID {
		return
	}
	rm.HostID = 0
	var lowest uint32
	found := false
	for id := range rm.Members {
		if !found || id < lowest {
			lowest = id
			found = true
		}
	}
	if found {
		rm.HostID = lowest
	}
}

// IsHost reports whether clientID is the room's current host.
func (rm *Room) IsHost(clientID uint32) bool {
	return rm.HostID != 0 && rm.HostID == clientID
}

// PerspectiveOf returns the perspective clientID currently belongs to, or
// nil if the player is viewing the base room.
func (rm *Room) PerspectiveOf(clientID uint32) *Perspective {
	for _, p := range rm.Perspectives {
		if p.Has(clientID) {
			return p
		}
	}
	return nil
}

// MemberIDs returns the room's current member client ids. Order is
// unspecified.
func (rm *Room) MemberIDs() []uint32 {
	ids := make([]uint32, 0, len(rm.Members))
	for id := range rm.Members {
		ids = append(ids, id)
	}
	return ids
}
