package state

import (
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// CodeScheme selects the room-code generation algorithm (§4.5).
type CodeScheme int

const (
	CodeV1 CodeScheme = iota // 4-letter, 26^4 space
	CodeV2                   // 6-letter, larger space
)

// ReservedLocalCode is never allocated and never appears in a public listing
// (§4.5, §8 invariant). It is the integer 0x20, spelled "LOCAL" in operator
// tooling.
const ReservedLocalCode int32 = 0x20

var (
	// ErrRoomCodeInUse indicates CreateRoom was called with a code that
	// already names a room.
	ErrRoomCodeInUse = errors.New("room code already in use")
	// ErrRoomNotFound indicates a lookup failed.
	ErrRoomNotFound = errors.New("room not found")
	errCodeSpaceExhausted = errors.New("room code space exhausted")
)

const v1Letters = 4
const v2Letters = 6

// RoomRegistry allocates room codes and maps them to rooms (§4.5).
type RoomRegistry struct {
	rooms map[int32]*Room
}

// NewRoomRegistry returns an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[int32]*Room)}
}

// Generate draws a code under scheme that is not ReservedLocalCode and not
// already in use.
func (r *RoomRegistry) Generate(scheme CodeScheme) (int32, error) {
	n := v1Letters
	if scheme == CodeV2 {
		n = v2Letters
	}
	// the draw space is enormous relative to any realistic room count, so a
	// bounded number of retries is sufficient rather than an exhaustive scan.
	for attempt := 0; attempt < 10000; attempt++ {
		code, err := randomCode(n, scheme)
		if err != nil {
			return 0, err
		}
		if code == ReservedLocalCode {
			continue
		}
		if _, exists := r.rooms[code]; exists {
			continue
		}
		return code, nil
	}
	return 0, errCodeSpaceExhausted
}

// randomCode draws n uppercase letters and packs them into a 32-bit integer.
// v1 packs 4 letters base-26 into a small positive integer; v2 packs 6
// letters into a larger positive integer with the scheme bit (bit 30) set,
// so the two schemes never collide and the scheme is recoverable from the
// code alone.
func randomCode(n int, scheme CodeScheme) (int32, error) {
	var value int64
	mult := int64(1)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(26))
		if err != nil {
			return 0, err
		}
		value += idx.Int64() * mult
		mult *= 26
	}
	if scheme == CodeV2 {
		value |= 1 << 30
	}
	return int32(value), nil
}

// CreateRoom constructs and registers a new room under code, failing if the
// code is already in use (§4.5).
func (r *RoomRegistry) CreateRoom(code int32, settings GameSettings, now time.Time) (*Room, error) {
	if _, exists := r.rooms[code]; exists {
		return nil, ErrRoomCodeInUse
	}
	room := NewRoom(code, settings, now)
	r.rooms[code] = room
	return room, nil
}

// Get looks up a room by code.
func (r *RoomRegistry) Get(code int32) (*Room, bool) {
	rm, ok := r.rooms[code]
	return rm, ok
}

// Destroy removes a room from the registry and marks it Destroyed. It does
// not touch member connections' Room back-reference resolution beyond that
// — detaching members is the caller's job via Room.RemoveMember, since
// destroying a room never destroys connections (§3 ownership).
func (r *RoomRegistry) Destroy(code int32) {
	if rm, ok := r.rooms[code]; ok {
		rm.State = RoomDestroyed
		delete(r.rooms, code)
	}
}

// All returns every room currently registered, excluding none by default;
// callers that must exclude LOCAL (there is no actual LOCAL room unless an
// operator created one under that code) filter by Code.
func (r *RoomRegistry) All() []*Room {
	out := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	return out
}

// RemoveConnectionEverywhere detaches clientID from whatever room it
// belongs to, if any, satisfying the §8 invariant that after removing a
// connection, no room's member map references it.
func (r *RoomRegistry) RemoveConnectionEverywhere(clientID uint32) {
	for _, rm := range r.rooms {
		if _, ok := rm.Members[clientID]; ok {
			rm.RemoveMember(clientID)
		}
	}
}
