package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomRegistry_GenerateNeverReturnsReservedLocal(t *testing.T) {
	reg := NewRoomRegistry()
	for i := 0; i < 2000; i++ {
		code, err := reg.Generate(CodeV1)
		require.NoError(t, err)
		assert.NotEqual(t, ReservedLocalCode, code)
	}
}

func TestRoomRegistry_CreateRoomFailsIfCodeInUse(t *testing.T) {
	reg := NewRoomRegistry()
	_, err := reg.CreateRoom(42, GameSettings{}, time.Now())
	require.NoError(t, err)

	_, err = reg.CreateRoom(42, GameSettings{}, time.Now())
	assert.ErrorIs(t, err, ErrRoomCodeInUse)
}

func TestRoomRegistry_DestroyRemovesButDoesNotTouchConnections(t *testing.T) {
	reg := NewRoomRegistry()
	rm, err := reg.CreateRoom(7, GameSettings{MaxPlayers: 10}, time.Now())
	require.NoError(t, err)

	c1 := NewConnection(mustAddr("127.0.0.1:1"), 1)
	rm.AddMember(c1)

	reg.Destroy(7)
	_, ok := reg.Get(7)
	assert.False(t, ok)
	assert.Equal(t, RoomDestroyed, rm.State)
	// connection is untouched: still considers itself in the room (detaching
	// members is RoomRegistry's caller's job per the ownership note, not an
	// implicit side effect of Destroy).
	assert.Same(t, rm, c1.Room)
}

func TestRoomRegistry_RemoveConnectionEverywhere(t *testing.T) {
	reg := NewRoomRegistry()
	rm, err := reg.CreateRoom(1, GameSettings{MaxPlayers: 10}, time.Now())
	require.NoError(t, err)
	c1 := NewConnection(mustAddr("127.0.0.1:1"), 1)
	rm.AddMember(c1)

	reg.RemoveConnectionEverywhere(1)
	_, isMember := rm.Members[1]
	assert.False(t, isMember)
}

func TestRoomRegistry_V1AndV2CodesNeverCollideBySchemeBit(t *testing.T) {
	reg := NewRoomRegistry()
	v1, err := reg.Generate(CodeV1)
	require.NoError(t, err)
	v2, err := reg.Generate(CodeV2)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}
