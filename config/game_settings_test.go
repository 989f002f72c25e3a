package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameSettingsRoundTrip(t *testing.T) {
	raw := []byte("maxPlayers: 10\nmap: 2\nimpostorCount: 3\nkeyword: english\ncustomOption: true\n")
	s, err := DecodeGameSettings(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(10), s.MaxPlayers)
	assert.Equal(t, uint8(2), s.MapID)
	assert.Equal(t, uint8(3), s.ImpostorCount)
	assert.Equal(t, "english", s.KeywordFilter)
	assert.Equal(t, true, s.Extra["customOption"])

	reencoded, err := EncodeGameSettings(s)
	require.NoError(t, err)

	roundTripped, err := DecodeGameSettings(reencoded)
	require.NoError(t, err)
	assert.Equal(t, s.MaxPlayers, roundTripped.MaxPlayers)
	assert.Equal(t, s.Extra["customOption"], roundTripped.Extra["customOption"])
}
