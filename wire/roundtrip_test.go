package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  RootPacket
	}{
		{
			name: "hello",
			pkt:  RootPacket{Tag: RootHello, Nonce: 1, Body: HelloBody{}},
		},
		{
			name: "hello mod",
			pkt: RootPacket{Tag: RootHelloMod, Nonce: 7, Body: HelloModBody{
				ModCount: 2, Username: "player1", Language: "en", Version: "2024.6.30",
			}},
		},
		{
			name: "ping",
			pkt:  RootPacket{Tag: RootPing, Nonce: 42, Body: PingBody{}},
		},
		{
			name: "acknowledge",
			pkt:  RootPacket{Tag: RootAcknowledge, Nonce: 9, Body: AcknowledgeBody{MissingMask: 0b101}},
		},
		{
			name: "disconnect with reason",
			pkt:  RootPacket{Tag: RootDisconnect, Body: DisconnectBody{Reason: ReasonHacking()}},
		},
		{
			name: "reliable with children",
			pkt: RootPacket{Tag: RootReliable, Nonce: 3, Body: ReliableBody{Children: []HazelMessage{
				EncodeChild(ChildJoinGame, JoinGame{Code: 12345}),
				EncodeChild(ChildGetGameList, GetGameList{MapFilter: 0b011, ImpostorCount: 2, Keyword: "chill"}),
			}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := WriteRoot(tc.pkt, Serverbound)
			decoded, err := ParseRoot(encoded, Serverbound)
			require.NoError(t, err)
			assert.Equal(t, tc.pkt.Tag, decoded.Tag)
			assert.Equal(t, tc.pkt.Nonce, decoded.Nonce)

			reencoded := WriteRoot(decoded, Serverbound)
			assert.Equal(t, encoded, reencoded)
		})
	}
}

func TestParseRoot_UnknownTag(t *testing.T) {
	_, err := ParseRoot([]byte{0xaa}, Serverbound)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownRootTag)
}

func TestParseRoot_EmptyDatagram(t *testing.T) {
	_, err := ParseRoot(nil, Serverbound)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestChildRoundTrip(t *testing.T) {
	hg := HostGame{SettingsBlob: []byte("map=skeld;max=10")}
	msg := EncodeChild(ChildHostGame, hg)
	decoded, err := DecodeChild(msg.Tag, msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, hg, decoded)

	jg := JoinedGame{Code: 99, ClientID: 3, HostID: 1, Members: []uint32{1, 2, 3}}
	msg = EncodeChild(ChildJoinedGame, jg)
	decoded, err = DecodeChild(msg.Tag, msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, jg, decoded)
}

func TestGameDataChild_UnknownTagDropsToCatchAll(t *testing.T) {
	decoded := DecodeGameDataChild(0xee, []byte{1, 2, 3})
	unknown, ok := decoded.(UnknownGameData)
	require.True(t, ok)
	assert.Equal(t, uint8(0xee), unknown.OriginalTag)
	assert.Equal(t, []byte{1, 2, 3}, unknown.Payload)

	rewrapped := EncodeGameDataChild(unknown.OriginalTag, unknown)
	assert.Equal(t, uint8(0xee), rewrapped.Tag)
	assert.Equal(t, []byte{1, 2, 3}, rewrapped.Payload)
}

func TestModDeclarationRoundTrip(t *testing.T) {
	decl := ModDeclaration{NetID: 5, ModID: "TownOfHost", Version: "3.2.1", Side: ModBoth}
	encoded := decl.Encode()
	decoded, err := DecodeModDeclaration(encoded)
	require.NoError(t, err)
	assert.Equal(t, decl, decoded)
}

func TestHazelMessageFraming(t *testing.T) {
	msgs := []HazelMessage{
		{Tag: 1, Payload: []byte{1, 2, 3}},
		{Tag: 2, Payload: nil},
		{Tag: 3, Payload: []byte("hello")},
	}
	encoded := EncodeHazelMessages(msgs)
	decoded, err := ReadHazelMessages(encoded)
	require.NoError(t, err)
	assert.Equal(t, msgs, decoded)
}

func TestReadHazelMessages_TruncatedIsMalformed(t *testing.T) {
	_, err := ReadHazelMessages([]byte{0x05, 0x00, 0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}
