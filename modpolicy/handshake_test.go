package modpolicy

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullspace-labs/lobby-relay/config"
	"github.com/nullspace-labs/lobby-relay/state"
	"github.com/nullspace-labs/lobby-relay/wire"
)

func mustAddr(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

func newTestConn() *state.Connection {
	return state.NewConnection(mustAddr("127.0.0.1:1"), 1)
}

func TestHandleHello_NormalClientReadyByDefault(t *testing.T) {
	svc := NewHandshakeService(nil, config.Config{}, config.Policy{}, nil)
	conn := newTestConn()
	out := svc.HandleHello(conn)
	assert.False(t, out.Disconnect)
	assert.Equal(t, state.StateReady, conn.Handshake)
}

func TestHandleHello_RejectedWhenReactorRequiresMods(t *testing.T) {
	policy := config.Policy{Reactor: &config.ReactorPolicy{Enabled: true, AllowNormalClients: false}}
	svc := NewHandshakeService(nil, config.Config{}, policy, nil)
	conn := newTestConn()
	out := svc.HandleHello(conn)
	assert.True(t, out.Disconnect)
}

func TestHandleHelloMod_RejectedWhenReactorDisabled(t *testing.T) {
	svc := NewHandshakeService(nil, config.Config{}, config.Policy{}, nil)
	conn := newTestConn()
	out := svc.HandleHelloMod(conn, wire.HelloModBody{ModCount: 1, Username: "a", Version: "2024.6.30"})
	assert.True(t, out.Disconnect)
}

func TestHandleHelloMod_RejectedOnBadVersion(t *testing.T) {
	policy := config.Policy{Reactor: &config.ReactorPolicy{Enabled: true, AllowNormalClients: true}}
	cfg := config.Config{Versions: []string{"2024.6.30"}}
	svc := NewHandshakeService(nil, cfg, policy, nil)
	conn := newTestConn()
	out := svc.HandleHelloMod(conn, wire.HelloModBody{ModCount: 0, Username: "a", Version: "1999.1.1"})
	assert.True(t, out.Disconnect)
	assert.Equal(t, wire.DisconnectIncorrectVersion, out.Reason.Code)
}

func TestHandleHelloMod_ZeroModsGoesStraightToReady(t *testing.T) {
	policy := config.Policy{Reactor: &config.ReactorPolicy{Enabled: true, AllowNormalClients: true}}
	cfg := config.Config{Versions: []string{"2024.6.30"}}
	svc := NewHandshakeService(nil, cfg, policy, []ServerPlugin{{ID: "plugin.a", Version: "1.0.0"}})
	conn := newTestConn()
	out := svc.HandleHelloMod(conn, wire.HelloModBody{ModCount: 0, Username: "a", Version: "2024.6.30"})
	require.False(t, out.Disconnect)
	assert.Equal(t, state.StateReady, conn.Handshake)
	require.Len(t, out.ReplyMods, 1)
	assert.Equal(t, "plugin.a", out.ReplyMods[0].ModID)
}

func TestHandleHelloMod_AwaitsDeclaredMods(t *testing.T) {
	policy := config.Policy{Reactor: &config.ReactorPolicy{Enabled: true, AllowNormalClients: true}}
	svc := NewHandshakeService(nil, config.Config{}, policy, nil)
	conn := newTestConn()
	svc.HandleHelloMod(conn, wire.HelloModBody{ModCount: 2, Username: "a", Version: "2024.6.30"})
	assert.Equal(t, state.StateHelloReceived, conn.Handshake)

	svc.HandleModDeclaration(conn, wire.ModDeclaration{NetID: 1, ModID: "mod.a", Version: "1.0.0"})
	assert.Equal(t, state.StateModsAwaited, conn.Handshake)

	svc.HandleModDeclaration(conn, wire.ModDeclaration{NetID: 2, ModID: "mod.b", Version: "1.0.0"})
	assert.Equal(t, state.StateReady, conn.Handshake)
	assert.Len(t, conn.ModsByID, 2)
}

func TestValidateJoin_NotReadyDisconnects(t *testing.T) {
	svc := NewHandshakeService(nil, config.Config{}, config.Policy{}, nil)
	conn := newTestConn()
	out := svc.ValidateJoin(conn, nil)
	assert.True(t, out.Disconnect)
}

func TestValidateJoin_BannedModDisconnects(t *testing.T) {
	policy := config.Policy{Reactor: &config.ReactorPolicy{
		Enabled: true,
		Mods:    map[string]config.ModPolicyEntry{"mod.bad": {Banned: true}},
	}}
	svc := NewHandshakeService(nil, config.Config{}, policy, nil)
	conn := newTestConn()
	conn.Handshake = state.StateReady
	conn.ModsByID["mod.bad"] = state.ModInfo{ModID: "mod.bad"}

	out := svc.ValidateJoin(conn, nil)
	assert.True(t, out.Disconnect)
	assert.Equal(t, wire.DisconnectHacking, out.Reason.Code)
}

func TestValidateJoin_UnknownModRejectedUnlessAllowExtraMods(t *testing.T) {
	policy := config.Policy{Reactor: &config.ReactorPolicy{Enabled: true}}
	svc := NewHandshakeService(nil, config.Config{}, policy, nil)
	conn := newTestConn()
	conn.Handshake = state.StateReady
	conn.ModsByID["mod.unlisted"] = state.ModInfo{ModID: "mod.unlisted"}

	out := svc.ValidateJoin(conn, nil)
	assert.True(t, out.Disconnect)

	policy.Reactor.AllowExtraMods = true
	svc2 := NewHandshakeService(nil, config.Config{}, policy, nil)
	out2 := svc2.ValidateJoin(conn, nil)
	assert.False(t, out2.Disconnect)
}

func TestValidateJoin_VersionRangeEnforced(t *testing.T) {
	policy := config.Policy{Reactor: &config.ReactorPolicy{
		Enabled: true,
		Mods:    map[string]config.ModPolicyEntry{"mod.a": {Allowed: true, Version: ">=2.0.0"}},
	}}
	svc := NewHandshakeService(nil, config.Config{}, policy, nil)
	conn := newTestConn()
	conn.Handshake = state.StateReady
	conn.ModsByID["mod.a"] = state.ModInfo{ModID: "mod.a", Version: "1.0.0"}

	out := svc.ValidateJoin(conn, nil)
	assert.True(t, out.Disconnect)

	conn.ModsByID["mod.a"] = state.ModInfo{ModID: "mod.a", Version: "2.1.0"}
	out2 := svc.ValidateJoin(conn, nil)
	assert.False(t, out2.Disconnect)
}

func TestValidateJoin_RequireHostModsCrossCheck(t *testing.T) {
	policy := config.Policy{Reactor: &config.ReactorPolicy{Enabled: true, RequireHostMods: true, AllowExtraMods: true}}
	svc := NewHandshakeService(nil, config.Config{}, policy, nil)

	host := newTestConn()
	host.ModsByID["mod.required"] = state.ModInfo{ModID: "mod.required", Side: wire.ModBoth}

	joiner := newTestConn()
	joiner.Handshake = state.StateReady

	out := svc.ValidateJoin(joiner, host)
	assert.True(t, out.Disconnect)

	joiner.ModsByID["mod.required"] = state.ModInfo{ModID: "mod.required"}
	out2 := svc.ValidateJoin(joiner, host)
	assert.False(t, out2.Disconnect)
}

func TestValidateJoin_BlockClientSideOnlySkipsCrossCheck(t *testing.T) {
	policy := config.Policy{Reactor: &config.ReactorPolicy{Enabled: true, RequireHostMods: true, BlockClientSideOnly: true, AllowExtraMods: true}}
	svc := NewHandshakeService(nil, config.Config{}, policy, nil)

	host := newTestConn()
	host.ModsByID["mod.clientside"] = state.ModInfo{ModID: "mod.clientside", Side: wire.ModClientside}

	joiner := newTestConn()
	joiner.Handshake = state.StateReady

	out := svc.ValidateJoin(joiner, host)
	assert.False(t, out.Disconnect)
}

func TestChunkModDeclarations(t *testing.T) {
	decls := make([]wire.ModDeclaration, 10)
	chunks := ChunkModDeclarations(decls, 4)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 4)
	assert.Len(t, chunks[1], 4)
	assert.Len(t, chunks[2], 2)
}
