// Package modpolicy implements the mod-handshake state machine and the
// server-wide mod policy table enforced at join time (§4.4). It sits between
// the wire codec and the runtime state package: Connection carries the
// handshake state and accumulated mod declarations, modpolicy decides what
// to do with them.
package modpolicy

import (
	"fmt"
	"log/slog"

	"github.com/nullspace-labs/lobby-relay/config"
	"github.com/nullspace-labs/lobby-relay/state"
	"github.com/nullspace-labs/lobby-relay/wire"
)

// ServerPlugin is one entry the server advertises to a modded client during
// the handshake, the way a Reactor-speaking server reports its own
// server-side plugins as if they were mods (§4.4, glossary).
type ServerPlugin struct {
	ID      string
	Version string
}

// Outcome is the result of feeding one handshake-relevant message through
// the HandshakeService. A zero Outcome means "continue, nothing to send".
type Outcome struct {
	Disconnect bool
	Reason     wire.DisconnectReason

	// ReplyMods are server-plugin ModDeclarations to send back to the
	// connection, chunked by ChunkModDeclarations before being wrapped as
	// Rpc/GameData children and placed on a Reliable root packet (§4.4).
	ReplyMods []wire.ModDeclaration
}

// HandshakeService drives the per-connection mod-handshake state machine
// (New → HelloReceived → (ModsAwaited | Ready) → Ready) against a server's
// reactor policy and plugin catalog.
type HandshakeService struct {
	logger        *slog.Logger
	cfg           config.Config
	policy        config.Policy
	serverPlugins []ServerPlugin
}

// NewHandshakeService constructs a HandshakeService from process config, a
// loaded policy document, and the server's own plugin catalog.
func NewHandshakeService(logger *slog.Logger, cfg config.Config, policy config.Policy, serverPlugins []ServerPlugin) *HandshakeService {
	return &HandshakeService{logger: logger, cfg: cfg, policy: policy, serverPlugins: serverPlugins}
}

// HandleHello processes an ordinary (non-modded) Hello. A connection that
// has already completed or begun its handshake is left alone; Hello is only
// meaningful from StateNew.
func (s *HandshakeService) HandleHello(conn *state.Connection) Outcome {
	if conn.Handshake != state.StateNew {
		return Outcome{}
	}
	if r := s.policy.Reactor; r != nil && r.Enabled && !r.AllowNormalClients {
		return Outcome{Disconnect: true, Reason: wire.ReasonLocalized("This server requires the mod framework")}
	}
	conn.HelloComplete = true
	conn.Handshake = state.StateReady
	return Outcome{}
}

// HandleHelloMod processes a modded Hello. It validates the client version
// against the accepted set, checks that the server's reactor policy
// actually offers the mod framework, and replies with the server's own
// plugin catalog as a chunked ModDeclaration list (§4.4).
func (s *HandshakeService) HandleHelloMod(conn *state.Connection, body wire.HelloModBody) Outcome {
	if conn.Handshake != state.StateNew {
		return Outcome{}
	}
	if r := s.policy.Reactor; r == nil || !r.Enabled {
		return Outcome{Disconnect: true, Reason: wire.ReasonLocalized("This server does not support the mod framework")}
	}
	if versions := s.cfg.VersionSet(); len(versions) > 0 {
		if _, ok := versions[body.Version]; !ok {
			return Outcome{Disconnect: true, Reason: wire.ReasonIncorrectVersion()}
		}
	}

	conn.Username = body.Username
	conn.Language = body.Language
	conn.ClientVersion = body.Version
	conn.UsesModFramework = true
	conn.DeclaredModCount = body.ModCount
	conn.HelloComplete = true

	if body.ModCount == 0 {
		conn.Handshake = state.StateReady
	} else {
		conn.Handshake = state.StateHelloReceived
	}

	decls := make([]wire.ModDeclaration, 0, len(s.serverPlugins))
	for _, p := range s.serverPlugins {
		decls = append(decls, wire.ModDeclaration{ModID: p.ID, Version: p.Version, Side: wire.ModServerside})
	}
	return Outcome{ReplyMods: decls}
}

// HandleModDeclaration accumulates one client-declared mod. Once the
// connection has declared as many mods as it promised in its HelloMod, the
// state machine advances to Ready; policy enforcement itself is deferred to
// ValidateJoin (§4.4), since the relevant room/host context isn't known
// until the client actually tries to join one.
func (s *HandshakeService) HandleModDeclaration(conn *state.Connection, decl wire.ModDeclaration) Outcome {
	if conn.Handshake != state.StateHelloReceived && conn.Handshake != state.StateModsAwaited {
		return Outcome{}
	}
	conn.Handshake = state.StateModsAwaited
	info := state.ModInfo{NetID: decl.NetID, ModID: decl.ModID, Version: decl.Version, Side: decl.Side}
	conn.ModsByID[decl.ModID] = info
	conn.ModsByNetID[decl.NetID] = info

	if uint8(len(conn.ModsByID)) >= conn.DeclaredModCount {
		conn.Handshake = state.StateReady
	}
	return Outcome{}
}

// ValidateJoin enforces the server-wide mod policy table against a
// connection that is attempting to join a room, and (when requireHostMods
// is set) cross-checks its mods against the room's host. host is nil when
// the room currently has no host.
func (s *HandshakeService) ValidateJoin(conn *state.Connection, host *state.Connection) Outcome {
	if conn.Handshake != state.StateReady {
		return Outcome{Disconnect: true, Reason: wire.ReasonLocalized("Handshake not complete")}
	}
	r := s.policy.Reactor
	if r == nil {
		return Outcome{}
	}

	for id, mod := range conn.ModsByID {
		entry, known := r.Mods[id]
		switch {
		case known && entry.Banned:
			return Outcome{Disconnect: true, Reason: wire.ReasonHacking()}
		case known && entry.Version != "" && !versionInRange(mod.Version, entry.Version):
			return Outcome{Disconnect: true, Reason: wire.ReasonLocalized(fmt.Sprintf("Incompatible mod version: %s", id))}
		case !known && !r.AllowExtraMods:
			return Outcome{Disconnect: true, Reason: wire.ReasonLocalized(fmt.Sprintf("Unapproved mod: %s", id))}
		}
	}

	for id, entry := range r.Mods {
		if entry.Banned || entry.Optional {
			continue
		}
		if _, ok := conn.ModsByID[id]; !ok {
			return Outcome{Disconnect: true, Reason: wire.ReasonLocalized(fmt.Sprintf("Missing required mod: %s", id))}
		}
	}

	if r.RequireHostMods && host != nil {
		for id, hostMod := range host.ModsByID {
			if r.BlockClientSideOnly && hostMod.Side == wire.ModClientside {
				continue
			}
			joinerMod, ok := conn.ModsByID[id]
			if !ok || joinerMod.Version != hostMod.Version {
				return Outcome{Disconnect: true, Reason: wire.ReasonLocalized(fmt.Sprintf("Missing required host mod: %s", id))}
			}
		}
		for id, joinerMod := range conn.ModsByID {
			if r.BlockClientSideOnly && joinerMod.Side == wire.ModClientside {
				continue
			}
			hostMod, ok := host.ModsByID[id]
			if !ok || hostMod.Version != joinerMod.Version {
				return Outcome{Disconnect: true, Reason: wire.ReasonLocalized(fmt.Sprintf("Mod not present on host: %s", id))}
			}
		}
	}
	return Outcome{}
}

// ChunkModDeclarations splits a server-plugin declaration list into groups
// of at most n, matching the "≤4 per reliable message" handshake reply
// shape (§4.4). n <= 0 is treated as 1.
func ChunkModDeclarations(decls []wire.ModDeclaration, n int) [][]wire.ModDeclaration {
	if n <= 0 {
		n = 1
	}
	var chunks [][]wire.ModDeclaration
	for len(decls) > 0 {
		end := n
		if end > len(decls) {
			end = len(decls)
		}
		chunks = append(chunks, decls[:end])
		decls = decls[end:]
	}
	return chunks
}
