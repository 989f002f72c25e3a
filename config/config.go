// Package config loads the relay's process settings and policy documents.
// Flat, per-process settings follow the teacher pattern of an
// envconfig-driven struct; the reactor/mods policy tree and per-room game
// settings are documents, so they round-trip through YAML instead (§6).
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config is the flat process configuration, loaded with envconfig exactly
// as the teacher's cmd/server bootstrap loads config.Config.
type Config struct {
	SocketPort                 int    `envconfig:"SOCKET_PORT" required:"true" default:"22023" desc:"UDP port the relay listens on."`
	SocketAcceptUnknownGameData bool  `envconfig:"SOCKET_ACCEPT_UNKNOWN_GAME_DATA" default:"false" desc:"Forward opaque game-data child messages instead of dropping them."`
	SocketMessageOrdering       bool  `envconfig:"SOCKET_MESSAGE_ORDERING" default:"false" desc:"Reserved for a future strict-ordering mode; currently unused."`

	Versions []string `envconfig:"VERSIONS" required:"true" default:"2024.6.30" desc:"Comma-separated list of accepted client version strings."`

	RoomsGameCodes      string `envconfig:"ROOMS_GAME_CODES" default:"v2" desc:"Room code scheme: v1 (4 letters) or v2 (6 letters)."`
	RoomsChatCommands   bool   `envconfig:"ROOMS_CHAT_COMMANDS" default:"true" desc:"Enable the chat command dispatcher."`
	RoomsServerAsHost   bool   `envconfig:"ROOMS_SERVER_AS_HOST" default:"false" desc:"Reserved for a server-hosted game mode; currently unused by the core."`
	RoomsCreateTimeoutS int    `envconfig:"ROOMS_CREATE_TIMEOUT" default:"10" desc:"Seconds for an empty-room timeout. Not read by the core: no empty-room sweep runs, and a room is destroyed when its last member leaves."`

	PolicyFile string `envconfig:"POLICY_FILE" default:"" desc:"Path to a YAML reactor/mods policy document. Empty means no reactor policy: modded Hellos are refused and ordinary Hellos are accepted."`

	OptimizationsDisablePerspectives bool `envconfig:"OPTIMIZATIONS_DISABLE_PERSPECTIVES" default:"false" desc:"Bypass the perspective pipeline entirely; game-data broadcasts become a single unfiltered room fan-out."`

	LogLevel   string `envconfig:"LOG_LEVEL" default:"info" desc:"slog level: debug, info, warn, error."`
	ClusterTag string `envconfig:"CLUSTER_TAG" default:"local" desc:"Identity tag for this process; the server is a single node, not a cluster (§1)."`

	OperatorSocket string `envconfig:"OPERATOR_SOCKET" default:"" desc:"Path to a unix socket for the operator console. Empty uses stdin/stdout."`
}

// Load reads Config from environment variables with the envconfig
// "relay" prefix (RELAY_SOCKET_PORT, etc.), matching the teacher's
// envconfig.Process call in cmd/server/factory.go.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("relay", &c); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return c, nil
}

// VersionSet returns the accepted client versions as a set for O(1)
// membership checks in the mod-handshake state machine (§4.4).
func (c Config) VersionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Versions))
	for _, v := range c.Versions {
		set[strings.TrimSpace(v)] = struct{}{}
	}
	return set
}

// CodeScheme is a small, config-package-local mirror of state.CodeScheme;
// relay.Service converts it to state.CodeScheme when generating room codes.
type CodeScheme int

const (
	CodeV1 CodeScheme = iota
	CodeV2
)

func (c Config) CodeScheme() CodeScheme {
	if strings.EqualFold(c.RoomsGameCodes, "v1") {
		return CodeV1
	}
	return CodeV2
}
