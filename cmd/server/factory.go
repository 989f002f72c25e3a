package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nullspace-labs/lobby-relay/chatcmd"
	"github.com/nullspace-labs/lobby-relay/config"
	"github.com/nullspace-labs/lobby-relay/modpolicy"
	"github.com/nullspace-labs/lobby-relay/operator"
	"github.com/nullspace-labs/lobby-relay/relay"
	"github.com/nullspace-labs/lobby-relay/server"
	"github.com/nullspace-labs/lobby-relay/state"
)

// Container groups together the dependencies shared across the process.
type Container struct {
	cfg    config.Config
	logger *slog.Logger

	conns *state.ConnectionRegistry
	rooms *state.RoomRegistry
	mods  *modpolicy.HandshakeService
	relay *relay.Service
	chat  *chatcmd.Dispatcher
	ops   *operator.Console
}

// MakeCommonDeps loads configuration and policy, and wires the registries and
// service layers every component needs.
func MakeCommonDeps() (Container, error) {
	c := Container{}

	cfg, err := config.Load()
	if err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("cluster", cfg.ClusterTag)

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return c, fmt.Errorf("load policy: %w", err)
	}

	c.conns = state.NewConnectionRegistry()
	c.rooms = state.NewRoomRegistry()
	c.mods = modpolicy.NewHandshakeService(c.logger.With("svc", "modpolicy"), cfg, policy, nil)
	c.relay = relay.NewService(c.logger.With("svc", "relay"), cfg, c.rooms, c.mods)

	if cfg.RoomsChatCommands {
		c.chat = chatcmd.NewDispatcher()
		c.chat.RegisterHelp()
		c.relay.SetChatDispatcher(c.chat)
	}

	c.ops = operator.NewConsole(c.conns, c.rooms, nil)

	return c, nil
}

// Socket creates the UDP event-loop server.
func Socket(deps Container) *server.Socket {
	logger := deps.logger.With("svc", "socket")
	return server.NewSocket(logger, deps.cfg, deps.conns, deps.rooms, deps.mods, deps.relay, deps.ops)
}
