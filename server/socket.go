// Package server drives the UDP event loop: the single goroutine that owns
// the socket, the reliability ticker, and the operator console, and that
// turns decoded wire packets into calls against modpolicy, relay, and the
// runtime state registries (§4, §5). It replaces the teacher's TCP/FLAP
// accept-and-dispatch loop in server/oscar with the datagram equivalent;
// the shape — a Socket type with ListenAndServe (stopped by canceling its
// context) and a handler
// dispatching decoded messages to service layers — is carried over, but the
// framing, routing, and concurrency model underneath are entirely new.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/nullspace-labs/lobby-relay/config"
	"github.com/nullspace-labs/lobby-relay/modpolicy"
	"github.com/nullspace-labs/lobby-relay/operator"
	"github.com/nullspace-labs/lobby-relay/relay"
	"github.com/nullspace-labs/lobby-relay/state"
	"github.com/nullspace-labs/lobby-relay/wire"
)

// helloRateRPS and helloRateBurst bound how often a single address may be
// granted a fresh Connection before any per-connection bookkeeping exists,
// guarding against a hello flood (state.ConnectionRegistry.AllowHello).
const (
	helloRateRPS   = 5
	helloRateBurst = 10
)

const readBufferSize = 2048

// ConsoleRequest is one operator console line submitted from outside the
// event loop, together with a channel the loop replies on. It exists so
// stdin reading (or the unix-socket listener in cmd/server) can run on its own
// goroutine while the command itself still executes on the single event
// loop, per §5's operator-console serialization requirement.
type ConsoleRequest struct {
	Line  string
	Reply chan<- operator.Result
}

type datagram struct {
	remote netip.AddrPort
	raw    []byte
}

// Socket owns the UDP listener and the registries/services it drives.
// Every inbound datagram, reliability tick, and operator command is
// processed from the single goroutine running ListenAndServe (§5).
type Socket struct {
	logger *slog.Logger
	cfg    config.Config

	conns   *state.ConnectionRegistry
	rooms   *state.RoomRegistry
	mods    *modpolicy.HandshakeService
	relay   *relay.Service
	console *operator.Console

	pc *net.UDPConn
}

// NewSocket constructs a Socket bound to the server's live registries and
// service layers. ListenAndServe performs the actual bind.
func NewSocket(
	logger *slog.Logger,
	cfg config.Config,
	conns *state.ConnectionRegistry,
	rooms *state.RoomRegistry,
	mods *modpolicy.HandshakeService,
	rel *relay.Service,
	console *operator.Console,
) *Socket {
	return &Socket{logger: logger, cfg: cfg, conns: conns, rooms: rooms, mods: mods, relay: rel, console: console}
}

// ListenAndServe binds the UDP socket and runs the event loop until ctx is
// canceled, fanning the blocking UDP reader and the reliability ticker into
// a single consuming select so that no two handlers ever run concurrently
// (§5). consoleReqs may be nil if no console front-end is wired.
func (s *Socket) ListenAndServe(ctx context.Context, consoleReqs <-chan ConsoleRequest) error {
	pc, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.cfg.SocketPort})
	if err != nil {
		return fmt.Errorf("listen udp :%d: %w", s.cfg.SocketPort, err)
	}
	s.pc = pc
	s.logger.Info("listening", "port", s.cfg.SocketPort)

	datagrams := make(chan datagram, 64)
	go s.readLoop(pc, datagrams)

	ticker := time.NewTicker(state.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = pc.Close()
			return nil
		case dg := <-datagrams:
			s.handleDatagram(dg.remote, dg.raw, time.Now())
		case t := <-ticker.C:
			s.Tick(t)
		case req, ok := <-consoleReqs:
			if !ok {
				consoleReqs = nil
				continue
			}
			req.Reply <- s.runConsole(req.Line)
		}
	}
}

func (s *Socket) readLoop(pc *net.UDPConn, out chan<- datagram) {
	buf := make([]byte, readBufferSize)
	for {
		n, remote, err := pc.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("udp read error", "err", err)
			continue
		}
		raw := append([]byte(nil), buf[:n]...)
		out <- datagram{remote: remote, raw: raw}
	}
}

// send implements state.Sender.
func (s *Socket) send(conn *state.Connection, raw []byte) error {
	_, err := s.pc.WriteToUDPAddrPort(raw, conn.RemoteAddr)
	return err
}

// Tick runs one reliability pass and tears down any connection that failed
// liveness (§4.2, §5).
func (s *Socket) Tick(now time.Time) {
	for _, dead := range state.Tick(now, s.conns, s.send) {
		s.teardown(dead, wire.ReasonLocalized("Connection timed out"))
	}
}

func (s *Socket) handleDatagram(remote netip.AddrPort, raw []byte, now time.Time) {
	pkt, err := wire.ParseRoot(raw, wire.Serverbound)
	if err != nil {
		s.logger.Debug("malformed datagram", "remote", remote, "err", err)
		return
	}

	switch pkt.Tag {
	case wire.RootHello:
		s.onHello(remote, now)
	case wire.RootHelloMod:
		if body, ok := pkt.Body.(wire.HelloModBody); ok {
			s.onHelloMod(remote, body, now)
		}
	default:
		conn, ok := s.conns.Get(remote)
		if !ok {
			return // every other root tag requires an established connection
		}
		switch pkt.Tag {
		case wire.RootDisconnect:
			s.teardown(conn, wire.DisconnectReason{})
		case wire.RootAcknowledge:
			conn.Ack(pkt.Nonce, now)
		case wire.RootPing:
			// inbound pings are liveness noise only; the server drives its
			// own ping/retransmit schedule from Tick.
		case wire.RootReliable:
			if body, ok := pkt.Body.(wire.ReliableBody); ok {
				s.onReliable(conn, pkt.Nonce, body, now)
			}
		}
	}
}

func (s *Socket) onHello(remote netip.AddrPort, now time.Time) {
	conn, created := s.conns.GetOrCreate(remote)
	if created && !s.conns.AllowHello(remote.Addr(), helloRateRPS, helloRateBurst) {
		s.conns.Remove(conn)
		return
	}
	s.applyHandshakeOutcome(conn, s.mods.HandleHello(conn), now)
}

func (s *Socket) onHelloMod(remote netip.AddrPort, body wire.HelloModBody, now time.Time) {
	conn, created := s.conns.GetOrCreate(remote)
	if created && !s.conns.AllowHello(remote.Addr(), helloRateRPS, helloRateBurst) {
		s.conns.Remove(conn)
		return
	}
	s.applyHandshakeOutcome(conn, s.mods.HandleHelloMod(conn, body), now)
}

// onReliable applies the receive-side dedupe/accept rule before dispatching
// each child (§4.2). Every inbound reliable-bearing packet is acked,
// including duplicates/retransmits — the sender only stops retransmitting
// once it sees its Acknowledge — but the body is dispatched exactly once:
// only when AcceptNonce reports this nonce as newly accepted. The nonce-0
// mod-declaration exception requires peeking into the reliable body for a
// mod-declaration Rpc before the accept decision is made.
func (s *Socket) onReliable(conn *state.Connection, nonce uint16, body wire.ReliableBody, now time.Time) {
	_ = s.send(conn, state.Acknowledge(nonce))
	if !conn.AcceptNonce(nonce, containsModDeclaration(body.Children)) {
		return
	}

	for _, child := range body.Children {
		decoded, err := wire.DecodeChild(child.Tag, child.Payload)
		if err != nil {
			s.logger.Debug("unrecognized reliable child", "tag", child.Tag, "client_id", conn.ClientID)
			continue
		}
		s.dispatchChild(conn, decoded, now)
	}
}

// containsModDeclaration reports whether any root-level child of body is a
// GameData carrying an Rpc addressed to the mod-framework's reserved net id
// (§4.2, §4.4, §9 nonce-0 exception).
func containsModDeclaration(children []wire.HazelMessage) bool {
	for _, ch := range children {
		decoded, err := wire.DecodeChild(ch.Tag, ch.Payload)
		if err != nil {
			continue
		}
		gd, ok := decoded.(wire.GameData)
		if !ok {
			continue
		}
		for _, sub := range gd.Children {
			if sub.Tag != wire.GameDataRpc {
				continue
			}
			if rpc, ok := wire.DecodeGameDataChild(sub.Tag, sub.Payload).(wire.Rpc); ok && rpc.NetID == uint32(wire.ModReservedTag) {
				return true
			}
		}
	}
	return false
}

func (s *Socket) dispatchChild(conn *state.Connection, decoded any, now time.Time) {
	switch v := decoded.(type) {
	case wire.HostGame:
		s.applyRelayOutcome(conn, s.relay.HandleHostGame(conn, v, now), now)
	case wire.JoinGame:
		s.applyRelayOutcome(conn, s.relay.HandleJoinGame(conn, v, now), now)
	case wire.StartGame:
		s.withRoom(conn, now, func(room *state.Room) relay.Outcome { return s.relay.HandleStartGame(conn, room, v) })
	case wire.EndGame:
		s.withRoom(conn, now, func(room *state.Room) relay.Outcome { return s.relay.HandleEndGame(conn, room, v) })
	case wire.RemoveGame:
		s.withRoom(conn, now, func(room *state.Room) relay.Outcome { return s.relay.HandleRemoveGame(conn, room, v) })
	case wire.AlterGame:
		s.withRoom(conn, now, func(room *state.Room) relay.Outcome { return s.relay.HandleAlterGame(conn, room, v) })
	case wire.KickPlayer:
		s.withRoom(conn, now, func(room *state.Room) relay.Outcome { return s.relay.HandleKickPlayer(conn, room, v) })
	case wire.GetGameList:
		s.applyRelayOutcome(conn, s.relay.HandleGetGameList(conn, v, now), now)
	case wire.GameData:
		s.onGameData(conn, v, now)
	case wire.GameDataTo:
		s.withRoom(conn, now, func(room *state.Room) relay.Outcome { return s.relay.HandleGameDataTo(conn, room, v) })
	default:
		// JoinedGame, JoinError, and GameList are clientbound-only shapes
		// that never legitimately arrive from a client; drop silently.
	}
}

func (s *Socket) withRoom(conn *state.Connection, now time.Time, fn func(room *state.Room) relay.Outcome) {
	if conn.Room == nil {
		return
	}
	s.applyRelayOutcome(conn, fn(conn.Room), now)
}

// onGameData strips any mod-declaration Rpc out of body before handing the
// rest to the relay, since a client may keep declaring mods (addressed to
// ReservedLocalCode) before it has joined any room (§4.2, §4.4, §4.6).
func (s *Socket) onGameData(conn *state.Connection, body wire.GameData, now time.Time) {
	remaining := make([]wire.HazelMessage, 0, len(body.Children))
	for _, ch := range body.Children {
		if ch.Tag == wire.GameDataRpc {
			if rpc, ok := wire.DecodeGameDataChild(ch.Tag, ch.Payload).(wire.Rpc); ok && rpc.NetID == uint32(wire.ModReservedTag) {
				if decl, err := wire.DecodeModDeclaration(rpc.Data); err == nil {
					s.applyHandshakeOutcome(conn, s.mods.HandleModDeclaration(conn, decl), now)
				}
				continue
			}
		}
		remaining = append(remaining, ch)
	}
	if len(remaining) == 0 || conn.Room == nil {
		return
	}
	s.applyRelayOutcome(conn, s.relay.HandleGameData(conn, conn.Room, wire.GameData{Code: body.Code, Children: remaining}), now)
}

func (s *Socket) applyHandshakeOutcome(conn *state.Connection, out modpolicy.Outcome, now time.Time) {
	if out.Disconnect {
		s.teardown(conn, out.Reason)
		return
	}
	for _, chunk := range modpolicy.ChunkModDeclarations(out.ReplyMods, 4) {
		children := make([]wire.HazelMessage, 0, len(chunk))
		for _, decl := range chunk {
			rpc := wire.Rpc{NetID: uint32(wire.ModReservedTag), Data: decl.Encode()}
			children = append(children, wire.EncodeGameDataChild(wire.GameDataRpc, rpc))
		}
		gd := wire.EncodeChild(wire.ChildGameData, wire.GameData{Code: state.ReservedLocalCode, Children: children})
		_ = state.SendReliable(now, conn, []wire.HazelMessage{gd}, s.send)
	}
}

func (s *Socket) applyRelayOutcome(conn *state.Connection, out relay.Outcome, now time.Time) {
	if out.Disconnect {
		s.teardown(conn, out.Reason)
		return
	}
	s.deliver(out.Deliveries, now)
}

func (s *Socket) deliver(deliveries []relay.Delivery, now time.Time) {
	for _, d := range deliveries {
		children := make([]wire.HazelMessage, 0, len(d.Messages))
		for _, msg := range d.Messages {
			children = append(children, wire.EncodeChild(msg.Tag, msg.Body))
		}

		recipients := append([]*state.Connection{}, d.To...)
		if d.Room != nil {
			for _, m := range d.Room.Members {
				if _, excluded := d.Exclude[m.ClientID]; !excluded {
					recipients = append(recipients, m)
				}
			}
		}

		for _, r := range recipients {
			if d.Unreliable {
				_ = state.SendUnreliable(r, children, s.send)
			} else {
				_ = state.SendReliable(now, r, children, s.send)
			}
		}
	}
}

// teardown removes conn from the registry and whatever room it belongs to.
// A non-empty reason means the server is initiating the disconnect and a
// Disconnect datagram is sent first; a zero reason means the client already
// said goodbye and no reply is needed (§4.2, §4.3, §8 invariant).
func (s *Socket) teardown(conn *state.Connection, reason wire.DisconnectReason) {
	if reason.Code != wire.DisconnectNone || reason.Message != "" {
		raw := wire.WriteRoot(wire.RootPacket{Tag: wire.RootDisconnect, Body: wire.DisconnectBody{Reason: reason}}, wire.Clientbound)
		_ = s.send(conn, raw)
	}
	s.deliver(s.relay.LeaveRoom(conn).Deliveries, time.Now())
	s.conns.Remove(conn)
}

// runConsole executes one operator command on the event loop and carries
// out its side effects before returning the result for display (§5, §6).
func (s *Socket) runConsole(line string) operator.Result {
	res := s.console.Run(line)
	for _, dc := range res.Disconnects {
		s.teardown(dc.Conn, wire.ReasonLocalized(dc.Reason))
	}
	if res.Broadcast != nil {
		s.sendBroadcast(*res.Broadcast)
	}
	return res
}

func (s *Socket) sendBroadcast(b operator.Broadcast) {
	var targets []*state.Connection
	if b.Code != 0 {
		room, ok := s.rooms.Get(b.Code)
		if !ok {
			return
		}
		for _, m := range room.Members {
			targets = append(targets, m)
		}
	} else {
		targets = s.conns.All()
	}

	now := time.Now()
	for _, conn := range targets {
		code := state.ReservedLocalCode
		if conn.Room != nil {
			code = conn.Room.Code
		}
		rpc := wire.EncodeChatRpc(0, b.Text, wire.ChatSideLeft)
		gd := wire.EncodeChild(wire.ChildGameData, wire.GameData{Code: code, Children: []wire.HazelMessage{wire.EncodeGameDataChild(wire.GameDataRpc, rpc)}})
		_ = state.SendReliable(now, conn, []wire.HazelMessage{gd}, s.send)
	}
}
