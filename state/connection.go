// Package state holds the core's mutable runtime state: connections, rooms,
// perspectives, and the reliability bookkeeping layered on top of them. The
// whole package is designed to be driven from a single goroutine (§5): no
// type here takes a lock, because the server's event loop guarantees that no
// two handlers ever touch the same connection or room concurrently.
package state

import (
	"net/netip"
	"time"

	"github.com/nullspace-labs/lobby-relay/wire"
)

// MaxInFlight bounds both the in-flight sent-packet deque and the
// received-nonce dedupe deque to 8 entries (§3, §8).
const MaxInFlight = 8

// KeepAliveInterval is the period of the global reliability ticker (§4.2,
// §5).
const KeepAliveInterval = 2000 * time.Millisecond

// RetransmitAge is how long an unacked in-flight packet waits before being
// resent (§4.2).
const RetransmitAge = 500 * time.Millisecond

// HandshakeState is the mod-handshake state machine's current state for a
// connection (§4.4).
type HandshakeState int

const (
	StateNew HandshakeState = iota
	StateHelloReceived
	StateModsAwaited
	StateReady
)

// ModInfo is a per-connection mod declaration record (§3).
type ModInfo struct {
	NetID   uint32
	ModID   string
	Version string
	Side    wire.ModSide
}

// SentPacket is one reliable datagram the server is waiting on an
// Acknowledge for. It is immutable except for Acked and SentAt (§3).
type SentPacket struct {
	Nonce  uint16
	Bytes  []byte
	SentAt time.Time
	Acked  bool
}

// Connection represents one client endpoint, keyed by remote address+port.
// Created on the first unknown-endpoint datagram that is a valid Hello;
// destroyed after a Disconnect exchange or a liveness timeout (§3).
type Connection struct {
	RemoteAddr netip.AddrPort
	ClientID   uint32

	Username      string
	Language      string
	ClientVersion string

	HelloComplete    bool
	UsesModFramework bool
	DeclaredModCount uint8
	Handshake        HandshakeState

	ModsByID    map[string]ModInfo
	ModsByNetID map[uint32]ModInfo

	// receivedNonces records recently accepted nonces, newest-first and
	// bounded to MaxInFlight. Nothing reads it: dedupe, including the nonce-0
	// mod-declaration exception, is driven by LastSeenNonce alone.
	receivedNonces []uint16
	LastSeenNonce  uint16

	// InFlight is newest-first, bounded to MaxInFlight (§3 invariant).
	InFlight []*SentPacket
	nextNonce uint16

	LastRTT time.Duration

	Room *Room

	DisconnectInitiated bool
}

// NewConnection allocates a fresh Connection for a newly observed remote
// endpoint. clientID must be unique and monotonically increasing, assigned
// by the ConnectionRegistry.
func NewConnection(remote netip.AddrPort, clientID uint32) *Connection {
	return &Connection{
		RemoteAddr:  remote,
		ClientID:    clientID,
		ModsByID:    make(map[string]ModInfo),
		ModsByNetID: make(map[uint32]ModInfo),
		nextNonce:   1,
	}
}

// NextNonce returns the next per-connection nonce to assign to an outbound
// reliable packet, starting at 1 (§4.2).
func (c *Connection) NextNonce() uint16 {
	n := c.nextNonce
	c.nextNonce++
	return n
}

// RecordSent pushes a new SentPacket onto the head of the in-flight deque,
// truncating to MaxInFlight (§3 invariant, §4.2 step c).
func (c *Connection) RecordSent(nonce uint16, raw []byte, now time.Time) *SentPacket {
	sp := &SentPacket{Nonce: nonce, Bytes: raw, SentAt: now}
	c.InFlight = append([]*SentPacket{sp}, c.InFlight...)
	if len(c.InFlight) > MaxInFlight {
		c.InFlight = c.InFlight[:MaxInFlight]
	}
	return sp
}

// Ack marks the in-flight packet matching nonce as acked and returns the
// measured round-trip time. ok is false if no matching in-flight packet was
// found (pushed out of the deque, or a spurious ack); an ack for an
// already-acked packet returns ok true with the last measured RTT.
func (c *Connection) Ack(nonce uint16, now time.Time) (rtt time.Duration, ok bool) {
	for _, sp := range c.InFlight {
		if sp.Nonce == nonce {
			if !sp.Acked {
				sp.Acked = true
				c.LastRTT = now.Sub(sp.SentAt)
			}
			return c.LastRTT, true
		}
	}
	return 0, false
}

// AllUnacked reports whether the in-flight deque is full and every entry in
// it is still unacked — the liveness-failure condition of §4.2 step c.
func (c *Connection) AllUnacked() bool {
	if len(c.InFlight) < MaxInFlight {
		return false
	}
	for _, sp := range c.InFlight {
		if sp.Acked {
			return false
		}
	}
	return true
}

// isModDeclarationRetry is the documented nonce-0 quirk (§4.2, §9): a
// known-broken client may send the mod-declaration sub-message with nonce 0,
// which must be processed even though it would otherwise look like a
// duplicate or reorder.
func isModDeclarationRetry(nonce uint16, isModDeclaration bool) bool {
	return isModDeclaration && nonce == 0
}

// AcceptNonce applies the receive-side dedupe rule of §4.2: a packet whose
// nonce is <= LastSeenNonce is a duplicate or reorder and is dropped, except
// for the nonce-0 mod-declaration quirk. On acceptance it updates
// LastSeenNonce and the bounded received-nonce deque. The result reports
// whether the packet is to be processed; the caller acknowledges every
// reliable packet either way. The mod declaration exception processes the
// packet without moving LastSeenNonce backward.
func (c *Connection) AcceptNonce(nonce uint16, isModDeclaration bool) (accept bool) {
	if nonce <= c.LastSeenNonce && !isModDeclarationRetry(nonce, isModDeclaration) {
		return false
	}
	if nonce > c.LastSeenNonce {
		c.LastSeenNonce = nonce
		c.receivedNonces = append([]uint16{nonce}, c.receivedNonces...)
		if len(c.receivedNonces) > MaxInFlight {
			c.receivedNonces = c.receivedNonces[:MaxInFlight]
		}
	}
	return true
}
