package state

import (
	"time"

	"github.com/nullspace-labs/lobby-relay/wire"
)

// Sender transmits a raw, already-encoded datagram to a connection's remote
// endpoint. It is implemented by server.Socket's send method; state
// never touches net.PacketConn directly, keeping this package transport-free
// and unit-testable.
type Sender func(conn *Connection, raw []byte) error

// Tick runs one pass of the global reliability ticker (§4.2, §5): send a
// fresh Ping to every connection, retransmit any in-flight packet older
// than RetransmitAge, and report connections whose in-flight deque is full
// of unacked packets (liveness failure) so the caller can disconnect them.
//
// Tick owns no goroutine of its own; it is invoked synchronously by the
// event loop's 2-second timer (§4.2, §5).
func Tick(now time.Time, registry *ConnectionRegistry, send Sender) []*Connection {
	var dead []*Connection
	for _, c := range registry.All() {
		pingNonce := c.NextNonce()
		pingBytes := wire.WriteRoot(wire.RootPacket{
			Tag: wire.RootPing, Nonce: pingNonce, Body: wire.PingBody{},
		}, wire.Clientbound)
		c.RecordSent(pingNonce, pingBytes, now)
		_ = send(c, pingBytes)

		for _, sp := range c.InFlight {
			if sp.Acked || sp.Nonce == pingNonce {
				continue
			}
			if now.Sub(sp.SentAt) > RetransmitAge {
				sp.SentAt = now
				_ = send(c, sp.Bytes)
			}
		}

		if c.AllUnacked() {
			dead = append(dead, c)
		}
	}
	return dead
}

// SendReliable assigns the connection's next nonce, serializes body as a
// Reliable root packet wrapping children, records it as in-flight, and
// transmits it (§4.2 Sending).
func SendReliable(now time.Time, conn *Connection, children []wire.HazelMessage, send Sender) error {
	nonce := conn.NextNonce()
	raw := wire.WriteRoot(wire.RootPacket{
		Tag: wire.RootReliable, Nonce: nonce, Body: wire.ReliableBody{Children: children},
	}, wire.Clientbound)
	conn.RecordSent(nonce, raw, now)
	return send(conn, raw)
}

// SendUnreliable serializes children as a Reliable-shaped datagram but
// never records it as in-flight, so it is never retransmitted — used for
// CustomNetworkTransform movement updates (§4.6).
//
// It still needs a nonce so the receiver's dedupe logic has something to
// compare against; the nonce is drawn from the same counter as reliable
// sends but the packet is not tracked for ack/retransmit.
func SendUnreliable(conn *Connection, children []wire.HazelMessage, send Sender) error {
	nonce := conn.NextNonce()
	raw := wire.WriteRoot(wire.RootPacket{
		Tag: wire.RootReliable, Nonce: nonce, Body: wire.ReliableBody{Children: children},
	}, wire.Clientbound)
	return send(conn, raw)
}

// Acknowledge builds the Acknowledge datagram for an inbound nonce.
// Acknowledge packets are themselves never tracked as reliable (§4.2).
func Acknowledge(nonce uint16) []byte {
	return wire.WriteRoot(wire.RootPacket{
		Tag: wire.RootAcknowledge, Nonce: nonce, Body: wire.AcknowledgeBody{},
	}, wire.Clientbound)
}
