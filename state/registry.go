package state

import (
	"net/netip"

	"golang.org/x/time/rate"
)

// ConnectionRegistry maps remote endpoint to Connection and allocates
// monotonically increasing client ids (§4.3). The identity key is the
// address+port pair, exactly as specified.
type ConnectionRegistry struct {
	byAddr    map[netip.AddrPort]*Connection
	nextID    uint32
	helloRate map[netip.Addr]*rate.Limiter
}

// NewConnectionRegistry returns an empty registry with client ids starting
// at 1.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byAddr:    make(map[netip.AddrPort]*Connection),
		nextID:    1,
		helloRate: make(map[netip.Addr]*rate.Limiter),
	}
}

// Get looks up an existing connection by remote endpoint.
func (r *ConnectionRegistry) Get(remote netip.AddrPort) (*Connection, bool) {
	c, ok := r.byAddr[remote]
	return c, ok
}

// GetOrCreate returns the existing connection for remote, or allocates a new
// one with the next client id. created reports whether a new Connection was
// allocated.
func (r *ConnectionRegistry) GetOrCreate(remote netip.AddrPort) (conn *Connection, created bool) {
	if c, ok := r.byAddr[remote]; ok {
		return c, false
	}
	c := NewConnection(remote, r.nextID)
	r.nextID++
	r.byAddr[remote] = c
	return c, true
}

// Remove deletes conn from the registry by its identity key. It does not
// touch any room the connection belonged to; callers detach the connection
// from its room first (§4.3 ownership note).
func (r *ConnectionRegistry) Remove(conn *Connection) {
	delete(r.byAddr, conn.RemoteAddr)
}

// All returns every currently registered connection. Order is unspecified.
func (r *ConnectionRegistry) All() []*Connection {
	out := make([]*Connection, 0, len(r.byAddr))
	for _, c := range r.byAddr {
		out = append(out, c)
	}
	return out
}

// Len reports how many connections are currently registered.
func (r *ConnectionRegistry) Len() int { return len(r.byAddr) }

// AllowHello throttles how often an address may be granted a fresh Hello
// before a Connection exists for it, guarding the registry against a
// hello-flood from a single source ahead of any per-connection bookkeeping
// (domain-stack addition, grounded on the teacher's per-IP
// golang.org/x/time/rate limiter in server/oscar/server.go).
func (r *ConnectionRegistry) AllowHello(addr netip.Addr, rps float64, burst int) bool {
	lim, ok := r.helloRate[addr]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rps), burst)
		r.helloRate[addr] = lim
	}
	return lim.Allow()
}
