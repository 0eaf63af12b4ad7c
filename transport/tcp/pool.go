package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// dialer opens outbound TCP connections with a bounded timeout and
// keepalive, the raw building block a pool of reusable connections is
// drawn from.
type dialer struct {
	timeout   time.Duration
	keepAlive time.Duration
}

func (d *dialer) dial(ctx context.Context, address string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.timeout, KeepAlive: d.keepAlive}
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// pooledConn is a net.Conn tagged with the address it was dialed for and
// when it was last returned to the pool.
type pooledConn struct {
	net.Conn
	addr     string
	lastUsed time.Time
}

// connPool manages reusable outbound connections keyed by remote address,
// so repeated SendBytes calls to the same peer do not pay a fresh TCP and
// (if applicable) TLS handshake every time.
type connPool struct {
	dialer    *dialer
	mu        sync.Mutex
	conns     map[string][]*pooledConn
	maxIdle   int
	idleTTL   time.Duration
	closing   chan struct{}
	closeOnce sync.Once
}

// newConnPool creates a connection pool. maxIdle caps idle connections
// kept per address; idleTTL bounds how long an idle connection survives
// before the reaper closes it.
func newConnPool(d *dialer, maxIdle int, idleTTL time.Duration) *connPool {
	cp := &connPool{
		dialer:  d,
		conns:   make(map[string][]*pooledConn),
		maxIdle: maxIdle,
		idleTTL: idleTTL,
		closing: make(chan struct{}),
	}
	go cp.reaper()
	return cp
}

// acquire returns a pooled connection for addr, or dials a fresh one.
func (cp *connPool) acquire(ctx context.Context, addr string) (net.Conn, error) {
	cp.mu.Lock()
	list := cp.conns[addr]
	n := len(list)
	if n > 0 {
		c := list[n-1]
		cp.conns[addr] = list[:n-1]
		cp.mu.Unlock()
		c.lastUsed = time.Now()
		return c, nil
	}
	cp.mu.Unlock()
	if cp.dialer == nil {
		return nil, errors.New("tcp: dialer not configured")
	}
	conn, err := cp.dialer.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &pooledConn{Conn: conn, addr: addr, lastUsed: time.Now()}, nil
}

// release returns conn to the pool if room remains, otherwise closes it.
// Connections not obtained via acquire are simply closed.
func (cp *connPool) release(conn net.Conn) {
	pc, ok := conn.(*pooledConn)
	if !ok {
		_ = conn.Close()
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.maxIdle > 0 && len(cp.conns[pc.addr]) < cp.maxIdle {
		pc.lastUsed = time.Now()
		cp.conns[pc.addr] = append(cp.conns[pc.addr], pc)
		return
	}
	_ = pc.Close()
}

// discard closes conn without returning it to the pool, for use after a
// write or read error that leaves the connection's framing state unknown.
func (cp *connPool) discard(conn net.Conn) {
	_ = conn.Close()
}

// close closes every pooled connection and stops the reaper.
func (cp *connPool) close() {
	cp.closeOnce.Do(func() {
		close(cp.closing)
		cp.mu.Lock()
		defer cp.mu.Unlock()
		for _, list := range cp.conns {
			for _, c := range list {
				_ = c.Close()
			}
		}
		cp.conns = make(map[string][]*pooledConn)
	})
}

// idleCount returns the total number of idle connections currently held.
func (cp *connPool) idleCount() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	count := 0
	for _, list := range cp.conns {
		count += len(list)
	}
	return count
}

func (cp *connPool) reaper() {
	if cp.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(cp.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-cp.idleTTL)
			cp.mu.Lock()
			for addr, list := range cp.conns {
				i := 0
				for _, c := range list {
					if c.lastUsed.Before(cutoff) {
						_ = c.Close()
						continue
					}
					list[i] = c
					i++
				}
				cp.conns[addr] = list[:i]
			}
			cp.mu.Unlock()
		case <-cp.closing:
			return
		}
	}
}
