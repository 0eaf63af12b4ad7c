// Package tcp provides a raw-TCP Transport: a length-prefixed frame per
// message over a pooled outbound connection, and a listener accepting
// inbound connections and reading frames off each until it closes.
package tcp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dagmesh/core"
)

// Transport is a core.Transport implementation over raw TCP sockets.
// Device.Address is a "host:port" string.
type Transport struct {
	listenAddr string
	displayName string
	log        *logrus.Logger

	pool *connPool

	ln       net.Listener
	incoming chan core.IncomingBytes

	mu     sync.Mutex
	closed bool
}

var _ core.Transport = (*Transport)(nil)

// New constructs a Transport that will listen on listenAddr once
// Initialize is called. displayName is a human label reported in Device.
func New(listenAddr, displayName string, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		listenAddr:  listenAddr,
		displayName: displayName,
		log:         logger,
		pool:        newConnPool(&dialer{timeout: 10 * time.Second, keepAlive: 30 * time.Second}, 4, time.Minute),
		incoming:    make(chan core.IncomingBytes, 256),
	}
}

// Initialize starts listening on listenAddr and accepting connections.
func (t *Transport) Initialize(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", core.ErrTransport, t.listenAddr, err)
	}
	t.ln = ln
	go t.acceptLoop()
	return nil
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		go t.serveConn(conn)
	}
}

func (t *Transport) serveConn(conn net.Conn) {
	defer conn.Close()
	device := core.TransportDevice{
		Address:     conn.RemoteAddr().String(),
		DisplayName: conn.RemoteAddr().String(),
		Protocol:    "tcp",
		IsActive:    true,
	}
	r := bufio.NewReader(conn)
	for {
		body, err := core.ReadFrame(r)
		if err != nil {
			return
		}
		msg := core.IncomingBytes{Device: device, Data: body, ReceivedAt: time.Now()}
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		select {
		case t.incoming <- msg:
		default:
			t.log.Warn("incoming channel full, dropping frame")
		}
	}
}

// Shutdown closes the listener, the connection pool, and the incoming
// channel. Safe to call more than once.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.ln != nil {
		t.ln.Close()
	}
	t.pool.close()
	close(t.incoming)
	return nil
}

// Device returns this endpoint's own dialable address.
func (t *Transport) Device() core.TransportDevice {
	return core.TransportDevice{
		Address:     t.listenAddr,
		DisplayName: t.displayName,
		Protocol:    "tcp",
		ConnectedAt: time.Now(),
		IsActive:    true,
	}
}

// DiscoverDevices is unsupported for raw TCP: peers must be configured or
// learned out of band (e.g. via the handshake protocol once connected).
func (t *Transport) DiscoverDevices(ctx context.Context, timeout time.Duration) ([]core.TransportDevice, error) {
	return nil, nil
}

// SendBytes writes one length-prefixed frame to device over a pooled
// connection, releasing the connection back to the pool on success.
func (t *Transport) SendBytes(ctx context.Context, device core.TransportDevice, data []byte, timeout time.Duration) error {
	conn, err := t.pool.acquire(ctx, device.Address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", core.ErrTransport, device.Address, err)
	}
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := core.WriteFrame(conn, data); err != nil {
		t.pool.discard(conn)
		return fmt.Errorf("%w: write frame to %s: %v", core.ErrTransport, device.Address, err)
	}
	conn.SetWriteDeadline(time.Time{})
	t.pool.release(conn)
	return nil
}

// Incoming returns the channel of bytes arriving over any accepted
// connection.
func (t *Transport) Incoming() <-chan core.IncomingBytes { return t.incoming }

// IsPeerReachable performs a short-lived dial to check liveness, without
// consuming the connection pool's reuse slot.
func (t *Transport) IsPeerReachable(ctx context.Context, device core.TransportDevice) (bool, error) {
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", device.Address)
	if err != nil {
		return false, nil
	}
	conn.Close()
	return true, nil
}

// IdlePoolSize reports the number of idle pooled outbound connections,
// exposed for metrics/diagnostics.
func (t *Transport) IdlePoolSize() int { return t.pool.idleCount() }
