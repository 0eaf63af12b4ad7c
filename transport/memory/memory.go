// Package memory provides a deterministic in-process Transport, useful
// for tests and local demos that need the full handshake/sync protocol
// without a real network.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dagmesh/core"
)

// Network is a shared registry every Transport in a test or demo process
// registers into, so SendBytes can deliver directly to a sibling's
// incoming channel with no serialization round trip.
type Network struct {
	mu      sync.Mutex
	devices map[string]*Transport
}

// NewNetwork returns an empty shared network.
func NewNetwork() *Network {
	return &Network{devices: make(map[string]*Transport)}
}

// Transport is one endpoint on a Network.
type Transport struct {
	net         *Network
	address     string
	displayName string

	mu       sync.Mutex
	incoming chan core.IncomingBytes
	closed   bool
}

// NewTransport registers and returns a new endpoint identified by
// address on net.
func (n *Network) NewTransport(address, displayName string) *Transport {
	t := &Transport{
		net:         n,
		address:     address,
		displayName: displayName,
		incoming:    make(chan core.IncomingBytes, 64),
	}
	n.mu.Lock()
	n.devices[address] = t
	n.mu.Unlock()
	return t
}

var _ core.Transport = (*Transport)(nil)

// Initialize is a no-op; the endpoint is already registered on
// construction.
func (t *Transport) Initialize(ctx context.Context) error { return nil }

// Shutdown deregisters the endpoint and closes its incoming channel.
// Safe to call more than once.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.incoming)
	t.mu.Unlock()

	t.net.mu.Lock()
	delete(t.net.devices, t.address)
	t.net.mu.Unlock()
	return nil
}

// Device returns the TransportDevice handle peers should address sends
// to in order to reach this endpoint.
func (t *Transport) Device() core.TransportDevice {
	return core.TransportDevice{
		Address:     t.address,
		DisplayName: t.displayName,
		Protocol:    "memory",
		ConnectedAt: time.Now(),
		IsActive:    true,
	}
}

// DiscoverDevices returns every other endpoint currently registered on
// the shared network. timeout is accepted for interface compatibility
// but unused: discovery is instantaneous in-process.
func (t *Transport) DiscoverDevices(ctx context.Context, timeout time.Duration) ([]core.TransportDevice, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	out := make([]core.TransportDevice, 0, len(t.net.devices))
	for addr, other := range t.net.devices {
		if addr == t.address {
			continue
		}
		out = append(out, other.Device())
	}
	return out, nil
}

// SendBytes delivers data directly into device's incoming channel.
func (t *Transport) SendBytes(ctx context.Context, device core.TransportDevice, data []byte, timeout time.Duration) error {
	t.net.mu.Lock()
	target, ok := t.net.devices[device.Address]
	t.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown device %s", core.ErrTransport, device.Address)
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	msg := core.IncomingBytes{Device: t.Device(), Data: payload, ReceivedAt: time.Now()}

	target.mu.Lock()
	closed := target.closed
	target.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: device %s is closed", core.ErrTransport, device.Address)
	}

	select {
	case target.incoming <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Incoming returns the channel of bytes sent to this endpoint.
func (t *Transport) Incoming() <-chan core.IncomingBytes { return t.incoming }

// IsPeerReachable reports whether device is still registered.
func (t *Transport) IsPeerReachable(ctx context.Context, device core.TransportDevice) (bool, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	_, ok := t.net.devices[device.Address]
	return ok, nil
}
