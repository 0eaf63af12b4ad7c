// Package libp2p provides a Transport backed by a real libp2p host: direct
// streams carry framed sync protocol messages, and mDNS handles local peer
// discovery, mirroring the node bootstrap shape of a libp2p-gossip host
// while trading pubsub fan-out for point-to-point SendBytes semantics.
package libp2p

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	golibp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"dagmesh/core"
)

// ProtocolID is the libp2p stream protocol used to carry sync messages.
const ProtocolID = protocol.ID("/dagmesh/sync/1.0.0")

// Transport is a core.Transport implementation backed by a libp2p host.
// Device.Address is a full multiaddr including the /p2p/<peer id> suffix;
// Device.DisplayName mirrors the remote peer.ID string.
type Transport struct {
	host         host.Host
	discoveryTag string
	log          *logrus.Logger

	incoming chan core.IncomingBytes

	mu        sync.Mutex
	discovery []core.TransportDevice
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ core.Transport = (*Transport)(nil)

// New creates a libp2p host listening on listenAddr (a multiaddr string,
// e.g. "/ip4/0.0.0.0/tcp/0") and tags mDNS discovery with discoveryTag.
func New(listenAddr, discoveryTag string, logger *logrus.Logger) (*Transport, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h, err := golibp2p.New(golibp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("%w: create libp2p host: %v", core.ErrTransport, err)
	}
	return &Transport{
		host:         h,
		discoveryTag: discoveryTag,
		log:          logger,
		incoming:     make(chan core.IncomingBytes, 256),
	}, nil
}

// Initialize installs the stream handler and starts mDNS discovery.
func (t *Transport) Initialize(ctx context.Context) error {
	derived, cancel := context.WithCancel(ctx)
	t.ctx = derived
	t.cancel = cancel

	t.host.SetStreamHandler(ProtocolID, t.handleStream)

	// NewMdnsService only constructs the service; Start begins advertising
	// and browsing under discoveryTag.
	svc := mdns.NewMdnsService(t.host, t.discoveryTag, mdnsNotifee{t})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("%w: start mdns: %v", core.ErrTransport, err)
	}
	return nil
}

// Shutdown closes the host and the incoming channel. Safe to call more
// than once.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	close(t.incoming)
	return t.host.Close()
}

// Device returns this endpoint's own address, suitable for peers to dial.
func (t *Transport) Device() core.TransportDevice {
	addrs := t.host.Addrs()
	var addr string
	if len(addrs) > 0 {
		addr = fmt.Sprintf("%s/p2p/%s", addrs[0], t.host.ID())
	}
	return core.TransportDevice{
		Address:     addr,
		DisplayName: t.host.ID().String(),
		Protocol:    "libp2p",
		ConnectedAt: time.Now(),
		IsActive:    true,
	}
}

// mdnsNotifee adapts mDNS discovery callbacks onto the Transport's
// discovery list, matching the teacher's HandlePeerFound shape.
type mdnsNotifee struct{ t *Transport }

func (n mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.t.host.ID() {
		return
	}
	n.t.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)

	var addr string
	if len(info.Addrs) > 0 {
		addr = fmt.Sprintf("%s/p2p/%s", info.Addrs[0], info.ID)
	}
	device := core.TransportDevice{
		Address:     addr,
		DisplayName: info.ID.String(),
		Protocol:    "libp2p",
		ConnectedAt: time.Now(),
		IsActive:    true,
	}

	n.t.mu.Lock()
	defer n.t.mu.Unlock()
	for i, existing := range n.t.discovery {
		if existing.DisplayName == device.DisplayName {
			n.t.discovery[i] = device
			return
		}
	}
	n.t.discovery = append(n.t.discovery, device)
}

// DiscoverDevices returns every peer mDNS has found so far. timeout is
// accepted for interface compatibility; discovery runs continuously in
// the background rather than on demand.
func (t *Transport) DiscoverDevices(ctx context.Context, timeout time.Duration) ([]core.TransportDevice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.TransportDevice, len(t.discovery))
	copy(out, t.discovery)
	return out, nil
}

// SendBytes opens a stream to device and writes one length-prefixed
// frame, then closes the stream. device.Address must be a full multiaddr
// with a /p2p/<peer id> suffix.
func (t *Transport) SendBytes(ctx context.Context, device core.TransportDevice, data []byte, timeout time.Duration) error {
	info, err := peer.AddrInfoFromString(device.Address)
	if err != nil {
		return fmt.Errorf("%w: parse device address %q: %v", core.ErrTransport, device.Address, err)
	}
	t.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.TempAddrTTL)

	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := t.host.Connect(dialCtx, *info); err != nil {
		return fmt.Errorf("%w: connect to %s: %v", core.ErrTransport, info.ID, err)
	}
	s, err := t.host.NewStream(dialCtx, info.ID, ProtocolID)
	if err != nil {
		return fmt.Errorf("%w: open stream to %s: %v", core.ErrTransport, info.ID, err)
	}
	defer s.Close()

	if err := core.WriteFrame(s, data); err != nil {
		return fmt.Errorf("%w: write frame to %s: %v", core.ErrTransport, info.ID, err)
	}
	return nil
}

// handleStream reads one or more length-prefixed frames from an inbound
// stream and pushes each onto the incoming channel until the stream
// closes or yields a framing error.
func (t *Transport) handleStream(s network.Stream) {
	defer s.Close()
	r := bufio.NewReader(s)
	remote := s.Conn().RemotePeer()
	device := core.TransportDevice{
		Address:     fmt.Sprintf("%s/p2p/%s", s.Conn().RemoteMultiaddr(), remote),
		DisplayName: remote.String(),
		Protocol:    "libp2p",
		IsActive:    true,
	}
	for {
		body, err := core.ReadFrame(r)
		if err != nil {
			t.log.WithError(err).WithField("peer", remote.String()).Debug("stream closed")
			return
		}
		if t.ctx.Err() != nil {
			return
		}
		msg := core.IncomingBytes{Device: device, Data: body, ReceivedAt: time.Now()}
		select {
		case t.incoming <- msg:
		default:
			t.log.Warn("incoming channel full, dropping frame")
		}
	}
}

// Incoming returns the channel of bytes arriving over any stream.
func (t *Transport) Incoming() <-chan core.IncomingBytes { return t.incoming }

// IsPeerReachable reports whether the host currently holds an open
// connection to device, per libp2p's own connectedness tracking.
func (t *Transport) IsPeerReachable(ctx context.Context, device core.TransportDevice) (bool, error) {
	info, err := peer.AddrInfoFromString(device.Address)
	if err != nil {
		return false, fmt.Errorf("%w: parse device address %q: %v", core.ErrTransport, device.Address, err)
	}
	return t.host.Network().Connectedness(info.ID) == network.Connected, nil
}
