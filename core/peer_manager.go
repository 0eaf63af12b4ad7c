package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type deviceState int

const (
	deviceUnknown deviceState = iota
	deviceAwaitingHandshake
	deviceConnected
	deviceDisconnected
	deviceFailed
)

type deviceRecord struct {
	device   TransportDevice
	state    deviceState
	peerID   string
	attempts int
	pending  chan HandshakeMessage
}

// PeerEventType distinguishes the variants broadcast on a PeerManager's
// event subscriptions.
type PeerEventType int

const (
	EventDiscovered PeerEventType = iota
	EventConnected
	EventDisconnected
	EventFailed
)

// PeerEvent is published on every subscriber channel. Peer is populated
// for Connected/Disconnected; Device is populated for Discovered/Failed,
// since a Failed device may never have learned a peer identity.
type PeerEvent struct {
	Type   PeerEventType
	Peer   Peer
	Device TransportDevice
}

// MessageHandler receives the raw bytes of every message from a Connected
// device, tagged with the sender's peer ID. The Synchronizer registers
// itself here to consume sync-protocol frames.
type MessageHandler func(peerID string, data []byte)

// PeerManager turns raw device events from a Transport into peer-level
// events, per §4.H. It owns exactly three pieces of state: device
// address -> peer ID (once known), peer ID -> Peer record, and the
// per-device handshake state machine.
type PeerManager struct {
	transport     Transport
	cfg           PeerManagerConfig
	logger        *logrus.Logger
	localPeerID   string
	localMetadata map[string]string

	mu             sync.Mutex
	devices        map[string]*deviceRecord
	peers          map[string]*Peer
	subs           map[int]chan PeerEvent
	nextSubID      int
	messageHandler MessageHandler

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPeerManager constructs a PeerManager bound to transport. A nil
// logger falls back to logrus.StandardLogger(); there is no package-level
// logging singleton otherwise.
func NewPeerManager(transport Transport, localPeerID string, localMetadata map[string]string, cfg PeerManagerConfig, logger *logrus.Logger) *PeerManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if localMetadata == nil {
		localMetadata = map[string]string{}
	}
	return &PeerManager{
		transport:     transport,
		cfg:           cfg,
		logger:        logger,
		localPeerID:   localPeerID,
		localMetadata: localMetadata,
		devices:       make(map[string]*deviceRecord),
		peers:         make(map[string]*Peer),
		subs:          make(map[int]chan PeerEvent),
		closing:       make(chan struct{}),
	}
}

// SetMessageHandler registers the callback invoked for every message
// received from a Connected device.
func (m *PeerManager) SetMessageHandler(h MessageHandler) {
	m.mu.Lock()
	m.messageHandler = h
	m.mu.Unlock()
}

// Initialize starts the transport and begins consuming its incoming-bytes
// sequence.
func (m *PeerManager) Initialize(ctx context.Context) error {
	if err := m.transport.Initialize(ctx); err != nil {
		return fmt.Errorf("%w: transport initialize: %v", ErrTransport, err)
	}
	m.wg.Add(1)
	go m.dispatchLoop(ctx)
	return nil
}

// Shutdown stops the dispatch loop, shuts down the transport, and closes
// every subscriber channel. Safe to call more than once.
func (m *PeerManager) Shutdown(ctx context.Context) error {
	var shutdownErr error
	m.closeOnce.Do(func() {
		close(m.closing)
		shutdownErr = m.transport.Shutdown(ctx)
	})
	m.wg.Wait()
	m.mu.Lock()
	for id, c := range m.subs {
		delete(m.subs, id)
		close(c)
	}
	m.mu.Unlock()
	return shutdownErr
}

func (m *PeerManager) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()
	incoming := m.transport.Incoming()
	for {
		select {
		case ib, ok := <-incoming:
			if !ok {
				return
			}
			m.handleIncoming(ctx, ib)
		case <-m.closing:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Discover calls the transport's device discovery, publishes
// EventDiscovered for every newly-seen device, and opportunistically
// starts a handshake with any new, Disconnected or Failed device when
// AutoConnect is enabled and capacity remains.
func (m *PeerManager) Discover(ctx context.Context, timeout time.Duration) ([]TransportDevice, error) {
	devices, err := m.transport.DiscoverDevices(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: discover devices: %v", ErrTransport, err)
	}
	for _, d := range devices {
		m.mu.Lock()
		rec, known := m.devices[d.Address]
		if !known {
			rec = &deviceRecord{device: d, state: deviceUnknown}
			m.devices[d.Address] = rec
		}
		shouldHandshake := m.cfg.AutoConnect && m.connectedCountLocked() < m.cfg.MaxConnections &&
			(rec.state == deviceUnknown || rec.state == deviceDisconnected || rec.state == deviceFailed)
		m.mu.Unlock()

		if !known {
			m.publish(PeerEvent{Type: EventDiscovered, Device: d})
		}
		if shouldHandshake {
			go m.initiateHandshake(ctx, d)
		}
	}
	return devices, nil
}

// Connect explicitly registers device and, if capacity allows, initiates
// a handshake regardless of AutoConnect.
func (m *PeerManager) Connect(ctx context.Context, device TransportDevice) error {
	if m.connectedCount() >= m.cfg.MaxConnections {
		return fmt.Errorf("%w: max connections reached", ErrTransport)
	}
	m.mu.Lock()
	if _, ok := m.devices[device.Address]; !ok {
		m.devices[device.Address] = &deviceRecord{device: device, state: deviceUnknown}
	}
	m.mu.Unlock()
	go m.initiateHandshake(ctx, device)
	return nil
}

// initiateHandshake sends a handshake request to device and waits for the
// response, honoring cfg.HandshakeTimeout. On timeout it marks the device
// Failed and schedules a retry per the reconnect policy.
func (m *PeerManager) initiateHandshake(ctx context.Context, device TransportDevice) {
	m.mu.Lock()
	rec, ok := m.devices[device.Address]
	if !ok {
		rec = &deviceRecord{device: device}
		m.devices[device.Address] = rec
	}
	if rec.state == deviceConnected {
		m.mu.Unlock()
		return
	}
	rec.state = deviceAwaitingHandshake
	rec.pending = make(chan HandshakeMessage, 1)
	pending := rec.pending
	m.mu.Unlock()

	reqBytes, err := EncodeHandshake(HandshakeRequest, m.localPeerID, m.localMetadata)
	if err != nil {
		m.failDevice(device, err)
		return
	}
	if err := m.transport.SendBytes(ctx, device, reqBytes, m.cfg.HandshakeTimeout); err != nil {
		m.failDevice(device, err)
		m.scheduleReconnect(device)
		return
	}

	timer := time.NewTimer(m.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case hs := <-pending:
		m.completeHandshake(device, hs.PeerID)
	case <-timer.C:
		m.failDevice(device, ErrTimeout)
		m.scheduleReconnect(device)
	case <-ctx.Done():
		m.failDevice(device, ctx.Err())
	case <-m.closing:
	}
}

func (m *PeerManager) scheduleReconnect(device TransportDevice) {
	m.mu.Lock()
	rec, ok := m.devices[device.Address]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.attempts++
	attempts := rec.attempts
	m.mu.Unlock()
	if attempts > m.cfg.MaxReconnectAttempts {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-time.After(m.cfg.ReconnectDelay):
		case <-m.closing:
			return
		}
		m.initiateHandshake(context.Background(), device)
	}()
}

// handleIncoming dispatches one received frame according to the device's
// current state, per the §4.H state table.
func (m *PeerManager) handleIncoming(ctx context.Context, ib IncomingBytes) {
	m.mu.Lock()
	rec, ok := m.devices[ib.Device.Address]
	if !ok {
		rec = &deviceRecord{device: ib.Device, state: deviceUnknown}
		m.devices[ib.Device.Address] = rec
	}
	state := rec.state
	handler := m.messageHandler
	m.mu.Unlock()

	switch state {
	case deviceUnknown, deviceDisconnected, deviceAwaitingHandshake:
		m.mu.Lock()
		rec.state = deviceAwaitingHandshake
		m.mu.Unlock()
		m.handleHandshakeBytes(ctx, ib.Device, ib.Data)
	case deviceConnected:
		m.mu.Lock()
		peerID := rec.peerID
		m.mu.Unlock()
		if handler != nil {
			handler(peerID, ib.Data)
		}
	case deviceFailed:
		// Dropped: a failed device must be rediscovered before it is
		// handed any more bytes.
	}
}

func (m *PeerManager) handleHandshakeBytes(ctx context.Context, device TransportDevice, data []byte) {
	hs, err := DecodeHandshake(data)
	if err != nil {
		m.failDevice(device, err)
		return
	}
	switch hs.Type {
	case HandshakeRequest:
		respBytes, err := EncodeHandshake(HandshakeResponse, m.localPeerID, m.localMetadata)
		if err != nil {
			m.failDevice(device, err)
			return
		}
		if err := m.transport.SendBytes(ctx, device, respBytes, m.cfg.HandshakeTimeout); err != nil {
			m.failDevice(device, err)
			return
		}
		m.completeHandshake(device, hs.PeerID)
	case HandshakeResponse:
		m.mu.Lock()
		rec := m.devices[device.Address]
		var pending chan HandshakeMessage
		if rec != nil {
			pending = rec.pending
		}
		m.mu.Unlock()
		if pending != nil {
			select {
			case pending <- hs:
				return
			default:
			}
		}
		m.completeHandshake(device, hs.PeerID)
	}
}

func (m *PeerManager) completeHandshake(device TransportDevice, peerID string) {
	m.mu.Lock()
	rec, ok := m.devices[device.Address]
	if !ok {
		rec = &deviceRecord{device: device}
		m.devices[device.Address] = rec
	}
	rec.state = deviceConnected
	rec.peerID = peerID
	rec.attempts = 0
	dev := device
	dev.IsActive = true
	rec.device = dev

	peer, exists := m.peers[peerID]
	if !exists {
		peer = &Peer{Metadata: map[string]string{}}
	}
	peer.PeerID = peerID
	peer.TransportDevice = dev
	peer.LastSeen = time.Now()
	peer.IsActive = true
	m.peers[peerID] = peer
	snapshot := *peer
	m.mu.Unlock()

	m.publish(PeerEvent{Type: EventConnected, Peer: snapshot})
}

func (m *PeerManager) failDevice(device TransportDevice, err error) {
	m.mu.Lock()
	rec, ok := m.devices[device.Address]
	if !ok {
		rec = &deviceRecord{device: device}
		m.devices[device.Address] = rec
	}
	rec.state = deviceFailed
	m.mu.Unlock()

	m.logger.WithError(err).WithField("device", device.Address).Warn("peer device failed")
	m.publish(PeerEvent{Type: EventFailed, Device: device})
}

// MarkDeviceLost transitions a Connected device to Disconnected, retaining
// its Peer record as offline (per §4.H "Connected -> Device lost").
func (m *PeerManager) MarkDeviceLost(address string) {
	m.mu.Lock()
	rec, ok := m.devices[address]
	if !ok || rec.state != deviceConnected {
		m.mu.Unlock()
		return
	}
	rec.state = deviceDisconnected
	peer, exists := m.peers[rec.peerID]
	var snapshot Peer
	if exists {
		peer.IsActive = false
		snapshot = *peer
	}
	m.mu.Unlock()
	m.publish(PeerEvent{Type: EventDisconnected, Peer: snapshot})
}

// SendToPeer sends already-encoded bytes to the single Connected device
// bound to peerID.
func (m *PeerManager) SendToPeer(ctx context.Context, peerID string, data []byte) error {
	m.mu.Lock()
	var device TransportDevice
	found := false
	for _, rec := range m.devices {
		if rec.state == deviceConnected && rec.peerID == peerID {
			device = rec.device
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: peer %s is not connected", ErrPeerProtocol, peerID)
	}
	return m.transport.SendBytes(ctx, device, data, 0)
}

// Broadcast encodes nothing itself: it sends the already-encoded message
// bytes to every Connected device, ignoring per-recipient failures but
// returning them to the caller for stats bookkeeping.
func (m *PeerManager) Broadcast(ctx context.Context, data []byte) (sent int, failures map[string]error) {
	failures = make(map[string]error)
	m.mu.Lock()
	targets := make([]TransportDevice, 0, len(m.devices))
	for _, rec := range m.devices {
		if rec.state == deviceConnected {
			targets = append(targets, rec.device)
		}
	}
	m.mu.Unlock()

	for _, dev := range targets {
		if err := m.transport.SendBytes(ctx, dev, data, 0); err != nil {
			failures[dev.Address] = err
			m.logger.WithError(err).WithField("device", dev.Address).Warn("broadcast send failed")
			continue
		}
		sent++
	}
	return sent, failures
}

// ConnectedPeers returns a snapshot of every currently-active Peer.
func (m *PeerManager) ConnectedPeers() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out
}

func (m *PeerManager) connectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedCountLocked()
}

func (m *PeerManager) connectedCountLocked() int {
	n := 0
	for _, rec := range m.devices {
		if rec.state == deviceConnected {
			n++
		}
	}
	return n
}

// Subscribe returns a channel of PeerEvents and an unsubscribe function.
// Slow subscribers never block publishers: events are dropped, not
// queued indefinitely, once the channel's buffer is full.
func (m *PeerManager) Subscribe() (<-chan PeerEvent, func()) {
	ch := make(chan PeerEvent, 32)
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *PeerManager) publish(ev PeerEvent) {
	m.mu.Lock()
	subs := make([]chan PeerEvent, 0, len(m.subs))
	for _, c := range m.subs {
		subs = append(subs, c)
	}
	m.mu.Unlock()
	for _, c := range subs {
		select {
		case c <- ev:
		default:
		}
	}
}
