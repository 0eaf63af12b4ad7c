package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SyncEventType distinguishes the variants published on a Synchronizer's
// event channel.
type SyncEventType int

const (
	EventBlocksAnnounced SyncEventType = iota
	EventBlocksRequested
	EventBlockReceived
	EventSyncError
)

// SyncEvent is one item on a Synchronizer's syncEvents channel.
type SyncEvent struct {
	Type     SyncEventType
	CIDs     []CID
	FromPeer string
	Err      error
}

// SyncStats is a snapshot of the Synchronizer's counters.
type SyncStats struct {
	TotalBlocksReceived int
	TotalBlocksSent     int
	LastSyncTime        time.Time
}

// Synchronizer drives block replication by exchanging HAVE/WANT/REQ/RESP
// messages, per §4.I. It owns the Store and DAG and the message stream
// to/from a PeerManager; it does not own the Transport itself.
type Synchronizer struct {
	store Store
	dag   *DAG
	cfg   SynchronizerConfig
	pm    *PeerManager
	log   *logrus.Logger

	mu                  sync.Mutex
	totalBlocksReceived int
	totalBlocksSent     int
	lastSyncTime        time.Time

	events chan SyncEvent

	disposeOnce sync.Once
}

// NewSynchronizer constructs a Synchronizer over store and dag, using
// cfg's announce/auto-request policy. pm is the PeerManager the
// Synchronizer will attach to via Initialize.
func NewSynchronizer(store Store, dag *DAG, pm *PeerManager, cfg SynchronizerConfig, logger *logrus.Logger) *Synchronizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Synchronizer{
		store:  store,
		dag:    dag,
		cfg:    cfg,
		pm:     pm,
		log:    logger,
		events: make(chan SyncEvent, 64),
	}
}

// Events returns the channel of SyncEvents. Closed by Dispose.
func (s *Synchronizer) Events() <-chan SyncEvent { return s.events }

// Initialize subscribes to the PeerManager's incoming-message stream.
func (s *Synchronizer) Initialize(ctx context.Context) error {
	s.pm.SetMessageHandler(func(peerID string, data []byte) {
		s.handleMessage(ctx, peerID, data)
	})
	return nil
}

// Dispose cancels the subscription and closes the event channel. It does
// not close the transport or PeerManager themselves.
func (s *Synchronizer) Dispose() {
	s.disposeOnce.Do(func() {
		s.pm.SetMessageHandler(nil)
		close(s.events)
	})
}

func (s *Synchronizer) emit(ev SyncEvent) {
	select {
	case s.events <- ev:
	default:
		// A slow consumer must not stall the synchronizer's hot path.
	}
}

// AddBlock commits b locally and, if cfg.AnnounceNewBlocks, broadcasts
// HAVE{b.cid} only after the Store.put has committed.
func (s *Synchronizer) AddBlock(ctx context.Context, b Block) error {
	ok, err := s.store.Put(ctx, b)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCorruptBlock
	}
	if err := s.dag.AddBlock(b); err != nil {
		return err
	}
	if s.cfg.AnnounceNewBlocks {
		s.announce(ctx, []CID{b.CID()})
	}
	return nil
}

func (s *Synchronizer) announce(ctx context.Context, cids []CID) {
	msg := NewHave(cids)
	encoded, err := EncodeSyncMessage(msg)
	if err != nil {
		s.emit(SyncEvent{Type: EventSyncError, Err: err})
		return
	}
	s.pm.Broadcast(ctx, encoded)
	s.emit(SyncEvent{Type: EventBlocksAnnounced, CIDs: cids})
}

// handleMessage decodes one frame from peerID and dispatches per §4.I.
func (s *Synchronizer) handleMessage(ctx context.Context, peerID string, data []byte) {
	msg, err := DecodeSyncMessage(data)
	if err != nil {
		s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: err})
		return
	}
	switch m := msg.(type) {
	case HaveMessage:
		s.handleHave(ctx, peerID, m)
	case WantMessage:
		s.handleWant(ctx, peerID, m.CIDs)
	case BlockRequestMessage:
		s.handleWant(ctx, peerID, []CID{m.CID})
	case BlockResponseMessage:
		s.handleResp(ctx, peerID, m.Block)
	}
}

func (s *Synchronizer) handleHave(ctx context.Context, peerID string, m HaveMessage) {
	var missing []CID
	for _, c := range m.CIDs {
		has, err := s.store.Has(ctx, c)
		if err != nil {
			s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: err})
			continue
		}
		if !has {
			missing = append(missing, c)
		}
	}
	if s.cfg.AutoRequestMissing && len(missing) > 0 {
		s.sendToPeer(ctx, peerID, NewWant(missing))
	}
}

func (s *Synchronizer) handleWant(ctx context.Context, peerID string, cids []CID) {
	for _, c := range cids {
		has, err := s.store.Has(ctx, c)
		if err != nil {
			s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: err})
			continue
		}
		if !has {
			continue
		}
		b, err := s.store.Get(ctx, c)
		if err != nil {
			s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: err})
			continue
		}
		if !s.sendToPeer(ctx, peerID, NewBlockResponse(b)) {
			continue
		}
		s.mu.Lock()
		s.totalBlocksSent++
		s.mu.Unlock()
	}
	s.emit(SyncEvent{Type: EventBlocksRequested, CIDs: cids, FromPeer: peerID})
}

func (s *Synchronizer) handleResp(ctx context.Context, peerID string, b Block) {
	if !b.CID().Hash().VerifySHA256(b.Data()) {
		code, err := b.CID().Hash().Code()
		if err == nil && code == CodeSHA2_256 {
			s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: ErrCorruptBlock})
			return
		}
	}
	ok, err := s.store.Put(ctx, b)
	if err != nil {
		s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: err})
		return
	}
	if !ok {
		s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: ErrCorruptBlock})
		return
	}
	if err := s.dag.AddBlock(b); err != nil {
		s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: err})
		return
	}
	s.mu.Lock()
	s.totalBlocksReceived++
	s.lastSyncTime = time.Now()
	s.mu.Unlock()
	s.emit(SyncEvent{Type: EventBlockReceived, CIDs: []CID{b.CID()}, FromPeer: peerID})
}

// sendToPeer encodes msg and sends it to the single device bound to
// peerID. Returns false (and emits SyncError) on failure, without
// tearing down the peer.
func (s *Synchronizer) sendToPeer(ctx context.Context, peerID string, msg SyncMessage) bool {
	encoded, err := EncodeSyncMessage(msg)
	if err != nil {
		s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: err})
		return false
	}
	if err := s.pm.SendToPeer(ctx, peerID, encoded); err != nil {
		s.emit(SyncEvent{Type: EventSyncError, FromPeer: peerID, Err: err})
		return false
	}
	return true
}

// FetchMissingBlocks performs DFS from root, recording every CID that is
// absent locally without descending into it, then broadcasts WANT for the
// whole missing set. It returns without waiting for any reply; arriving
// blocks surface later as BlockReceived events.
func (s *Synchronizer) FetchMissingBlocks(ctx context.Context, root CID) error {
	visited := map[CID]bool{}
	var missing []CID
	var walk func(c CID) error
	walk = func(c CID) error {
		if visited[c] {
			return nil
		}
		visited[c] = true
		has, err := s.store.Has(ctx, c)
		if err != nil {
			return err
		}
		if !has {
			missing = append(missing, c)
			return nil
		}
		b, err := s.store.Get(ctx, c)
		if err != nil {
			return err
		}
		links, err := ExtractLinks(b)
		if err != nil {
			return err
		}
		for _, l := range links {
			if err := walk(l); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return err
	}
	if len(missing) > 0 {
		s.pm.Broadcast(ctx, mustEncodeWant(missing))
		s.emit(SyncEvent{Type: EventBlocksRequested, CIDs: missing})
	}
	return nil
}

func mustEncodeWant(cids []CID) []byte {
	encoded, err := EncodeSyncMessage(NewWant(cids))
	if err != nil {
		// NewWant can only fail to encode if a CID were malformed, which
		// cannot happen for CIDs already round-tripped through the DAG.
		panic(err)
	}
	return encoded
}

// Stats returns a snapshot of the Synchronizer's counters.
func (s *Synchronizer) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStats{
		TotalBlocksReceived: s.totalBlocksReceived,
		TotalBlocksSent:     s.totalBlocksSent,
		LastSyncTime:        s.lastSyncTime,
	}
}
