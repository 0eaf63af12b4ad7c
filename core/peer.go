package core

import (
	"time"

	"github.com/google/uuid"
)

// Peer is the application-layer identity: stable across reconnection and
// distinct from any transport address. PeerID is assigned by the remote
// side during handshake and treated as opaque.
type Peer struct {
	PeerID          string
	TransportDevice TransportDevice
	Metadata        map[string]string
	LastSeen        time.Time
	IsActive        bool
}

// NewPeerID generates a fresh, random application-layer identity, for
// nodes that have no durable identity of their own to present at
// handshake time.
func NewPeerID() string {
	return uuid.NewString()
}

// TransportDevice is the transport-layer handle a Peer currently rides
// on. Multiple devices may end up bound to the same Peer identity over
// time; only the handshake links the two.
type TransportDevice struct {
	Address     string
	DisplayName string
	Protocol    string
	ConnectedAt time.Time
	IsActive    bool
	Metadata    map[string]string
}
