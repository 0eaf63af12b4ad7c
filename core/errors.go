package core

import "errors"

// Sentinel errors for the taxonomy exposed to callers. Compare with
// errors.Is; wrapped with fmt.Errorf("%w", ...) wherever extra context
// helps diagnose a failure.
var (
	// ErrInvalidFormat marks malformed CIDs, multihashes, block payloads,
	// handshake and sync messages, and wire frames (including unknown
	// sync tags and truncated frames).
	ErrInvalidFormat = errors.New("core: invalid format")

	// ErrCorruptBlock marks a block whose payload does not hash to its CID.
	ErrCorruptBlock = errors.New("core: corrupt block")

	// ErrClosed marks use of a component after it has been shut down.
	ErrClosed = errors.New("core: closed")

	// ErrTimeout marks an operation that exceeded its deadline.
	ErrTimeout = errors.New("core: timeout")

	// ErrTransport marks a failure reported by the underlying Transport.
	ErrTransport = errors.New("core: transport error")

	// ErrCyclic marks a DAG operation that would introduce or found a cycle.
	ErrCyclic = errors.New("core: cyclic reference")

	// ErrPeerProtocol marks a handshake message of an unexpected type, or
	// a send addressed to a peer that is not connected.
	ErrPeerProtocol = errors.New("core: peer protocol violation")

	// ErrNotFound marks a lookup miss in a Store or DAG index.
	ErrNotFound = errors.New("core: not found")
)
