package core

import (
	"encoding/json"
	"fmt"
)

// Handshake message types exchanged once per direction over an
// established transport connection, per §4.F/§6.
const (
	HandshakeRequest  = "request"
	HandshakeResponse = "response"
)

// HandshakeMessage is the UTF-8 JSON, null-free wire shape for identity
// exchange. It is not authenticated: the far side's PeerID is trusted at
// face value, matching the library's non-goal of cryptographic auth.
type HandshakeMessage struct {
	Type     string            `json:"type"`
	PeerID   string            `json:"peer_id"`
	Metadata map[string]string `json:"metadata"`
}

// EncodeHandshake serializes a request or response message. Metadata is
// always encoded as an object, never JSON null, even when empty.
func EncodeHandshake(msgType, peerID string, metadata map[string]string) ([]byte, error) {
	if msgType != HandshakeRequest && msgType != HandshakeResponse {
		return nil, fmt.Errorf("%w: unknown handshake type %q", ErrInvalidFormat, msgType)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	return json.Marshal(HandshakeMessage{Type: msgType, PeerID: peerID, Metadata: metadata})
}

// DecodeHandshake parses a handshake message, rejecting anything whose
// "type" field is not exactly "request" or "response".
func DecodeHandshake(data []byte) (HandshakeMessage, error) {
	var m HandshakeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return HandshakeMessage{}, fmt.Errorf("%w: handshake decode: %v", ErrInvalidFormat, err)
	}
	if m.Type != HandshakeRequest && m.Type != HandshakeResponse {
		return HandshakeMessage{}, fmt.Errorf("%w: unexpected handshake type %q", ErrPeerProtocol, m.Type)
	}
	if m.PeerID == "" {
		return HandshakeMessage{}, fmt.Errorf("%w: handshake missing peer_id", ErrInvalidFormat)
	}
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	return m, nil
}
