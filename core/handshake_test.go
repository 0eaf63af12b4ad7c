package core

import "testing"

func TestHandshakeRoundTrip(t *testing.T) {
	encoded, err := EncodeHandshake(HandshakeRequest, "peer-a", map[string]string{"name": "alice"})
	if err != nil {
		t.Fatalf("EncodeHandshake() error = %v", err)
	}
	decoded, err := DecodeHandshake(encoded)
	if err != nil {
		t.Fatalf("DecodeHandshake() error = %v", err)
	}
	if decoded.Type != HandshakeRequest || decoded.PeerID != "peer-a" || decoded.Metadata["name"] != "alice" {
		t.Fatalf("DecodeHandshake() = %+v, want request from peer-a", decoded)
	}
}

func TestHandshakeMetadataNeverNull(t *testing.T) {
	encoded, err := EncodeHandshake(HandshakeResponse, "peer-b", nil)
	if err != nil {
		t.Fatalf("EncodeHandshake() error = %v", err)
	}
	if string(encoded) == "" {
		t.Fatalf("EncodeHandshake() produced empty output")
	}
	decoded, err := DecodeHandshake(encoded)
	if err != nil {
		t.Fatalf("DecodeHandshake() error = %v", err)
	}
	if decoded.Metadata == nil {
		t.Fatalf("Metadata = nil, want non-nil empty map")
	}
}

func TestEncodeHandshakeRejectsUnknownType(t *testing.T) {
	if _, err := EncodeHandshake("bogus", "peer-a", nil); err == nil {
		t.Fatalf("EncodeHandshake(bogus) = nil error, want error")
	}
}

func TestDecodeHandshakeRejectsUnexpectedType(t *testing.T) {
	if _, err := DecodeHandshake([]byte(`{"type":"ping","peer_id":"x","metadata":{}}`)); err == nil {
		t.Fatalf("DecodeHandshake(ping) = nil error, want ErrPeerProtocol")
	}
}

func TestDecodeHandshakeRejectsMalformed(t *testing.T) {
	if _, err := DecodeHandshake([]byte(`not json`)); err == nil {
		t.Fatalf("DecodeHandshake(not json) = nil error, want error")
	}
}

func TestDecodeHandshakeRejectsMissingPeerID(t *testing.T) {
	if _, err := DecodeHandshake([]byte(`{"type":"request","metadata":{}}`)); err == nil {
		t.Fatalf("DecodeHandshake(missing peer_id) = nil error, want error")
	}
}
