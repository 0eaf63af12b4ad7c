package core

import (
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"
)

// Multicodec identifiers for the codecs this library round-trips. Values
// match the multicodec table used across the multiformats/go-cid pack
// examples.
const (
	CodecRaw     uint64 = 0x55
	CodecDagPB   uint64 = 0x70
	CodecDagCBOR uint64 = 0x71
	CodecDagJSON uint64 = 0x0129
)

// CID is a content identifier: a self-describing version, codec and
// multihash triple. The zero value is not a valid CID; construct one with
// NewCIDV1 or parse one with ParseCID/DecodeCID.
type CID struct {
	version uint64
	codec   uint64
	hash    Multihash
}

// NewCIDV0 builds a CIDv0: implicitly dag-pb codec, sha2-256 multihash,
// printed as a bare base58btc string with no multibase prefix.
func NewCIDV0(h Multihash) (CID, error) {
	if err := h.Validate(); err != nil {
		return CID{}, err
	}
	code, err := h.Code()
	if err != nil || code != CodeSHA2_256 {
		return CID{}, fmt.Errorf("%w: CIDv0 requires sha2-256", ErrInvalidFormat)
	}
	return CID{version: 0, codec: CodecDagPB, hash: h}, nil
}

// NewCIDV1 builds a CIDv1 for the given codec and multihash.
func NewCIDV1(codec uint64, h Multihash) (CID, error) {
	if err := h.Validate(); err != nil {
		return CID{}, err
	}
	return CID{version: 1, codec: codec, hash: h}, nil
}

// Version returns 0 or 1.
func (c CID) Version() uint64 { return c.version }

// Codec returns the multicodec content type.
func (c CID) Codec() uint64 { return c.codec }

// Hash returns the embedded multihash.
func (c CID) Hash() Multihash { return c.hash }

// Defined reports whether c was constructed via NewCIDV0/NewCIDV1/parsing,
// as opposed to being the zero value.
func (c CID) Defined() bool { return c.hash != nil }

// Equals compares two CIDs by value.
func (c CID) Equals(o CID) bool {
	if c.version != o.version || c.codec != o.codec {
		return false
	}
	return string(c.hash) == string(o.hash)
}

// Bytes returns the binary form: CIDv0 is the bare multihash bytes; CIDv1
// is <version varint><codec varint><multihash bytes>.
func (c CID) Bytes() []byte {
	if c.version == 0 {
		out := make([]byte, len(c.hash))
		copy(out, c.hash)
		return out
	}
	buf := make([]byte, 0, varint.UvarintSize(c.version)+varint.UvarintSize(c.codec)+len(c.hash))
	buf = append(buf, varint.ToUvarint(c.version)...)
	buf = append(buf, varint.ToUvarint(c.codec)...)
	buf = append(buf, c.hash...)
	return buf
}

// String returns the canonical text form: base58btc with no prefix for
// CIDv0, multibase-prefixed base32-lower for CIDv1.
func (c CID) String() string {
	if !c.Defined() {
		return "<undef>"
	}
	if c.version == 0 {
		return base58.Encode(c.hash)
	}
	s, err := multibase.Encode(multibase.Base32, c.Bytes())
	if err != nil {
		return "<invalid>"
	}
	return s
}

// ToV1 converts a CIDv0 to the equivalent CIDv1 with the same multihash,
// switching the codec to dag-pb (CIDv0's implicit codec).
func (c CID) ToV1() CID {
	if c.version == 1 {
		return c
	}
	return CID{version: 1, codec: CodecDagPB, hash: c.hash}
}

// WithCodec returns a copy of c (forced to CIDv1) using the given codec.
func (c CID) WithCodec(codec uint64) CID {
	return CID{version: 1, codec: codec, hash: c.hash}
}

// DecodeCID parses the binary form produced by Bytes.
func DecodeCID(data []byte) (CID, error) {
	if len(data) == 0 {
		return CID{}, fmt.Errorf("%w: empty CID bytes", ErrInvalidFormat)
	}
	// A bare multihash (CIDv0) always starts with the sha2-256 code (0x12)
	// per the multihash table; anything else is read as version+codec.
	if data[0] == 0x12 {
		h := Multihash(data)
		if err := h.Validate(); err != nil {
			return CID{}, err
		}
		return NewCIDV0(h)
	}
	version, n, err := varint.FromUvarint(data)
	if err != nil {
		return CID{}, fmt.Errorf("%w: CID version: %v", ErrInvalidFormat, err)
	}
	if version != 1 {
		return CID{}, fmt.Errorf("%w: unsupported CID version %d", ErrInvalidFormat, version)
	}
	codec, n2, err := varint.FromUvarint(data[n:])
	if err != nil {
		return CID{}, fmt.Errorf("%w: CID codec: %v", ErrInvalidFormat, err)
	}
	h := Multihash(data[n+n2:])
	if err := h.Validate(); err != nil {
		return CID{}, err
	}
	return NewCIDV1(codec, h)
}

// ParseCID parses the text form produced by String.
func ParseCID(s string) (CID, error) {
	if s == "" {
		return CID{}, fmt.Errorf("%w: empty CID string", ErrInvalidFormat)
	}
	// CIDv0 strings are bare base58btc, always 46 chars starting with "Qm".
	if len(s) == 46 && s[:2] == "Qm" {
		raw, err := base58.Decode(s)
		if err != nil {
			return CID{}, fmt.Errorf("%w: base58 decode: %v", ErrInvalidFormat, err)
		}
		return NewCIDV0(Multihash(raw))
	}
	_, data, err := multibase.Decode(s)
	if err != nil {
		return CID{}, fmt.Errorf("%w: multibase decode: %v", ErrInvalidFormat, err)
	}
	return DecodeCID(data)
}
