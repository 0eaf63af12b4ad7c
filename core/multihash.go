package core

import (
	"bytes"
	"fmt"

	"github.com/minio/sha256-simd"
	"github.com/multiformats/go-varint"
)

// Multihash codes this library understands. Only sha2-256 is produced by
// SumSHA256, but Multihash.Validate accepts any code so blocks minted
// elsewhere still parse; digest lengths are checked only for these codes.
const (
	CodeSHA2_256 uint64 = 0x12
	CodeSHA2_512 uint64 = 0x13
	CodeSHA1     uint64 = 0x11
)

// hashSizes gives the expected digest length for the codes this package
// knows how to verify. Unknown codes are accepted but not length-checked.
var hashSizes = map[uint64]int{
	CodeSHA2_256: 32,
	CodeSHA2_512: 64,
	CodeSHA1:     20,
}

// Multihash is the self-describing digest format: <varint code><varint
// length><digest bytes>, matching the multiformats/multihash wire format
// used throughout the pack (go-cid, go-multihash).
type Multihash []byte

// SumSHA256 hashes data with sha2-256 and wraps the digest as a Multihash.
func SumSHA256(data []byte) Multihash {
	sum := sha256.Sum256(data)
	return encodeMultihash(CodeSHA2_256, sum[:])
}

func encodeMultihash(code uint64, digest []byte) Multihash {
	buf := make([]byte, 0, varint.UvarintSize(code)+varint.UvarintSize(uint64(len(digest)))+len(digest))
	buf = append(buf, varint.ToUvarint(code)...)
	buf = append(buf, varint.ToUvarint(uint64(len(digest)))...)
	buf = append(buf, digest...)
	return Multihash(buf)
}

// Code returns the hash function code encoded in the multihash.
func (m Multihash) Code() (uint64, error) {
	code, _, err := varint.FromUvarint(m)
	if err != nil {
		return 0, fmt.Errorf("%w: multihash code: %v", ErrInvalidFormat, err)
	}
	return code, nil
}

// Digest returns the raw hash bytes, without the code/length prefix.
func (m Multihash) Digest() ([]byte, error) {
	code, n, err := varint.FromUvarint(m)
	if err != nil {
		return nil, fmt.Errorf("%w: multihash code: %v", ErrInvalidFormat, err)
	}
	_ = code
	size, n2, err := varint.FromUvarint(m[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: multihash length: %v", ErrInvalidFormat, err)
	}
	start := n + n2
	if uint64(len(m)-start) != size {
		return nil, fmt.Errorf("%w: multihash length mismatch", ErrInvalidFormat)
	}
	return m[start:], nil
}

// Validate checks that m is well-formed and, for recognized codes, that
// the digest length matches the code's expected size.
func (m Multihash) Validate() error {
	code, n, err := varint.FromUvarint(m)
	if err != nil {
		return fmt.Errorf("%w: multihash code: %v", ErrInvalidFormat, err)
	}
	size, n2, err := varint.FromUvarint(m[n:])
	if err != nil {
		return fmt.Errorf("%w: multihash length: %v", ErrInvalidFormat, err)
	}
	rest := m[n+n2:]
	if uint64(len(rest)) != size {
		return fmt.Errorf("%w: multihash length mismatch", ErrInvalidFormat)
	}
	if want, ok := hashSizes[code]; ok && want != len(rest) {
		return fmt.Errorf("%w: code %d expects %d byte digest, got %d", ErrInvalidFormat, code, want, len(rest))
	}
	return nil
}

// VerifySHA256 reports whether data hashes to the digest carried in m,
// failing closed (false) for any malformed multihash.
func (m Multihash) VerifySHA256(data []byte) bool {
	if err := m.Validate(); err != nil {
		return false
	}
	code, err := m.Code()
	if err != nil || code != CodeSHA2_256 {
		return false
	}
	digest, err := m.Digest()
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)
	return bytes.Equal(sum[:], digest)
}

// Len reports the byte-length consumed by m when read from a larger buffer
// starting at offset 0; used by callers that need to skip past a multihash
// embedded in a longer frame.
func (m Multihash) Len() (int, error) {
	_, n, err := varint.FromUvarint(m)
	if err != nil {
		return 0, fmt.Errorf("%w: multihash code: %v", ErrInvalidFormat, err)
	}
	size, n2, err := varint.FromUvarint(m[n:])
	if err != nil {
		return 0, fmt.Errorf("%w: multihash length: %v", ErrInvalidFormat, err)
	}
	return n + n2 + int(size), nil
}
