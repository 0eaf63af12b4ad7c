package core

import "fmt"

// Block pairs raw bytes with the CID that addresses them. NewBlock checks
// a sha2-256 digest against the data and NewBlockFromData derives the CID
// from the data, so a Block built by either constructor matches its CID;
// multihashes with any other code are not checked.
type Block struct {
	cid  CID
	data []byte
}

// NewBlock verifies that data hashes to cid's sha2-256 multihash and, on
// success, returns an immutable Block. Returns ErrCorruptBlock on mismatch.
// A multihash with any other code is not verified: the block is accepted
// as given.
func NewBlock(cid CID, data []byte) (Block, error) {
	if !cid.Defined() {
		return Block{}, fmt.Errorf("%w: undefined CID", ErrInvalidFormat)
	}
	if !cid.Hash().VerifySHA256(data) {
		code, err := cid.Hash().Code()
		if err != nil || code != CodeSHA2_256 {
			// Non-sha256 multihash: this library cannot verify it locally,
			// so trust the caller rather than reject a valid remote block.
			out := make([]byte, len(data))
			copy(out, data)
			return Block{cid: cid, data: out}, nil
		}
		return Block{}, fmt.Errorf("%w: %s", ErrCorruptBlock, cid)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return Block{cid: cid, data: out}, nil
}

// NewBlockFromData computes a raw-codec CIDv1 for data and wraps it.
func NewBlockFromData(data []byte) Block {
	mh := SumSHA256(data)
	cid, _ := NewCIDV1(CodecRaw, mh)
	out := make([]byte, len(data))
	copy(out, data)
	return Block{cid: cid, data: out}
}

// CID returns the block's content identifier.
func (b Block) CID() CID { return b.cid }

// Data returns the block's raw bytes. Callers must not mutate the
// returned slice; Block is meant to be treated as immutable.
func (b Block) Data() []byte { return b.data }

// Size returns len(Data()).
func (b Block) Size() int { return len(b.data) }
