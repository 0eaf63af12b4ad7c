package core

import (
	"fmt"
	"io"
	"time"

	"github.com/multiformats/go-varint"
)

// MessageTag identifies one of the four sync-protocol message variants.
type MessageTag byte

const (
	TagHave MessageTag = 1
	TagWant MessageTag = 2
	TagReq  MessageTag = 3
	TagResp MessageTag = 4
)

// SyncMessage is the closed tagged union the Synchronizer exchanges with
// peers. Reflective dispatch is avoided on purpose: switch on Tag().
type SyncMessage interface {
	Tag() MessageTag
	CreatedAt() time.Time
}

// HaveMessage advertises CIDs the sender already stores.
type HaveMessage struct {
	CIDs    []CID
	Created time.Time
}

func (m HaveMessage) Tag() MessageTag      { return TagHave }
func (m HaveMessage) CreatedAt() time.Time { return m.Created }

// WantMessage requests CIDs the sender is missing.
type WantMessage struct {
	CIDs    []CID
	Created time.Time
}

func (m WantMessage) Tag() MessageTag      { return TagWant }
func (m WantMessage) CreatedAt() time.Time { return m.Created }

// BlockRequestMessage asks for a single block by CID.
type BlockRequestMessage struct {
	CID     CID
	Created time.Time
}

func (m BlockRequestMessage) Tag() MessageTag      { return TagReq }
func (m BlockRequestMessage) CreatedAt() time.Time { return m.Created }

// BlockResponseMessage carries a full block in reply to a WANT or REQ.
type BlockResponseMessage struct {
	Block   Block
	Created time.Time
}

func (m BlockResponseMessage) Tag() MessageTag      { return TagResp }
func (m BlockResponseMessage) CreatedAt() time.Time { return m.Created }

// NewHave builds a HaveMessage timestamped at construction time.
func NewHave(cids []CID) HaveMessage { return HaveMessage{CIDs: cids, Created: time.Now()} }

// NewWant builds a WantMessage timestamped at construction time.
func NewWant(cids []CID) WantMessage { return WantMessage{CIDs: cids, Created: time.Now()} }

// NewBlockRequest builds a BlockRequestMessage for a single CID.
func NewBlockRequest(c CID) BlockRequestMessage {
	return BlockRequestMessage{CID: c, Created: time.Now()}
}

// NewBlockResponse builds a BlockResponseMessage carrying b.
func NewBlockResponse(b Block) BlockResponseMessage {
	return BlockResponseMessage{Block: b, Created: time.Now()}
}

// EncodeSyncMessage produces the canonical body encoding from §4.E:
// a 1-byte tag followed by the variant's body. It does not length-prefix
// the result; callers that need framing use WriteFrame.
func EncodeSyncMessage(m SyncMessage) ([]byte, error) {
	switch v := m.(type) {
	case HaveMessage:
		return encodeCIDList(TagHave, v.CIDs), nil
	case WantMessage:
		return encodeCIDList(TagWant, v.CIDs), nil
	case BlockRequestMessage:
		out := []byte{byte(TagReq)}
		out = appendCIDBytes(out, v.CID)
		return out, nil
	case BlockResponseMessage:
		out := []byte{byte(TagResp)}
		out = appendCIDBytes(out, v.Block.CID())
		out = append(out, varint.ToUvarint(uint64(len(v.Block.Data())))...)
		out = append(out, v.Block.Data()...)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown sync message type %T", ErrInvalidFormat, m)
	}
}

func appendCIDBytes(out []byte, c CID) []byte {
	b := c.Bytes()
	out = append(out, varint.ToUvarint(uint64(len(b)))...)
	return append(out, b...)
}

func encodeCIDList(tag MessageTag, cids []CID) []byte {
	out := []byte{byte(tag)}
	out = append(out, varint.ToUvarint(uint64(len(cids)))...)
	for _, c := range cids {
		out = appendCIDBytes(out, c)
	}
	return out
}

// DecodeSyncMessage parses the canonical body encoding. Trailing bytes
// after a complete, well-formed variant are rejected with ErrInvalidFormat.
func DecodeSyncMessage(data []byte) (SyncMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty sync message", ErrInvalidFormat)
	}
	tag := MessageTag(data[0])
	rest := data[1:]
	now := time.Now()
	switch tag {
	case TagHave, TagWant:
		cids, n, err := decodeCIDList(rest)
		if err != nil {
			return nil, err
		}
		if n != len(rest) {
			return nil, fmt.Errorf("%w: trailing bytes after sync message", ErrInvalidFormat)
		}
		if tag == TagHave {
			return HaveMessage{CIDs: cids, Created: now}, nil
		}
		return WantMessage{CIDs: cids, Created: now}, nil
	case TagReq:
		cid, n, err := readLenPrefixedCID(rest)
		if err != nil {
			return nil, err
		}
		if n != len(rest) {
			return nil, fmt.Errorf("%w: trailing bytes after sync message", ErrInvalidFormat)
		}
		return BlockRequestMessage{CID: cid, Created: now}, nil
	case TagResp:
		cid, n, err := readLenPrefixedCID(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
		dataLen, n2, err := varint.FromUvarint(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: RESP data length: %v", ErrInvalidFormat, err)
		}
		rest = rest[n2:]
		if uint64(len(rest)) != dataLen {
			return nil, fmt.Errorf("%w: RESP data length mismatch", ErrInvalidFormat)
		}
		b, err := NewBlock(cid, rest)
		if err != nil {
			return nil, err
		}
		return BlockResponseMessage{Block: b, Created: now}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrInvalidFormat, tag)
	}
}

func decodeCIDList(data []byte) ([]CID, int, error) {
	n, consumed, err := varint.FromUvarint(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list count: %v", ErrInvalidFormat, err)
	}
	cids := make([]CID, 0, n)
	total := consumed
	for i := uint64(0); i < n; i++ {
		cid, used, err := readLenPrefixedCID(data[total:])
		if err != nil {
			return nil, 0, err
		}
		cids = append(cids, cid)
		total += used
	}
	return cids, total, nil
}

func readLenPrefixedCID(data []byte) (CID, int, error) {
	length, n, err := varint.FromUvarint(data)
	if err != nil {
		return CID{}, 0, fmt.Errorf("%w: CID length: %v", ErrInvalidFormat, err)
	}
	if uint64(len(data)-n) < length {
		return CID{}, 0, fmt.Errorf("%w: truncated CID bytes", ErrInvalidFormat)
	}
	cid, err := DecodeCID(data[n : n+int(length)])
	if err != nil {
		return CID{}, 0, err
	}
	return cid, n + int(length), nil
}

// WriteFrame writes varint(len(body)) followed by body, the stream
// framing defined in §6 so a reader can delimit messages without relying
// on the transport to preserve record boundaries.
func WriteFrame(w io.Writer, body []byte) error {
	header := varint.ToUvarint(uint64(len(body)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("%w: write frame header: %v", ErrTransport, err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("%w: write frame body: %v", ErrTransport, err)
	}
	return nil
}

// ReadFrame reads one varint-length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	length, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, fmt.Errorf("%w: read frame header: %v", ErrInvalidFormat, err)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: read frame body: %v", ErrInvalidFormat, err)
	}
	return body, nil
}

// byteReader adapts an io.Reader to io.ByteReader for varint.ReadUvarint,
// reading one byte at a time; frame headers are at most 9 bytes so the
// overhead is negligible.
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
