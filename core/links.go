package core

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// dagCBORTagCID is the CBOR tag multicodec reserves for CID values
// (multicodec 0x2a = 42), as used by dag-cbor documents across the pack.
const dagCBORTagCID = 42

// pbDataFieldNum/pbLinksFieldNum are the dag-pb wire field numbers for
// PBNode, matching the canonical dag-pb protobuf schema (Data = 1,
// Links = 2); pbLinkHashField is PBLink's Hash field (1).
const (
	pbDataFieldNum  protowire.Number = 1
	pbLinksFieldNum protowire.Number = 2
	pbLinkHashField protowire.Number = 1
)

// ExtractLinks returns every CID referenced by a block's payload,
// interpreted according to the codec recorded in its own CID. Raw blocks
// (CodecRaw) never carry links and return an empty slice.
func ExtractLinks(b Block) ([]CID, error) {
	switch b.CID().Codec() {
	case CodecRaw:
		return nil, nil
	case CodecDagPB:
		return extractDagPBLinks(b.Data())
	case CodecDagCBOR:
		return extractDagCBORLinks(b.Data())
	case CodecDagJSON:
		return extractDagJSONLinks(b.Data())
	default:
		return nil, fmt.Errorf("%w: unsupported codec %#x", ErrInvalidFormat, b.CID().Codec())
	}
}

// extractDagPBLinks walks the top-level PBNode record and decodes each
// PBLink's Hash sub-field as a CID, without needing generated protobuf
// types: dag-pb's schema is fixed, so raw wire parsing suffices.
func extractDagPBLinks(data []byte) ([]CID, error) {
	var links []CID
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: dag-pb tag: %v", ErrInvalidFormat, protowire.ParseError(n))
		}
		data = data[n:]
		if num != pbLinksFieldNum || typ != protowire.BytesType {
			skip := protowire.ConsumeFieldValue(num, typ, data)
			if skip < 0 {
				return nil, fmt.Errorf("%w: dag-pb field: %v", ErrInvalidFormat, protowire.ParseError(skip))
			}
			data = data[skip:]
			continue
		}
		linkBytes, n2 := protowire.ConsumeBytes(data)
		if n2 < 0 {
			return nil, fmt.Errorf("%w: dag-pb link bytes: %v", ErrInvalidFormat, protowire.ParseError(n2))
		}
		data = data[n2:]
		cid, err := parseDagPBLink(linkBytes)
		if err != nil {
			return nil, err
		}
		links = append(links, cid)
	}
	return links, nil
}

func parseDagPBLink(data []byte) (CID, error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return CID{}, fmt.Errorf("%w: dag-pb link tag: %v", ErrInvalidFormat, protowire.ParseError(n))
		}
		data = data[n:]
		if num != pbLinkHashField || typ != protowire.BytesType {
			skip := protowire.ConsumeFieldValue(num, typ, data)
			if skip < 0 {
				return CID{}, fmt.Errorf("%w: dag-pb link field: %v", ErrInvalidFormat, protowire.ParseError(skip))
			}
			data = data[skip:]
			continue
		}
		hashBytes, n2 := protowire.ConsumeBytes(data)
		if n2 < 0 {
			return CID{}, fmt.Errorf("%w: dag-pb hash bytes: %v", ErrInvalidFormat, protowire.ParseError(n2))
		}
		return DecodeCID(hashBytes)
	}
	return CID{}, fmt.Errorf("%w: dag-pb link missing Hash field", ErrInvalidFormat)
}

// extractDagCBORLinks decodes the CBOR value tree and collects every tag-42
// CID leaf, recursing through maps and arrays.
func extractDagCBORLinks(data []byte) ([]CID, error) {
	var v interface{}
	if err := cbor.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: dag-cbor decode: %v", ErrInvalidFormat, err)
	}
	var links []CID
	if err := walkCBORForLinks(v, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func walkCBORForLinks(v interface{}, out *[]CID) error {
	switch val := v.(type) {
	case cbor.Tag:
		if val.Number == dagCBORTagCID {
			raw, ok := val.Content.([]byte)
			if !ok {
				return fmt.Errorf("%w: dag-cbor CID tag content not bytes", ErrInvalidFormat)
			}
			// dag-cbor CID bytes carry a leading identity-multibase byte (0x00).
			if len(raw) > 0 && raw[0] == 0x00 {
				raw = raw[1:]
			}
			cid, err := DecodeCID(raw)
			if err != nil {
				return err
			}
			*out = append(*out, cid)
			return nil
		}
		return walkCBORForLinks(val.Content, out)
	case map[interface{}]interface{}:
		for _, child := range val {
			if err := walkCBORForLinks(child, out); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		for _, child := range val {
			if err := walkCBORForLinks(child, out); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range val {
			if err := walkCBORForLinks(child, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractDagJSONLinks decodes JSON and collects every {"/": "<cid>"} leaf,
// the IPLD convention for an inline CID link in dag-json documents.
func extractDagJSONLinks(data []byte) ([]CID, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: dag-json decode: %v", ErrInvalidFormat, err)
	}
	var links []CID
	if err := walkJSONForLinks(v, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func walkJSONForLinks(v interface{}, out *[]CID) error {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 1 {
			if s, ok := val["/"].(string); ok {
				cid, err := ParseCID(s)
				if err != nil {
					return err
				}
				*out = append(*out, cid)
				return nil
			}
		}
		for _, child := range val {
			if err := walkJSONForLinks(child, out); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range val {
			if err := walkJSONForLinks(child, out); err != nil {
				return err
			}
		}
	}
	return nil
}
