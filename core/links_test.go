package core

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestExtractLinksRawHasNone(t *testing.T) {
	b := NewBlockFromData([]byte("leaf"))
	links, err := ExtractLinks(b)
	if err != nil {
		t.Fatalf("ExtractLinks() error = %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("ExtractLinks() on raw block = %d links, want 0", len(links))
	}
}

func buildDagPBNode(t *testing.T, targets []CID) []byte {
	t.Helper()
	var out []byte
	for _, target := range targets {
		var link []byte
		link = protowire.AppendTag(link, pbLinkHashField, protowire.BytesType)
		link = protowire.AppendBytes(link, target.Bytes())
		out = protowire.AppendTag(out, pbLinksFieldNum, protowire.BytesType)
		out = protowire.AppendBytes(out, link)
	}
	return out
}

func TestExtractLinksDagPB(t *testing.T) {
	target := NewBlockFromData([]byte("child")).CID()
	data := buildDagPBNode(t, []CID{target})
	cid, err := NewCIDV1(CodecDagPB, SumSHA256(data))
	if err != nil {
		t.Fatalf("NewCIDV1() error = %v", err)
	}
	b, err := NewBlock(cid, data)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	links, err := ExtractLinks(b)
	if err != nil {
		t.Fatalf("ExtractLinks() error = %v", err)
	}
	if len(links) != 1 || !links[0].Equals(target) {
		t.Fatalf("ExtractLinks() = %v, want [%v]", links, target)
	}
}

func TestExtractLinksDagCBOR(t *testing.T) {
	target := NewBlockFromData([]byte("cbor child")).CID()
	cidBytes := append([]byte{0x00}, target.Bytes()...)
	doc := map[string]interface{}{
		"link": cbor.Tag{Number: dagCBORTagCID, Content: cidBytes},
	}
	data, err := cbor.Marshal(doc)
	if err != nil {
		t.Fatalf("cbor.Marshal() error = %v", err)
	}
	cid, err := NewCIDV1(CodecDagCBOR, SumSHA256(data))
	if err != nil {
		t.Fatalf("NewCIDV1() error = %v", err)
	}
	b, err := NewBlock(cid, data)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	links, err := ExtractLinks(b)
	if err != nil {
		t.Fatalf("ExtractLinks() error = %v", err)
	}
	if len(links) != 1 || !links[0].Equals(target) {
		t.Fatalf("ExtractLinks() = %v, want [%v]", links, target)
	}
}

func TestExtractLinksDagJSON(t *testing.T) {
	target := NewBlockFromData([]byte("json child")).CID()
	doc := map[string]interface{}{
		"link": map[string]string{"/": target.String()},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	cid, err := NewCIDV1(CodecDagJSON, SumSHA256(data))
	if err != nil {
		t.Fatalf("NewCIDV1() error = %v", err)
	}
	b, err := NewBlock(cid, data)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	links, err := ExtractLinks(b)
	if err != nil {
		t.Fatalf("ExtractLinks() error = %v", err)
	}
	if len(links) != 1 || !links[0].Equals(target) {
		t.Fatalf("ExtractLinks() = %v, want [%v]", links, target)
	}
}
