package codec

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestZstdRoundTrip(t *testing.T) {
	c, err := Zstd(zstd.SpeedDefault)
	if err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte("repeating payload content "), 500)
	encoded, err := c.Encode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(encoded) >= len(payload) {
		t.Fatalf("expected compression to shrink repetitive input: got %d, want < %d", len(encoded), len(payload))
	}

	dst := make([]byte, len(payload))
	n, err := c.Decode(encoded, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("decoded %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(dst, payload) {
		t.Fatal("decoded bytes do not match original payload")
	}
}

func TestZstdDecodeRejectsOversizedBlock(t *testing.T) {
	c, err := Zstd(zstd.SpeedDefault)
	if err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte("x"), 64)
	encoded, err := c.Encode(payload)
	if err != nil {
		t.Fatal(err)
	}

	undersized := make([]byte, len(payload)-1)
	if _, err := c.Decode(encoded, undersized); err == nil {
		t.Fatal("expected an error decoding into an undersized staging buffer")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	c, err := Gzip(6)
	if err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte("another repeating payload "), 500)
	encoded, err := c.Encode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(encoded) >= len(payload) {
		t.Fatalf("expected compression to shrink repetitive input: got %d, want < %d", len(encoded), len(payload))
	}

	dst := make([]byte, len(payload))
	n, err := c.Decode(encoded, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("decoded %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(dst, payload) {
		t.Fatal("decoded bytes do not match original payload")
	}
}

func TestGzipRoundTripSmallPayload(t *testing.T) {
	c, err := Gzip(6)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("tiny")
	encoded, err := c.Encode(payload)
	if err != nil {
		t.Fatal(err)
	}

	dst := make([]byte, len(payload))
	n, err := c.Decode(encoded, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) || !bytes.Equal(dst[:n], payload) {
		t.Fatalf("got %q (n=%d), want %q", dst[:n], n, payload)
	}
}
