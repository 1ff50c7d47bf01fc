package block

import (
	"bytes"
	"io"
	"testing"

	"github.com/Meulengracht/vali-rofs/internal/storage"
)

func TestStreamWriteReadRoundTrip(t *testing.T) {
	dev := storage.NewMemory()
	s, err := Create(dev, 0, MinBlockSize)
	if err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte("hello vafs "), 2000) // spans several blocks
	if _, err := s.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(); err != nil {
		t.Fatal(err)
	}

	raw, ok := storage.MemoryBytes(dev)
	if !ok {
		t.Fatal("expected memory device to expose its bytes")
	}

	rdev, err := storage.WrapMemory(raw)
	if err != nil {
		t.Fatal(err)
	}
	rs, err := Open(rdev, 0)
	if err != nil {
		t.Fatal(err)
	}
	if rs.BlockCount() == 0 {
		t.Fatal("expected at least one block in the index table")
	}

	got := make([]byte, len(payload))
	if err := rs.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(rs, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestStreamCodecRoundTrip(t *testing.T) {
	dev := storage.NewMemory()
	s, err := Create(dev, 0, MinBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	s.SetCodec(identityCodec())

	payload := []byte("some small block of data")
	if _, err := s.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(); err != nil {
		t.Fatal(err)
	}

	raw, _ := storage.MemoryBytes(dev)
	rdev, err := storage.WrapMemory(raw)
	if err != nil {
		t.Fatal(err)
	}
	rs, err := Open(rdev, 0)
	if err != nil {
		t.Fatal(err)
	}
	rs.SetCodec(identityCodec())

	got := make([]byte, len(payload))
	if err := rs.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(rs, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("codec round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestStreamIntegrityErrorOnCorruption(t *testing.T) {
	dev := storage.NewMemory()
	s, err := Create(dev, 0, MinBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte("corrupt me")); err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(); err != nil {
		t.Fatal(err)
	}

	raw, _ := storage.MemoryBytes(dev)
	// Flip a byte inside the first block's payload, just past the 16-byte
	// stream header.
	raw[streamHeaderSize] ^= 0xFF

	rdev, err := storage.WrapMemory(raw)
	if err != nil {
		t.Fatal(err)
	}
	rs, err := Open(rdev, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := rs.Seek(0, 0); err == nil {
		t.Fatal("expected integrity error on corrupted block, got nil")
	}
}

// identityCodec exercises the codec hook without pulling in a real
// compression library in this package's tests.
func identityCodec() *Codec {
	return &Codec{
		Encode: func(p []byte) ([]byte, error) {
			out := make([]byte, len(p))
			copy(out, p)
			return out, nil
		},
		Decode: func(encoded, dst []byte) (int, error) {
			return copy(dst, encoded), nil
		},
	}
}
