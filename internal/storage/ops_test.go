package storage

import (
	"errors"
	"testing"

	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

func TestNewOpsRequiresSeekAndRead(t *testing.T) {
	noop := func(p []byte) (int, error) { return 0, nil }
	seekNoop := func(offset int64, whence int) (int64, error) { return 0, nil }

	if _, err := NewOps(Ops{}, false); !errors.Is(err, vafserrors.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
	if _, err := NewOps(Ops{Seek: seekNoop}, false); !errors.Is(err, vafserrors.ErrInvalidArgument) {
		t.Fatalf("missing Read: got %v, want ErrInvalidArgument", err)
	}
	if _, err := NewOps(Ops{Seek: seekNoop, Read: noop}, false); err != nil {
		t.Fatalf("read-only ops with Seek+Read should construct: %v", err)
	}
}

func TestNewOpsRequiresWriteWhenWritable(t *testing.T) {
	noop := func(p []byte) (int, error) { return 0, nil }
	seekNoop := func(offset int64, whence int) (int64, error) { return 0, nil }

	if _, err := NewOps(Ops{Seek: seekNoop, Read: noop}, true); !errors.Is(err, vafserrors.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument for missing Write on a writable device", err)
	}
	if _, err := NewOps(Ops{Seek: seekNoop, Read: noop, Write: noop}, true); err != nil {
		t.Fatalf("fully specified writable ops should construct: %v", err)
	}
}

func TestOpsDeviceDispatchesToUnderlyingFuncs(t *testing.T) {
	var buf []byte
	var pos int64

	seek := func(offset int64, whence int) (int64, error) {
		pos = offset
		return pos, nil
	}
	read := func(p []byte) (int, error) {
		n := copy(p, buf[pos:])
		return n, nil
	}
	write := func(p []byte) (int, error) {
		buf = append(buf, p...)
		return len(p), nil
	}

	d, err := NewOps(Ops{Seek: seek, Read: read, Write: write}, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 5)
	if _, err := d.Read(got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestOpsDeviceReadOnlyRejectsWrite(t *testing.T) {
	seek := func(offset int64, whence int) (int64, error) { return 0, nil }
	read := func(p []byte) (int, error) { return 0, nil }

	d, err := NewOps(Ops{Seek: seek, Read: read}, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Write([]byte("x")); !errors.Is(err, vafserrors.ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}

func TestOpsDeviceCloseIsOptional(t *testing.T) {
	seek := func(offset int64, whence int) (int64, error) { return 0, nil }
	read := func(p []byte) (int, error) { return 0, nil }

	d, err := NewOps(Ops{Seek: seek, Read: read}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("expected nil Close when Ops.Close is unset, got %v", err)
	}

	closed := false
	d2, err := NewOps(Ops{Seek: seek, Read: read, Close: func() error {
		closed = true
		return nil
	}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := d2.Close(); err != nil {
		t.Fatal(err)
	}
	if !closed {
		t.Fatal("expected Ops.Close to be invoked")
	}
}
