package storage

import (
	"bytes"
	"io"
	"testing"
)

func TestMemoryWriteReadRoundTrip(t *testing.T) {
	d := NewMemory()
	if _, err := d.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 11)
	if _, err := io.ReadFull(d, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestMemorySeekEndIsRelativeToValidSize(t *testing.T) {
	d := NewMemory()
	if _, err := d.Write([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	pos, err := d.Seek(-3, io.SeekEnd)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 7 {
		t.Fatalf("pos = %d, want 7", pos)
	}
	got := make([]byte, 3)
	if _, err := io.ReadFull(d, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "789" {
		t.Fatalf("got %q, want 789", got)
	}
}

func TestMemoryReadPastValidSizeIsEOF(t *testing.T) {
	d := NewMemory()
	if _, err := d.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 10)
	n, err := d.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("short read = %d bytes, want 3", n)
	}
	n, err = d.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("got n=%d err=%v, want n=0 err=io.EOF", n, err)
	}
}

func TestMemoryOverwriteInPlace(t *testing.T) {
	d := NewMemory()
	if _, err := d.Write([]byte("aaaaaaaaaa")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Seek(2, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Write([]byte("BB")); err != nil {
		t.Fatal(err)
	}

	raw, ok := MemoryBytes(d)
	if !ok {
		t.Fatal("expected MemoryBytes to recognize a memory device")
	}
	if !bytes.Equal(raw, []byte("aaBBaaaaaa")) {
		t.Fatalf("got %q, want aaBBaaaaaa", raw)
	}
}

func TestWrapMemoryReadsBackWrappedBytes(t *testing.T) {
	d := NewMemory()
	if _, err := d.Write([]byte("snapshot me")); err != nil {
		t.Fatal(err)
	}
	raw, _ := MemoryBytes(d)

	wrapped, err := WrapMemory(raw)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(raw))
	if _, err := io.ReadFull(wrapped, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "snapshot me" {
		t.Fatalf("got %q", got)
	}
}

func TestMemoryBytesRejectsNonMemoryDevice(t *testing.T) {
	if _, ok := MemoryBytes(nil); ok {
		t.Fatal("expected MemoryBytes(nil) to report false")
	}
}

func TestDeviceLockIsExclusiveAndNonBlocking(t *testing.T) {
	d := NewMemory()
	if err := d.TryLock(); err != nil {
		t.Fatal(err)
	}
	if err := d.TryLock(); err == nil {
		t.Fatal("expected a second TryLock to fail while held")
	}
	d.Unlock()
	if err := d.TryLock(); err != nil {
		t.Fatalf("expected TryLock to succeed after Unlock, got %v", err)
	}
}

func TestCopyFromStreamsEntireSource(t *testing.T) {
	src := NewMemory()
	if _, err := src.Write([]byte("source payload")); err != nil {
		t.Fatal(err)
	}
	// Leave src's position mid-stream; CopyFrom must rewind it regardless.
	if _, err := src.Seek(4, io.SeekStart); err != nil {
		t.Fatal(err)
	}

	dst := NewMemory()
	n, err := dst.CopyFrom(src)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("source payload")) {
		t.Fatalf("copied %d bytes, want %d", n, len("source payload"))
	}
	raw, _ := MemoryBytes(dst)
	if string(raw) != "source payload" {
		t.Fatalf("got %q", raw)
	}
}
