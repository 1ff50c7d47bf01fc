package storage

import (
	"io"
	"os"

	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

// fileDevice is the File backend from 4.A: a thin wrapper over a seekable,
// byte-oriented OS file. Read-mode handles are memory-mapped (the same
// technique used to open a squashfs image for reading); write-mode handles
// are a plain *os.File since mmap does not support growth-on-write.
type fileDevice struct {
	writable bool

	// write mode
	f *os.File

	// read mode
	ra  *mmap.ReaderAt
	pos int64

	locked uint32
}

// OpenFileForRead opens path read-only, memory-mapping its contents.
func OpenFileForRead(path string) (Device, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open file device %q: %w", path, err)
	}
	return &fileDevice{ra: ra}, nil
}

// CreateFileForWrite creates (or truncates) path for a builder to write into.
func CreateFileForWrite(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("create file device %q: %w", path, err)
	}
	return &fileDevice{f: f, writable: true}, nil
}

func (d *fileDevice) Seek(offset int64, whence int) (int64, error) {
	if d.writable {
		return d.f.Seek(offset, whence)
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += d.pos
	case io.SeekEnd:
		offset += int64(d.ra.Len())
	default:
		return 0, xerrors.Errorf("seek file device: %w", vafserrors.ErrInvalidArgument)
	}
	if offset < 0 {
		return 0, xerrors.Errorf("seek file device: %w", vafserrors.ErrInvalidArgument)
	}
	d.pos = offset
	return d.pos, nil
}

func (d *fileDevice) Read(p []byte) (int, error) {
	if d.writable {
		return 0, xerrors.Errorf("read file device: %w", vafserrors.ErrUnsupported)
	}
	n, err := d.ra.ReadAt(p, d.pos)
	d.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (d *fileDevice) Write(p []byte) (int, error) {
	if !d.writable {
		return 0, xerrors.Errorf("write file device: %w", vafserrors.ErrUnsupported)
	}
	return d.f.Write(p)
}

func (d *fileDevice) CopyFrom(src Device) (int64, error) {
	return copyDevice(d, src)
}

func (d *fileDevice) TryLock() error { return tryLock(&d.locked) }
func (d *fileDevice) Unlock()        { unlock(&d.locked) }

func (d *fileDevice) Close() error {
	if d.writable {
		return d.f.Close()
	}
	return d.ra.Close()
}
