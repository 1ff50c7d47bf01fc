package storage

import (
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

// SeekFunc, ReadFunc, WriteFunc and CloseFunc are the function-pointer
// signatures an Ops backend is built from, mirroring VaFsOperations in the
// original C API.
type (
	SeekFunc  func(offset int64, whence int) (int64, error)
	ReadFunc  func(p []byte) (int, error)
	WriteFunc func(p []byte) (int, error)
	CloseFunc func() error
)

// Ops is the caller-supplied function set for the Ops backend. Seek and Read
// are always required; Write is required iff the image is opened for
// writing; Close is optional.
type Ops struct {
	Seek  SeekFunc
	Read  ReadFunc
	Write WriteFunc
	Close CloseFunc
}

type opsDevice struct {
	ops      Ops
	writable bool
	locked   uint32
}

// NewOps constructs a device around caller-supplied operations. It is
// rejected at construction if a required function is missing: Seek and Read
// are always required, Write is required when writable is true.
func NewOps(ops Ops, writable bool) (Device, error) {
	if ops.Seek == nil || ops.Read == nil {
		return nil, xerrors.Errorf("construct ops device: %w", vafserrors.ErrInvalidArgument)
	}
	if writable && ops.Write == nil {
		return nil, xerrors.Errorf("construct ops device: %w", vafserrors.ErrInvalidArgument)
	}
	return &opsDevice{ops: ops, writable: writable}, nil
}

func (d *opsDevice) Seek(offset int64, whence int) (int64, error) {
	return d.ops.Seek(offset, whence)
}

func (d *opsDevice) Read(p []byte) (int, error) {
	return d.ops.Read(p)
}

func (d *opsDevice) Write(p []byte) (int, error) {
	if !d.writable || d.ops.Write == nil {
		return 0, xerrors.Errorf("write ops device: %w", vafserrors.ErrUnsupported)
	}
	return d.ops.Write(p)
}

func (d *opsDevice) CopyFrom(src Device) (int64, error) {
	return copyDevice(d, src)
}

func (d *opsDevice) TryLock() error { return tryLock(&d.locked) }
func (d *opsDevice) Unlock()        { unlock(&d.locked) }

func (d *opsDevice) Close() error {
	if d.ops.Close == nil {
		return nil
	}
	return d.ops.Close()
}
