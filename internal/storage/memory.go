package storage

import (
	"io"

	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

// memoryDevice is the Memory backend from 4.A: a growable byte buffer with
// an explicit valid size distinct from capacity. SEEK_END is relative to
// valid size; writes past valid size advance it; reads past valid size
// return short (io.EOF).
//
// The growable buffer itself is an *writerseeker.WriterSeeker — it only ever
// grows, which is exactly the "valid size" relationship this backend needs
// to track on top of it.
type memoryDevice struct {
	ws        writerseeker.WriterSeeker
	pos       int64
	validSize int64
	locked    uint32
}

// NewMemory returns an empty, engine-owned memory device for writing.
func NewMemory() Device {
	return &memoryDevice{}
}

// WrapMemory wraps an existing byte slice for reading without taking
// ownership of it: the bytes are copied, and the device's valid size starts
// at len(data).
func WrapMemory(data []byte) (Device, error) {
	d := &memoryDevice{}
	if len(data) > 0 {
		if _, err := d.ws.Write(data); err != nil {
			return nil, xerrors.Errorf("wrap memory device: %w", err)
		}
	}
	d.validSize = int64(len(data))
	if _, err := d.ws.Seek(0, io.SeekStart); err != nil {
		return nil, xerrors.Errorf("wrap memory device: %w", err)
	}
	return d, nil
}

func (d *memoryDevice) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = d.pos + offset
	case io.SeekEnd:
		target = d.validSize + offset
	default:
		return 0, xerrors.Errorf("seek memory device: %w", vafserrors.ErrInvalidArgument)
	}
	if target < 0 {
		return 0, xerrors.Errorf("seek memory device: %w", vafserrors.ErrInvalidArgument)
	}
	if _, err := d.ws.Seek(target, io.SeekStart); err != nil {
		return 0, xerrors.Errorf("seek memory device: %w", err)
	}
	d.pos = target
	return d.pos, nil
}

func (d *memoryDevice) Read(p []byte) (int, error) {
	if d.pos >= d.validSize {
		return 0, io.EOF
	}
	remaining := d.validSize - d.pos
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	r := d.ws.BytesReader()
	if _, err := r.Seek(d.pos, io.SeekStart); err != nil {
		return 0, xerrors.Errorf("read memory device: %w", err)
	}
	n, err := r.Read(p)
	d.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (d *memoryDevice) Write(p []byte) (int, error) {
	n, err := d.ws.Write(p)
	if err != nil {
		return n, xerrors.Errorf("write memory device: %w", err)
	}
	d.pos += int64(n)
	if d.pos > d.validSize {
		d.validSize = d.pos
	}
	return n, nil
}

func (d *memoryDevice) CopyFrom(src Device) (int64, error) {
	return copyDevice(d, src)
}

// Bytes returns the valid contents of the buffer, used by the engine when
// copying a temporary stream device into the final image device.
func (d *memoryDevice) Bytes() []byte {
	buf := make([]byte, d.validSize)
	_, _ = io.ReadFull(d.ws.BytesReader(), buf)
	return buf
}

func (d *memoryDevice) TryLock() error { return tryLock(&d.locked) }
func (d *memoryDevice) Unlock()        { unlock(&d.locked) }

func (d *memoryDevice) Close() error { return nil }

// MemoryBytes returns the valid contents of a device created by NewMemory or
// WrapMemory. It reports false for any other backend.
func MemoryBytes(d Device) ([]byte, bool) {
	m, ok := d.(*memoryDevice)
	if !ok {
		return nil, false
	}
	return m.Bytes(), true
}
