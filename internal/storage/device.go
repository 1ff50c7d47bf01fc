// Package storage provides the byte-oriented device abstraction that every
// stream in the image reads and writes through: a seekable file, a growable
// in-memory buffer, or a caller-supplied set of operations.
package storage

import (
	"io"
	"sync/atomic"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

// Device is the bytes-and-seek abstraction every stream is built on. All
// three concrete backends (file, memory, ops) implement it identically from
// the stream's point of view.
type Device interface {
	io.Closer
	Seek(offset int64, whence int) (int64, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// CopyFrom streams the entire valid contents of src (from its offset 0)
	// into the device at its current position.
	CopyFrom(src Device) (int64, error)

	// TryLock acquires the device's single exclusive-access primitive. It
	// never blocks: if the lock is already held, it returns a contention
	// error immediately.
	TryLock() error
	Unlock()
}

// copyBufferSize is the transfer buffer size invariant 4.A specifies for
// CopyFrom.
const copyBufferSize = 1 << 20

// copyDevice implements the shared CopyFrom algorithm: rewind src to 0, then
// stream its bytes into dst at dst's current position using a 1 MiB buffer.
func copyDevice(dst, src Device) (int64, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, xerrors.Errorf("copy device: seek source: %w", err)
	}
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, xerrors.Errorf("copy device: write: %w", werr)
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, xerrors.Errorf("copy device: read source: %w", rerr)
		}
		if n == 0 {
			return total, nil
		}
	}
}

// lockState values for the atomic exclusive-access primitive shared by all
// backends.
const (
	unlocked uint32 = 0
	locked   uint32 = 1
)

func tryLock(state *uint32) error {
	if !atomic.CompareAndSwapUint32(state, unlocked, locked) {
		return xerrors.Errorf("acquire device lock: %w", vafserrors.ErrContention)
	}
	return nil
}

func unlock(state *uint32) {
	atomic.StoreUint32(state, unlocked)
}
