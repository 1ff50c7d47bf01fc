package vafs

import (
	"io"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/descriptor"
)

// FileHandle is the handle-based surface over a regular file entry: a
// reference to the node, a logical byte position, and (in write mode) the
// data stream's exclusive-access lock held for the handle's lifetime.
type FileHandle struct {
	img     *Image
	file    *descriptor.File
	pos     int64
	writing bool
}

func (img *Image) openFileHandle(f *descriptor.File) (*FileHandle, error) {
	h := &FileHandle{img: img, file: f}
	if img.mode == imageModeWrite {
		if err := img.dataStream.Lock(); err != nil {
			return nil, xerrors.Errorf("open file for write: %w", err)
		}
		h.writing = true
		blockIdx, byteOff := img.dataStream.Position()
		f.DataPos = descriptor.BlockPosition{BlockIndex: blockIdx, ByteOffset: uint32(byteOff)}
	}
	return h, nil
}

// Close releases the handle, releasing the data stream's write lock if this
// handle held it.
func (h *FileHandle) Close() error {
	if h.writing {
		h.img.dataStream.Unlock()
		h.writing = false
	}
	return nil
}

// Length returns the file's uncompressed byte length.
func (h *FileHandle) Length() uint32 { return h.file.FileLength }

// Permissions returns the file's stored (unenforced) permission bits.
func (h *FileHandle) Permissions() uint32 { return h.file.Permissions }

// Seek repositions the handle's logical read cursor. Only valid in read
// mode; writes are append-only.
func (h *FileHandle) Seek(offset int64, whence int) (int64, error) {
	if h.img.mode != imageModeRead {
		return 0, xerrors.Errorf("seek file: %w", ErrUnsupported)
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = h.pos + offset
	case io.SeekEnd:
		target = int64(h.file.FileLength) + offset
	default:
		return 0, xerrors.Errorf("seek file: %w", ErrInvalidArgument)
	}
	if target < 0 {
		return 0, xerrors.Errorf("seek file: %w", ErrInvalidArgument)
	}
	h.pos = target
	return h.pos, nil
}

// Read fills p from the file's uncompressed byte range, transparent to
// block boundaries in the data stream. The data stream's exclusive-access
// lock is held only for the duration of this call.
func (h *FileHandle) Read(p []byte) (int, error) {
	if h.img.mode != imageModeRead {
		return 0, xerrors.Errorf("read file: %w", ErrPermissionDenied)
	}
	remaining := int64(h.file.FileLength) - h.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}

	if err := h.img.dataStream.Lock(); err != nil {
		return 0, xerrors.Errorf("read file: %w", err)
	}
	defer h.img.dataStream.Unlock()

	blockSize := int64(h.img.dataStream.BlockSize())
	abs := int64(h.file.DataPos.BlockIndex)*blockSize + int64(h.file.DataPos.ByteOffset) + h.pos
	blockIdx := uint32(abs / blockSize)
	byteOff := int(abs % blockSize)
	if err := h.img.dataStream.Seek(blockIdx, byteOff); err != nil {
		return 0, xerrors.Errorf("read file: %w", err)
	}
	n, err := h.img.dataStream.Read(p)
	h.pos += int64(n)
	return n, err
}

// Write appends p to the file's data, advancing both the handle's logical
// length and the data stream's append position.
func (h *FileHandle) Write(p []byte) (int, error) {
	if !h.writing {
		return 0, xerrors.Errorf("write file: %w", ErrPermissionDenied)
	}
	n, err := h.img.dataStream.Write(p)
	h.pos += int64(n)
	h.file.FileLength += uint32(n)
	if err != nil {
		return n, xerrors.Errorf("write file: %w", err)
	}
	return n, nil
}
