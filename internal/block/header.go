// Package block implements the block-structured stream abstraction: fixed
// size, independently checksummed and codec-encoded chunks, a block-index
// table recorded at the end of the stream, and a bounded hot-block cache.
package block

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

// StreamMagic identifies a block stream header on disk ("VSM1").
const StreamMagic uint32 = 0x314D5356

// streamHeaderSize is the on-disk size of a stream header: magic, block
// size, block-index table offset, block-index entry count.
const streamHeaderSize = 16

// blockHeaderSize is the on-disk size of one block-index table entry:
// length_on_disk, offset, crc, flags, reserved.
const blockHeaderSize = 16

// streamHeader is the fixed record at the start of every block stream.
type streamHeader struct {
	Magic              uint32
	BlockSize          uint32
	BlockHeadersOffset uint32
	BlockHeadersCount  uint32
}

func (h *streamHeader) marshal() []byte {
	buf := make([]byte, streamHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.BlockHeadersOffset)
	binary.LittleEndian.PutUint32(buf[12:16], h.BlockHeadersCount)
	return buf
}

func (h *streamHeader) unmarshal(buf []byte) error {
	if len(buf) < streamHeaderSize {
		return xerrors.Errorf("unmarshal stream header: %w", vafserrors.ErrIntegrityError)
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.BlockSize = binary.LittleEndian.Uint32(buf[4:8])
	h.BlockHeadersOffset = binary.LittleEndian.Uint32(buf[8:12])
	h.BlockHeadersCount = binary.LittleEndian.Uint32(buf[12:16])
	if h.Magic != StreamMagic {
		return xerrors.Errorf("unmarshal stream header: bad magic: %w", vafserrors.ErrIntegrityError)
	}
	return nil
}

// blockEntry is one element of the block-index table.
type blockEntry struct {
	LengthOnDisk uint32
	Offset       uint32
	CRC          uint32
	Flags        uint16
	Reserved     uint16
}

func (e *blockEntry) marshal() []byte {
	buf := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], e.LengthOnDisk)
	binary.LittleEndian.PutUint32(buf[4:8], e.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], e.CRC)
	binary.LittleEndian.PutUint16(buf[12:14], e.Flags)
	binary.LittleEndian.PutUint16(buf[14:16], e.Reserved)
	return buf
}

func (e *blockEntry) unmarshal(buf []byte) {
	e.LengthOnDisk = binary.LittleEndian.Uint32(buf[0:4])
	e.Offset = binary.LittleEndian.Uint32(buf[4:8])
	e.CRC = binary.LittleEndian.Uint32(buf[8:12])
	e.Flags = binary.LittleEndian.Uint16(buf[12:14])
	e.Reserved = binary.LittleEndian.Uint16(buf[14:16])
}

// readExact reads len(buf) bytes or returns an IO error, unlike io.Reader's
// short-read allowance.
func readExact(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return xerrors.Errorf("read exact: %w", vafserrors.ErrIOError)
	}
	return nil
}
