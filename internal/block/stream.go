package block

import (
	"hash/crc32"
	"io"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/storage"
	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

// MinBlockSize and MaxBlockSize bound the configurable data-stream block
// size per invariant 3.1; the descriptor stream always uses
// DescriptorBlockSize.
const (
	MinBlockSize         = 8 * 1024
	MaxBlockSize         = 1024 * 1024
	DescriptorBlockSize  = 8 * 1024
	DefaultDataBlockSize = 128 * 1024
)

// Stream is a block-structured region of a device: a stream header followed
// by codec-encoded blocks followed by a block-index table. A single Stream
// is either read-only or write-only for its whole lifetime.
type Stream struct {
	device       storage.Device
	deviceOffset int64
	blockSize    uint32
	writable     bool

	codec *Codec
	cache *cache

	entries []blockEntry

	staging       []byte
	stagingLen    int
	stagingOffset int
	stagingBlock  uint32
	everLoaded    bool
}

// Create opens device at deviceOffset in write mode, reserving space for the
// stream header (patched in at Finish).
func Create(device storage.Device, deviceOffset int64, blockSize uint32) (*Stream, error) {
	if blockSize < MinBlockSize || blockSize > MaxBlockSize {
		return nil, xerrors.Errorf("create stream: %w", vafserrors.ErrInvalidArgument)
	}
	if _, err := device.Seek(deviceOffset, io.SeekStart); err != nil {
		return nil, xerrors.Errorf("create stream: seek: %w", err)
	}
	if _, err := device.Write(make([]byte, streamHeaderSize)); err != nil {
		return nil, xerrors.Errorf("create stream: reserve header: %w", err)
	}
	return &Stream{
		device:       device,
		deviceOffset: deviceOffset,
		blockSize:    blockSize,
		writable:     true,
		staging:      make([]byte, blockSize),
		entries:      make([]blockEntry, 0, 8),
		cache:        newCache(),
	}, nil
}

// Open opens an existing stream at deviceOffset in read mode, loading its
// block-index table.
func Open(device storage.Device, deviceOffset int64) (*Stream, error) {
	if _, err := device.Seek(deviceOffset, io.SeekStart); err != nil {
		return nil, xerrors.Errorf("open stream: seek: %w", err)
	}
	hdrBuf := make([]byte, streamHeaderSize)
	if err := readExact(device, hdrBuf); err != nil {
		return nil, xerrors.Errorf("open stream: read header: %w", err)
	}
	var hdr streamHeader
	if err := hdr.unmarshal(hdrBuf); err != nil {
		return nil, xerrors.Errorf("open stream: %w", err)
	}

	s := &Stream{
		device:       device,
		deviceOffset: deviceOffset,
		blockSize:    hdr.BlockSize,
		staging:      make([]byte, hdr.BlockSize),
		cache:        newCache(),
	}

	if hdr.BlockHeadersCount > 0 {
		if _, err := device.Seek(deviceOffset+int64(hdr.BlockHeadersOffset), io.SeekStart); err != nil {
			return nil, xerrors.Errorf("open stream: seek block index: %w", err)
		}
		s.entries = make([]blockEntry, hdr.BlockHeadersCount)
		entryBuf := make([]byte, blockHeaderSize)
		for i := range s.entries {
			if err := readExact(device, entryBuf); err != nil {
				return nil, xerrors.Errorf("open stream: read block index: %w", err)
			}
			s.entries[i].unmarshal(entryBuf)
		}
	}
	return s, nil
}

// SetCodec installs the per-block encode/decode pair. It must be called
// before any Write (write mode) or before any Read/Seek (read mode): every
// block, including the first, is encoded and decoded with it.
func (s *Stream) SetCodec(c *Codec) {
	s.codec = c
}

// BlockSize returns the stream's fixed block size.
func (s *Stream) BlockSize() uint32 { return s.blockSize }

// BlockCount returns the number of blocks currently recorded in the index
// table (meaningful mid-build only after at least one flush).
func (s *Stream) BlockCount() int { return len(s.entries) }

// Position returns the current (block_index, intra_block_offset) pair.
func (s *Stream) Position() (uint32, int) {
	return s.stagingBlock, s.stagingOffset
}

// Seek moves the read cursor to blockIndex plus byteOffset, which may exceed
// BlockSize(); the stream advances blockIndex until the residual offset
// falls within a single block.
func (s *Stream) Seek(blockIndex uint32, byteOffset int) error {
	if s.writable {
		return xerrors.Errorf("seek stream: %w", vafserrors.ErrPermissionDenied)
	}
	if byteOffset < 0 {
		return xerrors.Errorf("seek stream: %w", vafserrors.ErrInvalidArgument)
	}
	idx := blockIndex
	residual := byteOffset
	for residual >= int(s.blockSize) {
		idx++
		residual -= int(s.blockSize)
	}
	if err := s.loadBlock(idx); err != nil {
		return err
	}
	if residual > s.stagingLen {
		return xerrors.Errorf("seek stream: %w", vafserrors.ErrInvalidArgument)
	}
	s.stagingOffset = residual
	s.everLoaded = true
	return nil
}

// Read fills p from the stream's logical byte sequence, transparently
// crossing block boundaries.
func (s *Stream) Read(p []byte) (int, error) {
	if s.writable {
		return 0, xerrors.Errorf("read stream: %w", vafserrors.ErrPermissionDenied)
	}
	n := 0
	for n < len(p) {
		if s.stagingOffset >= s.stagingLen {
			next := uint32(0)
			if s.everLoaded {
				next = s.stagingBlock + 1
			}
			if int(next) >= len(s.entries) {
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			}
			if err := s.loadBlock(next); err != nil {
				return n, err
			}
			s.everLoaded = true
		}
		c := copy(p[n:], s.staging[s.stagingOffset:s.stagingLen])
		n += c
		s.stagingOffset += c
	}
	return n, nil
}

// Write appends p to the logical byte sequence, flushing full blocks to the
// device as the staging buffer fills.
func (s *Stream) Write(p []byte) (int, error) {
	if !s.writable {
		return 0, xerrors.Errorf("write stream: %w", vafserrors.ErrPermissionDenied)
	}
	written := 0
	for written < len(p) {
		if s.stagingOffset == int(s.blockSize) {
			if err := s.flush(); err != nil {
				return written, err
			}
		}
		n := copy(s.staging[s.stagingOffset:int(s.blockSize)], p[written:])
		s.stagingOffset += n
		written += n
	}
	return written, nil
}

// flush implements the write-mode flush algorithm from 4.B.
func (s *Stream) flush() error {
	if s.stagingOffset == 0 {
		return nil
	}
	raw := s.staging[:s.stagingOffset]
	encoded := raw
	if s.codec != nil {
		var err error
		encoded, err = s.codec.Encode(raw)
		if err != nil {
			return xerrors.Errorf("flush block: encode: %w", err)
		}
	}
	crc := crc32.ChecksumIEEE(raw)
	pos, err := s.device.Seek(0, io.SeekCurrent)
	if err != nil {
		return xerrors.Errorf("flush block: position: %w", err)
	}
	entry := blockEntry{
		LengthOnDisk: uint32(len(encoded)),
		Offset:       uint32(pos - s.deviceOffset),
		CRC:          crc,
	}
	if _, err := s.device.Write(encoded); err != nil {
		return xerrors.Errorf("flush block: write: %w", err)
	}
	s.entries = append(s.entries, entry)
	s.stagingBlock++
	s.stagingOffset = 0
	return nil
}

// loadBlock implements the read-mode load algorithm from 4.B: cache check,
// device read, decode, CRC verify, cache offer.
func (s *Stream) loadBlock(index uint32) error {
	if buf, ok := s.cache.get(index); ok {
		n := copy(s.staging, buf)
		s.stagingLen = n
		s.stagingBlock = index
		s.stagingOffset = 0
		return nil
	}
	if int(index) >= len(s.entries) {
		return xerrors.Errorf("load block %d: %w", index, vafserrors.ErrNotFound)
	}
	entry := s.entries[index]
	if _, err := s.device.Seek(s.deviceOffset+int64(entry.Offset), io.SeekStart); err != nil {
		return xerrors.Errorf("load block %d: seek: %w", index, err)
	}
	scratch := make([]byte, entry.LengthOnDisk)
	if err := readExact(s.device, scratch); err != nil {
		return xerrors.Errorf("load block %d: read: %w", index, err)
	}

	var n int
	if s.codec != nil {
		var err error
		n, err = s.codec.Decode(scratch, s.staging)
		if err != nil {
			return xerrors.Errorf("load block %d: decode: %w", index, err)
		}
	} else {
		n = copy(s.staging, scratch)
	}

	if crc32.ChecksumIEEE(s.staging[:n]) != entry.CRC {
		return xerrors.Errorf("load block %d: %w", index, vafserrors.ErrIntegrityError)
	}

	s.stagingLen = n
	s.stagingBlock = index
	s.stagingOffset = 0

	if s.cache.admits(index) {
		s.cache.set(index, s.staging[:n])
	}
	return nil
}

// Finish is the only in-place rewrite permitted: it flushes the
// in-progress block, writes the block-index table, then patches the
// stream header with the table's final offset and count.
func (s *Stream) Finish() error {
	if !s.writable {
		return xerrors.Errorf("finish stream: %w", vafserrors.ErrPermissionDenied)
	}
	if err := s.flush(); err != nil {
		return err
	}
	pos, err := s.device.Seek(0, io.SeekCurrent)
	if err != nil {
		return xerrors.Errorf("finish stream: position: %w", err)
	}
	tableOffset := uint32(pos - s.deviceOffset)
	for _, e := range s.entries {
		if _, err := s.device.Write(e.marshal()); err != nil {
			return xerrors.Errorf("finish stream: write block index: %w", err)
		}
	}
	afterTable, err := s.device.Seek(0, io.SeekCurrent)
	if err != nil {
		return xerrors.Errorf("finish stream: position: %w", err)
	}
	hdr := streamHeader{
		Magic:              StreamMagic,
		BlockSize:          s.blockSize,
		BlockHeadersOffset: tableOffset,
		BlockHeadersCount:  uint32(len(s.entries)),
	}
	if _, err := s.device.Seek(s.deviceOffset, io.SeekStart); err != nil {
		return xerrors.Errorf("finish stream: seek header: %w", err)
	}
	if _, err := s.device.Write(hdr.marshal()); err != nil {
		return xerrors.Errorf("finish stream: patch header: %w", err)
	}
	if _, err := s.device.Seek(afterTable, io.SeekStart); err != nil {
		return xerrors.Errorf("finish stream: restore position: %w", err)
	}
	return nil
}

// Lock and Unlock delegate to the underlying device's exclusive-access
// primitive.
func (s *Stream) Lock() error { return s.device.TryLock() }
func (s *Stream) Unlock()     { s.device.Unlock() }

// Close releases the stream's in-memory state. It does not close the
// underlying device, which the engine owns.
func (s *Stream) Close() error {
	return nil
}
