package vafs

import (
	"encoding/binary"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/descriptor"
)

// ImageMagic and ImageVersion identify a VaFs image at device offset 0.
const (
	ImageMagic   uint32 = 0x3144524D // "MRD1"
	ImageVersion uint32 = 0x00010000
)

// imageHeaderSize is the fixed header size before any feature records, per
// §6: magic, version, architecture, feature_count, reserved, attributes,
// descr_off, data_off, root_pos.
const imageHeaderSize = 36

type imageHeader struct {
	Magic        uint32
	Version      uint32
	Architecture Architecture
	FeatureCount uint16
	Attributes   uint32
	DescrOffset  uint32
	DataOffset   uint32
	RootPos      descriptor.BlockPosition
}

func (h *imageHeader) marshal() []byte {
	buf := make([]byte, imageHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Architecture))
	binary.LittleEndian.PutUint16(buf[12:14], h.FeatureCount)
	// buf[14:16] reserved, left zero
	binary.LittleEndian.PutUint32(buf[16:20], h.Attributes)
	binary.LittleEndian.PutUint32(buf[20:24], h.DescrOffset)
	binary.LittleEndian.PutUint32(buf[24:28], h.DataOffset)
	binary.LittleEndian.PutUint32(buf[28:32], h.RootPos.BlockIndex)
	binary.LittleEndian.PutUint32(buf[32:36], h.RootPos.ByteOffset)
	return buf
}

func (h *imageHeader) unmarshal(buf []byte) error {
	if len(buf) < imageHeaderSize {
		return xerrors.Errorf("unmarshal image header: %w", ErrIntegrityError)
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.Architecture = Architecture(binary.LittleEndian.Uint32(buf[8:12]))
	h.FeatureCount = binary.LittleEndian.Uint16(buf[12:14])
	h.Attributes = binary.LittleEndian.Uint32(buf[16:20])
	h.DescrOffset = binary.LittleEndian.Uint32(buf[20:24])
	h.DataOffset = binary.LittleEndian.Uint32(buf[24:28])
	h.RootPos.BlockIndex = binary.LittleEndian.Uint32(buf[28:32])
	h.RootPos.ByteOffset = binary.LittleEndian.Uint32(buf[32:36])
	if h.Magic != ImageMagic {
		return xerrors.Errorf("unmarshal image header: bad magic: %w", ErrIntegrityError)
	}
	if h.Version != ImageVersion {
		return xerrors.Errorf("unmarshal image header: unsupported version %#x: %w", h.Version, ErrUnsupported)
	}
	return nil
}
