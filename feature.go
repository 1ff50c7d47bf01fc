package vafs

import (
	"encoding/binary"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/block"
)

// GUID is the 128-bit feature identifier laid out exactly as on disk: a
// Microsoft-style split GUID (u32, u16, u16, 8 bytes), matching §6's feature
// record header.
type GUID struct {
	D1 uint32
	D2 uint16
	D3 uint16
	D4 [8]byte
}

// Well-known feature GUIDs. The exact byte values are this implementation's
// own identifiers; nothing in the format depends on matching a specific
// upstream constant, only on the builder and reader agreeing (which they do
// by construction).
var (
	OverviewGUID = GUID{D1: 0x0a1b2c3d, D2: 0x1111, D3: 0x2222, D4: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	FilterGUID   = GUID{D1: 0x0b2c3d4e, D2: 0x3333, D3: 0x4444, D4: [8]byte{8, 9, 10, 11, 12, 13, 14, 15}}
)

const featureHeaderSize = 4 + 2 + 2 + 8 + 4 // GUID + length
const maxFeatures = 16

// featureRecord is one persisted entry: a GUID and the payload bytes. Its
// on-disk length (header + payload) is computed by marshal.
type featureRecord struct {
	guid    GUID
	payload []byte
}

func marshalGUID(g GUID, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], g.D1)
	binary.LittleEndian.PutUint16(buf[4:6], g.D2)
	binary.LittleEndian.PutUint16(buf[6:8], g.D3)
	copy(buf[8:16], g.D4[:])
}

func unmarshalGUID(buf []byte) GUID {
	var g GUID
	g.D1 = binary.LittleEndian.Uint32(buf[0:4])
	g.D2 = binary.LittleEndian.Uint16(buf[4:6])
	g.D3 = binary.LittleEndian.Uint16(buf[6:8])
	copy(g.D4[:], buf[8:16])
	return g
}

func (r *featureRecord) marshal() []byte {
	length := featureHeaderSize + len(r.payload)
	buf := make([]byte, length)
	marshalGUID(r.guid, buf[0:16])
	binary.LittleEndian.PutUint32(buf[16:20], uint32(length))
	copy(buf[20:], r.payload)
	return buf
}

// featureTable is the small, fixed-capacity registry from 4.F: at most 16
// GUID-tagged records, plus the one runtime-only attachment (Filter-Ops)
// that is never persisted.
type featureTable struct {
	records  []*featureRecord
	index    map[GUID]*featureRecord
	filterOp *block.Codec
}

func newFeatureTable() *featureTable {
	return &featureTable{index: make(map[GUID]*featureRecord)}
}

// Add copies feature bytes into the registry, rejecting a duplicate GUID.
func (t *featureTable) Add(guid GUID, payload []byte) error {
	if _, exists := t.index[guid]; exists {
		return xerrors.Errorf("add feature: %w", ErrAlreadyExists)
	}
	if len(t.records) >= maxFeatures {
		return xerrors.Errorf("add feature: table full: %w", ErrOutOfMemory)
	}
	owned := make([]byte, len(payload))
	copy(owned, payload)
	rec := &featureRecord{guid: guid, payload: owned}
	t.records = append(t.records, rec)
	t.index[guid] = rec
	return nil
}

// Query returns the payload bytes for guid, or NotFound.
func (t *featureTable) Query(guid GUID) ([]byte, error) {
	rec, ok := t.index[guid]
	if !ok {
		return nil, xerrors.Errorf("query feature: %w", ErrNotFound)
	}
	return rec.payload, nil
}

// SetFilterOps attaches the runtime-only encode/decode pair. Per 4.F this is
// never persisted; it must be wired onto both streams immediately.
func (t *featureTable) SetFilterOps(codec *block.Codec) {
	t.filterOp = codec
}

func (t *featureTable) FilterOps() *block.Codec {
	return t.filterOp
}

// overviewPayload is the Overview feature's persisted payload: aggregate
// counts plus total uncompressed bytes.
type overviewPayload struct {
	Files       uint32
	Directories uint32
	Symlinks    uint32
	TotalBytes  uint64
}

const overviewPayloadSize = 4 + 4 + 4 + 8

func (o overviewPayload) marshal() []byte {
	buf := make([]byte, overviewPayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], o.Files)
	binary.LittleEndian.PutUint32(buf[4:8], o.Directories)
	binary.LittleEndian.PutUint32(buf[8:12], o.Symlinks)
	binary.LittleEndian.PutUint64(buf[12:20], o.TotalBytes)
	return buf
}

func unmarshalOverview(buf []byte) (overviewPayload, error) {
	if len(buf) < overviewPayloadSize {
		return overviewPayload{}, xerrors.Errorf("unmarshal overview feature: %w", ErrIntegrityError)
	}
	return overviewPayload{
		Files:       binary.LittleEndian.Uint32(buf[0:4]),
		Directories: binary.LittleEndian.Uint32(buf[4:8]),
		Symlinks:    binary.LittleEndian.Uint32(buf[8:12]),
		TotalBytes:  binary.LittleEndian.Uint64(buf[12:20]),
	}, nil
}
