// Package vafs implements the VaFs image-format engine: a read-optimized,
// block-structured archive designed to serve as an initial-ramdisk image.
// An Image is opened read-only to consume an existing image, or created to
// build a new one; the two modes are disjoint for the lifetime of the
// Image.
package vafs

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/block"
	"github.com/Meulengracht/vali-rofs/internal/descriptor"
	"github.com/Meulengracht/vali-rofs/internal/storage"
)

type imageMode int

const (
	imageModeRead imageMode = iota
	imageModeWrite
)

// Image is the top-level handle returned by Open*/Create*: header, feature
// table, both streams, and the descriptor tree built on top of them.
type Image struct {
	mode imageMode

	device storage.Device // final device: the one passed by the caller

	// populated in both modes once open/create completes
	descrStream *block.Stream
	dataStream  *block.Stream
	tree        *descriptor.Tree
	features    *featureTable
	header      imageHeader

	// write mode only: temporary in-memory stream devices, copied into
	// device at Close.
	tempDescr storage.Device
	tempData  storage.Device
	config    *Configuration

	closed bool
}

// OpenFile opens an existing image file read-only.
func OpenFile(path string) (*Image, error) {
	dev, err := storage.OpenFileForRead(path)
	if err != nil {
		return nil, xerrors.Errorf("open image %q: %w", path, err)
	}
	return openRead(dev)
}

// OpenMemory opens an existing image already held in memory. The Image does
// not take ownership of data.
func OpenMemory(data []byte) (*Image, error) {
	dev, err := storage.WrapMemory(data)
	if err != nil {
		return nil, xerrors.Errorf("open memory image: %w", err)
	}
	return openRead(dev)
}

// OpenOps opens an existing image via caller-supplied seek/read operations.
func OpenOps(ops storage.Ops) (*Image, error) {
	dev, err := storage.NewOps(ops, false)
	if err != nil {
		return nil, xerrors.Errorf("open ops image: %w", err)
	}
	return openRead(dev)
}

func openRead(dev storage.Device) (*Image, error) {
	img := &Image{mode: imageModeRead, device: dev}

	hdrBuf := make([]byte, imageHeaderSize)
	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return nil, xerrors.Errorf("open image: seek header: %w", err)
	}
	if err := readFullDevice(dev, hdrBuf); err != nil {
		return nil, xerrors.Errorf("open image: read header: %w", err)
	}
	if err := img.header.unmarshal(hdrBuf); err != nil {
		return nil, xerrors.Errorf("open image: %w", err)
	}

	img.features = newFeatureTable()
	if _, err := dev.Seek(int64(imageHeaderSize), io.SeekStart); err != nil {
		return nil, xerrors.Errorf("open image: seek features: %w", err)
	}
	for i := uint16(0); i < img.header.FeatureCount; i++ {
		rec, err := readFeatureRecord(dev)
		if err != nil {
			return nil, xerrors.Errorf("open image: %w", err)
		}
		if err := img.features.Add(rec.guid, rec.payload); err != nil {
			return nil, xerrors.Errorf("open image: %w", err)
		}
	}

	descrStream, err := block.Open(dev, int64(img.header.DescrOffset))
	if err != nil {
		return nil, xerrors.Errorf("open image: descriptor stream: %w", err)
	}
	dataStream, err := block.Open(dev, int64(img.header.DataOffset))
	if err != nil {
		return nil, xerrors.Errorf("open image: data stream: %w", err)
	}
	img.descrStream = descrStream
	img.dataStream = dataStream
	img.tree = descriptor.NewReadTree(descrStream, img.header.RootPos)

	return img, nil
}

func readFeatureRecord(dev storage.Device) (*featureRecord, error) {
	hdr := make([]byte, 20)
	if err := readFullDevice(dev, hdr); err != nil {
		return nil, xerrors.Errorf("read feature record: %w", err)
	}
	guid := unmarshalGUID(hdr[0:16])
	length := binary.LittleEndian.Uint32(hdr[16:20])
	if int(length) < 20 {
		return nil, xerrors.Errorf("read feature record: %w", ErrIntegrityError)
	}
	payload := make([]byte, int(length)-20)
	if len(payload) > 0 {
		if err := readFullDevice(dev, payload); err != nil {
			return nil, xerrors.Errorf("read feature record: %w", err)
		}
	}
	return &featureRecord{guid: guid, payload: payload}, nil
}

// CreateFile creates a new image at path, ready to be built and finalized
// by Close.
func CreateFile(path string, cfg *Configuration) (*Image, error) {
	dev, err := storage.CreateFileForWrite(path)
	if err != nil {
		return nil, xerrors.Errorf("create image %q: %w", path, err)
	}
	return createWrite(dev, cfg)
}

// CreateMemory creates a new image entirely in memory; use Bytes after
// Close to retrieve the built image.
func CreateMemory(cfg *Configuration) (*Image, error) {
	return createWrite(storage.NewMemory(), cfg)
}

// CreateOps creates a new image via caller-supplied seek/read/write
// operations.
func CreateOps(ops storage.Ops, cfg *Configuration) (*Image, error) {
	dev, err := storage.NewOps(ops, true)
	if err != nil {
		return nil, xerrors.Errorf("create ops image: %w", err)
	}
	return createWrite(dev, cfg)
}

func createWrite(dev storage.Device, cfg *Configuration) (*Image, error) {
	if cfg == nil {
		cfg = NewConfiguration()
	}
	tempDescr := storage.NewMemory()
	tempData := storage.NewMemory()

	descrStream, err := block.Create(tempDescr, 0, block.DescriptorBlockSize)
	if err != nil {
		return nil, xerrors.Errorf("create image: descriptor stream: %w", err)
	}
	dataStream, err := block.Create(tempData, 0, cfg.DataBlockSize)
	if err != nil {
		return nil, xerrors.Errorf("create image: data stream: %w", err)
	}

	img := &Image{
		mode:        imageModeWrite,
		device:      dev,
		descrStream: descrStream,
		dataStream:  dataStream,
		tempDescr:   tempDescr,
		tempData:    tempData,
		features:    newFeatureTable(),
		config:      cfg,
	}
	img.tree = descriptor.NewWriteTree(descrStream)
	return img, nil
}

// SetCodec installs a codec on both streams and records the runtime-only
// Filter-Ops feature, plus the persisted Filter marker (per 4.F, attached to
// both streams immediately).
func (img *Image) SetCodec(name string, codec *block.Codec) error {
	if img.mode != imageModeWrite {
		return xerrors.Errorf("set codec: %w", ErrPermissionDenied)
	}
	img.descrStream.SetCodec(codec)
	img.dataStream.SetCodec(codec)
	img.features.SetFilterOps(codec)
	return img.features.Add(FilterGUID, []byte(name))
}

// Root returns a directory handle bound to the image's root directory.
func (img *Image) Root() *DirectoryHandle {
	return &DirectoryHandle{img: img, dir: img.tree.Root()}
}

// FeatureAdd copies a persisted feature record into the image's feature
// table.
func (img *Image) FeatureAdd(guid GUID, payload []byte) error {
	return img.features.Add(guid, payload)
}

// FeatureQuery returns a persisted feature's payload bytes.
func (img *Image) FeatureQuery(guid GUID) ([]byte, error) {
	return img.features.Query(guid)
}

// Bytes returns the built image's bytes. Valid only after Close on an image
// created with CreateMemory.
func (img *Image) Bytes() ([]byte, bool) {
	return storage.MemoryBytes(img.device)
}

// Close finalizes (write mode) or releases (read mode) the image.
func (img *Image) Close() error {
	if img.closed {
		return nil
	}
	img.closed = true
	if img.mode == imageModeRead {
		return img.device.Close()
	}
	return img.closeWrite()
}

// closeWrite implements the six-step finalization order from 4.E.
func (img *Image) closeWrite() error {
	rootPos, err := img.tree.Flush()
	if err != nil {
		return xerrors.Errorf("close image: flush tree: %w", err)
	}

	files, dirs, symlinks, totalBytes := img.tree.Counts()
	overview := overviewPayload{Files: files, Directories: dirs, Symlinks: symlinks, TotalBytes: totalBytes}
	if _, err := img.features.Query(OverviewGUID); err != nil {
		if err := img.features.Add(OverviewGUID, overview.marshal()); err != nil {
			return xerrors.Errorf("close image: overview feature: %w", err)
		}
	}

	if err := img.descrStream.Finish(); err != nil {
		return xerrors.Errorf("close image: finish descriptor stream: %w", err)
	}
	if err := img.dataStream.Finish(); err != nil {
		return xerrors.Errorf("close image: finish data stream: %w", err)
	}

	descrBytes, ok := storage.MemoryBytes(img.tempDescr)
	if !ok {
		return xerrors.Errorf("close image: %w", ErrIOError)
	}
	dataBytes, _ := storage.MemoryBytes(img.tempData)

	hdr := imageHeader{
		Magic:        ImageMagic,
		Version:      ImageVersion,
		Architecture: img.config.Architecture,
		FeatureCount: uint16(len(img.features.records)),
		DescrOffset:  imageHeaderSize + totalFeatureBytes(img.features),
		RootPos:      rootPos,
	}
	hdr.DataOffset = hdr.DescrOffset + uint32(len(descrBytes))

	if _, err := img.device.Seek(0, io.SeekStart); err != nil {
		return xerrors.Errorf("close image: seek: %w", err)
	}
	if _, err := img.device.Write(hdr.marshal()); err != nil {
		return xerrors.Errorf("close image: write header: %w", err)
	}
	for _, rec := range img.features.records {
		if _, err := img.device.Write(rec.marshal()); err != nil {
			return xerrors.Errorf("close image: write feature: %w", err)
		}
	}
	if _, err := img.device.CopyFrom(img.tempDescr); err != nil {
		return xerrors.Errorf("close image: copy descriptor stream: %w", err)
	}
	if _, err := img.device.CopyFrom(img.tempData); err != nil {
		return xerrors.Errorf("close image: copy data stream: %w", err)
	}

	if err := img.device.Close(); err != nil {
		return xerrors.Errorf("close image: %w", err)
	}
	return nil
}

func totalFeatureBytes(t *featureTable) uint32 {
	var n uint32
	for _, rec := range t.records {
		n += uint32(featureHeaderSize + len(rec.payload))
	}
	return n
}

func readFullDevice(dev storage.Device, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := dev.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
		if n == 0 {
			return xerrors.Errorf("short read: %w", ErrIOError)
		}
	}
	return nil
}
