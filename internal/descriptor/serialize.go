package descriptor

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

// baseSize is the common prefix every descriptor record begins with: type,
// length.
const baseSize = 4

const (
	fileFixedSize = baseSize + 8 + 4 + 4  // + data_pos(8) + file_length(4) + permissions(4)
	dirFixedSize  = baseSize + 8 + 4      // + child_pos(8) + permissions(4)
	symFixedSize  = baseSize + 2 + 2      // + name_length(2) + target_length(2)
)

func marshalEntry(e Entry) ([]byte, error) {
	switch v := e.(type) {
	case *File:
		return marshalFile(v), nil
	case *Directory:
		return marshalDirectory(v), nil
	case *Symlink:
		return marshalSymlink(v), nil
	default:
		return nil, xerrors.Errorf("marshal descriptor: %w", vafserrors.ErrInvalidArgument)
	}
}

func marshalFile(f *File) []byte {
	name := []byte(f.NameValue)
	length := fileFixedSize + len(name)
	buf := make([]byte, length)
	binary.LittleEndian.PutUint16(buf[0:2], TypeFile)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(length))
	binary.LittleEndian.PutUint32(buf[4:8], f.DataPos.BlockIndex)
	binary.LittleEndian.PutUint32(buf[8:12], f.DataPos.ByteOffset)
	binary.LittleEndian.PutUint32(buf[12:16], f.FileLength)
	binary.LittleEndian.PutUint32(buf[16:20], f.Permissions)
	copy(buf[20:], name)
	return buf
}

func marshalDirectory(d *Directory) []byte {
	name := []byte(d.NameValue)
	length := dirFixedSize + len(name)
	buf := make([]byte, length)
	binary.LittleEndian.PutUint16(buf[0:2], TypeDirectory)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(length))
	binary.LittleEndian.PutUint32(buf[4:8], d.ChildPos.BlockIndex)
	binary.LittleEndian.PutUint32(buf[8:12], d.ChildPos.ByteOffset)
	binary.LittleEndian.PutUint32(buf[12:16], d.Permissions)
	copy(buf[16:], name)
	return buf
}

func marshalSymlink(s *Symlink) []byte {
	name := []byte(s.NameValue)
	target := []byte(s.Target)
	length := symFixedSize + len(name) + len(target)
	buf := make([]byte, length)
	binary.LittleEndian.PutUint16(buf[0:2], TypeSymlink)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(length))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(name)))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(target)))
	copy(buf[8:8+len(name)], name)
	copy(buf[8+len(name):], target)
	return buf
}

// readEntry reads one descriptor record from r (a read-mode block.Stream),
// materializing a tree node owned by tree.
func readEntry(r io.Reader, tree *Tree) (Entry, error) {
	base := make([]byte, baseSize)
	if _, err := io.ReadFull(r, base); err != nil {
		return nil, xerrors.Errorf("read descriptor: %w", vafserrors.ErrIOError)
	}
	typ := binary.LittleEndian.Uint16(base[0:2])
	length := binary.LittleEndian.Uint16(base[2:4])
	if int(length) < baseSize {
		return nil, xerrors.Errorf("read descriptor: %w", vafserrors.ErrIntegrityError)
	}
	body := make([]byte, int(length)-baseSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, xerrors.Errorf("read descriptor: %w", vafserrors.ErrIOError)
		}
	}

	switch typ {
	case TypeFile:
		if len(body) < fileFixedSize-baseSize {
			return nil, xerrors.Errorf("read file descriptor: %w", vafserrors.ErrIntegrityError)
		}
		f := &File{}
		f.DataPos.BlockIndex = binary.LittleEndian.Uint32(body[0:4])
		f.DataPos.ByteOffset = binary.LittleEndian.Uint32(body[4:8])
		f.FileLength = binary.LittleEndian.Uint32(body[8:12])
		f.Permissions = binary.LittleEndian.Uint32(body[12:16])
		f.NameValue = string(body[16:])
		return f, nil
	case TypeDirectory:
		if len(body) < dirFixedSize-baseSize {
			return nil, xerrors.Errorf("read directory descriptor: %w", vafserrors.ErrIntegrityError)
		}
		d := &Directory{tree: tree}
		d.ChildPos.BlockIndex = binary.LittleEndian.Uint32(body[0:4])
		d.ChildPos.ByteOffset = binary.LittleEndian.Uint32(body[4:8])
		d.Permissions = binary.LittleEndian.Uint32(body[8:12])
		d.NameValue = string(body[12:])
		return d, nil
	case TypeSymlink:
		if len(body) < symFixedSize-baseSize {
			return nil, xerrors.Errorf("read symlink descriptor: %w", vafserrors.ErrIntegrityError)
		}
		nameLen := binary.LittleEndian.Uint16(body[0:2])
		targetLen := binary.LittleEndian.Uint16(body[2:4])
		rest := body[4:]
		if len(rest) < int(nameLen)+int(targetLen) {
			return nil, xerrors.Errorf("read symlink descriptor: %w", vafserrors.ErrIntegrityError)
		}
		s := &Symlink{}
		s.NameValue = string(rest[:nameLen])
		s.Target = string(rest[nameLen : nameLen+targetLen])
		return s, nil
	default:
		return nil, xerrors.Errorf("read descriptor: unknown type %d: %w", typ, vafserrors.ErrIntegrityError)
	}
}

// directoryListingCountSize is the size of the u32 count prefixing a
// directory's child listing.
const directoryListingCountSize = 4
