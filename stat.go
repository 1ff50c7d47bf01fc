package vafs

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/descriptor"
)

// Stat is the result of PathStat: the entry's on-disk type (folded into a
// Unix-style mode with the stored, unenforced permission bits) and size.
type Stat struct {
	Mode uint32
	Size uint64
}

// OpenFile resolves path (following symlinks) and opens it as a file.
func (img *Image) OpenFile(path string) (*FileHandle, error) {
	e, err := img.tree.Resolve(path)
	if err != nil {
		return nil, xerrors.Errorf("open file %q: %w", path, err)
	}
	f, ok := e.(*descriptor.File)
	if !ok {
		return nil, xerrors.Errorf("open file %q: %w", path, ErrIsADirectory)
	}
	return img.openFileHandle(f)
}

// OpenDirectory resolves path (following symlinks) and opens it as a
// directory.
func (img *Image) OpenDirectory(path string) (*DirectoryHandle, error) {
	e, err := img.tree.Resolve(path)
	if err != nil {
		return nil, xerrors.Errorf("open directory %q: %w", path, err)
	}
	dir, ok := e.(*descriptor.Directory)
	if !ok {
		return nil, xerrors.Errorf("open directory %q: %w", path, ErrNotADirectory)
	}
	return &DirectoryHandle{img: img, dir: dir}, nil
}

// PathStat resolves path, following symlinks, and reports its type-folded
// mode and size.
func (img *Image) PathStat(path string) (Stat, error) {
	e, err := img.tree.Resolve(path)
	if err != nil {
		return Stat{}, xerrors.Errorf("stat %q: %w", path, err)
	}
	switch v := e.(type) {
	case *descriptor.File:
		return Stat{Mode: unix.S_IFREG | v.Permissions, Size: uint64(v.FileLength)}, nil
	case *descriptor.Directory:
		return Stat{Mode: unix.S_IFDIR | v.Permissions}, nil
	case *descriptor.Symlink:
		return Stat{Mode: unix.S_IFLNK, Size: uint64(len(v.Target))}, nil
	default:
		return Stat{}, xerrors.Errorf("stat %q: %w", path, ErrInvalidArgument)
	}
}
