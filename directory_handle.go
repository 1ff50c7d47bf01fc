package vafs

import (
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/descriptor"
)

// DirectoryHandle is the handle-based surface over a directory tree node: a
// reference to the node plus a current iteration index (§4.G).
type DirectoryHandle struct {
	img *Image
	dir *descriptor.Directory
	idx int
}

// Close releases the handle. Directory handles borrow from the tree and
// hold no device resources of their own.
func (h *DirectoryHandle) Close() error { return nil }

// ReadEntry returns the name and type of the entry at the current iteration
// index and advances it; end of directory is signaled by NotFound.
func (h *DirectoryHandle) ReadEntry() (name string, typ uint16, err error) {
	children, err := h.dir.Children()
	if err != nil {
		return "", 0, err
	}
	if h.idx >= len(children) {
		return "", 0, xerrors.Errorf("read entry: %w", ErrNotFound)
	}
	e := children[h.idx]
	h.idx++
	return e.Name(), e.Type(), nil
}

// Rewind resets the iteration index to the start of the directory.
func (h *DirectoryHandle) Rewind() { h.idx = 0 }

// OpenSubdirectory opens an existing child directory by name.
func (h *DirectoryHandle) OpenSubdirectory(name string) (*DirectoryHandle, error) {
	e, err := h.dir.Lookup(name)
	if err != nil {
		return nil, xerrors.Errorf("open subdirectory %q: %w", name, err)
	}
	sub, ok := e.(*descriptor.Directory)
	if !ok {
		return nil, xerrors.Errorf("open subdirectory %q: %w", name, ErrNotADirectory)
	}
	return &DirectoryHandle{img: h.img, dir: sub}, nil
}

// CreateSubdirectory creates and opens a new child directory (write mode).
func (h *DirectoryHandle) CreateSubdirectory(name string, perm uint32) (*DirectoryHandle, error) {
	sub, err := h.dir.CreateDirectory(name, perm)
	if err != nil {
		return nil, xerrors.Errorf("create subdirectory %q: %w", name, err)
	}
	return &DirectoryHandle{img: h.img, dir: sub}, nil
}

// OpenFile opens an existing child file by name. In write mode, the returned
// handle holds the data stream's exclusive-access lock until Close.
func (h *DirectoryHandle) OpenFile(name string) (*FileHandle, error) {
	e, err := h.dir.Lookup(name)
	if err != nil {
		return nil, xerrors.Errorf("open file %q: %w", name, err)
	}
	f, ok := e.(*descriptor.File)
	if !ok {
		return nil, xerrors.Errorf("open file %q: %w", name, ErrIsADirectory)
	}
	return h.img.openFileHandle(f)
}

// CreateFile creates a new, empty child file and opens it for writing,
// acquiring the data stream's exclusive-access lock.
func (h *DirectoryHandle) CreateFile(name string, perm uint32) (*FileHandle, error) {
	f, err := h.dir.CreateFile(name, perm)
	if err != nil {
		return nil, xerrors.Errorf("create file %q: %w", name, err)
	}
	return h.img.openFileHandle(f)
}

// CreateSymlink creates a new symlink entry pointing at target.
func (h *DirectoryHandle) CreateSymlink(name, target string) error {
	_, err := h.dir.CreateSymlink(name, target)
	if err != nil {
		return xerrors.Errorf("create symlink %q: %w", name, err)
	}
	return nil
}

// ReadSymlink returns the target of the child symlink named name, without
// following it.
func (h *DirectoryHandle) ReadSymlink(name string) (string, error) {
	e, err := h.dir.Lookup(name)
	if err != nil {
		return "", xerrors.Errorf("read symlink %q: %w", name, err)
	}
	sym, ok := e.(*descriptor.Symlink)
	if !ok {
		return "", xerrors.Errorf("read symlink %q: %w", name, ErrInvalidArgument)
	}
	return sym.Target, nil
}
