package descriptor

import (
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/block"
	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

// Mode fixes a Tree as read-only or write-only for its whole lifetime.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

const (
	maxWriterNameLen = 128
	maxReaderNameLen = 255
	maxResolveBuffer = 4096
	maxSymlinkDepth  = 40

	rootName = "root"
	rootPerm = 0o777
)

// Tree is the in-memory directory/file/symlink graph, backed by a
// descriptor block.Stream. A write-mode tree exists only in memory until
// Flush; a read-mode tree's directories materialize their children lazily.
type Tree struct {
	mode   Mode
	stream *block.Stream
	root   *Directory
}

// NewWriteTree creates a fresh tree with an empty root directory, ready for
// CreateDirectory/CreateFile/CreateSymlink calls.
func NewWriteTree(stream *block.Stream) *Tree {
	t := &Tree{mode: ModeWrite, stream: stream}
	t.root = &Directory{NameValue: rootName, Permissions: rootPerm, loaded: true, tree: t}
	return t
}

// NewReadTree attaches a reader root directory whose listing lives at
// rootPos within stream.
func NewReadTree(stream *block.Stream, rootPos BlockPosition) *Tree {
	t := &Tree{mode: ModeRead, stream: stream}
	t.root = &Directory{NameValue: rootName, ChildPos: rootPos, tree: t}
	return t
}

// Root returns the tree's root directory.
func (t *Tree) Root() *Directory { return t.root }

// Mode reports whether the tree is open for reading or writing.
func (t *Tree) Mode() Mode { return t.mode }

func (t *Tree) nameLimit() int {
	if t.mode == ModeWrite {
		return maxWriterNameLen
	}
	return maxReaderNameLen
}

// Flush serializes the tree to its descriptor stream in post-order: every
// directory's subdirectories are flushed (recursively) before the directory
// writes its own listing, so a parent always knows a child directory's
// on-disk position before it writes the child's descriptor.
func (t *Tree) Flush() (BlockPosition, error) {
	if t.mode != ModeWrite {
		return BlockPosition{}, xerrors.Errorf("flush tree: %w", vafserrors.ErrPermissionDenied)
	}
	return t.flushDirectory(t.root)
}

func (t *Tree) flushDirectory(d *Directory) (BlockPosition, error) {
	for _, c := range d.children {
		if sub, ok := c.(*Directory); ok {
			pos, err := t.flushDirectory(sub)
			if err != nil {
				return BlockPosition{}, err
			}
			sub.ChildPos = pos
		}
	}

	blockIdx, byteOff := t.stream.Position()
	pos := BlockPosition{BlockIndex: blockIdx, ByteOffset: uint32(byteOff)}

	countBuf := make([]byte, directoryListingCountSize)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(d.children)))
	if _, err := t.stream.Write(countBuf); err != nil {
		return BlockPosition{}, xerrors.Errorf("flush directory %q: %w", d.NameValue, err)
	}
	for _, c := range d.children {
		buf, err := marshalEntry(c)
		if err != nil {
			return BlockPosition{}, xerrors.Errorf("flush directory %q: %w", d.NameValue, err)
		}
		if _, err := t.stream.Write(buf); err != nil {
			return BlockPosition{}, xerrors.Errorf("flush directory %q: %w", d.NameValue, err)
		}
	}
	return pos, nil
}

// ensureLoaded performs the lazy-load algorithm from 4.D the first time a
// read-mode directory's children are requested.
func (d *Directory) ensureLoaded() error {
	if d.loaded {
		return nil
	}
	if err := d.tree.stream.Lock(); err != nil {
		return xerrors.Errorf("load directory %q: %w", d.NameValue, err)
	}
	defer d.tree.stream.Unlock()

	if err := d.tree.stream.Seek(d.ChildPos.BlockIndex, int(d.ChildPos.ByteOffset)); err != nil {
		return xerrors.Errorf("load directory %q: %w", d.NameValue, err)
	}
	countBuf := make([]byte, directoryListingCountSize)
	if _, err := io.ReadFull(d.tree.stream, countBuf); err != nil {
		return xerrors.Errorf("load directory %q: %w", d.NameValue, err)
	}
	count := binary.LittleEndian.Uint32(countBuf)

	children := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := readEntry(d.tree.stream, d.tree)
		if err != nil {
			return xerrors.Errorf("load directory %q: %w", d.NameValue, err)
		}
		children = append(children, e)
	}
	d.children = children
	d.loaded = true
	return nil
}

// Children returns the directory's entries, loading them from disk on first
// use in read mode.
func (d *Directory) Children() ([]Entry, error) {
	if err := d.ensureLoaded(); err != nil {
		return nil, err
	}
	return d.children, nil
}

func (d *Directory) find(name string) (Entry, error) {
	return d.Lookup(name)
}

// Lookup returns the direct child named name, loading the directory first
// if necessary.
func (d *Directory) Lookup(name string) (Entry, error) {
	children, err := d.Children()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, xerrors.Errorf("%q: %w", name, vafserrors.ErrNotFound)
}

func validateName(name string, limit int) error {
	if name == "" || len(name) > limit {
		return xerrors.Errorf("invalid name %q: %w", name, vafserrors.ErrNameTooLong)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return xerrors.Errorf("invalid name %q: %w", name, vafserrors.ErrInvalidArgument)
		}
	}
	return nil
}

func (d *Directory) requireWrite() error {
	if d.tree.mode != ModeWrite {
		return xerrors.Errorf("%w", vafserrors.ErrPermissionDenied)
	}
	return nil
}

func (d *Directory) checkNew(name string) error {
	if _, err := d.find(name); err == nil {
		return xerrors.Errorf("create %q: %w", name, vafserrors.ErrAlreadyExists)
	} else if !errors.Is(err, vafserrors.ErrNotFound) {
		return err
	}
	return nil
}

// CreateDirectory adds a new, empty subdirectory, pushed to the head of the
// child list per the writer's insertion order (4.D).
func (d *Directory) CreateDirectory(name string, perm uint32) (*Directory, error) {
	if err := d.requireWrite(); err != nil {
		return nil, err
	}
	if err := validateName(name, maxWriterNameLen); err != nil {
		return nil, err
	}
	if err := d.checkNew(name); err != nil {
		return nil, err
	}
	child := &Directory{NameValue: name, Permissions: perm, loaded: true, tree: d.tree}
	d.children = append([]Entry{child}, d.children...)
	return child, nil
}

// CreateFile adds a new, empty regular file entry; its data position and
// length are filled in by the caller as the data stream is written.
func (d *Directory) CreateFile(name string, perm uint32) (*File, error) {
	if err := d.requireWrite(); err != nil {
		return nil, err
	}
	if err := validateName(name, maxWriterNameLen); err != nil {
		return nil, err
	}
	if err := d.checkNew(name); err != nil {
		return nil, err
	}
	child := &File{NameValue: name, Permissions: perm}
	d.children = append([]Entry{child}, d.children...)
	return child, nil
}

// Counts walks the whole tree and returns aggregate entry counts and total
// uncompressed file bytes, the payload the engine persists as the Overview
// feature at close.
func (t *Tree) Counts() (files, directories, symlinks uint32, totalBytes uint64) {
	var walk func(d *Directory)
	walk = func(d *Directory) {
		directories++
		for _, c := range d.children {
			switch v := c.(type) {
			case *Directory:
				walk(v)
			case *File:
				files++
				totalBytes += uint64(v.FileLength)
			case *Symlink:
				symlinks++
			}
		}
	}
	walk(t.root)
	return
}

// CreateSymlink adds a new symlink entry pointing at target.
func (d *Directory) CreateSymlink(name, target string) (*Symlink, error) {
	if err := d.requireWrite(); err != nil {
		return nil, err
	}
	if err := validateName(name, maxWriterNameLen); err != nil {
		return nil, err
	}
	if err := d.checkNew(name); err != nil {
		return nil, err
	}
	child := &Symlink{NameValue: name, Target: target}
	d.children = append([]Entry{child}, d.children...)
	return child, nil
}
