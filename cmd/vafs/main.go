// Command vafs mounts a VaFs image read-only via FUSE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs"
	"github.com/Meulengracht/vali-rofs/internal/descriptor"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "vafs:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fset := flag.NewFlagSet("vafs", flag.ExitOnError)
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 2 {
		return xerrors.Errorf("usage: vafs <image> <mountpoint>")
	}

	img, err := vafs.OpenFile(fset.Arg(0))
	if err != nil {
		return xerrors.Errorf("open image: %w", err)
	}
	vafs.RegisterAtExit(img.Close)

	fs := newFuseFS(img)
	server := fuseutil.NewFileSystemServer(fs)

	mountpoint := fset.Arg(1)
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:   "vafs",
		ReadOnly: true,
		Options: map[string]string{
			"allow_other": "",
		},
	})
	if err != nil {
		return xerrors.Errorf("mount %q: %w", mountpoint, err)
	}

	ctx, cancel := vafs.InterruptibleContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = fuse.Unmount(mountpoint)
	}()

	if err := mfs.Join(context.Background()); err != nil {
		return xerrors.Errorf("join: %w", err)
	}
	return vafs.RunAtExit()
}

// never is used for FUSE cache expiration timestamps: the image is
// immutable for the process lifetime, so entries never need revalidation.
var never = time.Now().Add(365 * 24 * time.Hour)

const rootInode = fuseops.RootInodeID

// fuseFS adapts a single read-only Image to fuseutil.FileSystem. Inodes are
// allocated lazily as paths are discovered via LookUpInode; the mapping is
// by path rather than by descriptor node, since descriptor nodes are
// private to the vafs package.
type fuseFS struct {
	fuseutil.NotImplementedFileSystem

	img *vafs.Image

	mu        sync.Mutex
	nextInode fuseops.InodeID
	pathOf    map[fuseops.InodeID]string
	inodeOf   map[string]fuseops.InodeID
}

func newFuseFS(img *vafs.Image) *fuseFS {
	fs := &fuseFS{
		img:       img,
		nextInode: rootInode,
		pathOf:    make(map[fuseops.InodeID]string),
		inodeOf:   make(map[string]fuseops.InodeID),
	}
	fs.pathOf[rootInode] = "/"
	fs.inodeOf["/"] = rootInode
	return fs
}

func (fs *fuseFS) inodeForPath(path string) fuseops.InodeID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if id, ok := fs.inodeOf[path]; ok {
		return id
	}
	fs.nextInode++
	id := fs.nextInode
	fs.pathOf[id] = path
	fs.inodeOf[path] = id
	return id
}

func (fs *fuseFS) pathForInode(id fuseops.InodeID) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, ok := fs.pathOf[id]
	return p, ok
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func (fs *fuseFS) attributesFor(path string) (fuseops.InodeAttributes, error) {
	st, err := fs.img.PathStat(path)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	mode := os.FileMode(st.Mode & 0o777)
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	}
	return fuseops.InodeAttributes{
		Size:  st.Size,
		Nlink: 1,
		Mode:  mode,
		Atime: never,
		Mtime: never,
		Ctime: never,
	}, nil
}

func (fs *fuseFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.IoSize = 65536
	return nil
}

func (fs *fuseFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never

	parent, ok := fs.pathForInode(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	path := childPath(parent, op.Name)
	attrs, err := fs.attributesFor(path)
	if err != nil {
		return fuse.ENOENT
	}
	op.Entry.Child = fs.inodeForPath(path)
	op.Entry.Attributes = attrs
	return nil
}

func (fs *fuseFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	op.AttributesExpiration = never
	path, ok := fs.pathForInode(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	attrs, err := fs.attributesFor(path)
	if err != nil {
		return fuse.ENOENT
	}
	op.Attributes = attrs
	return nil
}

func (fs *fuseFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	path, ok := fs.pathForInode(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	if _, err := fs.img.OpenDirectory(path); err != nil {
		return fuse.ENOENT
	}
	return nil
}

func (fs *fuseFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	path, ok := fs.pathForInode(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	dir, err := fs.img.OpenDirectory(path)
	if err != nil {
		return fuse.ENOENT
	}
	defer dir.Close()

	var entries []fuseutil.Dirent
	for {
		name, typ, err := dir.ReadEntry()
		if err != nil {
			break // end of directory, per ReadEntry's NotFound contract
		}
		direntType := fuseutil.DT_File
		childFullPath := childPath(path, name)
		switch typ {
		case descriptor.TypeDirectory:
			direntType = fuseutil.DT_Directory
		case descriptor.TypeSymlink:
			direntType = fuseutil.DT_Link
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  fs.inodeForPath(childFullPath),
			Name:   name,
			Type:   direntType,
		})
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return fuse.EIO
	}
	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *fuseFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	op.KeepPageCache = true
	path, ok := fs.pathForInode(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	if _, err := fs.img.OpenFile(path); err != nil {
		return fuse.ENOENT
	}
	return nil
}

func (fs *fuseFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	path, ok := fs.pathForInode(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	fh, err := fs.img.OpenFile(path)
	if err != nil {
		return fuse.ENOENT
	}
	defer fh.Close()

	if _, err := fh.Seek(op.Offset, io.SeekStart); err != nil {
		return xerrors.Errorf("seek: %w", err)
	}
	n, err := fh.Read(op.Dst)
	op.BytesRead = n
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (fs *fuseFS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	path, ok := fs.pathForInode(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	h, err := fs.img.OpenSymlink(path)
	if err != nil {
		return fuse.ENOENT
	}
	defer h.Close()
	op.Target = h.Target()
	return nil
}

func (fs *fuseFS) Destroy() {}
