// Command unvafs extracts or lists the contents of a VaFs image.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cavaliercoder/go-cpio"
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs"
	"github.com/Meulengracht/vali-rofs/internal/descriptor"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "unvafs:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("unvafs", flag.ExitOnError)
	list := fs.Bool("list", false, "list the image tree instead of extracting it")
	toCpio := fs.String("to-cpio", "", "write the image contents out as a cpio archive instead of a host directory")
	out := fs.String("out", ".", "destination directory for extraction (ignored with -list/-to-cpio)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return xerrors.Errorf("usage: unvafs [flags] <image>")
	}

	img, err := vafs.OpenFile(fs.Arg(0))
	if err != nil {
		return xerrors.Errorf("open image: %w", err)
	}
	defer img.Close()

	switch {
	case *list:
		return listTree(img)
	case *toCpio != "":
		return exportCpio(img, *toCpio)
	default:
		return extractTo(img, *out)
	}
}

// listTree prints every path in the image, depth-first, mirroring children
// in their natural (reverse-of-insertion) order.
func listTree(img *vafs.Image) error {
	return walkHandle(img.Root(), "/", func(path string, typ uint16) error {
		suffix := ""
		switch typ {
		case descriptor.TypeDirectory:
			suffix = "/"
		case descriptor.TypeSymlink:
			suffix = "@"
		}
		fmt.Println(path + suffix)
		return nil
	})
}

func walkHandle(dir *vafs.DirectoryHandle, base string, visit func(string, uint16) error) error {
	for {
		name, typ, err := dir.ReadEntry()
		if err != nil {
			if errors.Is(err, vafs.ErrNotFound) {
				return nil
			}
			return err
		}
		path := filepath.Join(base, name)
		if err := visit(path, typ); err != nil {
			return err
		}
		if typ == descriptor.TypeDirectory {
			sub, err := dir.OpenSubdirectory(name)
			if err != nil {
				return xerrors.Errorf("open %q: %w", path, err)
			}
			if err := walkHandle(sub, path, visit); err != nil {
				return err
			}
		}
	}
}

// extractTo recreates the image's tree as real files under destDir.
func extractTo(img *vafs.Image, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return xerrors.Errorf("create %q: %w", destDir, err)
	}
	return walkHandle(img.Root(), "/", func(path string, typ uint16) error {
		hostPath := filepath.Join(destDir, path)
		switch typ {
		case descriptor.TypeDirectory:
			return os.MkdirAll(hostPath, 0o755)
		case descriptor.TypeSymlink:
			target, err := readSymlinkAt(img, path)
			if err != nil {
				return err
			}
			_ = os.Remove(hostPath)
			return os.Symlink(target, hostPath)
		default:
			return extractFile(img, path, hostPath)
		}
	})
}

func readSymlinkAt(img *vafs.Image, path string) (string, error) {
	h, err := img.OpenSymlink(path)
	if err != nil {
		return "", xerrors.Errorf("read symlink %q: %w", path, err)
	}
	defer h.Close()
	return h.Target(), nil
}

func extractFile(img *vafs.Image, imgPath, hostPath string) error {
	fh, err := img.OpenFile(imgPath)
	if err != nil {
		return xerrors.Errorf("open %q: %w", imgPath, err)
	}
	defer fh.Close()

	out, err := os.OpenFile(hostPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(fh.Permissions()&0o777))
	if err != nil {
		return xerrors.Errorf("create %q: %w", hostPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, fh); err != nil {
		return xerrors.Errorf("extract %q: %w", imgPath, err)
	}
	return nil
}

// exportCpio re-serializes the image's tree into a newc cpio archive,
// inverse of mkvafs's -from-cpio import.
func exportCpio(img *vafs.Image, outPath string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return xerrors.Errorf("create %q: %w", outPath, err)
	}
	defer f.Close()

	wr := cpio.NewWriter(f)

	err = walkHandle(img.Root(), "/", func(path string, typ uint16) error {
		name := path[1:] // cpio entries are relative, no leading slash
		switch typ {
		case descriptor.TypeDirectory:
			return wr.WriteHeader(&cpio.Header{Name: name, Mode: cpio.ModeDir | 0755})
		case descriptor.TypeSymlink:
			target, err := readSymlinkAt(img, path)
			if err != nil {
				return err
			}
			hdr := &cpio.Header{Name: name, Mode: cpio.ModeSymlink | 0644, Size: int64(len(target))}
			if err := wr.WriteHeader(hdr); err != nil {
				return err
			}
			_, err = wr.Write([]byte(target))
			return err
		default:
			fh, err := img.OpenFile(path)
			if err != nil {
				return xerrors.Errorf("open %q: %w", path, err)
			}
			defer fh.Close()
			hdr := &cpio.Header{
				Name: name,
				Mode: cpio.FileMode(fh.Permissions() & 0o777),
				Size: int64(fh.Length()),
			}
			if err := wr.WriteHeader(hdr); err != nil {
				return err
			}
			_, err = io.Copy(wr, fh)
			return err
		}
	})
	if err != nil {
		return err
	}
	return wr.Close()
}
