// Command mkvafs builds a VaFs image from a host directory tree or an
// existing cpio archive.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/cavaliercoder/go-cpio"
	"github.com/google/renameio"
	"github.com/klauspost/compress/zstd"
	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs"
	"github.com/Meulengracht/vali-rofs/internal/block"
	"github.com/Meulengracht/vali-rofs/internal/codec"
	"github.com/Meulengracht/vali-rofs/internal/storage"
	"github.com/Meulengracht/vali-rofs/internal/vlog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "mkvafs:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("mkvafs", flag.ExitOnError)
	arch := fs.String("arch", "amd64", "target architecture (i386, amd64, arm, arm64, rv32, rv64, all)")
	compression := fs.String("compression", "", "block codec: zstd, gzip, or empty for none")
	out := fs.String("out", "image.vafs", "output image path")
	blockSize := fs.Uint("block-size", 0, "data stream block size in bytes (0: use default)")
	fromCpio := fs.String("from-cpio", "", "import entries from an existing cpio archive instead of a directory")
	gitIgnore := fs.Bool("git-ignore", false, "skip entries matched by .gitignore files along the walk")
	verbose := fs.Bool("v", false, "verbose logging")
	veryVerbose := fs.Bool("vv", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *veryVerbose:
		vlog.Initialize(vlog.LevelDebug)
	case *verbose:
		vlog.Initialize(vlog.LevelInfo)
	case isatty.IsTerminal(os.Stderr.Fd()):
		// an interactive terminal gets progress-level output by default;
		// a redirected/piped stderr (e.g. from a build script) stays quiet.
		vlog.Initialize(vlog.LevelInfo)
	default:
		vlog.Initialize(vlog.LevelWarning)
	}

	if *fromCpio == "" && fs.NArg() < 1 {
		return xerrors.Errorf("usage: mkvafs [flags] <source-dir>")
	}

	architecture, err := vafs.ParseArchitecture(*arch)
	if err != nil {
		return xerrors.Errorf("parse arch %q: %w", *arch, err)
	}

	cfg := vafs.NewConfiguration().SetArchitecture(architecture)
	if *blockSize != 0 {
		cfg, err = cfg.SetBlockSize(uint32(*blockSize))
		if err != nil {
			return xerrors.Errorf("block size: %w", err)
		}
	}

	pf, err := renameio.TempFile("", *out)
	if err != nil {
		return xerrors.Errorf("create pending output %q: %w", *out, err)
	}
	defer pf.Cleanup()

	img, err := vafs.CreateOps(storage.Ops{Seek: pf.Seek, Read: pf.Read, Write: pf.Write}, cfg)
	if err != nil {
		return xerrors.Errorf("create image: %w", err)
	}

	if *compression != "" {
		codecImpl, err := resolveCodec(*compression)
		if err != nil {
			return err
		}
		if err := img.SetCodec(*compression, codecImpl); err != nil {
			return xerrors.Errorf("set codec: %w", err)
		}
	}

	if *fromCpio != "" {
		if err := importCpio(img, *fromCpio); err != nil {
			return err
		}
	} else {
		ignore, err := loadGitignore(fs.Arg(0))
		if err != nil {
			return err
		}
		if !*gitIgnore {
			ignore = &gitignore{}
		}
		if err := buildDir(img.Root(), fs.Arg(0), ignore); err != nil {
			return xerrors.Errorf("build image: %w", err)
		}
	}

	if err := img.Close(); err != nil {
		return xerrors.Errorf("close image: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("replace %q: %w", *out, err)
	}
	vlog.Infof("wrote %s", *out)
	return nil
}

func resolveCodec(name string) (*block.Codec, error) {
	switch name {
	case "zstd":
		return codec.Zstd(zstd.SpeedDefault)
	case "gzip":
		return codec.Gzip(6)
	default:
		return nil, xerrors.Errorf("unknown compression %q", name)
	}
}

// importCpio walks a cpio archive (as produced by the Linux initramfs
// tooling) and recreates its entries inside the image.
func importCpio(img *vafs.Image, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("open cpio %q: %w", path, err)
	}
	defer f.Close()

	dirs := map[string]*vafs.DirectoryHandle{".": img.Root()}
	r := cpio.NewReader(f)
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return xerrors.Errorf("read cpio entry: %w", err)
		}
		if hdr.Name == "." || hdr.Name == "TRAILER!!!" {
			continue
		}
		parentDir, name := splitCpioPath(hdr.Name)
		parent, err := ensureCpioDir(dirs, parentDir)
		if err != nil {
			return err
		}

		switch {
		case hdr.Mode&cpio.ModeDir != 0:
			sub, err := parent.CreateSubdirectory(name, uint32(hdr.Mode.Perm()))
			if err != nil {
				return xerrors.Errorf("create directory %q: %w", hdr.Name, err)
			}
			dirs[hdr.Name] = sub
		case hdr.Mode&cpio.ModeSymlink != 0:
			target := make([]byte, hdr.Size)
			if _, err := io.ReadFull(r, target); err != nil {
				return xerrors.Errorf("read symlink target %q: %w", hdr.Name, err)
			}
			if err := parent.CreateSymlink(name, string(target)); err != nil {
				return xerrors.Errorf("create symlink %q: %w", hdr.Name, err)
			}
		default:
			fh, err := parent.CreateFile(name, uint32(hdr.Mode.Perm()))
			if err != nil {
				return xerrors.Errorf("create file %q: %w", hdr.Name, err)
			}
			if _, err := io.Copy(fh, r); err != nil {
				fh.Close()
				return xerrors.Errorf("write file %q: %w", hdr.Name, err)
			}
			fh.Close()
		}
	}
	return nil
}

func splitCpioPath(name string) (dir, base string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[:i], name[i+1:]
		}
	}
	return ".", name
}

func ensureCpioDir(dirs map[string]*vafs.DirectoryHandle, name string) (*vafs.DirectoryHandle, error) {
	if d, ok := dirs[name]; ok {
		return d, nil
	}
	parentDir, base := splitCpioPath(name)
	parent, err := ensureCpioDir(dirs, parentDir)
	if err != nil {
		return nil, err
	}
	sub, err := parent.CreateSubdirectory(base, 0o755)
	if err != nil {
		return nil, xerrors.Errorf("create implicit directory %q: %w", name, err)
	}
	dirs[name] = sub
	return sub, nil
}
