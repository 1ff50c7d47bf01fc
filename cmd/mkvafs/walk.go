package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs"
)

// hostEntry is a host-filesystem entry gathered concurrently before it is
// written into the image sequentially (the image's data stream allows only
// one open writer at a time).
type hostEntry struct {
	name    string
	path    string
	info    os.FileInfo
	target  string // populated for symlinks
}

// gitignore is a minimal, best-effort .gitignore matcher: each non-comment,
// non-blank line is matched with filepath.Match against the entry's base
// name. It does not implement negation or directory-only patterns.
type gitignore struct {
	patterns []string
}

func loadGitignore(dir string) (*gitignore, error) {
	f, err := os.Open(filepath.Join(dir, ".gitignore"))
	if os.IsNotExist(err) {
		return &gitignore{}, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("load .gitignore: %w", err)
	}
	defer f.Close()

	g := &gitignore{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		g.patterns = append(g.patterns, line)
	}
	return g, scanner.Err()
}

func (g *gitignore) ignores(name string) bool {
	for _, p := range g.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// listDir concurrently stats every entry of dir (and reads symlink targets),
// returning them sorted by name for deterministic build output.
func listDir(dir string, ignore *gitignore) ([]hostEntry, error) {
	raw, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("read dir %q: %w", dir, err)
	}

	entries := make([]hostEntry, len(raw))
	g := new(errgroup.Group)
	for i, de := range raw {
		i, de := i, de
		g.Go(func() error {
			if ignore.ignores(de.Name()) {
				entries[i] = hostEntry{}
				return nil
			}
			full := filepath.Join(dir, de.Name())
			info, err := os.Lstat(full)
			if err != nil {
				return xerrors.Errorf("stat %q: %w", full, err)
			}
			entry := hostEntry{name: de.Name(), path: full, info: info}
			if info.Mode()&os.ModeSymlink != 0 {
				target, err := os.Readlink(full)
				if err != nil {
					return xerrors.Errorf("readlink %q: %w", full, err)
				}
				entry.target = target
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.name != "" {
			kept = append(kept, e)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].name < kept[j].name })
	return kept, nil
}

// buildDir walks hostDir into dst, sequentially: the image's data stream
// permits only one open file-write handle at a time, so file copies cannot
// themselves run concurrently, but the directory listing and lstat/readlink
// calls that precede them do (see listDir).
func buildDir(dst *vafs.DirectoryHandle, hostDir string, ignore *gitignore) error {
	entries, err := listDir(hostDir, ignore)
	if err != nil {
		return err
	}
	for _, e := range entries {
		switch {
		case e.info.Mode()&os.ModeSymlink != 0:
			if err := dst.CreateSymlink(e.name, e.target); err != nil {
				return err
			}
		case e.info.IsDir():
			sub, err := dst.CreateSubdirectory(e.name, uint32(e.info.Mode().Perm()))
			if err != nil {
				return err
			}
			childIgnore := ignore
			if gi, err := loadGitignore(e.path); err == nil && len(gi.patterns) > 0 {
				childIgnore = gi
			}
			if err := buildDir(sub, e.path, childIgnore); err != nil {
				return err
			}
		case e.info.Mode().IsRegular():
			if err := copyHostFile(dst, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyHostFile(dst *vafs.DirectoryHandle, e hostEntry) error {
	src, err := os.Open(e.path)
	if err != nil {
		return xerrors.Errorf("open %q: %w", e.path, err)
	}
	defer src.Close()

	fh, err := dst.CreateFile(e.name, uint32(e.info.Mode().Perm()))
	if err != nil {
		return xerrors.Errorf("create file %q: %w", e.name, err)
	}
	defer fh.Close()

	buf := make([]byte, 1<<20)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := fh.Write(buf[:n]); werr != nil {
				return xerrors.Errorf("write file %q: %w", e.name, werr)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return xerrors.Errorf("read %q: %w", e.path, rerr)
		}
	}
}
