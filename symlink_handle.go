package vafs

import (
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/descriptor"
)

// SymlinkHandle is the handle-based surface over a symlink entry: just its
// stored target string, never auto-resolved.
type SymlinkHandle struct {
	link *descriptor.Symlink
}

// OpenSymlink resolves path without following a symlink in its final
// component, returning a handle to that symlink itself.
func (img *Image) OpenSymlink(path string) (*SymlinkHandle, error) {
	e, err := img.tree.ResolveNoFollow(path)
	if err != nil {
		return nil, xerrors.Errorf("open symlink %q: %w", path, err)
	}
	sym, ok := e.(*descriptor.Symlink)
	if !ok {
		return nil, xerrors.Errorf("open symlink %q: %w", path, ErrInvalidArgument)
	}
	return &SymlinkHandle{link: sym}, nil
}

// Close releases the handle.
func (h *SymlinkHandle) Close() error { return nil }

// Target returns the symlink's stored target string.
func (h *SymlinkHandle) Target() string { return h.link.Target }
