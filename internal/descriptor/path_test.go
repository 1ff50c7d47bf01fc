package descriptor

import (
	"errors"
	"testing"

	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

func buildSampleTree(t *testing.T) *Tree {
	t.Helper()
	s, _ := newWriteStream(t)
	tr := NewWriteTree(s)
	root := tr.Root()

	sub, err := root.CreateDirectory("sub", 0o755)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sub.CreateFile("real.txt", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := root.CreateSymlink("rel-link", "sub/real.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.CreateSymlink("abs-link", "/sub/real.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.CreateSymlink("dir-link", "sub"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.CreateSymlink("dotdot-link", "sub/../sub/real.txt"); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestResolveFollowsRelativeSymlink(t *testing.T) {
	tr := buildSampleTree(t)
	e, err := tr.Resolve("/rel-link")
	if err != nil {
		t.Fatal(err)
	}
	f, ok := e.(*File)
	if !ok || f.Name() != "real.txt" {
		t.Fatalf("got %#v, want file real.txt", e)
	}
}

func TestResolveFollowsAbsoluteSymlink(t *testing.T) {
	tr := buildSampleTree(t)
	e, err := tr.Resolve("/abs-link")
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "real.txt" {
		t.Fatalf("got %#v, want file real.txt", e)
	}
}

func TestResolveFollowsSymlinkInIntermediateComponent(t *testing.T) {
	tr := buildSampleTree(t)
	e, err := tr.Resolve("/dir-link/real.txt")
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "real.txt" {
		t.Fatalf("got %#v, want file real.txt", e)
	}
}

func TestResolveNoFollowReturnsSymlinkItself(t *testing.T) {
	tr := buildSampleTree(t)
	e, err := tr.ResolveNoFollow("/rel-link")
	if err != nil {
		t.Fatal(err)
	}
	sym, ok := e.(*Symlink)
	if !ok {
		t.Fatalf("got %T, want *Symlink", e)
	}
	if sym.Target != "sub/real.txt" {
		t.Fatalf("target = %q, want %q", sym.Target, "sub/real.txt")
	}
}

func TestResolveNoFollowStillFollowsIntermediateSymlink(t *testing.T) {
	tr := buildSampleTree(t)
	e, err := tr.ResolveNoFollow("/dir-link/real.txt")
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "real.txt" {
		t.Fatalf("got %#v, want file real.txt", e)
	}
}

func TestResolveMissingEntryFails(t *testing.T) {
	tr := buildSampleTree(t)
	if _, err := tr.Resolve("/nope"); !errors.Is(err, vafserrors.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestResolveThroughNonDirectoryFails(t *testing.T) {
	tr := buildSampleTree(t)
	if _, err := tr.Resolve("/sub/real.txt/x"); !errors.Is(err, vafserrors.ErrNotADirectory) {
		t.Fatalf("got %v, want ErrNotADirectory", err)
	}
}

func TestResolveCyclicSymlinkHitsDepthCap(t *testing.T) {
	s, _ := newWriteStream(t)
	tr := NewWriteTree(s)
	root := tr.Root()
	if _, err := root.CreateSymlink("a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.CreateSymlink("b", "a"); err != nil {
		t.Fatal(err)
	}

	if _, err := tr.Resolve("/a"); !errors.Is(err, vafserrors.ErrTooManyLinks) {
		t.Fatalf("got %v, want ErrTooManyLinks", err)
	}
}

func TestResolveRootPath(t *testing.T) {
	tr := buildSampleTree(t)
	for _, p := range []string{"", "/"} {
		e, err := tr.Resolve(p)
		if err != nil {
			t.Fatalf("resolve %q: %v", p, err)
		}
		if _, ok := e.(*Directory); !ok {
			t.Fatalf("resolve %q: got %T, want *Directory", p, e)
		}
	}
}

// A symlink target containing ".." is canonicalized by buildPath when the
// link is followed; a literal ".." in the input path to Resolve itself is
// not special-cased and would simply fail lookup as a component name.
func TestResolveCanonicalizesDotDotInSymlinkTarget(t *testing.T) {
	tr := buildSampleTree(t)
	e, err := tr.Resolve("/dotdot-link")
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "real.txt" {
		t.Fatalf("got %#v, want file real.txt", e)
	}
}
