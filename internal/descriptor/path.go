package descriptor

import (
	"strings"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/vafserrors"
)

// tokenize splits a path on "/", stripping a leading separator and
// collapsing repeated separators; "" and "/" both tokenize to an empty
// slice (root). Each token is checked against limit (128 for the writer,
// 255 for the reader, per 4.D).
func tokenize(path string, limit int) ([]string, error) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	raw := strings.Split(trimmed, "/")
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if tok == "" {
			continue
		}
		if len(tok) > limit {
			return nil, xerrors.Errorf("path token %q: %w", tok, vafserrors.ErrNameTooLong)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// canonicalize resolves "." and ".." within tokens, clamping ".." at root.
func canonicalize(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch tok {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, tok)
		}
	}
	return out
}

// buildPath reconstructs an absolute path from the traversal prefix leading
// to a symlink, the symlink's target, and the remaining unresolved tokens,
// per 4.D's symlink resolution algorithm.
func buildPath(prefix []string, target string, rest []string) (string, error) {
	var raw []string
	if strings.HasPrefix(target, "/") {
		raw = append(raw, strings.Split(strings.TrimPrefix(target, "/"), "/")...)
	} else {
		raw = append(raw, prefix...)
		raw = append(raw, strings.Split(target, "/")...)
	}
	raw = append(raw, rest...)

	canon := canonicalize(raw)
	result := "/" + strings.Join(canon, "/")
	if len(result) > maxResolveBuffer {
		return "", xerrors.Errorf("resolve path: %w", vafserrors.ErrNameTooLong)
	}
	return result, nil
}

// Resolve looks up path, following a symlink encountered in the final path
// component as well as any in intermediate components.
func (t *Tree) Resolve(path string) (Entry, error) {
	return t.resolve(path, true, 0)
}

// ResolveNoFollow behaves like Resolve but returns the symlink entry itself
// (rather than its target) when the final path component is a symlink.
func (t *Tree) ResolveNoFollow(path string) (Entry, error) {
	return t.resolve(path, false, 0)
}

func (t *Tree) resolve(path string, followLast bool, depth int) (Entry, error) {
	if depth > maxSymlinkDepth {
		return nil, xerrors.Errorf("resolve %q: %w", path, vafserrors.ErrTooManyLinks)
	}
	tokens, err := tokenize(path, t.nameLimit())
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return t.root, nil
	}

	var cur Entry = t.root
	for i, tok := range tokens {
		dir, ok := cur.(*Directory)
		if !ok {
			return nil, xerrors.Errorf("resolve %q: %w", path, vafserrors.ErrNotADirectory)
		}
		next, err := dir.find(tok)
		if err != nil {
			return nil, xerrors.Errorf("resolve %q: %w", path, err)
		}
		isLast := i == len(tokens)-1
		if sym, ok := next.(*Symlink); ok && (!isLast || followLast) {
			newPath, err := buildPath(tokens[:i], sym.Target, tokens[i+1:])
			if err != nil {
				return nil, err
			}
			return t.resolve(newPath, followLast, depth+1)
		}
		cur = next
	}
	return cur, nil
}
