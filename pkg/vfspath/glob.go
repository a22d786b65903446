package vfspath

import (
	"context"
	"path"
	"strings"

	"github.com/qbane/websocketfs/pkg/sftperr"
)

// MaxRecursionDepth bounds how many "**" directory levels a single Glob or
// Walk call will descend, guarding against cyclic symlinks and runaway
// listings on either side of the wire.
const MaxRecursionDepth = 32

// DirEntry is the minimum information Glob and Walk need about one
// directory member: its leaf name and whether it is itself a directory.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Lister is the only filesystem dependency of Glob and Walk, so the same
// recursive search logic runs over any filesystem view that supplies these
// two calls. safefs.FS and sftpc.Client do not implement it themselves.
type Lister interface {
	// Lstat reports whether p exists and, if so, whether it is a
	// directory. ok is false if p does not exist.
	Lstat(ctx context.Context, p string) (isDir bool, ok bool, err error)
	// ReadDir lists the immediate children of directory p.
	ReadDir(ctx context.Context, p string) ([]DirEntry, error)
}

// Glob expands a pattern containing "*", "?", and "**" segments against l,
// rooted at base (an absolute virtual path). "**" matches zero or more
// path segments, capped at MaxRecursionDepth. Matches are returned as
// absolute virtual paths in the order discovered.
func Glob(ctx context.Context, l Lister, base, pattern string) ([]string, error) {
	pattern = Clean(pattern)
	segs := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	var matches []string
	if err := globSegs(ctx, l, Clean(base), segs, 0, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func globSegs(ctx context.Context, l Lister, cur string, segs []string, depth int, out *[]string) error {
	if depth > MaxRecursionDepth {
		return sftperr.New("EFAILURE", -4, "glob recursion depth exceeded at %q", cur)
	}
	if len(segs) == 0 {
		*out = append(*out, cur)
		return nil
	}
	seg, rest := segs[0], segs[1:]

	if seg == "**" {
		// "**" may match zero segments...
		if err := globSegs(ctx, l, cur, rest, depth+1, out); err != nil {
			return err
		}
		// ...or descend through every subdirectory, re-trying "**" at
		// each level.
		entries, err := l.ReadDir(ctx, cur)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir {
				continue
			}
			if err := globSegs(ctx, l, Join(cur, e.Name), segs, depth+1, out); err != nil {
				return err
			}
		}
		return nil
	}

	if !strings.ContainsAny(seg, "*?") {
		next := Join(cur, seg)
		isDir, ok, err := l.Lstat(ctx, next)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if len(rest) > 0 && !isDir {
			return nil
		}
		return globSegs(ctx, l, next, rest, depth+1, out)
	}

	entries, err := l.ReadDir(ctx, cur)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ok, err := path.Match(seg, e.Name)
		if err != nil {
			return sftperr.New("EFAILURE", -4, "bad glob pattern %q: %v", seg, err)
		}
		if !ok {
			continue
		}
		if len(rest) > 0 && !e.IsDir {
			continue
		}
		if err := globSegs(ctx, l, Join(cur, e.Name), rest, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// WalkFunc is invoked once per entry discovered by Walk, with its full
// virtual-absolute path.
type WalkFunc func(p string, isDir bool) error

// Walk performs a depth-first recursive descent of root via l, invoking fn
// for root itself and every descendant, capped at MaxRecursionDepth.
func Walk(ctx context.Context, l Lister, root string, fn WalkFunc) error {
	return walk(ctx, l, Clean(root), 0, fn)
}

func walk(ctx context.Context, l Lister, p string, depth int, fn WalkFunc) error {
	if depth > MaxRecursionDepth {
		return sftperr.New("EFAILURE", -4, "walk recursion depth exceeded at %q", p)
	}
	isDir, ok, err := l.Lstat(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return sftperr.Clone(sftperr.ErrNoSuchFile).WithContext("path", p)
	}
	if err := fn(p, isDir); err != nil {
		return err
	}
	if !isDir {
		return nil
	}
	entries, err := l.ReadDir(ctx, p)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := walk(ctx, l, Join(p, e.Name), depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}
