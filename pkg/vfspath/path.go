// Package vfspath implements the virtual-path canonicalization, join/split,
// and glob/recursive-search utilities shared by the client and server
// halves of the filesystem (spec.md §4.G). Paths here are always POSIX
// style, forward-slash separated, independent of the host OS.
package vfspath

import (
	"strings"
)

// Clean canonicalizes p: multiple slashes collapse, "." and ".." segments
// resolve syntactically, a leading "~" or "~/" maps to ".", and any
// OS-specific separators are normalized to "/" before cleaning.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	switch {
	case p == "~":
		p = "."
	case strings.HasPrefix(p, "~/"):
		p = "." + p[1:]
	}
	return cleanSlashed(p)
}

// cleanSlashed is path.Clean without pulling in the "path" package's own
// opinion on "~" or backslashes; it operates purely on "/"-joined segments
// so behavior is identical on every host OS.
func cleanSlashed(p string) string {
	if p == "" {
		return "."
	}
	abs := strings.HasPrefix(p, "/")
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else if !abs {
				out = append(out, "..")
			}
		default:
			out = append(out, s)
		}
	}
	joined := strings.Join(out, "/")
	if abs {
		return "/" + joined
	}
	if joined == "" {
		return "."
	}
	return joined
}

// Join joins any number of path elements, applying POSIX rules: an
// absolute right-hand element discards everything to its left, and the
// result is always run through Clean.
func Join(elems ...string) string {
	var result string
	for _, e := range elems {
		if e == "" {
			continue
		}
		if strings.HasPrefix(e, "/") {
			result = e
			continue
		}
		if result == "" {
			result = e
		} else if strings.HasSuffix(result, "/") {
			result += e
		} else {
			result += "/" + e
		}
	}
	return Clean(result)
}

// Split splits p into its directory and leaf-name components, the way
// path.Split does, but returns the directory without a trailing slash
// (except for the root itself).
func Split(p string) (dir, name string) {
	p = Clean(p)
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return ".", p
	}
	if idx == 0 {
		return "/", p[1:]
	}
	return p[:idx], p[idx+1:]
}

// IsAbs reports whether p is a virtual-root-absolute path.
func IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}
