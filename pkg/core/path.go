package core

import "strings"

// Path is a slash-delimited, normalized string relative to a target's root.
// Normalization collapses repeated slashes and strips leading/trailing
// slashes, except for the root path which is represented as "/".
type Path string

// Root is the canonical representation of a target's root path.
const Root Path = "/"

// NormalizePath normalizes a raw path string into canonical form.
func NormalizePath(raw string) Path {
	if raw == "" || raw == "/" {
		return Root
	}

	// Split on slashes and drop empty segments, which collapses "//" and
	// strips leading/trailing slashes in one pass.
	segments := strings.Split(raw, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return Root
	}
	return Path(strings.Join(kept, "/"))
}

// String returns the path as a string.
func (p Path) String() string {
	return string(p)
}

// IsRoot reports whether the path refers to the target root.
func (p Path) IsRoot() bool {
	return p == Root || p == ""
}

// Parent returns the parent of the path, or Root if the path is already the
// root or a top-level entry.
func (p Path) Parent() Path {
	s := string(p)
	idx := strings.LastIndexByte(s, '/')
	if idx <= 0 {
		return Root
	}
	return Path(s[:idx])
}

// Base returns the final path component.
func (p Path) Base() string {
	s := string(p)
	idx := strings.LastIndexByte(s, '/')
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

// IsDescendantOf reports whether p is a strict descendant of other (i.e.
// other is a proper path prefix of p, segment-aligned).
func (p Path) IsDescendantOf(other Path) bool {
	if other.IsRoot() {
		return !p.IsRoot()
	}
	ps, os := string(p), string(other)
	return strings.HasPrefix(ps, os) && len(ps) > len(os) && ps[len(os)] == '/'
}
