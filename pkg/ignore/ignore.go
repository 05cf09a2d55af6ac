// Package ignore implements the IgnoreService consumed by SyncTarget's
// watcher (spec.md §4.2, §6). Pattern parsing and matching follow the
// gitignore-style semantics used by the synchronization engine this module
// is modeled on: optional leading "!" negation, a trailing "/" restricting a
// pattern to directories, and bare (non-absolute, slash-free) patterns
// matching against a path's base name as well as its full path.
package ignore

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Service is the interface consumed by SyncTarget: a pure predicate over
// paths, plus accessors for the active pattern set. Errors encountered
// while evaluating a pattern are swallowed internally and never propagate
// to IsIgnored's return value — ignore-matching must never block
// synchronization (spec.md §4.2).
type Service interface {
	// IsIgnored reports whether path should be excluded from
	// synchronization.
	IsIgnored(path string) bool
	// SetPatterns replaces the active pattern list.
	SetPatterns(patterns []string)
	// GetPatterns returns the active pattern list.
	GetPatterns() []string
}

// pattern is a single parsed ignore pattern.
type pattern struct {
	negated       bool
	directoryOnly bool
	matchLeaf     bool
	glob          string
}

// parsePattern validates and parses a single ignore pattern. A pattern that
// fails to parse is treated as never-matching rather than propagated as an
// error, consistent with the "never blocks synchronization" contract; the
// package offers no separate load-time validation of patterns.
func parsePattern(raw string) (pattern, bool) {
	if raw == "" {
		return pattern{}, false
	}

	p := raw
	var negated bool
	if p[0] == '!' {
		negated = true
		p = p[1:]
	}
	if p == "" {
		return pattern{}, false
	}

	p = cleanPreservingTrailingSlash(p)
	if p == "/" || p == "" {
		return pattern{}, false
	}

	var absolute bool
	if p[0] == '/' {
		absolute = true
		p = p[1:]
	}

	var directoryOnly bool
	if len(p) > 0 && p[len(p)-1] == '/' {
		directoryOnly = true
		p = p[:len(p)-1]
	}
	if p == "" {
		return pattern{}, false
	}

	containsSlash := strings.IndexByte(p, '/') >= 0

	if _, err := doublestar.Match(p, "a"); err != nil {
		return pattern{}, false
	}

	return pattern{
		negated:       negated,
		directoryOnly: directoryOnly,
		matchLeaf:     !absolute && !containsSlash,
		glob:          p,
	}, true
}

// cleanPreservingTrailingSlash is a variant of path.Clean that preserves a
// trailing slash, which path.Clean would otherwise strip and which this
// package uses to recognize directory-only patterns.
func cleanPreservingTrailingSlash(p string) string {
	trailing := len(p) > 1 && p[len(p)-1] == '/'
	cleaned := path.Clean(p)
	if trailing && cleaned != "/" {
		return cleaned + "/"
	}
	return cleaned
}

// matches reports whether the pattern matches the given path. directory
// indicates whether the path currently refers to a directory; it is best
// effort (e.g. unknown for a just-deleted path) and only narrows
// directory-only patterns.
func (p pattern) matches(candidate string, directory bool) bool {
	if p.directoryOnly && !directory {
		return false
	}
	if ok, _ := doublestar.Match(p.glob, candidate); ok {
		return true
	}
	if p.matchLeaf && candidate != "" {
		if ok, _ := doublestar.Match(p.glob, path.Base(candidate)); ok {
			return true
		}
	}
	return false
}

// PatternService is a Service backed by a list of gitignore-style patterns.
// It is not safe for concurrent SetPatterns/IsIgnored calls from multiple
// goroutines without external synchronization; callers that need
// thread-safety should wrap it (SyncTarget serializes all watcher access to
// the service it was constructed with).
type PatternService struct {
	raw      []string
	compiled []pattern
}

// NewPatternService creates a PatternService from an initial pattern list.
// Patterns that fail to parse are silently dropped, per this package's
// never-block contract.
func NewPatternService(patterns []string) *PatternService {
	s := &PatternService{}
	s.SetPatterns(patterns)
	return s
}

// SetPatterns implements Service.SetPatterns.
func (s *PatternService) SetPatterns(patterns []string) {
	raw := append([]string(nil), patterns...)
	compiled := make([]pattern, 0, len(patterns))
	for _, p := range patterns {
		if parsed, ok := parsePattern(p); ok {
			compiled = append(compiled, parsed)
		}
	}
	s.raw = raw
	s.compiled = compiled
}

// GetPatterns implements Service.GetPatterns.
func (s *PatternService) GetPatterns() []string {
	return append([]string(nil), s.raw...)
}

// IsIgnored implements Service.IsIgnored. It runs every pattern in order so
// that later negations can override earlier matches, matching familiar
// gitignore layering.
func (s *PatternService) IsIgnored(candidate string) (ignored bool) {
	defer func() {
		// Evaluating a pattern should never panic in practice, but since
		// ignore-matching must never block synchronization, guard against it
		// anyway and fail open (not ignored).
		if recover() != nil {
			ignored = false
		}
	}()

	directory := strings.HasSuffix(candidate, "/")
	trimmed := strings.TrimSuffix(candidate, "/")

	status := false
	for _, p := range s.compiled {
		if p.matches(trimmed, directory) {
			status = !p.negated
		}
	}
	return status
}
