// Package path implements the hierarchical, slash-separated broadcast
// names used to address broadcasts in an Origin (spec §3 "Path").
package path

import "strings"

// Path is an immutable, slash-separated sequence of segments. The zero
// value is the root path ("").
type Path struct {
	segments []string
}

// New splits s on "/" into a Path. Leading/trailing/empty segments (e.g.
// a leading "/") are ignored, so "/a/b", "a/b", and "a/b/" are equal.
func New(s string) Path {
	parts := strings.Split(s, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		segs = append(segs, p)
	}
	return Path{segments: segs}
}

// Of builds a Path directly from already-split segments.
func Of(segments ...string) Path {
	segs := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return Path{segments: segs}
}

// Root is the empty path.
var Root = Path{}

// String renders the path as "a/b/c", with no leading slash.
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// Empty reports whether p is the root path.
func (p Path) Empty() bool {
	return len(p.segments) == 0
}

// Segment returns the i-th segment.
func (p Path) Segment(i int) string {
	return p.segments[i]
}

// StartsWith reports whether p begins with all of prefix's segments.
func (p Path) StartsWith(prefix Path) bool {
	if len(prefix.segments) > len(p.segments) {
		return false
	}
	for i, s := range prefix.segments {
		if p.segments[i] != s {
			return false
		}
	}
	return true
}

// StripPrefix removes prefix from the front of p and reports whether p
// actually started with prefix. If it didn't, p is returned unchanged and
// ok is false.
func (p Path) StripPrefix(prefix Path) (suffix Path, ok bool) {
	if !p.StartsWith(prefix) {
		return p, false
	}
	rest := make([]string, len(p.segments)-len(prefix.segments))
	copy(rest, p.segments[len(prefix.segments):])
	return Path{segments: rest}, true
}

// Join appends other's segments after p's and returns the result. Neither
// operand is mutated.
func (p Path) Join(other Path) Path {
	segs := make([]string, 0, len(p.segments)+len(other.segments))
	segs = append(segs, p.segments...)
	segs = append(segs, other.segments...)
	return Path{segments: segs}
}

// Equal reports whether p and other have identical segments.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if s != other.segments[i] {
			return false
		}
	}
	return true
}

// Compare provides a total order over paths: segment-by-segment
// lexicographic, with a shorter path that is a prefix of a longer one
// sorting first.
func (p Path) Compare(other Path) int {
	n := len(p.segments)
	if len(other.segments) < n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		if p.segments[i] != other.segments[i] {
			if p.segments[i] < other.segments[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(p.segments) < len(other.segments):
		return -1
	case len(p.segments) > len(other.segments):
		return 1
	default:
		return 0
	}
}
