package permission

import (
	"fmt"
	"strings"
)

// MatchRoute reports whether path matches pattern. A ":name" segment matches
// exactly one non-empty segment and a trailing "*" matches any remainder,
// including nothing. Trailing slashes are ignored.
func MatchRoute(pattern, path string) bool {
	ps := splitPath(pattern)
	xs := splitPath(path)

	for i, seg := range ps {
		if seg == "*" && i == len(ps)-1 {
			return true
		}
		if i >= len(xs) {
			return false
		}
		switch {
		case strings.HasPrefix(seg, ":"):
			if xs[i] == "" {
				return false
			}
		case seg != xs[i]:
			return false
		}
	}
	return len(ps) == len(xs)
}

// MatchAny reports whether path matches any of patterns.
func MatchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if MatchRoute(p, path) {
			return true
		}
	}
	return false
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func validatePattern(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("route %q must start with /", p)
	}
	segs := splitPath(p)
	for i, seg := range segs {
		if seg == "*" && i != len(segs)-1 {
			return fmt.Errorf("route %q: * must be the last segment", p)
		}
		if seg == ":" {
			return fmt.Errorf("route %q: unnamed parameter", p)
		}
	}
	return nil
}
