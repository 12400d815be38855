package proxy

import (
	"fmt"
	"path"
	"strings"
)

// Mode selects whether unverified requests are rejected.
type Mode string

const (
	// ModeObserve annotates requests but never rejects them.
	ModeObserve Mode = "observe"

	// ModeRequireVerified rejects unverified requests to protected paths.
	ModeRequireVerified Mode = "require-verified"
)

// ParseMode parses a mode name. Empty means ModeObserve.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeObserve:
		return ModeObserve, nil
	case ModeRequireVerified:
		return ModeRequireVerified, nil
	default:
		return "", fmt.Errorf("proxy: unknown mode %q", s)
	}
}

// Policy decides which requests must be verified.
type Policy struct {
	Mode Mode

	// ProtectedPaths are path prefixes. In ModeRequireVerified an empty
	// list protects every path.
	ProtectedPaths []string
}

// Protects reports whether an unverified request to reqPath is rejected.
// reqPath is canonicalized first, so "//data" and "/x/../data" are
// treated as "/data".
func (p Policy) Protects(reqPath string) bool {
	if p.Mode != ModeRequireVerified {
		return false
	}

	if len(p.ProtectedPaths) == 0 {
		return true
	}

	reqPath = CanonicalPath(reqPath)

	for _, prefix := range p.ProtectedPaths {
		if MatchPrefix(prefix, reqPath) {
			return true
		}
	}

	return false
}

// MatchPrefix reports whether path falls under prefix at a path component
// boundary: "/protected" matches "/protected", "/protected/",
// "/protected/x" and "/protected.html" but not "/protectedness" or
// "/protected-other".
func MatchPrefix(prefix, reqPath string) bool {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return false
	}

	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	if prefix != "/" {
		prefix = strings.TrimRight(prefix, "/")
	}

	if reqPath == prefix || prefix == "/" {
		return strings.HasPrefix(reqPath, "/")
	}

	if !strings.HasPrefix(reqPath, prefix) {
		return false
	}

	switch reqPath[len(prefix)] {
	case '/', '.':
		return true
	default:
		return false
	}
}

// CanonicalPath resolves dot segments and repeated slashes in an absolute
// request path. A trailing slash is kept.
func CanonicalPath(reqPath string) string {
	if reqPath == "" {
		return "/"
	}

	if reqPath[0] != '/' {
		reqPath = "/" + reqPath
	}

	clean := path.Clean(reqPath)
	if clean != "/" && strings.HasSuffix(reqPath, "/") {
		clean += "/"
	}

	return clean
}
