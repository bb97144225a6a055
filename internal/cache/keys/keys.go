// Package keys derives stable identifiers for queries and response bodies.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// QueryKey identifies a query by layer, attribute, metric and optional
// class. The readable part is sanitized and truncated; the hash suffix
// covers the raw inputs.
func QueryKey(layer, attribute, metric, class string) string {
	raw := strings.Join([]string{strings.TrimSpace(layer), attribute, metric, class}, "\x00")
	sum := xxhash.Sum64String(raw)

	const maxPartLen = 64
	parts := []string{sanitize(strings.TrimSpace(layer)), sanitize(attribute), metric}
	if class != "" {
		parts = append(parts, sanitize(class))
	}
	for i, p := range parts {
		if len(p) > maxPartLen {
			parts[i] = p[:maxPartLen]
		}
	}
	return fmt.Sprintf("%s:h=%016x", strings.Join(parts, ":"), sum)
}

// ETag returns a strong entity tag for body.
func ETag(body []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
}

// MatchETag reports whether an If-None-Match header value matches etag.
// Weak comparison is used, as for GET.
func MatchETag(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for cand := range strings.SplitSeq(ifNoneMatch, ",") {
		if strings.TrimPrefix(strings.TrimSpace(cand), "W/") == want {
			return true
		}
	}
	return false
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
