package cache

import (
	"net/url"
	"path"
	"strings"
)

// Key builds the canonical cache identity for a request, for example
// "GET:/properties?page=1". Query parameters are sorted by name.
func Key(method, rawPath string, query url.Values) string {
	key := strings.ToUpper(method) + ":" + NormalizePath(rawPath)
	if len(query) > 0 {
		key += "?" + query.Encode()
	}
	return key
}

func NormalizePath(raw string) string {
	if raw == "" {
		return "/"
	}
	cleaned := path.Clean("/" + strings.TrimSpace(raw))
	if cleaned == "." {
		return "/"
	}
	return cleaned
}

// Category returns the resource segment a key belongs to. The REST prefix
// (/wp-json) and a versioned namespace (/wp/v2) are skipped.
func Category(key string) string {
	p := key
	if i := strings.Index(p, ":"); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	if len(segs) > 0 && segs[0] == "wp-json" {
		segs = segs[1:]
	}
	if len(segs) > 2 && isVersion(segs[1]) {
		segs = segs[2:]
	}
	if len(segs) == 0 {
		return ""
	}
	return strings.ToLower(segs[0])
}

func MatchesTag(key, tag string) bool {
	tag = strings.ToLower(strings.Trim(strings.TrimSpace(tag), "/"))
	if tag == "" {
		return true
	}
	return Category(key) == tag
}

func isVersion(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, c := range seg[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
