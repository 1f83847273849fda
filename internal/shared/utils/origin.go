package utils

import "github.com/bmatcuk/doublestar/v4"

// MatchOrigin reports whether a browser Origin is allowed. Entries are
// exact origins, "*" for any, or glob patterns such as
// "https://*.example.com". Malformed patterns never match.
func MatchOrigin(allowed []string, origin string) bool {
	for _, pattern := range allowed {
		if pattern == "*" || pattern == origin {
			return true
		}
		if ok, err := doublestar.Match(pattern, origin); err == nil && ok {
			return true
		}
	}
	return false
}
