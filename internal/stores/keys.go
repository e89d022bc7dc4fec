package stores

import "strings"

// Scope names a synchronized data domain.
type Scope string

const ScopeCollection Scope = "collection"

var syncScopes = []Scope{ScopeCollection}

const syncKeyDelimiter = ":"

// IsSyncScope reports whether s is a known scope.
func IsSyncScope(s string) bool {
	for _, scope := range syncScopes {
		if string(scope) == s {
			return true
		}
	}
	return false
}

// BuildSyncKey returns "<scope>:<identity>" with the identity trimmed and lower-cased.
// It reports false when the identity is blank.
func BuildSyncKey(scope Scope, identity string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(identity))
	if id == "" {
		return "", false
	}
	return string(scope) + syncKeyDelimiter + id, true
}

// ParseSyncKey splits a key built by [BuildSyncKey].
func ParseSyncKey(key string) (Scope, string, bool) {
	parts := strings.Split(key, syncKeyDelimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if !IsSyncScope(parts[0]) {
		return "", "", false
	}
	identity := strings.ToLower(strings.TrimSpace(parts[1]))
	if identity == "" {
		return "", "", false
	}
	return Scope(parts[0]), identity, true
}
