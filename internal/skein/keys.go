package skein

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// KeyNamespace prefixes every key the cache layer writes.
const KeyNamespace = "skein:"

const chunkInfix = ":chunk:"

// DefaultTempPatterns are the key patterns cleanup treats as temporary.
var DefaultTempPatterns = []string{"*:tmp:*", "*.tmp", "tmp:*"}

// ChunkKey names chunk i of the chunked entry stored under key.
func ChunkKey(key string, i int) string {
	return fmt.Sprintf("%s%s%d", key, chunkInfix, i)
}

// ChunkOwner returns the header key a chunk key belongs to.
func ChunkOwner(key string) (string, bool) {
	idx := strings.LastIndex(key, chunkInfix)
	if idx < 0 {
		return "", false
	}
	return key[:idx], true
}

// EntryTimestamp extracts the write timestamp embedded in a persisted entry.
// ok is false for values that are not JSON objects or carry no timestamp.
func EntryTimestamp(value []byte) (time.Time, bool) {
	var stamp struct {
		Timestamp *int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(value, &stamp); err != nil || stamp.Timestamp == nil {
		return time.Time{}, false
	}
	return FromUnixMilli(*stamp.Timestamp), true
}

// KeyMatcher checks storage keys against glob patterns (path.Match syntax,
// where '*' does not cross '/').
type KeyMatcher struct {
	patterns []string
}

// NewKeyMatcher creates a KeyMatcher from raw pattern strings.
// Blank entries and entries starting with '#' are skipped.
func NewKeyMatcher(rawPatterns []string) *KeyMatcher {
	var patterns []string
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, raw)
	}
	return &KeyMatcher{patterns: patterns}
}

// Match reports whether key matches any pattern.
func (m *KeyMatcher) Match(key string) bool {
	for _, p := range m.patterns {
		matched, err := path.Match(p, key)
		if err != nil {
			// Bad pattern: skip rather than fail the scan.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
