package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// HashLength is the number of hex characters kept from the SHA-256 digest.
const HashLength = 16

var (
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	stopWords   = map[string]struct{}{"a": {}, "an": {}, "the": {}}
)

// Normalize canonicalizes free text: lowercase, punctuation stripped,
// articles dropped, tokens joined by single spaces. When only articles
// remain, the stripped text is returned instead of an empty key.
func Normalize(text string) string {
	stripped := strings.TrimSpace(punctuation.ReplaceAllString(strings.ToLower(text), ""))
	fields := strings.Fields(stripped)
	kept := fields[:0:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; !stop {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return strings.Join(fields, " ")
	}
	return strings.Join(kept, " ")
}

// ContentHash is the truncated SHA-256 hex digest of an already normalized key.
func ContentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// HashText normalizes text and hashes the result.
func HashText(text string) string {
	return ContentHash(Normalize(text))
}

// StorageKey is the durable object name for a content hash.
func StorageKey(hash string) string {
	return "shapes/" + hash + ".json"
}
