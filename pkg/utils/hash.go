package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// HashString returns the hex SHA-1 of input after trimming and collapsing
// whitespace, so reformatted questions share a key.
func HashString(input string) string {
	normalized := strings.Join(strings.Fields(input), " ")
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// CacheKey joins a namespace and the hash of the remaining parts.
func CacheKey(namespace string, parts ...string) string {
	return namespace + ":" + HashString(strings.Join(parts, "\x1f"))
}
