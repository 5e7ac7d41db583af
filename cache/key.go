package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key derives the cache fingerprint for a method and absolute URL. The
// query is part of the identity; callers strip the fragment before calling.
// The digest keeps body file names uniform and filesystem-safe regardless
// of URL length or characters.
func Key(method, rawurl string) string {
	sum := sha256.Sum256([]byte(method + " " + rawurl))
	return hex.EncodeToString(sum[:])
}

// KeyForTag derives a fingerprint from a caller-supplied tag, overriding
// the method+URL derivation.
func KeyForTag(tag string) string {
	sum := sha256.Sum256([]byte("tag:" + tag))
	return hex.EncodeToString(sum[:])
}
