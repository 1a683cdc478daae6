// Package hashutil provides the small set of SHA-1 helpers shared across
// Talemon's components — the url_hash used as Page.hash and the Object
// Store path prefix.
package hashutil

import (
	"crypto/sha1"
	"encoding/hex"
)

// URLHash returns sha1(url) as 40 lowercase hex characters, used as Page.hash
// and as the Object Store url_hash path segment.
func URLHash(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// SHA1Hex returns sha1(b) as 40 lowercase hex characters.
func SHA1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}
