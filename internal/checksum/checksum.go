// Package checksum provides content digests used for artifact manifests and key ids.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Short returns the first 16 hex characters of the digest of s. It is used to
// reference normalized keys in reports without repeating the full text.
func Short(s string) string {
	return Sum([]byte(s))[:16]
}
