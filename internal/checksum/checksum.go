// Package checksum computes content digests used as ETags and revision tokens.
package checksum

import (
	"crypto/sha1" //nolint:gosec // git object ids are SHA-1
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// BlobSHA returns the git blob object id of data, the same value GitHub
// reports as a file's "sha".
func BlobSHA(data []byte) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte("blob " + strconv.Itoa(len(data)) + "\x00"))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ETag returns a strong quoted entity tag for data.
func ETag(data []byte) string {
	return `"` + Sum(data)[:32] + `"`
}
