// Package hmacauth computes and verifies the per-request authentication
// token: the hex-encoded HMAC-SHA256 of a cid, keyed by the domain's
// shared secret.
package hmacauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// tagPattern matches a well-formed 64-character lowercase hex tag.
var tagPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Tag computes the hex-encoded HMAC-SHA256 of cid keyed by key.
func Tag(key []byte, cid string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(cid))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the tag for cid under key and compares it to tagHex in
// constant time. Malformed tagHex (wrong length or non-hex) is rejected
// without ever reaching the comparison, since such input can never be a
// genuine tag.
func Verify(key []byte, cid, tagHex string) bool {
	if !tagPattern.MatchString(tagHex) {
		return false
	}
	want, err := hex.DecodeString(tagHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(cid))
	return hmac.Equal(mac.Sum(nil), want)
}
