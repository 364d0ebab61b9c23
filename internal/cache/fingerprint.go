package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Fingerprint hashes the ordered fields of a request into a cache key.
// Fields are length-prefixed so ("ab","c") and ("a","bc") differ.
func Fingerprint(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
