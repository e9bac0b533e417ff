package requestqueue

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// deriveRequestID computes the 15-character request id from uniqueKey:
// base64(SHA-256(uniqueKey)) with '+', '/', '=' stripped, truncated to 15
// characters (spec.md §4.3).
func deriveRequestID(uniqueKey string) string {
	sum := sha256.Sum256([]byte(uniqueKey))
	encoded := base64.StdEncoding.EncodeToString(sum[:])
	encoded = strings.NewReplacer("+", "", "/", "", "=", "").Replace(encoded)
	if len(encoded) > 15 {
		encoded = encoded[:15]
	}
	return encoded
}
