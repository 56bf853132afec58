package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// Hash returns the canonical fingerprint of s: the SHA-256 hex digest of its
// RFC 8785 (JCS) serialization.
func Hash(s Snapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonical returns the JCS bytes of an arbitrary normalized value; used to
// compare table entries independently of key order.
func canonical(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	c, err := jcs.Transform(raw)
	if err != nil {
		return string(raw)
	}
	return string(c)
}
