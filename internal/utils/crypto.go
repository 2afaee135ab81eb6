package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// SHA256Hex hashes raw bytes, used as the fingerprint of uploaded frames.
func SHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// HashIP returns a keyed blake2b-256 digest of ip so consent records never
// hold a raw address. An empty ip yields "".
func HashIP(salt, ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	var key []byte
	if salt != "" {
		key = []byte(salt)
		if len(key) > blake2b.Size {
			sum := blake2b.Sum256(key)
			key = sum[:]
		}
	}
	h, err := blake2b.New256(key)
	if err != nil {
		sum := blake2b.Sum256([]byte(salt + ip))
		return hex.EncodeToString(sum[:])
	}
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}
