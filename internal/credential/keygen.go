package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	// KeyPrefix is the recognizable prefix carried by every issued secret.
	KeyPrefix = "mg-"

	// entropyBytes is the amount of random material per secret (256 bits).
	entropyBytes = 32

	// displayPrefixLength is the number of encoded chars kept for display.
	displayPrefixLength = 12
)

// GenerateKey mints a new opaque bearer secret.
// It returns the plaintext, its fixed-width SHA-256 hex hash, and a short
// non-secret display prefix. The plaintext is never persisted; callers hand
// it out exactly once at issuance time.
func GenerateKey() (plaintext, hash, prefix string, err error) {
	entropy := make([]byte, entropyBytes)
	if _, errRead := rand.Read(entropy); errRead != nil {
		return "", "", "", fmt.Errorf("credential: generate entropy: %w", errRead)
	}

	encoded := encodeBase62(entropy)
	plaintext = KeyPrefix + encoded
	hash = HashKey(plaintext)

	if len(encoded) > displayPrefixLength {
		encoded = encoded[:displayPrefixLength]
	}
	prefix = KeyPrefix + encoded + "..."

	return plaintext, hash, prefix, nil
}

// HashKey computes the canonical SHA-256 hex hash of a secret. Issuance and
// validation must share this function so lookups stay consistent.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// IsValidKeyFormat reports whether a presented secret carries the expected prefix.
func IsValidKeyFormat(key string) bool {
	return strings.HasPrefix(key, KeyPrefix) && len(key) > len(KeyPrefix)
}

// encodeBase62 converts bytes to a base62 string (alphanumeric, URL-safe).
func encodeBase62(data []byte) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	n := new(big.Int).SetBytes(data)
	base := big.NewInt(62)
	zero := big.NewInt(0)
	mod := new(big.Int)

	var out []byte
	for n.Cmp(zero) > 0 {
		n.DivMod(n, base, mod)
		out = append([]byte{alphabet[mod.Int64()]}, out...)
	}
	if len(out) == 0 {
		return string(alphabet[0])
	}
	return string(out)
}
