package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// rawKeyPrefix marks gatehouse-issued keys so leaked ones are recognizable
// in secret scanners.
const rawKeyPrefix = "gh_"

// HashKey computes the stored lookup form of a raw API key: the
// hex-encoded BLAKE3-256 digest. Deterministic and one-way; the same raw
// key always maps to the same hash.
func HashKey(raw string) string {
	sum := blake3.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateRawKey mints a new raw key with 256 bits of entropy. The caller
// shows it to the operator exactly once; only its hash is persisted.
func GenerateRawKey() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return rawKeyPrefix + hex.EncodeToString(buf[:]), nil
}
