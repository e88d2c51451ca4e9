package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Sign computes the signature header value for a delivery: HMAC-SHA256
// over the exact body bytes, framed GitHub-style as "sha256=<hex>".
// Deterministic: the same (secret, body) always yields the same value, so
// receivers can verify it.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against a body and secret
// using constant-time comparison. Accepts "sha256=<hex>" or bare hex.
// Errors are generic to avoid leaking which check failed.
func VerifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return fmt.Errorf("signature verification failed")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	actual, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return fmt.Errorf("signature verification failed")
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
