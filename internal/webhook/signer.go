// Package webhook fans lifecycle events out to subscriber endpoints. The
// dispatcher listens on the status tracker and enqueues signed delivery
// jobs; the handler drains them on its own retry ladder, independent of the
// delivery queue.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
// Subscribers recompute it with their webhook secret to verify authenticity.
const SignatureHeader = "X-Courier-Signature"

// Sign returns the hex HMAC-SHA256 of body under secret. The body is signed
// once at enqueue time, so every retry POSTs byte-identical content with the
// same signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret,
// comparing in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
