package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body, both
// on outbound webhook deliveries and on signed inbound webhooks.
const SignatureHeader = "X-Webhook-Signature"

// signaturePrefix is accepted on inbound signatures, GitHub style.
const signaturePrefix = "sha256="

// Sign returns the lowercase hex HMAC-SHA256 of payload under key.
func Sign(payload []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of payload under any of
// the given secrets. Several secrets allow rotation: the old and new secret
// are both accepted until the old one is removed. Comparison is constant
// time; empty secrets never match.
func Verify(payload []byte, header string, secrets ...string) bool {
	got := strings.TrimSpace(header)
	if len(got) > len(signaturePrefix) && strings.EqualFold(got[:len(signaturePrefix)], signaturePrefix) {
		got = got[len(signaturePrefix):]
	}
	sig, err := hex.DecodeString(got)
	if err != nil || len(sig) != sha256.Size {
		return false
	}

	ok := false
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(payload)
		if hmac.Equal(sig, mac.Sum(nil)) {
			ok = true
		}
	}
	return ok
}
