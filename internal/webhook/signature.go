package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// SignatureVerifier proves a webhook POST body originated from the claimed
// platform via the X-Hub-Signature-256 HMAC.
type SignatureVerifier struct {
	secret     string
	production bool
	logger     *slog.Logger
}

func NewSignatureVerifier(secret string, production bool, logger *slog.Logger) *SignatureVerifier {
	return &SignatureVerifier{secret: secret, production: production, logger: logger}
}

// Verify checks the signature header against an HMAC-SHA256 of rawBody.
// Malformed input yields false, never a panic. With no secret configured the
// verifier fails closed in production and warns-and-allows otherwise.
func (v *SignatureVerifier) Verify(rawBody []byte, signatureHeader string) bool {
	if v.secret == "" {
		if v.production {
			v.logger.Error("signature check failed closed: no app secret configured")
			return false
		}
		v.logger.Warn("UNSAFE: signature check bypassed, no app secret configured")
		return true
	}

	if !strings.HasPrefix(signatureHeader, "sha256=") {
		return false
	}
	expected := signatureHeader[len("sha256="):]

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(rawBody)
	computed := hex.EncodeToString(mac.Sum(nil))

	// hmac.Equal keeps the comparison constant-time.
	return hmac.Equal([]byte(expected), []byte(computed))
}
