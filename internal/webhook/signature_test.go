package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerify_ValidSignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"entry":[]}`)
	v := NewSignatureVerifier(secret, true, testLogger())

	if !v.Verify(body, sign(body, secret)) {
		t.Error("valid signature should verify")
	}
}

func TestVerify_MutatedBody(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"entry":[]}`)
	sig := sign(body, secret)
	v := NewSignatureVerifier(secret, true, testLogger())

	// Flip one bit in the body; the signature must no longer match.
	mutated := append([]byte(nil), body...)
	mutated[0] ^= 0x01
	if v.Verify(mutated, sig) {
		t.Error("mutated body must not verify")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	body := []byte(`{"entry":[]}`)
	v := NewSignatureVerifier("right-secret", true, testLogger())

	if v.Verify(body, sign(body, "wrong-secret")) {
		t.Error("signature from wrong secret must not verify")
	}
}

func TestVerify_MalformedHeader(t *testing.T) {
	v := NewSignatureVerifier("secret", true, testLogger())

	cases := []string{"", "sha1=abc", "abcdef", "sha256"}
	for _, header := range cases {
		if v.Verify([]byte("body"), header) {
			t.Errorf("malformed header %q must not verify", header)
		}
	}
}

func TestVerify_EmptySecretProduction(t *testing.T) {
	v := NewSignatureVerifier("", true, testLogger())

	if v.Verify([]byte("body"), "sha256=whatever") {
		t.Error("empty secret must fail closed in production")
	}
}

func TestVerify_EmptySecretDevelopment(t *testing.T) {
	v := NewSignatureVerifier("", false, testLogger())

	if !v.Verify([]byte("body"), "") {
		t.Error("empty secret should warn and allow outside production")
	}
}
