package authz

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// CodeChallengeMethodS256 is the only accepted PKCE challenge method. The
// plain method defeats the point of proof-of-possession and is rejected.
const CodeChallengeMethodS256 = "S256"

// VerifyS256 reports whether the SHA-256 digest of verifier, base64url
// encoded without padding, matches challenge. Comparison is constant-time.
func VerifyS256(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// randomToken returns n random bytes, base64url-encoded without padding.
// 32 bytes gives 256 bits of entropy, the recommended strength for
// authorization codes and signing secrets.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
