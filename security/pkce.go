// Package security provides the security primitives used by the
// authorization server: PKCE challenge verification, audit logging,
// per-identifier rate limiting, and secure response headers.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// PKCE code challenge methods.
const (
	MethodPlain = "plain"
	MethodS256  = "S256"
)

// ValidChallengeMethod reports whether method is a supported PKCE
// code_challenge_method value.
func ValidChallengeMethod(method string) bool {
	return method == MethodPlain || method == MethodS256
}

// S256Challenge derives the S256 code challenge for a verifier:
// base64url (no padding) of the SHA-256 digest.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyChallenge checks a PKCE code verifier against the challenge
// recorded when the authorization code was issued. Comparisons are
// constant-time so the check does not leak how much of the challenge
// matched.
//
// An empty challenge means the code was issued without PKCE; any
// supplied verifier is then rejected to avoid downgrade confusion,
// while an empty verifier passes.
func VerifyChallenge(challenge, method, verifier string) error {
	if challenge == "" {
		if verifier != "" {
			return fmt.Errorf("code was issued without a challenge")
		}
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}

	var derived string
	switch method {
	case MethodS256:
		derived = S256Challenge(verifier)
	case MethodPlain, "":
		derived = verifier
	default:
		return fmt.Errorf("unsupported challenge method %q", method)
	}

	if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match challenge")
	}
	return nil
}
