package security

import (
	"testing"
)

func TestVerifyChallengeS256(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := S256Challenge(verifier)

	if err := VerifyChallenge(challenge, MethodS256, verifier); err != nil {
		t.Errorf("valid S256 verifier rejected: %v", err)
	}
	if err := VerifyChallenge(challenge, MethodS256, "wrong-verifier"); err == nil {
		t.Error("wrong S256 verifier accepted")
	}
}

func TestVerifyChallengePlain(t *testing.T) {
	if err := VerifyChallenge("abc", MethodPlain, "abc"); err != nil {
		t.Errorf("matching plain verifier rejected: %v", err)
	}
	if err := VerifyChallenge("abc", MethodPlain, "xyz"); err == nil {
		t.Error("mismatched plain verifier accepted")
	}
	// Stored challenges without a recorded method are treated as plain.
	if err := VerifyChallenge("abc", "", "abc"); err != nil {
		t.Errorf("empty method not treated as plain: %v", err)
	}
}

func TestVerifyChallengeNoPKCE(t *testing.T) {
	if err := VerifyChallenge("", "", ""); err != nil {
		t.Errorf("code without challenge rejected bare exchange: %v", err)
	}
	if err := VerifyChallenge("", "", "unexpected"); err == nil {
		t.Error("verifier accepted for a code issued without a challenge")
	}
}

func TestVerifyChallengeMissingVerifier(t *testing.T) {
	challenge := S256Challenge("some-verifier")
	if err := VerifyChallenge(challenge, MethodS256, ""); err == nil {
		t.Error("empty verifier accepted for a code with a challenge")
	}
}

func TestVerifyChallengeUnsupportedMethod(t *testing.T) {
	if err := VerifyChallenge("abc", "S512", "abc"); err == nil {
		t.Error("unsupported challenge method accepted")
	}
}

func TestValidChallengeMethod(t *testing.T) {
	for _, m := range []string{MethodPlain, MethodS256} {
		if !ValidChallengeMethod(m) {
			t.Errorf("ValidChallengeMethod(%q) = false", m)
		}
	}
	for _, m := range []string{"", "s256", "S512"} {
		if ValidChallengeMethod(m) {
			t.Errorf("ValidChallengeMethod(%q) = true", m)
		}
	}
}
