package credentials

import (
	"testing"
	"time"
)

func TestTokenSignerIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer := NewTokenSigner([]byte("test-signing-key-0123456789abcd"), func() time.Time { return now })

	token, err := signer.Issue(TokenEmailVerification, "ada@example.com", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := signer.Verify(token, TokenEmailVerification)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Email != "ada@example.com" {
		t.Errorf("claims.Email = %q, want ada@example.com", claims.Email)
	}
}

func TestTokenSignerRejectsWrongKind(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer := NewTokenSigner([]byte("test-signing-key-0123456789abcd"), func() time.Time { return now })

	token, err := signer.Issue(TokenPasswordReset, "ada@example.com", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := signer.Verify(token, TokenMagicLink); err != ErrTokenInvalid {
		t.Errorf("Verify with mismatched kind: err = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenSignerRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	signer := NewTokenSigner([]byte("test-signing-key-0123456789abcd"), func() time.Time { return current })

	token, err := signer.Issue(TokenMagicLink, "ada@example.com", "", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	current = now.Add(2 * time.Minute)
	if _, err := signer.Verify(token, TokenMagicLink); err != ErrTokenExpired {
		t.Errorf("Verify after expiry: err = %v, want ErrTokenExpired", err)
	}
}

func TestTokenSignerRejectsTamperedToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer := NewTokenSigner([]byte("test-signing-key-0123456789abcd"), func() time.Time { return now })
	other := NewTokenSigner([]byte("a-totally-different-key-zzzzzzz"), func() time.Time { return now })

	token, err := signer.Issue(TokenMagicLink, "ada@example.com", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := other.Verify(token, TokenMagicLink); err != ErrTokenInvalid {
		t.Errorf("Verify with wrong key: err = %v, want ErrTokenInvalid", err)
	}
}
