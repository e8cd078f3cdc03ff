package credentials

import (
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
)

// TokenKind distinguishes the three HS256 JWT purposes this package
// issues, so a token minted for one purpose can never be replayed as
// another even though all three share a signer.
type TokenKind string

const (
	TokenEmailVerification TokenKind = "email_verification"
	TokenPasswordReset     TokenKind = "password_reset"
	TokenMagicLink         TokenKind = "magic_link"
)

// TokenClaims is the shape carried by every verification/reset/
// magic-link token, grounded on dex legacy user/email_verification.go's
// claim set (email, optional updateTo, iat/exp) reimplemented as a JWT
// instead of dex legacy's bespoke coreos/go-oidc/jose signer.
type TokenClaims struct {
	Kind      TokenKind `json:"kind"`
	Email     string    `json:"email"`
	UpdateTo  string    `json:"updateTo,omitempty"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
}

// TokenSigner issues and verifies the three token kinds above as
// compact HS256 JWTs.
type TokenSigner struct {
	key []byte
	now func() time.Time
}

func NewTokenSigner(key []byte, now func() time.Time) *TokenSigner {
	if now == nil {
		now = time.Now
	}
	return &TokenSigner{key: key, now: now}
}

func (s *TokenSigner) Issue(kind TokenKind, email, updateTo string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := TokenClaims{
		Kind:      kind,
		Email:     email,
		UpdateTo:  updateTo,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: s.key}, nil)
	if err != nil {
		return "", err
	}
	return josejwt.Signed(sig).Claims(claims).Serialize()
}

// Verify parses token, checks its expiry, and confirms it was issued for
// want. Returns ErrTokenExpired once the token's expiry has passed and
// ErrTokenInvalid for any other failure (bad signature, malformed token,
// wrong kind).
func (s *TokenSigner) Verify(token string, want TokenKind) (TokenClaims, error) {
	parsed, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return TokenClaims{}, ErrTokenInvalid
	}
	var claims TokenClaims
	if err := parsed.Claims(s.key, &claims); err != nil {
		return TokenClaims{}, ErrTokenInvalid
	}
	if claims.Kind != want {
		return TokenClaims{}, ErrTokenInvalid
	}
	if s.now().After(time.Unix(claims.ExpiresAt, 0)) {
		return TokenClaims{}, ErrTokenExpired
	}
	return claims, nil
}
