package provider

import "time"

// IDTokenClaims is the OIDC core ID token claim set this provider
// issues (§4.6). Scope-gated claims beyond sub/iss/aud/exp/iat are
// filled in only when the authorization request's scope included the
// claim's defining scope (profile, email).
type IDTokenClaims struct {
	Issuer        string `json:"iss"`
	Subject       string `json:"sub"`
	Audience      string `json:"aud"`
	ExpiresAt     int64  `json:"exp"`
	IssuedAt      int64  `json:"iat"`
	Nonce         string `json:"nonce,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

func newIDTokenClaims(issuer, userID, clientID, nonce string, now time.Time, ttl time.Duration) IDTokenClaims {
	return IDTokenClaims{
		Issuer:    issuer,
		Subject:   userID,
		Audience:  clientID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Nonce:     nonce,
	}
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
