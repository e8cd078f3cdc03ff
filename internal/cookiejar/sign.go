// Package cookiejar signs and verifies the cookies the request pipeline
// sets, and encodes/decodes the session payload the "cookie cache"
// strategies carry (§4.2), grounded on the one-interface/many-backends
// shape of dex's server/signer package.
package cookiejar

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidSignature is returned when a cookie's signature does not
// match its value, or the cookie is malformed.
var ErrInvalidSignature = errors.New("cookiejar: invalid cookie signature")

// Signer HMAC-signs cookie values with a fixed key so the server can
// trust a returned cookie was not tampered with client-side, matching
// the pattern dex's signer package uses for ID tokens: one key, one
// algorithm, constant-time verification.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer using key as the HMAC-SHA256 secret. Use
// storage.NewHMACKey(crypto.SHA256) to generate one.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign returns "value.signature", both base64url encoded, suitable for
// direct use as a cookie value.
func (s *Signer) Sign(value string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(value))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(value)) + "." + sig
}

// Verify splits a signed cookie value and checks its signature in
// constant time, returning the original value.
func (s *Signer) Verify(signed string) (string, error) {
	parts := strings.SplitN(signed, ".", 2)
	if len(parts) != 2 {
		return "", ErrInvalidSignature
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidSignature
	}
	wantSig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(raw)
	gotSig := mac.Sum(nil)
	if subtle.ConstantTimeCompare(gotSig, wantSig) != 1 {
		return "", ErrInvalidSignature
	}
	return string(raw), nil
}

// VerifyLegacy checks a cookie signed with the pre-"compact" base64-hmac
// encoding: standard (padded) base64 instead of raw-url, and a single
// encoding layer around the payload rather than the current format's
// base64-within-base64. Returns the decoded payload bytes, not a string,
// since the legacy payload is never re-encoded before signing.
func (s *Signer) VerifyLegacy(signed string) ([]byte, error) {
	parts := strings.SplitN(signed, ".", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidSignature
	}
	raw, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidSignature
	}
	wantSig, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(raw)
	gotSig := mac.Sum(nil)
	if subtle.ConstantTimeCompare(gotSig, wantSig) != 1 {
		return nil, ErrInvalidSignature
	}
	return raw, nil
}
