package cookiejar

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/crypto/hkdf"
)

// Codec encodes and decodes the "cookie cache" session payload (§4.2):
// the subset of session state that can ride in the cookie itself so a
// request can be authenticated without a store round trip.
type Codec interface {
	Encode(claims map[string]any) (string, error)
	Decode(value string) (map[string]any, error)
}

// Strategy selects which Codec backs the cookie cache, matching dex
// signer's "one interface, config-selected implementation" shape.
type Strategy string

const (
	StrategyCompact Strategy = "compact"
	StrategyJWT     Strategy = "jwt"
	StrategyJWE     Strategy = "jwe"

	// legacyBase64HMAC is accepted on decode only (§9 Open Question):
	// older deployments may still hold cookies encoded this way.
	legacyBase64HMAC Strategy = "base64-hmac"
)

// NewCodec returns the Codec for strategy, deriving purpose-bound keys
// from masterKey via HKDF so the cookie-cache key is never the same
// bytes as any other signer's key.
func NewCodec(strategy Strategy, masterKey []byte) (Codec, error) {
	switch strategy {
	case StrategyCompact, legacyBase64HMAC, "":
		return &compactCodec{signer: NewSigner(derive(masterKey, "cookie-cache-compact"))}, nil
	case StrategyJWT:
		key := derive(masterKey, "cookie-cache-jwt")
		return &jwtCodec{key: key}, nil
	case StrategyJWE:
		// A256CBC-HS512 under direct encryption takes a 64-byte key.
		key := make([]byte, 64)
		if _, err := hkdf.New(sha256.New, masterKey, nil, []byte("cookie-cache-jwe")).Read(key); err != nil {
			return nil, err
		}
		return &jweCodec{key: key}, nil
	default:
		return nil, fmt.Errorf("cookiejar: unknown cookie cache strategy %q", strategy)
	}
}

// derive produces a purpose-bound 32-byte key via HKDF-SHA256, so the
// same master secret can back the cookie signer, the cookie cache, and
// any future purpose without key reuse across them.
func derive(masterKey []byte, info string) []byte {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	if _, err := r.Read(out); err != nil {
		panic(err)
	}
	return out
}

// compactCodec JSON-encodes claims and HMAC-signs the result, the
// cheapest of the three strategies: no JWT framing, just a signed blob.
type compactCodec struct {
	signer *Signer
}

func (c *compactCodec) Encode(claims map[string]any) (string, error) {
	blob, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return c.signer.Sign(base64.RawURLEncoding.EncodeToString(blob)), nil
}

func (c *compactCodec) Decode(value string) (map[string]any, error) {
	raw, err := c.signer.Verify(value)
	if err != nil {
		if fallback, ferr := decodeLegacyBase64HMAC(c.signer, value); ferr == nil {
			return fallback, nil
		}
		return nil, err
	}
	blob, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	var claims map[string]any
	if err := json.Unmarshal(blob, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// decodeLegacyBase64HMAC supports cookies written by a deployment's
// prior "base64-hmac" encoding (§9 Open Question: accepted on read,
// never emitted). It predates the current compact format's double
// base64 layer — the JSON blob was signed and encoded with standard
// (padded) base64 directly, not wrapped in an extra raw-url layer — so
// it needs its own verify/decode path rather than reusing Signer.Verify.
func decodeLegacyBase64HMAC(signer *Signer, value string) (map[string]any, error) {
	raw, err := signer.VerifyLegacy(value)
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// jwtCodec signs claims as an HS256 JWT, grounded on go-jose/v4's
// signer used the way dex's server/signer uses it for ID tokens.
type jwtCodec struct {
	key []byte
}

func (c *jwtCodec) Encode(claims map[string]any) (string, error) {
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: c.key}, nil)
	if err != nil {
		return "", err
	}
	builder := josejwt.Signed(sig).Claims(claims)
	return builder.Serialize()
}

func (c *jwtCodec) Decode(value string) (map[string]any, error) {
	tok, err := josejwt.ParseSigned(value, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, ErrInvalidSignature
	}
	var claims map[string]any
	if err := tok.Claims(c.key, &claims); err != nil {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// jweCodec encrypts claims as a compact JWE (A256CBC-HS512), so the
// cookie content is opaque to the client as well as tamper-evident.
type jweCodec struct {
	key []byte
}

func (c *jweCodec) Encode(claims map[string]any) (string, error) {
	enc, err := jose.NewEncrypter(jose.A256CBC_HS512,
		jose.Recipient{Algorithm: jose.DIRECT, Key: c.key}, nil)
	if err != nil {
		return "", err
	}
	blob, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	obj, err := enc.Encrypt(blob)
	if err != nil {
		return "", err
	}
	return obj.CompactSerialize()
}

func (c *jweCodec) Decode(value string) (map[string]any, error) {
	obj, err := jose.ParseEncrypted(value,
		[]jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256CBC_HS512})
	if err != nil {
		return nil, ErrInvalidSignature
	}
	blob, err := obj.Decrypt(c.key)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	var claims map[string]any
	if err := json.Unmarshal(blob, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}
