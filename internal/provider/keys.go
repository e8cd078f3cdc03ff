// Package provider implements the OAuth2/OIDC authorization-server role
// (§4.6): authorize/token/introspect/jwks/discovery/dynamic client
// registration and the consent/select-account screens the spec adds on
// top of plain OAuth2. Grounded on dex's own server package, which is
// itself an OIDC provider — the same request shapes, split across the
// same handler boundaries, generalized from dex's fixed upstream-IdP
// flow onto this engine's own session/credentials subsystem as the
// identity source.
package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/better-auth/authd/storage"
)

var errAlreadyRotated = errors.New("signing keys already rotated by another instance")

type verificationKey struct {
	PublicKey *jose.JSONWebKey `json:"publicKey"`
	Expiry    time.Time        `json:"expiry"`
}

type keySet struct {
	SigningKey       *jose.JSONWebKey  `json:"signingKey"`
	SigningKeyPub    *jose.JSONWebKey  `json:"signingKeyPub"`
	VerificationKeys []verificationKey `json:"verificationKeys"`
	NextRotation     time.Time         `json:"nextRotation"`
}

// KeyManager owns the provider's RSA signing key and its rotation
// schedule, persisted through the generic storage.Store instead of
// dex's dedicated storage.Keys/GetKeys/UpdateKeys methods — the
// document-store adapter's "signing_keys" single-row model plays the
// same role.
type KeyManager struct {
	store              storage.Store
	now                func() time.Time
	logger             *slog.Logger
	rotationFrequency  time.Duration
	idTokenValidFor    time.Duration
}

const signingKeysRowID = "current"

func NewKeyManager(store storage.Store, rotationFrequency, idTokenValidFor time.Duration, now func() time.Time, logger *slog.Logger) *KeyManager {
	if now == nil {
		now = time.Now
	}
	return &KeyManager{store: store, now: now, logger: logger, rotationFrequency: rotationFrequency, idTokenValidFor: idTokenValidFor}
}

// Start rotates immediately (so a fresh deployment has keys without
// waiting a full rotation period) and then rotates on a 30-second
// check, mirroring dex's localSigner.Start.
func (m *KeyManager) Start(ctx context.Context) {
	if err := m.rotate(ctx); err != nil && !errors.Is(err, errAlreadyRotated) {
		m.logger.Error("failed to rotate signing keys", "err", err)
	}
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.rotate(ctx); err != nil && !errors.Is(err, errAlreadyRotated) {
					m.logger.Error("failed to rotate signing keys", "err", err)
				}
			}
		}
	}()
}

func (m *KeyManager) load(ctx context.Context) (keySet, error) {
	rec, err := m.store.FindOne(ctx, storage.ModelSigningKeys, []storage.Where{storage.Eq("id", signingKeysRowID)}, nil)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return keySet{}, nil
		}
		return keySet{}, err
	}
	blob, _ := rec["data"].(string)
	if blob == "" {
		return keySet{}, nil
	}
	var ks keySet
	if err := json.Unmarshal([]byte(blob), &ks); err != nil {
		return keySet{}, fmt.Errorf("provider: decode signing keys: %w", err)
	}
	return ks, nil
}

func (m *KeyManager) save(ctx context.Context, ks keySet) error {
	blob, err := json.Marshal(ks)
	if err != nil {
		return err
	}
	rec := storage.Record{"id": signingKeysRowID, "data": string(blob)}
	_, err = m.store.Update(ctx, storage.ModelSigningKeys, []storage.Where{storage.Eq("id", signingKeysRowID)}, rec)
	if errors.Is(err, storage.ErrNotFound) {
		_, err = m.store.Create(ctx, storage.ModelSigningKeys, rec)
	}
	return err
}

// rotate generates a fresh signing key once NextRotation has passed,
// demoting the previous signing key to a verification-only key kept
// around for idTokenValidFor so tokens it already signed keep
// validating, mirroring dex's keyRotator.rotate exactly.
func (m *KeyManager) rotate(ctx context.Context) error {
	ks, err := m.load(ctx)
	if err != nil {
		return err
	}
	now := m.now()
	if now.Before(ks.NextRotation) {
		return nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("provider: generate signing key: %w", err)
	}
	idBytes := make([]byte, 20)
	if _, err := rand.Read(idBytes); err != nil {
		return err
	}
	keyID := hex.EncodeToString(idBytes)

	priv := &jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: "RS256", Use: "sig"}
	pub := &jose.JSONWebKey{Key: key.Public(), KeyID: keyID, Algorithm: "RS256", Use: "sig"}

	pruned := ks.VerificationKeys[:0]
	for _, vk := range ks.VerificationKeys {
		if now.Before(vk.Expiry) {
			pruned = append(pruned, vk)
		}
	}
	ks.VerificationKeys = pruned
	if ks.SigningKeyPub != nil {
		ks.VerificationKeys = append(ks.VerificationKeys, verificationKey{
			PublicKey: ks.SigningKeyPub,
			Expiry:    now.Add(m.idTokenValidFor),
		})
	}
	ks.SigningKey = priv
	ks.SigningKeyPub = pub
	ks.NextRotation = now.Add(m.rotationFrequency)

	if err := m.save(ctx, ks); err != nil {
		return err
	}
	m.logger.Info("signing keys rotated", "next_rotation", ks.NextRotation)
	return nil
}

// JWKS returns the current public keyset for the /jwks endpoint: the
// active signing key first, then every still-valid verification key.
func (m *KeyManager) JWKS(ctx context.Context) (jose.JSONWebKeySet, time.Time, error) {
	ks, err := m.load(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, time.Time{}, err
	}
	if ks.SigningKeyPub == nil {
		return jose.JSONWebKeySet{}, time.Time{}, fmt.Errorf("provider: no signing key available")
	}
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(ks.VerificationKeys)+1)}
	set.Keys = append(set.Keys, *ks.SigningKeyPub)
	for _, vk := range ks.VerificationKeys {
		set.Keys = append(set.Keys, *vk.PublicKey)
	}
	return set, ks.NextRotation, nil
}

// Sign returns a compact JWS over claims using the current signing key.
func (m *KeyManager) Sign(ctx context.Context, claims any) (string, error) {
	ks, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if ks.SigningKey == nil {
		return "", fmt.Errorf("provider: no signing key available")
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: ks.SigningKey}, (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", ks.SigningKey.KeyID))
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return jws.CompactSerialize()
}
