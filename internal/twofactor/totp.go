// Package twofactor implements TOTP enrollment/verification, encrypted
// backup codes, and trust-device cookies (§4.7), grounded on dex's
// server/totphandler.go (pquerna/otp usage, QR generation, HMAC-signed
// pending-auth identifiers).
package twofactor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/better-auth/authd/internal/cryptoutil"
	"github.com/better-auth/authd/storage"
)

var (
	ErrInvalidCode     = errors.New("twofactor: invalid code")
	ErrNotEnabled      = errors.New("twofactor: not enabled for user")
	ErrBackupCodeUsed  = errors.New("twofactor: backup code already used")
	ErrTooManyAttempts = errors.New("twofactor: too many attempts")
)

// BackupCodesMode mirrors storage.TwoFactor.BackupCodesMode.
const (
	ModePlain     = "plain"
	ModeEncrypted = "encrypted"
)

// Manager issues and verifies TOTP enrollment for users, grounded on
// dex's pquerna/otp-based TOTP handling generalized off dex's
// connector-scoped offline session onto a per-user TwoFactor record.
type Manager struct {
	store         storage.Store
	issuer        string
	encryptionKey []byte // nil disables at-rest encryption of secret/backup codes
	now           func() time.Time
}

func NewManager(store storage.Store, issuer string, encryptionKey []byte, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, issuer: issuer, encryptionKey: encryptionKey, now: now}
}

// Enroll generates a new TOTP secret for accountName, persists it
// (encrypted, if configured), and returns the otpauth:// URL and a PNG
// QR code so the caller can render it, matching dex's
// generateQRCode helper.
func (m *Manager) Enroll(ctx context.Context, userID, accountName string) (otpauthURL string, qrPNG []byte, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", nil, err
	}

	secret, err := m.encode(key.Secret())
	if err != nil {
		return "", nil, err
	}

	tf := storage.TwoFactor{UserID: userID, Secret: secret, BackupCodesMode: ModePlain}
	if _, err := m.store.FindOne(ctx, storage.ModelTwoFactor, []storage.Where{storage.Eq("userId", userID)}, nil); errors.Is(err, storage.ErrNotFound) {
		if _, err := m.store.Create(ctx, storage.ModelTwoFactor, tf.ToRecord()); err != nil {
			return "", nil, err
		}
	} else if err == nil {
		if _, err := m.store.Update(ctx, storage.ModelTwoFactor, []storage.Where{storage.Eq("userId", userID)}, tf.ToRecord()); err != nil {
			return "", nil, err
		}
	} else {
		return "", nil, err
	}

	img, err := key.Image(300, 300)
	if err != nil {
		return "", nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", nil, err
	}
	return key.String(), buf.Bytes(), nil
}

// VerifyTOTP validates a 6-digit code against the user's enrolled
// secret.
func (m *Manager) VerifyTOTP(ctx context.Context, userID, code string) error {
	rec, err := m.store.FindOne(ctx, storage.ModelTwoFactor, []storage.Where{storage.Eq("userId", userID)}, nil)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotEnabled
		}
		return err
	}
	tf := storage.TwoFactorFromRecord(rec)
	secret, err := m.decode(tf.Secret)
	if err != nil {
		return err
	}
	key, err := otp.NewKeyFromURL("otpauth://totp/x?secret=" + secret)
	if err != nil {
		return err
	}
	if !totp.Validate(code, key.Secret()) {
		return ErrInvalidCode
	}
	return nil
}

func (m *Manager) encode(plaintext string) (string, error) {
	if m.encryptionKey == nil {
		return plaintext, nil
	}
	ciphertext, err := cryptoutil.Encrypt([]byte(plaintext), m.encryptionKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *Manager) decode(value string) (string, error) {
	if m.encryptionKey == nil {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", err
	}
	plaintext, err := cryptoutil.Decrypt(raw, m.encryptionKey)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// backupCodeCount matches the industry-standard ten-code set; not
// otherwise specified by §4.7.
const backupCodeCount = 10

// GenerateBackupCodes creates a fresh set of single-use backup codes,
// replacing any previously stored set.
func (m *Manager) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes := make([]string, backupCodeCount)
	for i := range codes {
		raw, err := cryptoutil.RandBytes(5)
		if err != nil {
			return nil, err
		}
		codes[i] = base64.RawURLEncoding.EncodeToString(raw)
	}
	blob, err := json.Marshal(codes)
	if err != nil {
		return nil, err
	}
	mode := ModePlain
	value := string(blob)
	if m.encryptionKey != nil {
		mode = ModeEncrypted
		ciphertext, err := cryptoutil.Encrypt(blob, m.encryptionKey)
		if err != nil {
			return nil, err
		}
		value = base64.StdEncoding.EncodeToString(ciphertext)
	}
	_, err = m.store.Update(ctx, storage.ModelTwoFactor, []storage.Where{storage.Eq("userId", userID)},
		storage.Record{"backupCodes": value, "backupCodesMode": mode})
	return codes, err
}

// VerifyBackupCode checks candidate against the user's stored set,
// removing it (re-encrypting the remainder, when encrypted) on success.
func (m *Manager) VerifyBackupCode(ctx context.Context, userID, candidate string) error {
	rec, err := m.store.FindOne(ctx, storage.ModelTwoFactor, []storage.Where{storage.Eq("userId", userID)}, nil)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotEnabled
		}
		return err
	}
	tf := storage.TwoFactorFromRecord(rec)
	codes, err := m.decodeBackupCodes(tf)
	if err != nil {
		return err
	}

	idx := -1
	for i, c := range codes {
		if subtle.ConstantTimeCompare([]byte(c), []byte(candidate)) == 1 {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrBackupCodeUsed
	}
	remaining := append(codes[:idx], codes[idx+1:]...)
	blob, err := json.Marshal(remaining)
	if err != nil {
		return err
	}
	value := string(blob)
	if tf.BackupCodesMode == ModeEncrypted && m.encryptionKey != nil {
		ciphertext, err := cryptoutil.Encrypt(blob, m.encryptionKey)
		if err != nil {
			return err
		}
		value = base64.StdEncoding.EncodeToString(ciphertext)
	}
	_, err = m.store.Update(ctx, storage.ModelTwoFactor, []storage.Where{storage.Eq("userId", userID)},
		storage.Record{"backupCodes": value})
	return err
}

func (m *Manager) decodeBackupCodes(tf storage.TwoFactor) ([]string, error) {
	blob := []byte(tf.BackupCodes)
	if tf.BackupCodesMode == ModeEncrypted {
		raw, err := base64.StdEncoding.DecodeString(tf.BackupCodes)
		if err != nil {
			return nil, err
		}
		blob, err = cryptoutil.Decrypt(raw, m.encryptionKey)
		if err != nil {
			return nil, err
		}
	}
	var codes []string
	if err := json.Unmarshal(blob, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// TrustDeviceSigner issues and verifies the HMAC-based trust_device
// cookie identifier (§4.7), grounded on dex's own constant-time HMAC
// comparison of pending-auth identifiers in totphandler.go.
type TrustDeviceSigner struct {
	key []byte
}

func NewTrustDeviceSigner(key []byte) *TrustDeviceSigner {
	return &TrustDeviceSigner{key: key}
}

func (s *TrustDeviceSigner) Sign(id string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func (s *TrustDeviceSigner) Verify(id, mac string) bool {
	decoded, err := base64.RawURLEncoding.DecodeString(mac)
	if err != nil {
		return false
	}
	expected := hmac.New(sha256.New, s.key)
	expected.Write([]byte(id))
	return hmac.Equal(decoded, expected.Sum(nil))
}
