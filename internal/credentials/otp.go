package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/better-auth/authd/storage"
)

var (
	ErrTokenInvalid    = errors.New("credentials: token invalid")
	ErrTokenExpired    = errors.New("credentials: token expired")
	ErrOTPExpired      = errors.New("credentials: otp expired")
	ErrOTPInvalid      = errors.New("credentials: otp invalid")
	ErrTooManyAttempts = errors.New("credentials: too many attempts")
)

// DefaultOTPAttemptLimit matches spec §4.4's default ceiling for phone
// OTP verification.
const DefaultOTPAttemptLimit = 3

// encodeOTPValue packs a verification row's value as "<code>:<attempts>"
// per §3's VerificationValue.value format.
func encodeOTPValue(code string, attempts int) string {
	return fmt.Sprintf("%s:%d", code, attempts)
}

func decodeOTPValue(value string) (code string, attempts int, err error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("credentials: malformed otp value %q", value)
	}
	attempts, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, err
	}
	return parts[0], attempts, nil
}

// SendOTP creates (or replaces) a phone OTP verification row for
// identifier, returning the freshly generated code so the caller can
// hand it to an SMS provider.
func SendOTP(ctx context.Context, store storage.Store, identifier string, digits int, ttl time.Duration, now time.Time) (string, error) {
	code, err := storage.NewOTP(digits)
	if err != nil {
		return "", err
	}
	_, _ = store.DeleteMany(ctx, storage.ModelVerification, []storage.Where{storage.Eq("identifier", identifier)})
	v := storage.VerificationValue{
		ID:         storage.NewID(),
		Identifier: identifier,
		Value:      encodeOTPValue(code, 0),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if _, err := store.Create(ctx, storage.ModelVerification, v.ToRecord()); err != nil {
		return "", err
	}
	return code, nil
}

// VerifyOTP checks candidate against the stored code for identifier,
// enforcing the attempt ceiling from §4.7/§4.4. On success the row is
// consumed atomically (ConsumeOne, guarded by the value observed at read
// time) so two concurrent requests presenting the same correct candidate
// can't both succeed off the same row; on mismatch the attempt counter is
// incremented in place.
func VerifyOTP(ctx context.Context, store storage.Store, identifier, candidate string, limit int, now time.Time) error {
	if limit <= 0 {
		limit = DefaultOTPAttemptLimit
	}
	rec, err := store.FindOne(ctx, storage.ModelVerification, []storage.Where{storage.Eq("identifier", identifier)}, nil)
	if err != nil {
		return err
	}
	v := storage.VerificationFromRecord(rec)
	if now.After(v.ExpiresAt) {
		_ = store.Delete(ctx, storage.ModelVerification, []storage.Where{storage.Eq("id", v.ID)})
		return ErrOTPExpired
	}
	code, attempts, err := decodeOTPValue(v.Value)
	if err != nil {
		return err
	}
	if attempts >= limit {
		return ErrTooManyAttempts
	}
	if code != candidate {
		_, err := store.Update(ctx, storage.ModelVerification,
			[]storage.Where{storage.Eq("id", v.ID)},
			storage.Record{"value": encodeOTPValue(code, attempts+1)})
		if err != nil {
			return err
		}
		return ErrOTPInvalid
	}
	if _, err := store.ConsumeOne(ctx, storage.ModelVerification, []storage.Where{
		storage.Eq("id", v.ID),
		{Field: "value", Value: v.Value, Operator: storage.OpEq, Connector: storage.And},
	}); err != nil {
		// Another request already consumed or mutated this row between
		// our read and this consume; treat the race loser as a failed
		// attempt rather than silently succeeding twice.
		return ErrOTPInvalid
	}
	return nil
}
