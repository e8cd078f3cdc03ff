package authcore

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

const phoneOTPPrefix = "phone_otp:"

type signInPhoneNumberRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// handleSignInPhoneNumber implements POST /sign-in/phone-number (§4.4):
// sends a fresh OTP to phoneNumber regardless of whether an account
// already uses it, mirroring handleForgetPassword's non-enumerating
// response shape.
func (c *Core) handleSignInPhoneNumber(ctx *plugin.Context) error {
	var req signInPhoneNumberRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		return apierror.BadRequest("BAD_REQUEST", "phoneNumber is required")
	}

	code, err := credentials.SendOTP(ctx, c.store, phoneOTPPrefix+phone, c.cfg.OTPDigits, c.cfg.OTPTTL, c.now())
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	if c.cfg.Notifier != nil {
		if err := c.cfg.Notifier.SendOTP(ctx, phone, code); err != nil {
			ctx.Logger.Warn("sign-in/phone-number: send otp failed", "error", err)
		}
	}
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}

type verifyPhoneNumberRequest struct {
	PhoneNumber    string `json:"phoneNumber"`
	Code           string `json:"code"`
	DisableSession bool   `json:"disableSession,omitempty"`
}

// handleVerifyPhoneNumber implements POST /phone-number/verify (§4.4):
// checks candidate against the attempt-bounded stored code via
// credentials.VerifyOTP, then either marks an existing account's phone
// number verified or — when Config.SignUpOnVerification allows it —
// provisions a new user with a synthetic email, the same
// create-on-first-contact shape resolveOAuthUser uses for social
// sign-in.
func (c *Core) handleVerifyPhoneNumber(ctx *plugin.Context) error {
	var req verifyPhoneNumberRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}
	phone := strings.TrimSpace(req.PhoneNumber)

	if verr := credentials.VerifyOTP(ctx, c.store, phoneOTPPrefix+phone, req.Code, c.cfg.OTPAttemptLimit, c.now()); verr != nil {
		switch {
		case errors.Is(verr, credentials.ErrTooManyAttempts):
			return apierror.TooManyRequests("TOO_MANY_ATTEMPTS", "too many failed verification attempts")
		case errors.Is(verr, credentials.ErrOTPExpired):
			return apierror.BadRequest("OTP_EXPIRED", "the one-time code has expired")
		default:
			return apierror.BadRequest("INVALID_OTP", "the supplied one-time code is incorrect")
		}
	}

	now := c.now()
	var user storage.User
	if userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("phoneNumber", phone)}, nil); err == nil {
		user = storage.UserFromRecord(userRec)
		if _, err := c.store.Update(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", user.ID)},
			storage.Record{"phoneVerified": true, "updatedAt": now}); err != nil {
			return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
		}
		user.PhoneVerified = true
	} else if c.cfg.SignUpOnVerification {
		user = storage.User{
			ID: storage.NewID(), Email: phone + "@phone.better-auth.local",
			PhoneNumber: phone, PhoneVerified: true, CreatedAt: now, UpdatedAt: now,
		}
		if _, err := c.store.Create(ctx, storage.ModelUser, user.ToRecord()); err != nil {
			return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
		}
	} else {
		return apierror.NotFound("NOT_FOUND", "no account is registered with this phone number")
	}

	if req.DisableSession {
		writeJSON(ctx, 200, map[string]any{"status": true, "user": toPublicUser(user)})
		return nil
	}
	return c.issueSession(ctx, user)
}
