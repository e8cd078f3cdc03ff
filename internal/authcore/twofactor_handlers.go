package authcore

import (
	"encoding/json"
	"errors"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/internal/twofactor"
	"github.com/better-auth/authd/storage"
)

type twoFactorEnableRequest struct {
	Password string `json:"password"`
}

type twoFactorEnableResponse struct {
	TOTPURI string `json:"totpURI"`
}

// handleTwoFactorEnable implements POST /two-factor/enable (§4.7):
// re-verifies the caller's password, then enrolls a fresh TOTP secret.
func (c *Core) handleTwoFactorEnable(ctx *plugin.Context) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	var req twoFactorEnableRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}

	userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", sess.UserID)}, nil)
	if err != nil {
		return apierror.NotFound("NOT_FOUND", "user no longer exists")
	}
	user := storage.UserFromRecord(userRec)

	accountRec, err := c.store.FindOne(ctx, storage.ModelAccount, []storage.Where{
		storage.Eq("userId", sess.UserID),
		{Field: "providerId", Value: storage.CredentialProvider, Operator: storage.OpEq, Connector: storage.And},
	}, nil)
	if err != nil {
		return apierror.UnprocessableEntity("NO_PASSWORD", "account has no password set")
	}
	account := storage.AccountFromRecord(accountRec)
	if account.Password == "" || !c.hasher.Verify(account.Password, req.Password) {
		return apierror.Unauthorized("INVALID_CREDENTIALS", "password is incorrect")
	}

	uri, _, err := c.twofactor.Enroll(ctx, user.ID, user.Email)
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	if _, err := c.store.Update(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", user.ID)},
		storage.Record{"twoFactorEnabled": true, "updatedAt": c.now()}); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	writeJSON(ctx, 200, twoFactorEnableResponse{TOTPURI: uri})
	return nil
}

type twoFactorDisableRequest struct {
	Password string `json:"password"`
}

// handleTwoFactorDisable implements POST /two-factor/disable: re-verifies
// the password, then clears the enrollment flag.
func (c *Core) handleTwoFactorDisable(ctx *plugin.Context) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	var req twoFactorDisableRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}

	accountRec, err := c.store.FindOne(ctx, storage.ModelAccount, []storage.Where{
		storage.Eq("userId", sess.UserID),
		{Field: "providerId", Value: storage.CredentialProvider, Operator: storage.OpEq, Connector: storage.And},
	}, nil)
	if err != nil {
		return apierror.UnprocessableEntity("NO_PASSWORD", "account has no password set")
	}
	account := storage.AccountFromRecord(accountRec)
	if account.Password == "" || !c.hasher.Verify(account.Password, req.Password) {
		return apierror.Unauthorized("INVALID_CREDENTIALS", "password is incorrect")
	}

	if _, err := c.store.Update(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", sess.UserID)},
		storage.Record{"twoFactorEnabled": false, "updatedAt": c.now()}); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	_, _ = c.store.DeleteMany(ctx, storage.ModelTwoFactor, []storage.Where{storage.Eq("userId", sess.UserID)})
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}

type twoFactorSendOTPRequest struct {
	VerificationToken string `json:"verificationToken,omitempty"`
}

const twoFactorOTPIdentifierPrefix = "two_factor_otp:"

// handleTwoFactorSendOTP implements POST /two-factor/send-otp: sends a
// fresh code to the user named by the pending-2FA challenge.
func (c *Core) handleTwoFactorSendOTP(ctx *plugin.Context) error {
	var req twoFactorSendOTPRequest
	_ = json.NewDecoder(ctx.R.Body).Decode(&req)

	_, userID, err := c.resolvePendingTwoFactor(ctx, req.VerificationToken)
	if err != nil {
		return err
	}
	code, err := credentials.SendOTP(ctx, c.store, twoFactorOTPIdentifierPrefix+userID, c.cfg.OTPDigits, c.cfg.OTPTTL, c.now())
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	if c.cfg.Notifier != nil {
		if err := c.cfg.Notifier.SendOTP(ctx, userID, code); err != nil {
			ctx.Logger.Warn("two-factor: send otp failed", "error", err)
		}
	}
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}

type twoFactorVerifyOTPRequest struct {
	Code              string `json:"code"`
	VerificationToken string `json:"verificationToken,omitempty"`
	TrustDevice       bool   `json:"trustDevice,omitempty"`
}

// handleTwoFactorVerifyOTP implements POST /two-factor/verify-otp:
// completes the post-sign-in 2FA gate via the emailed/texted OTP.
func (c *Core) handleTwoFactorVerifyOTP(ctx *plugin.Context) error {
	var req twoFactorVerifyOTPRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}

	pendingID, userID, err := c.resolvePendingTwoFactor(ctx, req.VerificationToken)
	if err != nil {
		return err
	}

	if verr := credentials.VerifyOTP(ctx, c.store, twoFactorOTPIdentifierPrefix+userID, req.Code, c.cfg.OTPAttemptLimit, c.now()); verr != nil {
		switch {
		case errors.Is(verr, credentials.ErrTooManyAttempts):
			return apierror.TooManyRequests("TOO_MANY_ATTEMPTS", "too many failed verification attempts")
		case errors.Is(verr, credentials.ErrOTPExpired):
			return apierror.BadRequest("OTP_EXPIRED", "the one-time code has expired")
		default:
			return apierror.BadRequest("INVALID_OTP", "the supplied one-time code is incorrect")
		}
	}

	return c.completeTwoFactor(ctx, pendingID, userID, req.TrustDevice)
}

type twoFactorVerifyTOTPRequest struct {
	Code              string `json:"code"`
	VerificationToken string `json:"verificationToken,omitempty"`
	TrustDevice       bool   `json:"trustDevice,omitempty"`
}

// handleTwoFactorVerifyTOTP implements POST /two-factor/verify-totp:
// completes the post-sign-in 2FA gate via an authenticator-app code.
func (c *Core) handleTwoFactorVerifyTOTP(ctx *plugin.Context) error {
	var req twoFactorVerifyTOTPRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}

	pendingID, userID, err := c.resolvePendingTwoFactor(ctx, req.VerificationToken)
	if err != nil {
		return err
	}

	if verr := c.twofactor.VerifyTOTP(ctx, userID, req.Code); verr != nil {
		if errors.Is(verr, twofactor.ErrNotEnabled) {
			return apierror.UnprocessableEntity("TWO_FACTOR_NOT_ENABLED", "two-factor is not enabled for this account")
		}
		return apierror.BadRequest("INVALID_OTP", "the supplied code is incorrect")
	}

	return c.completeTwoFactor(ctx, pendingID, userID, req.TrustDevice)
}

// completeTwoFactor clears the pending challenge, issues the real
// session, and — if requested — marks this device trusted so future
// sign-ins skip the challenge for cfg.TrustDeviceTTL (§4.7).
func (c *Core) completeTwoFactor(ctx *plugin.Context, pendingID, userID string, trustDevice bool) error {
	c.clearTwoFactorChallenge(ctx, pendingID)

	userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", userID)}, nil)
	if err != nil {
		return apierror.NotFound("NOT_FOUND", "user no longer exists")
	}
	if trustDevice {
		c.issueTrustDeviceCookie(ctx, userID)
	}
	return c.issueSession(ctx, storage.UserFromRecord(userRec))
}

type generateBackupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

// handleGenerateBackupCodes implements POST /two-factor/generate-backup-codes:
// requires an active session and replaces the caller's backup code set.
func (c *Core) handleGenerateBackupCodes(ctx *plugin.Context) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	codes, err := c.twofactor.GenerateBackupCodes(ctx, sess.UserID)
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	writeJSON(ctx, 200, generateBackupCodesResponse{BackupCodes: codes})
	return nil
}

type verifyBackupCodeRequest struct {
	Code              string `json:"code"`
	VerificationToken string `json:"verificationToken,omitempty"`
	TrustDevice       bool   `json:"trustDevice,omitempty"`
}

// handleVerifyBackupCode implements POST /two-factor/verify-backup-code:
// an alternate completion of the post-sign-in 2FA gate for a user who
// has lost access to their TOTP device.
func (c *Core) handleVerifyBackupCode(ctx *plugin.Context) error {
	var req verifyBackupCodeRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}

	pendingID, userID, err := c.resolvePendingTwoFactor(ctx, req.VerificationToken)
	if err != nil {
		return err
	}

	if verr := c.twofactor.VerifyBackupCode(ctx, userID, req.Code); verr != nil {
		if errors.Is(verr, twofactor.ErrNotEnabled) {
			return apierror.UnprocessableEntity("TWO_FACTOR_NOT_ENABLED", "two-factor is not enabled for this account")
		}
		return apierror.BadRequest("INVALID_BACKUP_CODE", "the backup code is unknown or already used")
	}

	return c.completeTwoFactor(ctx, pendingID, userID, req.TrustDevice)
}
