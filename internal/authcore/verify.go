package authcore

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

// handleVerifyEmail implements GET /verify-email (§4.4): decodes the
// HS256 JWT, rejecting expiry as token_expired and any other decode
// failure as invalid_token, then either marks the claimed email
// verified or — when the token carries updateTo — completes a pending
// change-email by moving the address and re-marking it unverified.
func (c *Core) handleVerifyEmail(ctx *plugin.Context) error {
	token := ctx.R.URL.Query().Get("token")
	callbackURL := ctx.R.URL.Query().Get("callbackURL")

	claims, err := c.tokens.Verify(token, credentials.TokenEmailVerification)
	if err != nil {
		code := "invalid_token"
		if errors.Is(err, credentials.ErrTokenExpired) {
			code = "token_expired"
		}
		if callbackURL != "" {
			http.Redirect(ctx.W, ctx.R, addQuery(callbackURL, "error", code), http.StatusSeeOther)
			return nil
		}
		return apierror.BadRequest(strings.ToUpper(code), "verification token is invalid or expired")
	}

	email := claims.Email
	update := storage.Record{"updatedAt": c.now()}
	if claims.UpdateTo != "" {
		update["email"] = claims.UpdateTo
		update["emailVerified"] = false
	} else {
		update["emailVerified"] = true
	}
	if _, err := c.store.Update(ctx, storage.ModelUser, []storage.Where{storage.Eq("email", email)}, update); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}

	if callbackURL != "" {
		http.Redirect(ctx.W, ctx.R, callbackURL, http.StatusSeeOther)
		return nil
	}
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}

func addQuery(rawURL, key, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + key + "=" + value
}

// resetPasswordPrefix namespaces the VerificationValue rows
// handleForgetPassword parks, keeping them out of the identifier space
// email verification, change-email, and OTP rows use.
const resetPasswordPrefix = "reset-password:"

type forgetPasswordRequest struct {
	Email       string `json:"email"`
	CallbackURL string `json:"callbackURL,omitempty"`
}

// handleForgetPassword implements POST /forget-password. It always
// responds success to avoid leaking which emails are registered, and
// parks a single-use reset token as a VerificationValue row (§4.4, §5)
// rather than a stateless JWT, so handleResetPassword can consume it
// exactly once instead of merely checking a signature and expiry that a
// captured link can satisfy any number of times.
func (c *Core) handleForgetPassword(ctx *plugin.Context) error {
	var req forgetPasswordRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}

	rec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("email", strings.ToLower(strings.TrimSpace(req.Email)))}, nil)
	if err == nil {
		user := storage.UserFromRecord(rec)
		now := c.now()
		token := storage.NewToken()
		v := storage.VerificationValue{
			ID:         storage.NewID(),
			Identifier: resetPasswordPrefix + token,
			Value:      user.ID,
			ExpiresAt:  now.Add(c.cfg.PasswordResetTokenTTL),
			CreatedAt:  now,
		}
		if _, verr := c.store.Create(ctx, storage.ModelVerification, v.ToRecord()); verr == nil && c.cfg.Notifier != nil {
			url := c.cfg.BaseURL + "/reset-password?token=" + token
			if req.CallbackURL != "" {
				url += "&callbackURL=" + req.CallbackURL
			}
			if err := c.cfg.Notifier.SendResetPassword(ctx, user, url); err != nil {
				ctx.Logger.Warn("forget-password: send reset email failed", "error", err)
			}
		}
	}
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// handleResetPassword implements POST /reset-password: atomically
// consumes the parked reset token (ConsumeOne) before ever checking its
// expiry, so at most one request can ever act on a given token — a
// second presentation of the same token, concurrent or not, always finds
// the row gone.
func (c *Core) handleResetPassword(ctx *plugin.Context) error {
	var req resetPasswordRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}
	if len(req.NewPassword) < c.cfg.MinPasswordLength || len(req.NewPassword) > c.cfg.MaxPasswordLength {
		return apierror.BadRequest("INVALID_PASSWORD", "password does not meet length requirements")
	}

	rec, err := c.store.ConsumeOne(ctx, storage.ModelVerification, []storage.Where{storage.Eq("identifier", resetPasswordPrefix+req.Token)})
	if err != nil {
		return apierror.BadRequest("INVALID_TOKEN", "reset token is invalid or expired")
	}
	v := storage.VerificationFromRecord(rec)
	if c.now().After(v.ExpiresAt) {
		return apierror.BadRequest("TOKEN_EXPIRED", "reset token is invalid or expired")
	}

	if err := c.creds.ChangePassword(ctx, v.Value, req.NewPassword); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// handleChangePassword implements POST /change-password: requires an
// active session and the current password.
func (c *Core) handleChangePassword(ctx *plugin.Context) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	var req changePasswordRequest
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
	if account.Password == "" || !c.hasher.Verify(account.Password, req.CurrentPassword) {
		return apierror.Unauthorized("INVALID_CREDENTIALS", "current password is incorrect")
	}
	if err := c.creds.ChangePassword(ctx, sess.UserID, req.NewPassword); err != nil {
		return apierror.BadRequest("INVALID_PASSWORD", err.Error())
	}
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}

type setPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// handleSetPassword implements POST /set-password: lets a user whose
// only accounts are OAuth-linked add a local credential account.
func (c *Core) handleSetPassword(ctx *plugin.Context) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	var req setPasswordRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}
	if len(req.NewPassword) < c.cfg.MinPasswordLength || len(req.NewPassword) > c.cfg.MaxPasswordLength {
		return apierror.BadRequest("INVALID_PASSWORD", "password does not meet length requirements")
	}

	if _, err := c.store.FindOne(ctx, storage.ModelAccount, []storage.Where{
		storage.Eq("userId", sess.UserID),
		{Field: "providerId", Value: storage.CredentialProvider, Operator: storage.OpEq, Connector: storage.And},
	}, nil); err == nil {
		return apierror.UnprocessableEntity("PASSWORD_ALREADY_SET", "account already has a password; use change-password")
	}

	hash, err := c.hasher.Hash(req.NewPassword)
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", sess.UserID)}, nil)
	if err != nil {
		return apierror.NotFound("NOT_FOUND", "user no longer exists")
	}
	user := storage.UserFromRecord(userRec)
	now := c.now()
	account := storage.Account{
		ID: storage.NewID(), UserID: user.ID, ProviderID: storage.CredentialProvider,
		AccountID: user.Email, Password: hash, CreatedAt: now, UpdatedAt: now,
	}
	if _, err := c.store.Create(ctx, storage.ModelAccount, account.ToRecord()); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}

type changeEmailRequest struct {
	NewEmail    string `json:"newEmail"`
	CallbackURL string `json:"callbackURL,omitempty"`
}

// handleChangeEmail implements POST /change-email (§4.4): when email
// verification is required, parks the change behind a verification
// token sent to the *current* address; otherwise applies it directly.
func (c *Core) handleChangeEmail(ctx *plugin.Context) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	var req changeEmailRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}
	newEmail := strings.ToLower(strings.TrimSpace(req.NewEmail))

	if _, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("email", newEmail)}, nil); err == nil {
		return apierror.UnprocessableEntity("EMAIL_IN_USE", "an account with this email already exists")
	}

	userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", sess.UserID)}, nil)
	if err != nil {
		return apierror.NotFound("NOT_FOUND", "user no longer exists")
	}
	user := storage.UserFromRecord(userRec)

	if c.cfg.RequireEmailVerification {
		token, err := c.tokens.Issue(credentials.TokenEmailVerification, user.Email, newEmail, c.cfg.VerificationTokenTTL)
		if err != nil {
			return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
		}
		if c.cfg.Notifier != nil {
			url := c.cfg.BaseURL + "/verify-email?token=" + token
			if req.CallbackURL != "" {
				url += "&callbackURL=" + req.CallbackURL
			}
			if err := c.cfg.Notifier.SendChangeEmailVerification(ctx, user, newEmail, url); err != nil {
				ctx.Logger.Warn("change-email: send confirmation failed", "error", err)
			}
		}
		writeJSON(ctx, 200, map[string]bool{"status": true})
		return nil
	}

	if _, err := c.store.Update(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", sess.UserID)},
		storage.Record{"email": newEmail, "emailVerified": false, "updatedAt": c.now()}); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}
