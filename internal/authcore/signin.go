package authcore

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/cookiejar"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

type signInEmailRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe *bool  `json:"rememberMe,omitempty"`
}

type signInEmailResponse struct {
	Token            *string    `json:"token,omitempty"`
	User             *publicUser `json:"user,omitempty"`
	TwoFactorRedirect bool       `json:"twoFactorRedirect,omitempty"`
	VerificationToken string     `json:"verificationToken,omitempty"`
}

// handleSignInEmail implements POST /sign-in/email (§3, §4.7): verifies
// the password, then applies the post-sign-in 2FA gate before ever
// writing a usable session cookie.
func (c *Core) handleSignInEmail(ctx *plugin.Context) error {
	var req signInEmailRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}

	user, err := c.creds.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) || errors.Is(err, credentials.ErrAccountHasNoPassword) {
			return apierror.Unauthorized("INVALID_CREDENTIALS", "email or password is incorrect")
		}
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}

	if c.cfg.RequireEmailVerification && !user.EmailVerified {
		return apierror.Forbidden("EMAIL_NOT_VERIFIED", "email must be verified before signing in")
	}

	if user.TwoFactorEnabled {
		if c.trustedDevice(ctx, user.ID) {
			return c.issueSession(ctx, user)
		}
		return c.beginTwoFactorChallenge(ctx, user)
	}

	return c.issueSession(ctx, user)
}

// issueSession creates and writes a session, responding with the
// {token, user} shape common to every endpoint that completes
// authentication.
func (c *Core) issueSession(ctx *plugin.Context, user storage.User) error {
	sess, err := c.sessions.Create(ctx, ctx.W, user, clientIP(ctx.R), ctx.R.UserAgent(), nil)
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	token := sess.Token
	pub := toPublicUser(user)
	writeJSON(ctx, 200, signInEmailResponse{Token: &token, User: &pub})
	return nil
}

// issueSessionSilently sets the session cookies without writing a
// response body, for callers that redirect rather than returning JSON
// (OAuth callback, magic-link verification with a callbackURL).
func (c *Core) issueSessionSilently(ctx *plugin.Context, user storage.User) error {
	_, err := c.sessions.Create(ctx, ctx.W, user, clientIP(ctx.R), ctx.R.UserAgent(), nil)
	return err
}

const twoFactorPendingPrefix = "two_factor_pending:"

// beginTwoFactorChallenge parks a pending-2FA identifier and responds
// with twoFactorRedirect, per §4.7's "newly issued session ... is
// immediately revoked" gate (here no session is ever created, which is
// simpler than creating-then-revoking and observably equivalent).
func (c *Core) beginTwoFactorChallenge(ctx *plugin.Context, user storage.User) error {
	now := c.now()
	id := storage.NewToken()
	v := storage.VerificationValue{
		ID:         storage.NewID(),
		Identifier: twoFactorPendingPrefix + id,
		Value:      user.ID,
		ExpiresAt:  now.Add(c.cfg.TwoFactorPendingTTL),
		CreatedAt:  now,
	}
	if _, err := c.store.Create(ctx, storage.ModelVerification, v.ToRecord()); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	cookiejar.WriteChunked(ctx.W, c.cookieName("two_factor"), c.cookieSigner.Sign(id), c.cookieOpts())
	writeJSON(ctx, 200, signInEmailResponse{TwoFactorRedirect: true, VerificationToken: id})
	return nil
}

// resolvePendingTwoFactor recovers the userId a pending-2FA identifier
// names, preferring an explicit verificationToken field (used by
// non-browser clients that cannot rely on cookies) and falling back to
// the signed two_factor cookie.
func (c *Core) resolvePendingTwoFactor(ctx *plugin.Context, explicit string) (pendingID, userID string, err error) {
	pendingID = explicit
	if pendingID == "" {
		signed, cerr := cookiejar.ReadChunked(ctx.R, c.cookieName("two_factor"))
		if cerr != nil {
			return "", "", apierror.Unauthorized("TWO_FACTOR_REQUIRED", "no pending two-factor challenge")
		}
		id, verr := c.cookieSigner.Verify(signed)
		if verr != nil {
			return "", "", apierror.Unauthorized("TWO_FACTOR_REQUIRED", "invalid two-factor cookie")
		}
		pendingID = id
	}

	rec, ferr := c.store.FindOne(ctx, storage.ModelVerification, []storage.Where{storage.Eq("identifier", twoFactorPendingPrefix+pendingID)}, nil)
	if ferr != nil {
		return "", "", apierror.Unauthorized("TWO_FACTOR_REQUIRED", "pending two-factor challenge not found")
	}
	v := storage.VerificationFromRecord(rec)
	if c.now().After(v.ExpiresAt) {
		_ = c.store.Delete(ctx, storage.ModelVerification, []storage.Where{storage.Eq("id", v.ID)})
		return "", "", apierror.Unauthorized("TWO_FACTOR_REQUIRED", "pending two-factor challenge expired")
	}
	return pendingID, v.Value, nil
}

func (c *Core) clearTwoFactorChallenge(ctx *plugin.Context, pendingID string) {
	cookiejar.ClearChunked(ctx.W, c.cookieName("two_factor"), c.cookieOpts())
	_ = c.store.Delete(ctx, storage.ModelVerification, []storage.Where{storage.Eq("identifier", twoFactorPendingPrefix+pendingID)})
}

const trustDevicePrefix = "trust_device:"

// trustedDevice reports whether the incoming request carries a valid,
// unexpired trust-device cookie for userID, per §4.7.
func (c *Core) trustedDevice(ctx *plugin.Context, userID string) bool {
	if c.trustDevice == nil {
		return false
	}
	signed, err := ctx.R.Cookie(c.cookieName("trust_device"))
	if err != nil {
		return false
	}
	parts := strings.SplitN(signed.Value, ".", 2)
	if len(parts) != 2 {
		return false
	}
	identifier, mac := parts[0], parts[1]
	if !c.trustDevice.Verify(userID+"!"+identifier, mac) {
		return false
	}
	rec, err := c.store.FindOne(ctx, storage.ModelVerification, []storage.Where{storage.Eq("identifier", trustDevicePrefix+identifier)}, nil)
	if err != nil {
		return false
	}
	v := storage.VerificationFromRecord(rec)
	if v.Value != userID || !c.now().Before(v.ExpiresAt) {
		return false
	}
	c.issueTrustDeviceCookie(ctx, userID)
	return true
}

// issueTrustDeviceCookie mints a fresh trust-device identifier/cookie
// and its backing verification row, valid for cfg.TrustDeviceTTL.
func (c *Core) issueTrustDeviceCookie(ctx *plugin.Context, userID string) {
	if c.trustDevice == nil {
		return
	}
	now := c.now()
	identifier := storage.NewToken()
	mac := c.trustDevice.Sign(userID + "!" + identifier)
	v := storage.VerificationValue{
		ID:         storage.NewID(),
		Identifier: trustDevicePrefix + identifier,
		Value:      userID,
		ExpiresAt:  now.Add(c.cfg.TrustDeviceTTL),
		CreatedAt:  now,
	}
	if _, err := c.store.Create(ctx, storage.ModelVerification, v.ToRecord()); err != nil {
		ctx.Logger.Warn("two-factor: issue trust device failed", "error", err)
		return
	}
	http.SetCookie(ctx.W, &http.Cookie{
		Name: c.cookieName("trust_device"), Value: identifier + "." + mac,
		HttpOnly: true, Secure: c.cfg.Secure, SameSite: c.cfg.SameSite, Path: "/",
		MaxAge: int(c.cfg.TrustDeviceTTL / time.Second),
	})
}
