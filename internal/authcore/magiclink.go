package authcore

import (
	"encoding/json"
	"strings"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

const magicLinkPrefix = "magic_link:"

type magicLinkPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type signInMagicLinkRequest struct {
	Email              string `json:"email"`
	Name               string `json:"name,omitempty"`
	CallbackURL        string `json:"callbackURL,omitempty"`
	NewUserCallbackURL string `json:"newUserCallbackURL,omitempty"`
	ErrorCallbackURL   string `json:"errorCallbackURL,omitempty"`
}

// handleSignInMagicLink implements POST /sign-in/magic-link (§4.4):
// parks a single-use verification row keyed by a fresh token and valued
// with the caller's {email,name}, then emails a link to
// /magic-link/verify. Always responds success — unlike sign-in/email
// there is no password to check synchronously, so there is nothing for
// the caller to learn from a failure here.
func (c *Core) handleSignInMagicLink(ctx *plugin.Context) error {
	var req signInMagicLinkRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return apierror.BadRequest("BAD_REQUEST", "email is required")
	}

	now := c.now()
	token := storage.NewToken()
	payload, err := json.Marshal(magicLinkPayload{Email: email, Name: req.Name})
	if err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	v := storage.VerificationValue{
		ID:         storage.NewID(),
		Identifier: magicLinkPrefix + token,
		Value:      string(payload),
		ExpiresAt:  now.Add(c.cfg.MagicLinkTokenTTL),
		CreatedAt:  now,
	}
	if _, err := c.store.Create(ctx, storage.ModelVerification, v.ToRecord()); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}

	if c.cfg.Notifier != nil {
		url := c.cfg.BaseURL + "/magic-link/verify?token=" + token
		if req.CallbackURL != "" {
			url += "&callbackURL=" + req.CallbackURL
		}
		if req.NewUserCallbackURL != "" {
			url += "&newUserCallbackURL=" + req.NewUserCallbackURL
		}
		if req.ErrorCallbackURL != "" {
			url += "&errorCallbackURL=" + req.ErrorCallbackURL
		}
		if err := c.cfg.Notifier.SendMagicLink(ctx, email, url); err != nil {
			ctx.Logger.Warn("sign-in/magic-link: send failed", "error", err)
		}
	}
	writeJSON(ctx, 200, map[string]bool{"status": true})
	return nil
}

// handleVerifyMagicLink implements GET /magic-link/verify (§4.4):
// consumes the token atomically before ever checking its expiry (the
// same ConsumeOne-first shape handleResetPassword uses), then resolves
// or creates the user by email — respecting DisableSignUp — and signs
// them in. A request that supplied callbackURL/errorCallbackURL
// redirects on both success and failure (§7's "redirect-style errors
// ... never raise JSON"); one that didn't gets a plain JSON response,
// matching handleVerifyEmail's dual-mode shape.
func (c *Core) handleVerifyMagicLink(ctx *plugin.Context) error {
	token := ctx.R.URL.Query().Get("token")
	callbackURL := ctx.R.URL.Query().Get("callbackURL")
	newUserURL := ctx.R.URL.Query().Get("newUserCallbackURL")
	errorURL := ctx.R.URL.Query().Get("errorCallbackURL")
	wantsRedirect := callbackURL != "" || errorURL != ""
	if errorURL == "" {
		errorURL = c.cfg.BaseURL
	}

	fail := func(code string, apiErr error) error {
		if wantsRedirect {
			redirectOAuthError(ctx, errorURL, code)
			return nil
		}
		return apiErr
	}

	rec, err := c.store.ConsumeOne(ctx, storage.ModelVerification, []storage.Where{storage.Eq("identifier", magicLinkPrefix+token)})
	if err != nil {
		return fail("INVALID_TOKEN", apierror.BadRequest("INVALID_TOKEN", "magic link is invalid or expired"))
	}
	v := storage.VerificationFromRecord(rec)
	if c.now().After(v.ExpiresAt) {
		return fail("TOKEN_EXPIRED", apierror.BadRequest("TOKEN_EXPIRED", "magic link is invalid or expired"))
	}
	var payload magicLinkPayload
	if err := json.Unmarshal([]byte(v.Value), &payload); err != nil {
		return fail("INVALID_TOKEN", apierror.Internal("INTERNAL_SERVER_ERROR", err.Error()))
	}

	now := c.now()
	isNewUser := false
	var user storage.User
	if userRec, err := c.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("email", payload.Email)}, nil); err == nil {
		user = storage.UserFromRecord(userRec)
	} else {
		if c.cfg.DisableSignUp {
			return fail("SIGN_UP_DISABLED", apierror.Forbidden("SIGN_UP_DISABLED", "no account found for this email and sign-up is disabled"))
		}
		user = storage.User{
			ID: storage.NewID(), Email: payload.Email, EmailVerified: true,
			Name: payload.Name, CreatedAt: now, UpdatedAt: now,
		}
		if _, err := c.store.Create(ctx, storage.ModelUser, user.ToRecord()); err != nil {
			return fail("INTERNAL_SERVER_ERROR", apierror.Internal("INTERNAL_SERVER_ERROR", err.Error()))
		}
		isNewUser = true
	}

	if wantsRedirect {
		if err := c.issueSessionSilently(ctx, user); err != nil {
			return fail("INTERNAL_SERVER_ERROR", apierror.Internal("INTERNAL_SERVER_ERROR", err.Error()))
		}
		dest := callbackURL
		if isNewUser && newUserURL != "" {
			dest = newUserURL
		}
		if dest == "" {
			dest = c.cfg.BaseURL
		}
		redirect(ctx, dest)
		return nil
	}

	return c.issueSession(ctx, user)
}
