package authcore

import (
	"encoding/json"
	"errors"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/plugin"
)

type signUpEmailRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Image       string `json:"image,omitempty"`
	CallbackURL string `json:"callbackURL,omitempty"`
	RememberMe  *bool  `json:"rememberMe,omitempty"`
}

type signUpEmailResponse struct {
	Token *string     `json:"token"`
	User  publicUser  `json:"user"`
}

// handleSignUpEmail implements POST /sign-up/email (§4.4): validates
// password length, rejects an existing email, creates the user and its
// credential account, optionally issues a verification token, and
// either signs the caller in immediately or returns {token:null,user}.
func (c *Core) handleSignUpEmail(ctx *plugin.Context) error {
	var req signUpEmailRequest
	if err := json.NewDecoder(ctx.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("BAD_REQUEST", "malformed request body")
	}
	if len(req.Password) < c.cfg.MinPasswordLength || len(req.Password) > c.cfg.MaxPasswordLength {
		return apierror.BadRequest("INVALID_PASSWORD", "password does not meet length requirements")
	}

	user, err := c.creds.SignUp(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, credentials.ErrEmailInUse):
			return apierror.UnprocessableEntity("EMAIL_IN_USE", err.Error())
		default:
			return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
		}
	}

	if c.tokens != nil {
		token, err := c.tokens.Issue(credentials.TokenEmailVerification, user.Email, "", c.cfg.VerificationTokenTTL)
		if err == nil && c.cfg.Notifier != nil {
			url := c.cfg.BaseURL + "/verify-email?token=" + token
			if req.CallbackURL != "" {
				url += "&callbackURL=" + req.CallbackURL
			}
			if err := c.cfg.Notifier.SendVerificationEmail(ctx, user, url); err != nil {
				ctx.Logger.Warn("sign-up: send verification email failed", "error", err)
			}
		}
	}

	if !c.cfg.RequireEmailVerification && c.cfg.AutoSignIn {
		sess, err := c.sessions.Create(ctx, ctx.W, user, clientIP(ctx.R), ctx.R.UserAgent(), nil)
		if err != nil {
			return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
		}
		token := sess.Token
		writeJSON(ctx, 200, signUpEmailResponse{Token: &token, User: toPublicUser(user)})
		return nil
	}

	writeJSON(ctx, 200, signUpEmailResponse{Token: nil, User: toPublicUser(user)})
	return nil
}
