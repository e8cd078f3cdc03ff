package provider

import (
	"strings"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

type userInfoResponse struct {
	Sub           string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// handleUserInfo is the OIDC UserInfo endpoint (§4.6): resolves the
// bearer access token, then returns claims gated by the scopes that
// token was issued with, mirroring the scope-gating handleToken already
// applies to the ID token.
func (p *Provider) handleUserInfo(c *plugin.Context) error {
	auth := c.R.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return apierror.Unauthorized("invalid_token", "missing bearer access token")
	}
	token := strings.TrimPrefix(auth, prefix)

	rec, err := p.store.FindOne(c, storage.ModelOAuthAccessToken, []storage.Where{storage.Eq("accessToken", token)}, nil)
	if err != nil {
		return apierror.Unauthorized("invalid_token", "access token is invalid or expired")
	}
	at := storage.OAuthAccessTokenFromRecord(rec)
	if p.now().After(at.ExpiresAt) {
		return apierror.Unauthorized("invalid_token", "access token is invalid or expired")
	}

	userRec, err := p.store.FindOne(c, storage.ModelUser, []storage.Where{storage.Eq("id", at.UserID)}, nil)
	if err != nil {
		return apierror.NotFound("NOT_FOUND", "user backing this token no longer exists")
	}
	user := storage.UserFromRecord(userRec)

	resp := userInfoResponse{Sub: user.ID}
	if hasScope(at.Scopes, "email") {
		resp.Email = user.Email
		verified := user.EmailVerified
		resp.EmailVerified = &verified
	}
	if hasScope(at.Scopes, "profile") {
		resp.Name = user.Name
		resp.Picture = user.Image
	}
	writeJSON(c, 200, resp)
	return nil
}
