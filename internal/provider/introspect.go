package provider

import (
	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Sub      string `json:"sub,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Iat      int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// handleIntrospect implements RFC 7662 (§4.6): the caller authenticates
// as a registered client and learns whether a token it holds is still
// active. An inactive/unknown token reports {"active": false} rather
// than an error, per RFC 7662 §2.2.
func (p *Provider) handleIntrospect(c *plugin.Context) error {
	noStore(c.W)
	if err := c.R.ParseForm(); err != nil {
		return apierror.BadRequest("invalid_request", "malformed form body")
	}
	callerID := c.R.PostFormValue("client_id")
	if callerID == "" {
		if id, _, ok := c.R.BasicAuth(); ok {
			callerID = id
		}
	}
	caller, err := p.lookupClient(c, callerID)
	if err != nil || !p.authenticateClient(c.R, caller) {
		return apierror.Unauthorized("invalid_client", "client authentication failed")
	}

	token := c.R.PostFormValue("token")
	rec, err := p.store.FindOne(c, storage.ModelOAuthAccessToken, []storage.Where{storage.Eq("accessToken", token)}, nil)
	if err != nil {
		writeJSON(c, 200, introspectionResponse{Active: false})
		return nil
	}
	at := storage.OAuthAccessTokenFromRecord(rec)
	if p.now().After(at.ExpiresAt) {
		writeJSON(c, 200, introspectionResponse{Active: false})
		return nil
	}
	writeJSON(c, 200, introspectionResponse{
		Active:    true,
		Scope:     joinScopes(at.Scopes),
		ClientID:  at.ClientID,
		Sub:       at.UserID,
		Exp:       at.ExpiresAt.Unix(),
		Iat:       at.CreatedAt.Unix(),
		TokenType: "Bearer",
	})
	return nil
}
