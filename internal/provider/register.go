package provider

import (
	"encoding/json"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// handleRegister implements RFC 7591 dynamic client registration
// (§4.6). The returned client_secret is plaintext and shown exactly
// once; only its hash is persisted, the same split the credentials
// subsystem uses for user passwords.
func (p *Provider) handleRegister(c *plugin.Context) error {
	var req registrationRequest
	if err := json.NewDecoder(c.R.Body).Decode(&req); err != nil {
		return apierror.BadRequest("invalid_client_metadata", "malformed registration request")
	}
	if len(req.RedirectURIs) == 0 {
		return apierror.BadRequest("invalid_redirect_uri", "at least one redirect_uri is required")
	}
	if req.TokenEndpointAuthMethod == "" {
		req.TokenEndpointAuthMethod = "client_secret_basic"
	}

	client := storage.OAuthClient{
		ID:                storage.NewID(),
		ClientID:          storage.NewID(),
		TokenEndpointAuth: req.TokenEndpointAuthMethod,
		RedirectURIs:      req.RedirectURIs,
		ClientName:        req.ClientName,
		CreatedAt:         p.now(),
	}

	var plainSecret string
	if req.TokenEndpointAuthMethod != "none" {
		plainSecret = storage.NewToken()
		hash, err := p.hasher.Hash(plainSecret)
		if err != nil {
			return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
		}
		client.ClientSecret = hash
	}

	if _, err := p.store.Create(c, storage.ModelOAuthClient, client.ToRecord()); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}

	writeJSON(c, 201, registrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            plainSecret,
		ClientName:              client.ClientName,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuth,
	})
	return nil
}
