package provider

import (
	"encoding/json"
	"net/url"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

type consentDetails struct {
	ClientID   string   `json:"clientId"`
	ClientName string   `json:"clientName"`
	Scopes     []string `json:"scopes"`
}

// handleConsentGet resolves a pending consent request for the
// first-party frontend to render (client name, requested scopes).
func (p *Provider) handleConsentGet(c *plugin.Context) error {
	pending, err := p.loadPendingAuthorization(c, c.Var("id"))
	if err != nil {
		return err
	}
	client, err := p.lookupClient(c, pending.ClientID)
	if err != nil {
		return err
	}
	writeJSON(c, 200, consentDetails{ClientID: client.ClientID, ClientName: client.ClientName, Scopes: pending.Scopes})
	return nil
}

type consentDecision struct {
	Accept bool `json:"accept"`
}

type consentResponse struct {
	RedirectTo string `json:"redirectTo"`
}

// handleConsentPost applies the user's accept/deny decision: on accept
// it records an OAuthConsent row (so a future request for the same
// scopes skips this screen) and issues the code; on deny it redirects
// back to the client with access_denied.
func (p *Provider) handleConsentPost(c *plugin.Context) error {
	id := c.Var("id")
	pending, err := p.loadPendingAuthorization(c, id)
	if err != nil {
		return err
	}
	var decision consentDecision
	if err := json.NewDecoder(c.R.Body).Decode(&decision); err != nil {
		return apierror.BadRequest("invalid_request", "malformed consent decision")
	}
	p.deletePendingAuthorization(c, id)

	if !decision.Accept {
		u, err := url.Parse(pending.RedirectURI)
		if err != nil {
			return apierror.Internal("INTERNAL_SERVER_ERROR", "invalid redirect_uri")
		}
		q := u.Query()
		q.Set("error", "access_denied")
		if pending.State != "" {
			q.Set("state", pending.State)
		}
		u.RawQuery = q.Encode()
		writeJSON(c, 200, consentResponse{RedirectTo: u.String()})
		return nil
	}

	if err := p.recordConsent(c, pending.ClientID, pending.UserID, pending.Scopes); err != nil {
		return err
	}
	redirectTo, err := p.issueCodeAndRedirect(c, pending)
	if err != nil {
		return err
	}
	writeJSON(c, 200, consentResponse{RedirectTo: redirectTo})
	return nil
}

func (p *Provider) recordConsent(c *plugin.Context, clientID, userID string, scopes []string) error {
	existing, err := p.store.FindOne(c, storage.ModelOAuthConsent, []storage.Where{
		storage.Eq("clientId", clientID),
		{Field: "userId", Value: userID, Operator: storage.OpEq, Connector: storage.And},
	}, nil)
	if err == nil {
		consent := storage.OAuthConsentFromRecord(existing)
		merged := consent.Scopes
		for _, s := range scopes {
			if !hasScope(merged, s) {
				merged = append(merged, s)
			}
		}
		_, err := p.store.Update(c, storage.ModelOAuthConsent, []storage.Where{storage.Eq("id", consent.ID)}, storage.Record{"scopes": merged})
		if err != nil {
			return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
		}
		return nil
	}
	if err != storage.ErrNotFound {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	consent := storage.OAuthConsent{
		ID:        storage.NewID(),
		UserID:    userID,
		ClientID:  clientID,
		Scopes:    scopes,
		CreatedAt: p.now(),
	}
	if _, err := p.store.Create(c, storage.ModelOAuthConsent, consent.ToRecord()); err != nil {
		return apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	return nil
}
