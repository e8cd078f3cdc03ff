package provider

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

// pendingAuthorization is the authorization_code request parameters
// kept around between /authorize and the consent decision, stored as a
// Verification row the same way every other short-lived, single-use
// token in this engine is (§3 glossary).
type pendingAuthorization struct {
	ClientID            string   `json:"clientId"`
	UserID              string   `json:"userId"`
	RedirectURI          string   `json:"redirectUri"`
	Scopes              []string `json:"scopes"`
	State               string   `json:"state"`
	Nonce               string   `json:"nonce"`
	CodeChallenge       string   `json:"codeChallenge"`
	CodeChallengeMethod string   `json:"codeChallengeMethod"`
}

const (
	pendingAuthPrefix          = "oauth_consent:"
	pendingSelectAccountPrefix = "oauth_select_account:"
)

// validPrompts is the set prompt is checked against (§4.6); an
// unrecognized value is a client error rather than silently ignored.
var validPrompts = map[string]bool{
	"":              true,
	"login":         true,
	"consent":       true,
	"select_account": true,
	"none":          true,
}

// handleAuthorize is the /authorize endpoint (§4.6): validates the
// request against the registered client, requires an authenticated
// session, and walks the prompt state machine (login, select_account,
// consent, none) before either issuing a code immediately (consent
// already on file, or the client is configured to skip it) or parking
// the request behind a select-account or consent screen.
func (p *Provider) handleAuthorize(c *plugin.Context) error {
	q := c.R.URL.Query()
	if rt := q.Get("response_type"); rt != "code" {
		return apierror.BadRequest("unsupported_response_type", "only the authorization code flow is supported")
	}
	client, err := p.lookupClient(c, q.Get("client_id"))
	if err != nil {
		return err
	}
	redirectURI := q.Get("redirect_uri")
	if !redirectURIRegistered(client, redirectURI) {
		return apierror.BadRequest("invalid_request", "redirect_uri is not registered for this client")
	}
	prompt := q.Get("prompt")
	if !validPrompts[prompt] {
		return apierror.BadRequest("invalid_request", "prompt must be one of login, consent, select_account, none")
	}
	scopes := parseScopes(q.Get("scope"))
	state := q.Get("state")

	if c.Session == nil {
		if prompt == "none" {
			redirect(c, redirectAuthorizeError(redirectURI, state, "login_required"))
			return nil
		}
		continueURL := c.R.URL.String()
		redirect(c, p.cfg.LoginPath+"?continue="+url.QueryEscape(continueURL))
		return nil
	}
	if prompt == "login" {
		continueURL := c.R.URL.String()
		redirect(c, p.cfg.LoginPath+"?continue="+url.QueryEscape(continueURL))
		return nil
	}

	pending := pendingAuthorization{
		ClientID:            client.ClientID,
		UserID:              c.Session.UserID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		State:               state,
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	if prompt == "select_account" && !p.accountSelected(c) {
		id, err := p.parkPending(c, pendingSelectAccountPrefix, pending, p.cfg.SelectAccountTTL)
		if err != nil {
			return err
		}
		redirect(c, p.cfg.SelectAccountPath+"?request_id="+url.QueryEscape(id))
		return nil
	}

	return p.finishAuthorization(c, client, pending, prompt)
}

// finishAuthorization applies the consent step of the prompt state
// machine: a forced prompt=consent, or no consent on file for the
// exact scope set, parks the request behind the consent screen;
// otherwise (or when the client is configured to skip consent
// entirely) the code is issued directly. prompt=none turns a required
// consent screen into a consent_required error redirect instead.
func (p *Provider) finishAuthorization(c *plugin.Context, client storage.OAuthClient, pending pendingAuthorization, prompt string) error {
	needsConsent := prompt == "consent" || (!client.SkipConsent && !p.hasConsent(c, client.ClientID, pending.UserID, pending.Scopes))
	if !needsConsent {
		redirectTo, err := p.issueCodeAndRedirect(c, pending)
		if err != nil {
			return err
		}
		redirect(c, redirectTo)
		return nil
	}
	if prompt == "none" {
		redirect(c, redirectAuthorizeError(pending.RedirectURI, pending.State, "consent_required"))
		return nil
	}
	id, err := p.parkPending(c, pendingAuthPrefix, pending, p.cfg.ConsentTTL)
	if err != nil {
		return err
	}
	redirect(c, p.cfg.ConsentPath+"?request_id="+url.QueryEscape(id))
	return nil
}

// accountSelected reports whether the caller has already settled on
// which account to continue with. Deployments that don't model
// multiple concurrent accounts per browser can leave Config.SelectedAccount
// nil, in which case select_account is treated as already satisfied.
func (p *Provider) accountSelected(c *plugin.Context) bool {
	if p.cfg.SelectedAccount == nil {
		return true
	}
	return p.cfg.SelectedAccount(c)
}

// redirectAuthorizeError builds the client-facing redirect for a
// prompt=none request that cannot be satisfied silently.
func redirectAuthorizeError(redirectURI, state, code string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	q.Set("error", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Provider) hasConsent(c *plugin.Context, clientID, userID string, scopes []string) bool {
	rec, err := p.store.FindOne(c, storage.ModelOAuthConsent, []storage.Where{
		storage.Eq("clientId", clientID),
		{Field: "userId", Value: userID, Operator: storage.OpEq, Connector: storage.And},
	}, nil)
	if err != nil {
		return false
	}
	consent := storage.OAuthConsentFromRecord(rec)
	for _, s := range scopes {
		if !hasScope(consent.Scopes, s) {
			return false
		}
	}
	return true
}

// parkPending is the storage-row-backed stand-in for the signed
// "oauth_consent"/"oauth_select_account" cookies described in §4.6: the
// pending authorization is stored as a Verification row keyed by
// prefix+id and an opaque request_id is handed back in the redirect
// instead of a cookie, matching how every other short-lived, single-use
// token in this engine works (§3 glossary).
func (p *Provider) parkPending(c *plugin.Context, prefix string, pending pendingAuthorization, ttl time.Duration) (string, error) {
	blob, err := json.Marshal(pending)
	if err != nil {
		return "", apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	id := storage.NewID()
	now := p.now()
	v := storage.VerificationValue{
		ID:         storage.NewID(),
		Identifier: prefix + id,
		Value:      string(blob),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if _, err := p.store.Create(c, storage.ModelVerification, v.ToRecord()); err != nil {
		return "", apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	return id, nil
}

func (p *Provider) loadPending(c *plugin.Context, prefix, id string) (pendingAuthorization, error) {
	rec, err := p.store.FindOne(c, storage.ModelVerification, []storage.Where{storage.Eq("identifier", prefix+id)}, nil)
	if err != nil {
		return pendingAuthorization{}, apierror.NotFound("NOT_FOUND", "request not found or expired")
	}
	v := storage.VerificationFromRecord(rec)
	if p.now().After(v.ExpiresAt) {
		_ = p.store.Delete(c, storage.ModelVerification, []storage.Where{storage.Eq("id", v.ID)})
		return pendingAuthorization{}, apierror.NotFound("NOT_FOUND", "request expired")
	}
	var pending pendingAuthorization
	if err := json.Unmarshal([]byte(v.Value), &pending); err != nil {
		return pendingAuthorization{}, apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	return pending, nil
}

func (p *Provider) deletePending(c *plugin.Context, prefix, id string) {
	_ = p.store.Delete(c, storage.ModelVerification, []storage.Where{storage.Eq("identifier", prefix+id)})
}

func (p *Provider) loadPendingAuthorization(c *plugin.Context, id string) (pendingAuthorization, error) {
	return p.loadPending(c, pendingAuthPrefix, id)
}

func (p *Provider) deletePendingAuthorization(c *plugin.Context, id string) {
	p.deletePending(c, pendingAuthPrefix, id)
}

// issueCodeAndRedirect persists the authorization code and returns the
// redirect_uri with code (and state, if any) appended.
func (p *Provider) issueCodeAndRedirect(c *plugin.Context, pending pendingAuthorization) (string, error) {
	now := p.now()
	code := storage.OAuthCode{
		ID:                  storage.NewID(),
		Code:                storage.NewToken(),
		ClientID:            pending.ClientID,
		UserID:              pending.UserID,
		RedirectURI:         pending.RedirectURI,
		Scopes:              pending.Scopes,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		Nonce:               pending.Nonce,
		ExpiresAt:           now.Add(p.cfg.AuthCodeTTL),
		CreatedAt:           now,
	}
	if _, err := p.store.Create(c, storage.ModelOAuthCode, code.ToRecord()); err != nil {
		return "", apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	u, err := url.Parse(pending.RedirectURI)
	if err != nil {
		return "", apierror.Internal("INTERNAL_SERVER_ERROR", "invalid redirect_uri")
	}
	q := u.Query()
	q.Set("code", code.Code)
	if pending.State != "" {
		q.Set("state", pending.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
