// Package oauthclient implements the relying-party role (§4.5): social
// and generic OAuth2/OIDC sign-in, directly grounded on dex's
// connector/oauth (generic OAuth2) and connector/oidc (OIDC discovery)
// connectors, generalized from dex's pluggable Connector interface onto
// the spec's fixed createAuthorizationURL/validateAuthorizationCode/
// refreshAccessToken/getUserInfo operation set.
package oauthclient

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// UserInfo is the normalized identity every Provider resolves to,
// regardless of whether it came from an OIDC ID token, a userinfo
// endpoint, or a generic OAuth2 userinfo URL — the union dex's
// connector/oidc package already performs (ID token wins, userinfo
// endpoint fills gaps: see DESIGN.md's Open Question note).
type UserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Picture        string
	Raw            map[string]any
}

// Provider serves both an OIDC-discovery provider and a generic OAuth2
// provider, mirroring dex's connector.Connector interface narrowed to
// the four operations §4.5 names.
type Provider struct {
	id           string
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string
	httpClient   *http.Client

	oauth2Config *oauth2.Config

	// oidc is non-nil when this provider was configured from an OIDC
	// issuer via discovery; nil for a generic OAuth2 provider that only
	// has a userInfoURL.
	oidcProvider *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	userInfoURL  string
}

// Config configures one Provider, covering both the OIDC-discovery path
// (IssuerURL set) and the generic OAuth2 path (the four URLs set
// directly), matching the union of dex's oauth.Config and oidc.Config
// fields actually used by this module.
type Config struct {
	ID           string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// IssuerURL, when set, drives OIDC discovery (connector/oidc).
	IssuerURL string

	// The following are required when IssuerURL is empty (generic
	// OAuth2, connector/oauth).
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string
}

// New builds a Provider, performing OIDC discovery when cfg.IssuerURL is
// set.
func New(ctx context.Context, cfg Config, httpClient *http.Client) (*Provider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	p := &Provider{
		id:           cfg.ID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		scopes:       cfg.Scopes,
		httpClient:   httpClient,
	}

	if cfg.IssuerURL != "" {
		ctx = oidc.ClientContext(ctx, httpClient)
		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("oauthclient: discover %s: %w", cfg.IssuerURL, err)
		}
		p.oidcProvider = provider
		p.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		p.oauth2Config = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
		}
		return p, nil
	}

	if cfg.AuthorizationURL == "" || cfg.TokenURL == "" {
		return nil, errors.New("oauthclient: either issuerURL or authorizationURL+tokenURL is required")
	}
	p.userInfoURL = cfg.UserInfoURL
	p.oauth2Config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthorizationURL, TokenURL: cfg.TokenURL},
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
	}
	return p, nil
}

// PKCE carries the verifier/challenge pair createAuthorizationURL
// generates and validateAuthorizationCode consumes.
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE generates a random code verifier and its S256 challenge.
func NewPKCE() (PKCE, error) {
	verifier := oauth2.GenerateVerifier()
	sum := sha256.Sum256([]byte(verifier))
	return PKCE{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// CreateAuthorizationURL returns the URL to redirect the user to,
// mirroring dex connector.LoginURL, with the S256 PKCE challenge added
// when pkce is non-nil. The callback URL is not validated here.
func (p *Provider) CreateAuthorizationURL(state string, pkce *PKCE) string {
	opts := []oauth2.AuthCodeOption{}
	if pkce != nil {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", pkce.Challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"))
	}
	return p.oauth2Config.AuthCodeURL(state, opts...)
}

// ValidateAuthorizationCode exchanges an authorization code for tokens
// and resolves the caller's identity, mirroring
// connector.HandleCallback's token-exchange-then-userinfo flow.
func (p *Provider) ValidateAuthorizationCode(ctx context.Context, code string, pkce *PKCE) (*oauth2.Token, UserInfo, error) {
	ctx = contextWithClient(ctx, p.httpClient)
	opts := []oauth2.AuthCodeOption{}
	if pkce != nil {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", pkce.Verifier))
	}
	token, err := p.oauth2Config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, UserInfo{}, fmt.Errorf("oauthclient: exchange code: %w", err)
	}

	info, err := p.getUserInfo(ctx, token)
	if err != nil {
		return token, UserInfo{}, err
	}
	return token, info, nil
}

// RefreshAccessToken uses a stored refresh token to obtain a new access
// token.
func (p *Provider) RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = contextWithClient(ctx, p.httpClient)
	src := p.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

// GetUserInfo resolves identity from an already-obtained token, used
// when a caller holds a live token without having just completed the
// authorization-code exchange.
func (p *Provider) GetUserInfo(ctx context.Context, token *oauth2.Token) (UserInfo, error) {
	return p.getUserInfo(contextWithClient(ctx, p.httpClient), token)
}

func contextWithClient(ctx context.Context, hc *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

// getUserInfo implements the ID-token/userinfo union documented in
// DESIGN.md: when the provider is OIDC, ID-token claims are
// authoritative and a userinfo call only fills fields the ID token left
// empty; for a generic OAuth2 provider there is no ID token, so the
// userinfo endpoint alone is authoritative — both paths are grounded
// directly on connector/oidc.go's HandleCallback and
// connector/oauth.go's HandleCallback respectively.
func (p *Provider) getUserInfo(ctx context.Context, token *oauth2.Token) (UserInfo, error) {
	if p.oidcProvider != nil {
		return p.getOIDCUserInfo(ctx, token)
	}
	return p.getGenericUserInfo(ctx, token)
}

func (p *Provider) getOIDCUserInfo(ctx context.Context, token *oauth2.Token) (UserInfo, error) {
	var info UserInfo

	var claims struct {
		Subject       string `json:"sub"`
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Picture       string `json:"picture"`
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok {
		idToken, err := p.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return info, fmt.Errorf("oauthclient: verify id_token: %w", err)
		}
		if err := idToken.Claims(&claims); err != nil {
			return info, fmt.Errorf("oauthclient: decode id_token claims: %w", err)
		}
		info.ProviderUserID = idToken.Subject
	}

	info.Name = claims.Name
	info.Email = claims.Email
	info.EmailVerified = claims.EmailVerified
	info.Picture = claims.Picture

	// ID-token claims win; userinfo only fills what the ID token left
	// empty (subject, or an email the ID token omitted).
	if info.Email == "" || info.ProviderUserID == "" {
		userinfo, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err == nil {
			var raw map[string]any
			_ = userinfo.Claims(&raw)
			info.Raw = raw
			if info.ProviderUserID == "" {
				info.ProviderUserID = userinfo.Subject
			}
			if info.Email == "" {
				info.Email = userinfo.Email
				info.EmailVerified = userinfo.EmailVerified
			}
		}
	}
	if info.ProviderUserID == "" {
		return info, errors.New("oauthclient: no subject resolved from id_token or userinfo")
	}
	return info, nil
}

func (p *Provider) getGenericUserInfo(ctx context.Context, token *oauth2.Token) (UserInfo, error) {
	var info UserInfo
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	resp, err := client.Get(p.userInfoURL)
	if err != nil {
		return info, fmt.Errorf("oauthclient: fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("oauthclient: userinfo status %d", resp.StatusCode)
	}
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return info, fmt.Errorf("oauthclient: decode userinfo: %w", err)
	}
	info.Raw = raw
	info.ProviderUserID = stringField(raw, "id", "user_id", "sub")
	info.Email, _ = raw["email"].(string)
	info.EmailVerified, _ = raw["email_verified"].(bool)
	info.Name = stringField(raw, "name", "user_name")
	info.Picture = stringField(raw, "picture", "avatar_url")
	if info.ProviderUserID == "" {
		return info, errors.New("oauthclient: no user id field found in userinfo response")
	}
	return info, nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
