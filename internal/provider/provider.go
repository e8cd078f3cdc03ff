package provider

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/internal/session"
	"github.com/better-auth/authd/storage"
)

// Config configures the authorization-server role.
type Config struct {
	Issuer            string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	IDTokenTTL        time.Duration
	AuthCodeTTL       time.Duration
	ConsentTTL        time.Duration
	KeyRotationFreq   time.Duration
	SupportedScopes   []string
	// LoginPath is where /authorize redirects an unauthenticated caller,
	// with ?continue=<original request> appended.
	LoginPath string
	// ConsentPath is the first-party frontend route that renders the
	// pending-consent screen resolved by GET /oauth2/consent/{id}.
	ConsentPath string
	// SelectAccountPath is the first-party frontend route that renders
	// the account picker for prompt=select_account, resolved by
	// /selected-account.
	SelectAccountPath string
	// SelectAccountTTL bounds how long a parked select_account request
	// can sit waiting for /selected-account.
	SelectAccountTTL time.Duration
	// SelectedAccount reports whether the caller has already settled on
	// an account for this browser session; nil treats select_account as
	// always satisfied (single-account deployments).
	SelectedAccount func(c *plugin.Context) bool
}

func (c Config) withDefaults() Config {
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.IDTokenTTL == 0 {
		c.IDTokenTTL = 15 * time.Minute
	}
	if c.AuthCodeTTL == 0 {
		c.AuthCodeTTL = 5 * time.Minute
	}
	if c.ConsentTTL == 0 {
		c.ConsentTTL = 10 * time.Minute
	}
	if c.KeyRotationFreq == 0 {
		c.KeyRotationFreq = 6 * time.Hour
	}
	if len(c.SupportedScopes) == 0 {
		c.SupportedScopes = []string{"openid", "profile", "email", "offline_access"}
	}
	if c.LoginPath == "" {
		c.LoginPath = "/login"
	}
	if c.ConsentPath == "" {
		c.ConsentPath = "/consent"
	}
	if c.SelectAccountPath == "" {
		c.SelectAccountPath = "/select-account"
	}
	if c.SelectAccountTTL == 0 {
		c.SelectAccountTTL = 10 * time.Minute
	}
	return c
}

// Provider is the OAuth2/OIDC authorization server, composed as an
// internal/plugin.Plugin so the engine wires its endpoints the same way
// every other subsystem does.
type Provider struct {
	store    storage.Store
	sessions *session.Manager
	hasher   credentials.Hasher
	keys     *KeyManager
	cfg      Config
	now      func() time.Time
}

// New returns a Provider. sessions resolves the caller's authenticated
// user at /authorize; it may be nil for deployments that front the
// provider with their own session check via a before-hook instead.
// logger may be nil, in which case key-rotation logging is discarded.
func New(store storage.Store, sessions *session.Manager, cfg Config, now func() time.Time, logger *slog.Logger) *Provider {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	cfg = cfg.withDefaults()
	return &Provider{
		store:    store,
		sessions: sessions,
		hasher:   credentials.BcryptHasher{},
		keys:     NewKeyManager(store, cfg.KeyRotationFreq, cfg.IDTokenTTL, now, logger),
		cfg:      cfg,
		now:      now,
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (p *Provider) Name() string { return "provider" }

func (p *Provider) Endpoints() []plugin.Endpoint {
	return []plugin.Endpoint{
		{Method: http.MethodGet, Path: "/.well-known/openid-configuration", Handler: p.handleDiscovery},
		{Method: http.MethodGet, Path: "/.well-known/oauth-authorization-server", Handler: p.handleOAuthMetadata},
		{Method: http.MethodGet, Path: "/oauth2/jwks", Handler: p.handleJWKS},
		{Method: http.MethodGet, Path: "/oauth2/authorize", Handler: p.handleAuthorize},
		{Method: http.MethodGet, Path: "/oauth2/consent/{id}", Handler: p.handleConsentGet},
		{Method: http.MethodPost, Path: "/oauth2/consent/{id}", Handler: p.handleConsentPost},
		{Method: http.MethodGet, Path: "/selected-account", Handler: p.handleSelectedAccount},
		{Method: http.MethodPost, Path: "/oauth2/token", Handler: p.handleToken},
		{Method: http.MethodPost, Path: "/oauth2/introspect", Handler: p.handleIntrospect},
		{Method: http.MethodPost, Path: "/oauth2/register", Handler: p.handleRegister},
		{Method: http.MethodGet, Path: "/oauth2/userinfo", Handler: p.handleUserInfo},
		{Method: http.MethodPost, Path: "/oauth2/userinfo", Handler: p.handleUserInfo},
	}
}

func (p *Provider) BeforeHooks() []plugin.Hook           { return nil }
func (p *Provider) AfterHooks() []plugin.Hook            { return nil }
func (p *Provider) RateLimitRules() []plugin.RateLimitRule {
	return []plugin.RateLimitRule{
		{Key: "oauth2_token", Max: 30, WindowSeconds: 60},
		{Key: "oauth2_authorize", Max: 60, WindowSeconds: 60},
	}
}

func (p *Provider) ErrorCodes() []plugin.ErrorCode {
	return []plugin.ErrorCode{
		{Code: "invalid_client", Description: "client authentication failed or client_id is unknown"},
		{Code: "invalid_grant", Description: "authorization code or refresh token is invalid, expired, or already used"},
		{Code: "invalid_scope", Description: "requested scope is not registered for this client"},
		{Code: "consent_required", Description: "the user must approve this client before a code can be issued"},
	}
}

func (p *Provider) SchemaFields() []plugin.SchemaField { return nil }

// Start begins the signing-key rotation loop; call once at engine
// startup.
func (p *Provider) Start(ctx context.Context) { p.keys.Start(ctx) }

func (p *Provider) lookupClient(c *plugin.Context, clientID string) (storage.OAuthClient, error) {
	rec, err := p.store.FindOne(c, storage.ModelOAuthClient, []storage.Where{storage.Eq("clientId", clientID)}, nil)
	if err != nil {
		if err == storage.ErrNotFound {
			return storage.OAuthClient{}, apierror.Unauthorized("invalid_client", "unknown client")
		}
		return storage.OAuthClient{}, apierror.Internal("INTERNAL_SERVER_ERROR", err.Error())
	}
	return storage.OAuthClientFromRecord(rec), nil
}

func redirectURIRegistered(client storage.OAuthClient, redirectURI string) bool {
	for _, u := range client.RedirectURIs {
		if u == redirectURI {
			return true
		}
	}
	return false
}

func parseScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func joinScopes(scopes []string) string { return strings.Join(scopes, " ") }

// authenticateClient checks client_id/client_secret from either HTTP
// Basic auth or the request body, the two forms RFC 6749 §2.3.1
// requires a token endpoint to accept. Public clients (no secret, e.g.
// a native app using PKCE) authenticate by client_id alone.
func (p *Provider) authenticateClient(r *http.Request, client storage.OAuthClient) bool {
	id, secret, ok := r.BasicAuth()
	if !ok {
		id = r.PostFormValue("client_id")
		secret = r.PostFormValue("client_secret")
	}
	if subtle.ConstantTimeCompare([]byte(id), []byte(client.ClientID)) != 1 {
		return false
	}
	if client.TokenEndpointAuth == "none" {
		return true
	}
	return p.hasher.Verify(client.ClientSecret, secret)
}
