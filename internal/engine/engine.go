// Package engine composes the session, credentials, two-factor, OAuth
// client, and OAuth provider subsystems into one running deployment: a
// single plugin.Registry, a dispatch.Dispatcher wired with the
// session-resolution and rate-limit global middlewares every request
// passes through, and the background goroutines (key rotation) that
// need to run alongside it. Grounded on dex's cmd/dex/serve.go, which
// plays the identical "wire every subsystem into one *mux.Router plus
// one background goroutine group" role for dex's own fixed handler set.
package engine

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/better-auth/authd/internal/authcore"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/cookiejar"
	"github.com/better-auth/authd/internal/dispatch"
	"github.com/better-auth/authd/internal/oauthclient"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/internal/provider"
	"github.com/better-auth/authd/internal/ratelimit"
	"github.com/better-auth/authd/internal/session"
	"github.com/better-auth/authd/internal/twofactor"
	"github.com/better-auth/authd/storage"
)

// Config aggregates every subsystem's configuration plus the secrets
// that back cookie signing and token issuance. Fields left at their
// zero value fall back to that subsystem's own defaults.
type Config struct {
	Session   session.Config
	Core      authcore.Config
	Provider  provider.Config
	// EnableProvider turns on the OAuth2/OIDC authorization-server role
	// (§4.6). Most deployments that only need authentication, not to
	// themselves issue tokens to third-party clients, leave this false.
	EnableProvider bool

	PasswordPolicy       credentials.Complexity
	Hasher               credentials.Hasher
	CookieSignKey        []byte
	TokenSignKey         []byte
	TwoFactorEncryptKey  []byte
	TrustDeviceKey       []byte
	OAuthProviders       []oauthclient.Config

	// Plugins are additional plugin.Plugin implementations the
	// deployment wants composed alongside authcore and (if enabled) the
	// OAuth provider — the extension point §4.9 describes.
	Plugins []plugin.Plugin

	SessionCache  session.Cache
	RateLimitCache ratelimit.Cache

	Now    func() time.Time
	Logger *slog.Logger
}

// Engine is the fully wired deployment: an http.Handler plus the
// background work Start must run.
type Engine struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *plugin.Registry
	Sessions   *session.Manager
	Core       *authcore.Core
	Provider   *provider.Provider // nil unless Config.EnableProvider

	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// New wires every subsystem named in cfg into a single Engine. store is
// the deployment's storage.Store (memory, sql, or a custom
// implementation); oauthProviders, if non-empty, are resolved from
// cfg.OAuthProviders up front (OIDC discovery happens here, so New may
// make network calls and can fail).
func New(ctx context.Context, store storage.Store, cfg Config) (*Engine, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hasher == nil {
		cfg.Hasher = credentials.BcryptHasher{}
	}

	cookieSigner := cookiejar.NewSigner(cfg.CookieSignKey)
	tokenSigner := credentials.NewTokenSigner(cfg.TokenSignKey, cfg.Now)
	sessions := session.New(store, cfg.Session, cookieSigner, cfg.SessionCache, cfg.Now)
	creds := credentials.NewManager(store, cfg.Hasher, cfg.PasswordPolicy, cfg.Now)
	tf := twofactor.NewManager(store, cfg.Core.TwoFactorIssuer, cfg.TwoFactorEncryptKey, cfg.Now)

	var trustDevice *twofactor.TrustDeviceSigner
	if cfg.TrustDeviceKey != nil {
		trustDevice = twofactor.NewTrustDeviceSigner(cfg.TrustDeviceKey)
	}

	oauthProviders := make(map[string]*oauthclient.Provider, len(cfg.OAuthProviders))
	for _, pc := range cfg.OAuthProviders {
		p, err := oauthclient.New(ctx, pc, nil)
		if err != nil {
			return nil, err
		}
		oauthProviders[pc.ID] = p
	}

	core := authcore.New(store, sessions, creds, cfg.Hasher, tokenSigner, tf, trustDevice,
		cookieSigner, oauthProviders, cfg.Core, cfg.Now, cfg.Logger)

	plugins := append([]plugin.Plugin{core}, cfg.Plugins...)

	var authProvider *provider.Provider
	if cfg.EnableProvider {
		authProvider = provider.New(store, sessions, cfg.Provider, cfg.Now, cfg.Logger)
		plugins = append(plugins, authProvider)
	}

	registry := plugin.NewRegistry(plugins...)
	limiter := ratelimit.New(toRatelimitRules(registry.RateLimitRules()), cfg.RateLimitCache, cfg.Now)

	d := dispatch.New(store, registry, cfg.Logger,
		sessionMiddleware(sessions),
		rateLimitMiddleware(limiter),
	)

	return &Engine{
		Dispatcher: d,
		Registry:   registry,
		Sessions:   sessions,
		Core:       core,
		Provider:   authProvider,
		limiter:    limiter,
		logger:     cfg.Logger,
	}, nil
}

// Start launches every subsystem's background work (currently: the
// OAuth provider's signing-key rotation loop, when enabled) and returns
// immediately; the background work runs until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	if e.Provider != nil {
		e.Provider.Start(ctx)
	}
}

// ServeHTTP makes Engine usable directly with http.ListenAndServe.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Dispatcher.ServeHTTP(w, r)
}

func toRatelimitRules(rules []plugin.RateLimitRule) []ratelimit.Rule {
	out := make([]ratelimit.Rule, len(rules))
	for i, r := range rules {
		out[i] = ratelimit.Rule{Key: r.Key, Max: r.Max, Window: time.Duration(r.WindowSeconds) * time.Second}
	}
	return out
}
