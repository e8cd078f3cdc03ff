package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/better-auth/authd/internal/authcore"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/engine"
	"github.com/better-auth/authd/internal/oauthclient"
	"github.com/better-auth/authd/internal/provider"
	"github.com/better-auth/authd/internal/session"
	"github.com/better-auth/authd/storage"
	"github.com/better-auth/authd/storage/memory"
	"github.com/better-auth/authd/storage/redis"
	"github.com/better-auth/authd/storage/sql"
)

// Config is the config format for authd itself.
type Config struct {
	Issuer    string    `json:"issuer"`
	BaseURL   string    `json:"baseURL"`
	Storage   Storage   `json:"storage"`
	Web       Web       `json:"web"`
	Telemetry Telemetry `json:"telemetry"`
	Logger    Logger    `json:"logger"`

	Session    SessionConfig     `json:"session"`
	Core       CoreConfig        `json:"core"`
	Provider   ProviderConfig    `json:"provider"`
	OAuth2     []OAuthProvider   `json:"oauthProviders"`
	Secrets    Secrets           `json:"secrets"`
	// Cache, if set, backs session lookaside and rate-limit counters with
	// redis. Without it sessions have no secondary-storage cache and
	// ratelimit.New counts in an in-memory map (fine for a single
	// instance but not for a fleet).
	Cache *RedisCache `json:"cache"`
}

// Validate performs the same "fast check, accumulate, one error" pass
// dex's own cmd/dex/config.go runs before anything gets wired up.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Issuer == "" && c.Provider.Issuer == "", "no issuer specified in config file"},
		{c.Storage.Config == nil, "no storage supplied in config file"},
		{c.Web.HTTP == "" && c.Web.HTTPS == "", "must supply a HTTP/HTTPS address to listen on"},
		{c.Web.HTTPS != "" && c.Web.TLSCert == "", "no cert specified for HTTPS"},
		{c.Web.HTTPS != "" && c.Web.TLSKey == "", "no private key specified for HTTPS"},
		{len(c.Secrets.CookieSignKey) == 0, "secrets.cookieSignKey is required"},
		{len(c.Secrets.TokenSignKey) == 0, "secrets.tokenSignKey is required"},
		{c.Provider.Enable && c.Provider.Issuer == "" && c.Issuer == "", "provider.enable requires an issuer"},
	}

	var checkErrors []string
	for _, check := range checks {
		if check.bad {
			checkErrors = append(checkErrors, check.errMsg)
		}
	}
	if len(checkErrors) != 0 {
		return fmt.Errorf("invalid config:\n\t-\t%s", strings.Join(checkErrors, "\n\t-\t"))
	}
	return nil
}

// Web is the config format for the HTTP server, narrowed from dex's Web
// (connector-era header/TLS-version knobs dropped, AllowedOrigins kept
// for the gorilla/handlers CORS wrapper serve.go installs).
type Web struct {
	HTTP           string   `json:"http"`
	HTTPS          string   `json:"https"`
	TLSCert        string   `json:"tlsCert"`
	TLSKey         string   `json:"tlsKey"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// Telemetry is the config format for the metrics/health HTTP server.
type Telemetry struct {
	HTTP string `json:"http"`
}

// Logger holds configuration for authd's own logging.
type Logger struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// SessionConfig is the YAML-facing mirror of session.Config; durations
// are strings so they round-trip through JSON/YAML the way dex's Expiry
// does.
type SessionConfig struct {
	ExpiresIn         string `json:"expiresIn"`
	UpdateAge         string `json:"updateAge"`
	CookieName        string `json:"cookieName"`
	CookieCacheMaxAge string `json:"cookieCacheMaxAge"`
	Secure            bool   `json:"secure"`
	Domain            string `json:"domain"`
	Path              string `json:"path"`
}

func (s SessionConfig) toEngineConfig() (session.Config, error) {
	cfg := session.Config{CookieName: s.CookieName, Secure: s.Secure, Domain: s.Domain, Path: s.Path}
	var err error
	if cfg.ExpiresIn, err = parseDuration(s.ExpiresIn); err != nil {
		return cfg, fmt.Errorf("session.expiresIn: %w", err)
	}
	if cfg.UpdateAge, err = parseDuration(s.UpdateAge); err != nil {
		return cfg, fmt.Errorf("session.updateAge: %w", err)
	}
	if cfg.CookieCacheMaxAge, err = parseDuration(s.CookieCacheMaxAge); err != nil {
		return cfg, fmt.Errorf("session.cookieCacheMaxAge: %w", err)
	}
	return cfg, nil
}

// CoreConfig is the YAML-facing mirror of authcore.Config.
type CoreConfig struct {
	Prefix                   string `json:"prefix"`
	Secure                   bool   `json:"secure"`
	Domain                   string `json:"domain"`
	Path                     string `json:"path"`
	MinPasswordLength        int    `json:"minPasswordLength"`
	MaxPasswordLength        int    `json:"maxPasswordLength"`
	RequireEmailVerification bool   `json:"requireEmailVerification"`
	AutoSignIn               bool   `json:"autoSignIn"`
	VerificationTokenTTL     string `json:"verificationTokenTTL"`
	PasswordResetTokenTTL    string `json:"passwordResetTokenTTL"`
	TwoFactorIssuer          string `json:"twoFactorIssuer"`
	TwoFactorPendingTTL      string `json:"twoFactorPendingTTL"`
	TrustDeviceTTL           string `json:"trustDeviceTTL"`
	OTPDigits                int    `json:"otpDigits"`
	OTPTTL                   string `json:"otpTTL"`
	OTPAttemptLimit          int    `json:"otpAttemptLimit"`
	DisableSignUp            bool   `json:"disableSignUp"`
}

func (c CoreConfig) toEngineConfig(issuer, baseURL string) (authcore.Config, error) {
	cfg := authcore.Config{
		Prefix: c.Prefix, Secure: c.Secure, Domain: c.Domain, Path: c.Path,
		MinPasswordLength: c.MinPasswordLength, MaxPasswordLength: c.MaxPasswordLength,
		RequireEmailVerification: c.RequireEmailVerification, AutoSignIn: c.AutoSignIn,
		TwoFactorIssuer: c.TwoFactorIssuer, OTPDigits: c.OTPDigits, OTPAttemptLimit: c.OTPAttemptLimit,
		DisableSignUp: c.DisableSignUp, BaseURL: baseURL,
	}
	var err error
	if cfg.VerificationTokenTTL, err = parseDuration(c.VerificationTokenTTL); err != nil {
		return cfg, fmt.Errorf("core.verificationTokenTTL: %w", err)
	}
	if cfg.PasswordResetTokenTTL, err = parseDuration(c.PasswordResetTokenTTL); err != nil {
		return cfg, fmt.Errorf("core.passwordResetTokenTTL: %w", err)
	}
	if cfg.TwoFactorPendingTTL, err = parseDuration(c.TwoFactorPendingTTL); err != nil {
		return cfg, fmt.Errorf("core.twoFactorPendingTTL: %w", err)
	}
	if cfg.TrustDeviceTTL, err = parseDuration(c.TrustDeviceTTL); err != nil {
		return cfg, fmt.Errorf("core.trustDeviceTTL: %w", err)
	}
	if cfg.OTPTTL, err = parseDuration(c.OTPTTL); err != nil {
		return cfg, fmt.Errorf("core.otpTTL: %w", err)
	}
	return cfg, nil
}

// ProviderConfig is the YAML-facing mirror of provider.Config, plus the
// Enable switch that decides whether the OAuth2/OIDC authorization-server
// role is composed into the engine at all.
type ProviderConfig struct {
	Enable          bool     `json:"enable"`
	Issuer          string   `json:"issuer"`
	AccessTokenTTL  string   `json:"accessTokenTTL"`
	RefreshTokenTTL string   `json:"refreshTokenTTL"`
	IDTokenTTL      string   `json:"idTokenTTL"`
	AuthCodeTTL     string   `json:"authCodeTTL"`
	ConsentTTL      string   `json:"consentTTL"`
	KeyRotationFreq string   `json:"keyRotationFreq"`
	SupportedScopes []string `json:"supportedScopes"`
	LoginPath       string   `json:"loginPath"`
	ConsentPath     string   `json:"consentPath"`
}

func (p ProviderConfig) toEngineConfig(issuer string) (provider.Config, error) {
	cfg := provider.Config{Issuer: issuer, SupportedScopes: p.SupportedScopes, LoginPath: p.LoginPath, ConsentPath: p.ConsentPath}
	if p.Issuer != "" {
		cfg.Issuer = p.Issuer
	}
	var err error
	if cfg.AccessTokenTTL, err = parseDuration(p.AccessTokenTTL); err != nil {
		return cfg, fmt.Errorf("provider.accessTokenTTL: %w", err)
	}
	if cfg.RefreshTokenTTL, err = parseDuration(p.RefreshTokenTTL); err != nil {
		return cfg, fmt.Errorf("provider.refreshTokenTTL: %w", err)
	}
	if cfg.IDTokenTTL, err = parseDuration(p.IDTokenTTL); err != nil {
		return cfg, fmt.Errorf("provider.idTokenTTL: %w", err)
	}
	if cfg.AuthCodeTTL, err = parseDuration(p.AuthCodeTTL); err != nil {
		return cfg, fmt.Errorf("provider.authCodeTTL: %w", err)
	}
	if cfg.ConsentTTL, err = parseDuration(p.ConsentTTL); err != nil {
		return cfg, fmt.Errorf("provider.consentTTL: %w", err)
	}
	if cfg.KeyRotationFreq, err = parseDuration(p.KeyRotationFreq); err != nil {
		return cfg, fmt.Errorf("provider.keyRotationFreq: %w", err)
	}
	return cfg, nil
}

// OAuthProvider is the YAML-facing mirror of oauthclient.Config.
type OAuthProvider struct {
	ID               string   `json:"id"`
	ClientID         string   `json:"clientId"`
	ClientSecret     string   `json:"clientSecret"`
	ClientSecretEnv  string   `json:"clientSecretEnv"`
	RedirectURI      string   `json:"redirectURI"`
	Scopes           []string `json:"scopes"`
	IssuerURL        string   `json:"issuerURL"`
	AuthorizationURL string   `json:"authorizationURL"`
	TokenURL         string   `json:"tokenURL"`
	UserInfoURL      string   `json:"userInfoURL"`
}

func (p OAuthProvider) toEngineConfig() oauthclient.Config {
	secret := p.ClientSecret
	if secret == "" && p.ClientSecretEnv != "" {
		secret = envOrEmpty(p.ClientSecretEnv)
	}
	return oauthclient.Config{
		ID: p.ID, ClientID: p.ClientID, ClientSecret: secret, RedirectURI: p.RedirectURI, Scopes: p.Scopes,
		IssuerURL: p.IssuerURL, AuthorizationURL: p.AuthorizationURL, TokenURL: p.TokenURL, UserInfoURL: p.UserInfoURL,
	}
}

// Secrets carries every signing/encryption key authd needs, base64
// encoded in the config file the way dex's password.Hash falls back to
// base64 for backwards compatibility (config.go's password.UnmarshalJSON).
type Secrets struct {
	CookieSignKey       string `json:"cookieSignKey"`
	TokenSignKey        string `json:"tokenSignKey"`
	TwoFactorEncryptKey string `json:"twoFactorEncryptKey"`
	TrustDeviceKey      string `json:"trustDeviceKey"`
}

func (s Secrets) decode() (cookieSign, tokenSign, twoFactorEncrypt, trustDevice []byte, err error) {
	if cookieSign, err = decodeKey(s.CookieSignKey); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("secrets.cookieSignKey: %w", err)
	}
	if tokenSign, err = decodeKey(s.TokenSignKey); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("secrets.tokenSignKey: %w", err)
	}
	if twoFactorEncrypt, err = decodeKey(s.TwoFactorEncryptKey); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("secrets.twoFactorEncryptKey: %w", err)
	}
	if trustDevice, err = decodeKey(s.TrustDeviceKey); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("secrets.trustDeviceKey: %w", err)
	}
	return cookieSign, tokenSign, twoFactorEncrypt, trustDevice, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// toEngineConfig assembles the fully wired engine.Config from the parsed
// file config. The caller still has to open a storage.Store and, if
// configured, a redis cache, and pass those in separately — this mirrors
// runServe's own "open storage, then build serverConfig" two-step.
func (c Config) toEngineConfig() (engine.Config, error) {
	sessionCfg, err := c.Session.toEngineConfig()
	if err != nil {
		return engine.Config{}, err
	}
	coreCfg, err := c.Core.toEngineConfig(c.Issuer, c.BaseURL)
	if err != nil {
		return engine.Config{}, err
	}
	providerCfg, err := c.Provider.toEngineConfig(c.Issuer)
	if err != nil {
		return engine.Config{}, err
	}
	cookieSign, tokenSign, twoFactorEncrypt, trustDevice, err := c.Secrets.decode()
	if err != nil {
		return engine.Config{}, err
	}

	oauthProviders := make([]oauthclient.Config, len(c.OAuth2))
	for i, p := range c.OAuth2 {
		oauthProviders[i] = p.toEngineConfig()
	}

	return engine.Config{
		Session:             sessionCfg,
		Core:                coreCfg,
		Provider:            providerCfg,
		EnableProvider:      c.Provider.Enable,
		Hasher:              credentials.BcryptHasher{},
		CookieSignKey:       cookieSign,
		TokenSignKey:        tokenSign,
		TwoFactorEncryptKey: twoFactorEncrypt,
		TrustDeviceKey:      trustDevice,
		OAuthProviders:      oauthProviders,
	}, nil
}

// Storage holds authd's storage configuration, unmarshaled dynamically
// the same way dex's own Storage does — a "type" discriminator picks
// which StorageConfig implementation parses the rest of the object.
type Storage struct {
	Type   string        `json:"type"`
	Config StorageConfig `json:"config"`
}

// StorageConfig is a configuration that can open a storage.Store.
type StorageConfig interface {
	Open() (storage.Store, error)
}

var storages = map[string]func() StorageConfig{
	"memory": func() StorageConfig { return &memoryConfig{} },
	"sqlite3": func() StorageConfig { return &sqlConfig{driver: "sqlite3"} },
	"postgres": func() StorageConfig { return &sqlConfig{driver: "postgres"} },
	"mysql": func() StorageConfig { return &sqlConfig{driver: "mysql"} },
}

// UnmarshalJSON dynamically determines the type of the storage config,
// the same trick dex's own Storage.UnmarshalJSON plays.
func (s *Storage) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type   string          `json:"type"`
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse storage: %v", err)
	}
	f, ok := storages[raw.Type]
	if !ok {
		return fmt.Errorf("unknown storage type %q", raw.Type)
	}
	cfg := f()
	if len(raw.Config) != 0 {
		if err := json.Unmarshal(raw.Config, cfg); err != nil {
			return fmt.Errorf("parse storage config: %v", err)
		}
	}
	*s = Storage{Type: raw.Type, Config: cfg}
	return nil
}

type memoryConfig struct{}

func (memoryConfig) Open() (storage.Store, error) { return memory.New(), nil }

type sqlConfig struct {
	driver         string `json:"-"`
	DataSourceName string `json:"dataSourceName"`
}

func (c *sqlConfig) Open() (storage.Store, error) {
	return sql.Open(backgroundCtx(), sql.Config{Driver: c.driver, DataSourceName: c.DataSourceName}, sqlLogger())
}

// RedisCache is the optional secondary cache authd's config can name for
// session/rate-limit lookaside, mirroring storage/redis.Config.
type RedisCache struct {
	Addrs            []string `json:"addrs"`
	Password         string   `json:"password"`
	SentinelPassword string   `json:"sentinelPassword"`
	MasterName       string   `json:"masterName"`
	KeyPrefix        string   `json:"keyPrefix"`
}

func (r RedisCache) toRedisConfig() redis.Config {
	return redis.Config{
		Addrs: r.Addrs, Password: r.Password, SentinelPassword: r.SentinelPassword,
		MasterName: r.MasterName, KeyPrefix: r.KeyPrefix,
	}
}
