// Package authcore implements the core, always-on endpoints every
// deployment gets regardless of which optional plugins are loaded:
// email+password sign-up/sign-in, session resolution/sign-out, profile
// updates, social sign-in, and the two-factor verification endpoints
// (§4.3, §4.4, §4.5, §4.7). It is itself a plugin.Plugin — the engine
// composes it exactly like any optional extension — grounded on dex's
// own server package, which plays the same "the teacher's core
// business is itself the thing being generalized" role internal/provider
// already documents for the OIDC-provider endpoints.
package authcore

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/better-auth/authd/internal/cookiejar"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/oauthclient"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/internal/session"
	"github.com/better-auth/authd/internal/twofactor"
	"github.com/better-auth/authd/storage"
)

// Config controls cookie naming, password/token policy, and the
// deployment's notification hooks. Every *TTL/Length field has a
// zero-value default applied by withDefaults, matching how
// internal/provider.Config is defaulted.
type Config struct {
	// Prefix names the cookies this package writes itself:
	// "<Prefix>.two_factor" and "<Prefix>.trust_device", matching the
	// canonical cookie names §4.2 lists. The session cookies are named
	// by session.Config.
	Prefix   string
	Secure   bool
	SameSite http.SameSite
	Domain   string
	Path     string

	MinPasswordLength int
	MaxPasswordLength int

	// RequireEmailVerification gates auto-sign-in on sign-up and
	// sign-in on an unverified account.
	RequireEmailVerification bool
	// AutoSignIn issues a session immediately on sign-up when email
	// verification is not required.
	AutoSignIn bool

	VerificationTokenTTL  time.Duration
	PasswordResetTokenTTL time.Duration
	MagicLinkTokenTTL     time.Duration

	TwoFactorIssuer     string
	TwoFactorPendingTTL time.Duration
	TrustDeviceTTL      time.Duration
	OTPDigits           int
	OTPTTL              time.Duration
	OTPAttemptLimit     int

	// SignUpOnVerification lets a correct phone-OTP verification for an
	// unrecognized phone number provision a brand-new user (with a
	// synthetic email) instead of requiring a prior sign-up (§4.4).
	SignUpOnVerification bool

	// BaseURL prefixes the links embedded in verification/reset emails
	// (e.g. BaseURL+"/verify-email?token=...").
	BaseURL string
	// DisableSignUp, when true, makes social sign-in and magic-link
	// reject an unrecognized identity instead of provisioning a User.
	DisableSignUp bool
	// AllowDifferentEmails permits linking a social identity onto an
	// already-signed-in user whose email differs from the provider's
	// reported email (§4.5's account-linking step 1); false rejects the
	// link outright when the emails don't match.
	AllowDifferentEmails bool

	// Notifier delivers verification/reset links and OTP codes out of
	// band; a deployment wires this to its own mailer/SMS provider. A
	// nil Notifier silently drops notifications (useful for tests).
	Notifier Notifier
}

// Notifier is the deployment-supplied delivery hook for every
// out-of-band credential flow (§4.4). Implementations are expected to
// be non-blocking or to run notifications off the request path; authcore
// calls them synchronously and logs, but does not fail the request on,
// a returned error.
type Notifier interface {
	SendVerificationEmail(ctx *plugin.Context, user storage.User, url string) error
	SendResetPassword(ctx *plugin.Context, user storage.User, url string) error
	SendChangeEmailVerification(ctx *plugin.Context, user storage.User, newEmail, url string) error
	SendOTP(ctx *plugin.Context, identifier, code string) error
	SendMagicLink(ctx *plugin.Context, email, url string) error
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "better-auth"
	}
	if c.MinPasswordLength == 0 {
		c.MinPasswordLength = 8
	}
	if c.MaxPasswordLength == 0 {
		c.MaxPasswordLength = 128
	}
	if c.VerificationTokenTTL == 0 {
		c.VerificationTokenTTL = time.Hour
	}
	if c.PasswordResetTokenTTL == 0 {
		c.PasswordResetTokenTTL = time.Hour
	}
	if c.MagicLinkTokenTTL == 0 {
		c.MagicLinkTokenTTL = 5 * time.Minute
	}
	if c.TwoFactorIssuer == "" {
		c.TwoFactorIssuer = "better-auth"
	}
	if c.TwoFactorPendingTTL == 0 {
		c.TwoFactorPendingTTL = 10 * time.Minute
	}
	if c.TrustDeviceTTL == 0 {
		c.TrustDeviceTTL = 60 * 24 * time.Hour
	}
	if c.OTPDigits == 0 {
		c.OTPDigits = 6
	}
	if c.OTPTTL == 0 {
		c.OTPTTL = 5 * time.Minute
	}
	if c.OTPAttemptLimit == 0 {
		c.OTPAttemptLimit = credentials.DefaultOTPAttemptLimit
	}
	return c
}

// Core is the authcore plugin's entry point, composed once at startup
// with the managers every handler in this package delegates to.
type Core struct {
	store        storage.Store
	sessions     *session.Manager
	creds        *credentials.Manager
	hasher       credentials.Hasher
	tokens       *credentials.TokenSigner
	twofactor    *twofactor.Manager
	trustDevice  *twofactor.TrustDeviceSigner
	cookieSigner *cookiejar.Signer
	oauth        map[string]*oauthclient.Provider
	cfg          Config
	now          func() time.Time
	logger       *slog.Logger
}

// New composes a Core. oauthProviders maps a provider id (as it
// appears in /sign-in/social's "provider" field and /callback/:provider)
// onto a configured oauthclient.Provider.
func New(
	store storage.Store,
	sessions *session.Manager,
	creds *credentials.Manager,
	hasher credentials.Hasher,
	tokens *credentials.TokenSigner,
	tf *twofactor.Manager,
	trustDevice *twofactor.TrustDeviceSigner,
	cookieSigner *cookiejar.Signer,
	oauthProviders map[string]*oauthclient.Provider,
	cfg Config,
	now func() time.Time,
	logger *slog.Logger,
) *Core {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	if hasher == nil {
		hasher = credentials.BcryptHasher{}
	}
	return &Core{
		store: store, sessions: sessions, creds: creds, hasher: hasher, tokens: tokens,
		twofactor: tf, trustDevice: trustDevice, cookieSigner: cookieSigner, oauth: oauthProviders,
		cfg: cfg.withDefaults(), now: now, logger: logger,
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (c *Core) Name() string { return "authcore" }

func (c *Core) Endpoints() []plugin.Endpoint {
	return []plugin.Endpoint{
		{Method: http.MethodPost, Path: "/sign-up/email", Handler: c.handleSignUpEmail},
		{Method: http.MethodPost, Path: "/sign-in/email", Handler: c.handleSignInEmail},
		{Method: http.MethodGet, Path: "/verify-email", Handler: c.handleVerifyEmail},
		{Method: http.MethodPost, Path: "/forget-password", Handler: c.handleForgetPassword},
		{Method: http.MethodPost, Path: "/reset-password", Handler: c.handleResetPassword},
		{Method: http.MethodPost, Path: "/change-password", Handler: c.handleChangePassword},
		{Method: http.MethodPost, Path: "/change-email", Handler: c.handleChangeEmail},
		{Method: http.MethodPost, Path: "/set-password", Handler: c.handleSetPassword},
		{Method: http.MethodPost, Path: "/sign-in/social", Handler: c.handleSignInSocial},
		{Method: http.MethodGet, Path: "/callback/{provider}", Handler: c.handleCallback},
		{Method: http.MethodPost, Path: "/sign-in/magic-link", Handler: c.handleSignInMagicLink},
		{Method: http.MethodGet, Path: "/magic-link/verify", Handler: c.handleVerifyMagicLink},
		{Method: http.MethodPost, Path: "/sign-in/phone-number", Handler: c.handleSignInPhoneNumber},
		{Method: http.MethodPost, Path: "/phone-number/verify", Handler: c.handleVerifyPhoneNumber},
		{Method: http.MethodGet, Path: "/session", Handler: c.handleGetSession},
		{Method: http.MethodPost, Path: "/sign-out", Handler: c.handleSignOut},
		{Method: http.MethodPost, Path: "/update-user", Handler: c.handleUpdateUser},
		{Method: http.MethodPost, Path: "/delete-user", Handler: c.handleDeleteUser},
		{Method: http.MethodPost, Path: "/two-factor/enable", Handler: c.handleTwoFactorEnable},
		{Method: http.MethodPost, Path: "/two-factor/disable", Handler: c.handleTwoFactorDisable},
		{Method: http.MethodPost, Path: "/two-factor/send-otp", Handler: c.handleTwoFactorSendOTP},
		{Method: http.MethodPost, Path: "/two-factor/verify-otp", Handler: c.handleTwoFactorVerifyOTP},
		{Method: http.MethodPost, Path: "/two-factor/verify-totp", Handler: c.handleTwoFactorVerifyTOTP},
		{Method: http.MethodPost, Path: "/two-factor/generate-backup-codes", Handler: c.handleGenerateBackupCodes},
		{Method: http.MethodPost, Path: "/two-factor/verify-backup-code", Handler: c.handleVerifyBackupCode},
	}
}

func (c *Core) BeforeHooks() []plugin.Hook { return nil }
func (c *Core) AfterHooks() []plugin.Hook  { return nil }

func (c *Core) RateLimitRules() []plugin.RateLimitRule {
	return []plugin.RateLimitRule{
		{Key: "sign_in_email", Max: 100, WindowSeconds: 10},
		{Key: "sign_up_email", Max: 20, WindowSeconds: 60},
		{Key: "two_factor_verify_otp", Max: 10, WindowSeconds: 60},
		{Key: "two_factor_verify_totp", Max: 10, WindowSeconds: 60},
		{Key: "two_factor_verify_backup_code", Max: 10, WindowSeconds: 60},
		{Key: "sign_in_magic_link", Max: 20, WindowSeconds: 60},
		{Key: "sign_in_phone_number", Max: 20, WindowSeconds: 60},
	}
}

func (c *Core) ErrorCodes() []plugin.ErrorCode {
	return []plugin.ErrorCode{
		{Code: "INVALID_CREDENTIALS", Description: "email or password is incorrect"},
		{Code: "EMAIL_IN_USE", Description: "an account with this email already exists"},
		{Code: "TOKEN_EXPIRED", Description: "the verification/reset token has expired"},
		{Code: "INVALID_TOKEN", Description: "the verification/reset token is malformed or unknown"},
		{Code: "TWO_FACTOR_REQUIRED", Description: "the account requires two-factor verification"},
		{Code: "TOO_MANY_ATTEMPTS", Description: "too many failed verification attempts"},
		{Code: "INVALID_OTP", Description: "the supplied one-time code is incorrect"},
		{Code: "OTP_EXPIRED", Description: "the one-time code has expired"},
		{Code: "INVALID_BACKUP_CODE", Description: "the backup code is unknown or already used"},
		{Code: "SIGN_UP_DISABLED", Description: "no account found for this identity and sign-up is disabled"},
	}
}

func (c *Core) SchemaFields() []plugin.SchemaField { return nil }

// cookieName builds a canonical "<prefix>.<name>" cookie name.
func (c *Core) cookieName(name string) string { return c.cfg.Prefix + "." + name }

func (c *Core) cookieOpts() func(*http.Cookie) {
	return func(ck *http.Cookie) {
		ck.HttpOnly = true
		ck.Secure = c.cfg.Secure
		ck.SameSite = c.cfg.SameSite
		ck.Domain = c.cfg.Domain
		if ck.Path == "" {
			ck.Path = c.cfg.Path
		}
		if ck.Path == "" {
			ck.Path = "/"
		}
	}
}
