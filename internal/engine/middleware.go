package engine

import (
	"strings"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/internal/ratelimit"
	"github.com/better-auth/authd/internal/session"
)

// sessionMiddleware resolves the caller's session once per request and
// populates plugin.Context.Session before the handler chain runs, so
// internal/provider's "c.Session == nil" check and internal/authcore's
// own handlers see a consistently-populated session without each one
// re-resolving it. A resolution failure is not an error here — most
// endpoints (sign-up, sign-in, the OAuth provider's discovery/jwks) have
// no session requirement at all; the handlers that do require one call
// their own requireSession and fail there.
func sessionMiddleware(sessions *session.Manager) plugin.Middleware {
	return func(next plugin.HandlerFunc) plugin.HandlerFunc {
		return func(c *plugin.Context) error {
			if sess, user, err := sessions.Resolve(c, c.W, c.R, true); err == nil {
				c.Session = &sess
				c.CachedUser = user
			}
			return next(c)
		}
	}
}

// rateLimitMiddleware enforces the registry's contributed RateLimitRules
// by deriving a rule key from the request path ("/sign-in/email" ->
// "sign_in_email") and checking it against the caller's IP. A path with
// no matching rule (ratelimit.Limiter.Allow's "rule not found" case) is
// never limited, so this convention only bites the endpoints a plugin
// explicitly named a rule for.
func rateLimitMiddleware(limiter *ratelimit.Limiter) plugin.Middleware {
	return func(next plugin.HandlerFunc) plugin.HandlerFunc {
		return func(c *plugin.Context) error {
			key := ruleKeyForPath(c.R.URL.Path)
			allowed, err := limiter.Allow(c, key, clientIP(c))
			if err == nil && !allowed {
				return apierror.TooManyRequests("TOO_MANY_REQUESTS", "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func ruleKeyForPath(path string) string {
	trimmed := strings.Trim(path, "/")
	trimmed = strings.ReplaceAll(trimmed, "/", "_")
	return strings.ReplaceAll(trimmed, "-", "_")
}

func clientIP(c *plugin.Context) string {
	if fwd := c.R.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return c.R.RemoteAddr
}
