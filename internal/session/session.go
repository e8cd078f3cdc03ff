// Package session implements issuance, resolution, sliding renewal, and
// revocation of the Session entity (§3, §4.3), grounded on dex's
// AuthRequest/RefreshToken/OfflineSessions lifecycle generalized to one
// entity with an optional cookie cache and an optional secondary-storage
// cache in front of the primary store.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/better-auth/authd/internal/cookiejar"
	"github.com/better-auth/authd/storage"
)

// Config controls session lifetime and renewal, matching the knobs spec
// §4.3 names.
type Config struct {
	// ExpiresIn is how long a freshly issued session lives.
	ExpiresIn time.Duration
	// UpdateAge is the sliding-renewal threshold: a session older than
	// this (measured from CreatedAt) is renewed on its next successful
	// resolution.
	UpdateAge time.Duration
	// CookieName is the name of the signed session-token cookie.
	CookieName string
	// CookieCache, if non-nil, enables the session-data cookie: a
	// tamper-evident copy of session claims trusted for CookieCacheMaxAge
	// (measured from the snapshot's updatedAt; zero means no age limit)
	// without a store round trip.
	CookieCache     cookiejar.Codec
	CookieCacheName string
	CookieCacheMaxAge time.Duration
	// CookieCacheVersion tags every cookie this Manager writes; a
	// cookie whose "version" claim doesn't match is treated as absent
	// rather than trusted, letting application code invalidate every
	// outstanding cookie cache by bumping this value (§4.2).
	CookieCacheVersion string
	// Secure/SameSite/Domain/Path mirror http.Cookie attributes applied
	// to every cookie this package writes.
	Secure   bool
	SameSite http.SameSite
	Domain   string
	Path     string
}

func (c Config) cookieOpts() func(*http.Cookie) {
	return func(ck *http.Cookie) {
		ck.HttpOnly = true
		ck.Secure = c.Secure
		ck.SameSite = c.SameSite
		ck.Domain = c.Domain
		if ck.Path == "" {
			ck.Path = c.Path
		}
		if ck.Path == "" {
			ck.Path = "/"
		}
	}
}

// Cache is the optional secondary-storage cache described in §4.3 and
// §5, implemented by storage/redis.Cache.
type Cache interface {
	Set(ctx context.Context, namespace, id string, value any, ttl time.Duration) error
	Get(ctx context.Context, namespace, id string, dest any) error
	Delete(ctx context.Context, namespace, id string) error
	Touch(ctx context.Context, namespace, id string, ttl time.Duration) error
}

const cacheNamespace = "session"

// Manager is the session subsystem's entry point, composed once at
// startup with a Store, Config, and optional Cache.
type Manager struct {
	store  storage.Store
	cfg    Config
	cache  Cache
	signer *cookiejar.Signer
	now    func() time.Time
}

// New returns a Manager. signer signs the session-token cookie value;
// cache may be nil to disable secondary-storage lookaside.
func New(store storage.Store, cfg Config, signer *cookiejar.Signer, cache Cache, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, cfg: cfg, cache: cache, signer: signer, now: now}
}

// Create issues a new session for user and writes its cookies onto w.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, user storage.User, ipAddress, userAgent string, extra storage.Record) (storage.Session, error) {
	now := m.now()
	sess := storage.Session{
		ID:        storage.NewID(),
		Token:     storage.NewToken(),
		UserID:    user.ID,
		ExpiresAt: now.Add(m.cfg.ExpiresIn),
		CreatedAt: now,
		UpdatedAt: now,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Extra:     extra,
	}
	rec, err := m.store.Create(ctx, storage.ModelSession, sess.ToRecord())
	if err != nil {
		return storage.Session{}, err
	}
	sess = storage.SessionFromRecord(rec)

	if m.cache != nil {
		_ = m.cache.Set(ctx, cacheNamespace, sess.Token, rec, m.cfg.ExpiresIn)
	}
	m.writeCookies(w, sess, user)
	return sess, nil
}

// writeCookies writes the signed session-token cookie and, if a cookie
// cache is configured, the session-data cookie carrying the §4.2
// snapshot `{session, user, updatedAt, version}`. Every call site that
// mutates session or user state must call this again so the cookie
// cache never serves stale data past the next request.
func (m *Manager) writeCookies(w http.ResponseWriter, sess storage.Session, user storage.User) {
	cookiejar.WriteChunked(w, m.cfg.CookieName, m.signer.Sign(sess.Token), m.cfg.cookieOpts())
	if m.cfg.CookieCache != nil {
		claims := map[string]any{
			"session": map[string]any{
				"sid":    sess.ID,
				"userId": sess.UserID,
				"exp":    sess.ExpiresAt.Unix(),
			},
			"user": map[string]any{
				"id":            user.ID,
				"email":         user.Email,
				"emailVerified": user.EmailVerified,
				"name":          user.Name,
				"image":         user.Image,
			},
			"updatedAt": m.now().Unix(),
			"version":   m.cfg.CookieCacheVersion,
		}
		if encoded, err := m.cfg.CookieCache.Encode(claims); err == nil {
			cookiejar.WriteChunked(w, m.cfg.CookieCacheName, encoded, m.cfg.cookieOpts())
		}
	}
}

// userSnapshot loads the user row backing a session for the cookie
// cache. It returns a zero-value User (and skips the lookup) when no
// cookie cache is configured, since no snapshot is needed in that case.
func (m *Manager) userSnapshot(ctx context.Context, userID string) storage.User {
	if m.cfg.CookieCache == nil {
		return storage.User{}
	}
	rec, err := m.store.FindOne(ctx, storage.ModelUser, []storage.Where{storage.Eq("id", userID)}, nil)
	if err != nil {
		return storage.User{}
	}
	return storage.UserFromRecord(rec)
}

// bearerPrefix is the Authorization header scheme the bearer-token
// resolution path accepts.
const bearerPrefix = "Bearer "

// Resolve implements the getSession(ctx) precedence from §4.3: bearer
// header, then signed session-token cookie (hitting the store, with
// sliding renewal), then — if neither is present and a cookie cache is
// configured — the session-data cookie, trusted read-only for its
// configured max age.
func (m *Manager) Resolve(ctx context.Context, w http.ResponseWriter, r *http.Request, bearerEnabled bool) (storage.Session, *storage.User, error) {
	if bearerEnabled {
		if auth := r.Header.Get("Authorization"); len(auth) > len(bearerPrefix) && auth[:len(bearerPrefix)] == bearerPrefix {
			sess, err := m.resolveByToken(ctx, w, auth[len(bearerPrefix):])
			return sess, nil, err
		}
	}

	if signed, err := cookiejar.ReadChunked(r, m.cfg.CookieName); err == nil {
		token, err := m.signer.Verify(signed)
		if err == nil {
			sess, err := m.resolveByToken(ctx, w, token)
			return sess, nil, err
		}
	}

	if m.cfg.CookieCache != nil {
		if encoded, err := cookiejar.ReadChunked(r, m.cfg.CookieCacheName); err == nil {
			claims, err := m.cfg.CookieCache.Decode(encoded)
			if err == nil {
				if version, _ := claims["version"].(string); version == m.cfg.CookieCacheVersion {
					sess, user := sessionAndUserFromClaims(claims)
					updatedAt, _ := claims["updatedAt"].(float64)
					fresh := m.cfg.CookieCacheMaxAge <= 0 ||
						m.now().Before(time.Unix(int64(updatedAt), 0).Add(m.cfg.CookieCacheMaxAge))
					if fresh && m.now().Before(sess.ExpiresAt) {
						return sess, &user, nil
					}
				}
			}
		}
	}

	return storage.Session{}, nil, storage.ErrNotFound
}

// sessionAndUserFromClaims recovers the session and user snapshot from
// a decoded cookie-cache payload. Session fields are read as plain
// scalars rather than via storage.SessionFromRecord, since the cache
// payload has already round-tripped through JSON and a time.Time field
// would come back as a string, not the time.Time that helper expects.
func sessionAndUserFromClaims(claims map[string]any) (storage.Session, storage.User) {
	sessionClaims, _ := claims["session"].(map[string]any)
	userClaims, _ := claims["user"].(map[string]any)

	expUnix, _ := sessionClaims["exp"].(float64)
	sess := storage.Session{
		ID:        claimStr(sessionClaims["sid"]),
		UserID:    claimStr(sessionClaims["userId"]),
		ExpiresAt: time.Unix(int64(expUnix), 0),
	}
	user := storage.User{
		ID:            claimStr(userClaims["id"]),
		Email:         claimStr(userClaims["email"]),
		EmailVerified: claimBool(userClaims["emailVerified"]),
		Name:          claimStr(userClaims["name"]),
		Image:         claimStr(userClaims["image"]),
	}
	return sess, user
}

func claimStr(v any) string {
	s, _ := v.(string)
	return s
}

func claimBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func (m *Manager) resolveByToken(ctx context.Context, w http.ResponseWriter, token string) (storage.Session, error) {
	var rec storage.Record
	if m.cache != nil {
		if err := m.cache.Get(ctx, cacheNamespace, token, &rec); err == nil {
			sess := storage.SessionFromRecord(normalizeCached(rec))
			if m.now().Before(sess.ExpiresAt) {
				return sess, nil
			}
		}
	}

	found, err := m.store.FindOne(ctx, storage.ModelSession, []storage.Where{storage.Eq("token", token)}, nil)
	if err != nil {
		return storage.Session{}, err
	}
	sess := storage.SessionFromRecord(found)
	now := m.now()
	if now.After(sess.ExpiresAt) {
		_ = m.Delete(ctx, sess.Token)
		return storage.Session{}, storage.ErrNotFound
	}

	if now.Sub(sess.CreatedAt) > m.cfg.UpdateAge {
		sess.CreatedAt = now
		sess.UpdatedAt = now
		sess.ExpiresAt = now.Add(m.cfg.ExpiresIn)
		updated, err := m.store.Update(ctx, storage.ModelSession,
			[]storage.Where{storage.Eq("id", sess.ID)},
			storage.Record{"createdAt": sess.CreatedAt, "updatedAt": sess.UpdatedAt, "expiresAt": sess.ExpiresAt})
		if err == nil {
			sess = storage.SessionFromRecord(updated)
			if m.cache != nil {
				_ = m.cache.Set(ctx, cacheNamespace, sess.Token, updated, m.cfg.ExpiresIn)
			}
			if w != nil {
				m.writeCookies(w, sess, m.userSnapshot(ctx, sess.UserID))
			}
		}
	}
	return sess, nil
}

// normalizeCached is a no-op placeholder for cache-specific decoding;
// kept distinct from storage.Record so a future cache encoding change
// (e.g. compressing the blob) has one seam to change.
func normalizeCached(rec storage.Record) storage.Record { return rec }

// Delete revokes a single session by token (sign-out).
func (m *Manager) Delete(ctx context.Context, token string) error {
	if m.cache != nil {
		_ = m.cache.Delete(ctx, cacheNamespace, token)
	}
	return m.store.Delete(ctx, storage.ModelSession, []storage.Where{storage.Eq("token", token)})
}

// DeleteAllForUser revokes every session belonging to userID (account
// deletion, or an explicit "sign out everywhere").
func (m *Manager) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return m.store.DeleteMany(ctx, storage.ModelSession, []storage.Where{storage.Eq("userId", userID)})
}

// ClearCookies removes every cookie this package may have written, used
// on sign-out regardless of whether the session lookup itself succeeds.
func (m *Manager) ClearCookies(w http.ResponseWriter) {
	cookiejar.ClearChunked(w, m.cfg.CookieName, m.cfg.cookieOpts())
	if m.cfg.CookieCache != nil {
		cookiejar.ClearChunked(w, m.cfg.CookieCacheName, m.cfg.cookieOpts())
	}
}
