package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/better-auth/authd/internal/session"
	"github.com/better-auth/authd/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Session: session.Config{
			ExpiresIn:  time.Hour,
			UpdateAge:  30 * time.Minute,
			CookieName: "authd.session",
		},
		CookieSignKey: []byte("cookie-signing-key"),
		TokenSignKey:  []byte("token-signing-key-0123456789ab"),
		Logger:        discardLogger(),
	}
}

func TestNewWiresUpAllCoreEndpoints(t *testing.T) {
	e, err := New(context.Background(), memory.New(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Core == nil {
		t.Fatalf("New: Core not wired")
	}
	if e.Provider != nil {
		t.Errorf("New without EnableProvider: want Provider == nil")
	}

	body, _ := json.Marshal(map[string]string{"email": "ada@example.com", "password": "correct-password"})
	r := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /sign-up/email status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestNewWithEnableProviderWiresOAuthEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.EnableProvider = true
	cfg.Provider.Issuer = "https://authd.example.com"
	e, err := New(context.Background(), memory.New(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Provider == nil {
		t.Fatalf("New with EnableProvider: want Provider wired")
	}

	r := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /.well-known/openid-configuration status = %d", w.Code)
	}
}

func TestRateLimitMiddlewareBlocksOverLimitRequests(t *testing.T) {
	cfg := testConfig()
	e, err := New(context.Background(), memory.New(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var lastCode int
	for i := 0; i < 25; i++ {
		body, _ := json.Marshal(map[string]string{"email": "nobody@example.com", "password": "wrong-password"})
		r := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(body))
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)
		lastCode = w.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Errorf("after exceeding sign_up_email's rate limit: last status = %d, want 429", lastCode)
	}
}

func TestRuleKeyForPath(t *testing.T) {
	cases := map[string]string{
		"/sign-in/email":  "sign_in_email",
		"/oauth2/token":   "oauth2_token",
		"/two-factor/enable": "two_factor_enable",
	}
	for path, want := range cases {
		if got := ruleKeyForPath(path); got != want {
			t.Errorf("ruleKeyForPath(%q) = %q, want %q", path, got, want)
		}
	}
}
