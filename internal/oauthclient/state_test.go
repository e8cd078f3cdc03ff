package oauthclient

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/better-auth/authd/internal/cookiejar"
)

func TestBeginAuthorizationAndVerifyState(t *testing.T) {
	p := newGenericProvider(t, "https://unused.example.com/token", "https://unused.example.com/userinfo")
	signer := cookiejar.NewSigner([]byte("oauth-state-signing-key"))

	w := httptest.NewRecorder()
	params := BeginParams{CallbackURL: "https://app.example.com/home", ErrorURL: "https://app.example.com/error", NewUserURL: "https://app.example.com/welcome", RequestSignUp: true, LinkUserID: "user-1"}
	redirectURL, err := BeginAuthorization(w, signer, p, true, false, params)
	if err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}
	if !strings.Contains(redirectURL, "client_id=client-id") {
		t.Errorf("redirect URL missing client_id: %s", redirectURL)
	}

	parsed, err := parseQueryParam(redirectURL, "state")
	if err != nil {
		t.Fatalf("parsing redirect URL: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/callback", nil)
	for _, c := range w.Result().Cookies() {
		r.AddCookie(c)
	}

	data, err := VerifyState(r, signer, parsed)
	if err != nil {
		t.Fatalf("VerifyState: %v", err)
	}
	if data.Verifier == "" {
		t.Errorf("VerifyState: empty PKCE verifier, want the one BeginAuthorization generated")
	}
	if data.CallbackURL != params.CallbackURL || data.ErrorURL != params.ErrorURL || data.NewUserURL != params.NewUserURL {
		t.Errorf("VerifyState: tuple = %+v, want the params BeginAuthorization stored", data)
	}
	if !data.RequestSignUp {
		t.Errorf("VerifyState: RequestSignUp = false, want true")
	}
	if data.LinkUserID != "user-1" {
		t.Errorf("VerifyState: LinkUserID = %q, want user-1", data.LinkUserID)
	}
}

func TestVerifyStateRejectsMismatchedState(t *testing.T) {
	p := newGenericProvider(t, "https://unused.example.com/token", "https://unused.example.com/userinfo")
	signer := cookiejar.NewSigner([]byte("oauth-state-signing-key"))

	w := httptest.NewRecorder()
	if _, err := BeginAuthorization(w, signer, p, false, false, BeginParams{}); err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/callback", nil)
	for _, c := range w.Result().Cookies() {
		r.AddCookie(c)
	}

	if _, err := VerifyState(r, signer, "not-the-real-state"); err == nil {
		t.Errorf("VerifyState with mismatched state: want error")
	}
}

func TestVerifyStateMissingCookie(t *testing.T) {
	signer := cookiejar.NewSigner([]byte("oauth-state-signing-key"))
	r := httptest.NewRequest(http.MethodGet, "/callback", nil)
	if _, err := VerifyState(r, signer, "state"); err == nil {
		t.Errorf("VerifyState with no cookie: want error")
	}
}

func TestClearStateCookiesExpires(t *testing.T) {
	w := httptest.NewRecorder()
	ClearStateCookies(w)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("ClearStateCookies: wrote %d cookies, want 1", len(cookies))
	}
	if cookies[0].MaxAge >= 0 {
		t.Errorf("cookie %q: MaxAge = %d, want negative", cookies[0].Name, cookies[0].MaxAge)
	}
}

func parseQueryParam(rawURL, key string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Query().Get(key), nil
}
