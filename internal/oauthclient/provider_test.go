package oauthclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func newGenericProvider(t *testing.T, tokenURL, userInfoURL string) *Provider {
	t.Helper()
	p, err := New(context.Background(), Config{
		ID:               "generic",
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		RedirectURI:      "https://authd.example.com/callback",
		Scopes:           []string{"openid", "email"},
		AuthorizationURL: "https://provider.example.com/authorize",
		TokenURL:         tokenURL,
		UserInfoURL:      userInfoURL,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewRequiresIssuerOrExplicitURLs(t *testing.T) {
	_, err := New(context.Background(), Config{ID: "bad", ClientID: "x"}, nil)
	if err == nil {
		t.Fatalf("New with no issuer/authorization+token URL: want error")
	}
}

func TestCreateAuthorizationURL(t *testing.T) {
	p := newGenericProvider(t, "https://provider.example.com/token", "https://provider.example.com/userinfo")

	url := p.CreateAuthorizationURL("state-123", nil)
	if !strings.Contains(url, "state=state-123") {
		t.Errorf("authorization URL missing state: %s", url)
	}
	if !strings.Contains(url, "client_id=client-id") {
		t.Errorf("authorization URL missing client_id: %s", url)
	}

	pkce, err := NewPKCE()
	if err != nil {
		t.Fatalf("NewPKCE: %v", err)
	}
	urlWithPKCE := p.CreateAuthorizationURL("state-123", &pkce)
	if !strings.Contains(urlWithPKCE, "code_challenge="+pkce.Challenge) {
		t.Errorf("authorization URL missing code_challenge: %s", urlWithPKCE)
	}
	if !strings.Contains(urlWithPKCE, "code_challenge_method=S256") {
		t.Errorf("authorization URL missing code_challenge_method: %s", urlWithPKCE)
	}
}

func TestNewPKCEVerifierMatchesChallenge(t *testing.T) {
	pkce, err := NewPKCE()
	if err != nil {
		t.Fatalf("NewPKCE: %v", err)
	}
	if pkce.Verifier == "" || pkce.Challenge == "" {
		t.Fatalf("NewPKCE: empty verifier or challenge")
	}
	again, err := NewPKCE()
	if err != nil {
		t.Fatalf("NewPKCE: %v", err)
	}
	if pkce.Verifier == again.Verifier {
		t.Errorf("NewPKCE: two calls produced the same verifier")
	}
}

func TestValidateAuthorizationCodeGenericProvider(t *testing.T) {
	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "user-42",
			"email": "ada@example.com",
			"name":  "Ada",
		})
	}))
	defer userInfoServer.Close()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-token-abc",
			"token_type":   "Bearer",
		})
	}))
	defer tokenServer.Close()

	p := newGenericProvider(t, tokenServer.URL, userInfoServer.URL)

	token, info, err := p.ValidateAuthorizationCode(context.Background(), "auth-code", nil)
	if err != nil {
		t.Fatalf("ValidateAuthorizationCode: %v", err)
	}
	if token.AccessToken != "access-token-abc" {
		t.Errorf("token.AccessToken = %q, want access-token-abc", token.AccessToken)
	}
	if info.ProviderUserID != "user-42" {
		t.Errorf("info.ProviderUserID = %q, want user-42", info.ProviderUserID)
	}
	if info.Email != "ada@example.com" {
		t.Errorf("info.Email = %q, want ada@example.com", info.Email)
	}
}

func TestGetGenericUserInfoMissingIDField(t *testing.T) {
	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"email": "ada@example.com"})
	}))
	defer userInfoServer.Close()

	p := newGenericProvider(t, "https://unused.example.com/token", userInfoServer.URL)

	_, err := p.getGenericUserInfo(context.Background(), &oauth2.Token{AccessToken: "access-token"})
	if err == nil {
		t.Errorf("getGenericUserInfo with no id field: want error")
	}
}

func TestStringFieldPrefersFirstPresentKey(t *testing.T) {
	m := map[string]any{"user_name": "ada", "name": "Ada Lovelace"}
	if got := stringField(m, "name", "user_name"); got != "Ada Lovelace" {
		t.Errorf("stringField = %q, want Ada Lovelace", got)
	}
	if got := stringField(m, "missing", "user_name"); got != "ada" {
		t.Errorf("stringField fallback = %q, want ada", got)
	}
	if got := stringField(m, "nope"); got != "" {
		t.Errorf("stringField with no match = %q, want empty", got)
	}
}
