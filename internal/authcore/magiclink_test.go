package authcore

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleSignInMagicLinkThenVerifyCreatesUser(t *testing.T) {
	notifier := &capturingNotifier{}
	core, store, _ := newTestCore(t, Config{Notifier: notifier})

	body, _ := json.Marshal(signInMagicLinkRequest{Email: "ada@example.com", Name: "Ada"})
	if err := core.handleSignInMagicLink(newCtx(httptest.NewRequest(http.MethodPost, "/sign-in/magic-link", bytes.NewReader(body)), httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("handleSignInMagicLink: %v", err)
	}
	if notifier.magicLinkURL == "" {
		t.Fatalf("expected a magic-link notification to be sent")
	}
	token := resetTokenFromURL(t, notifier.magicLinkURL)

	r := httptest.NewRequest(http.MethodGet, "/magic-link/verify?token="+token, nil)
	w := httptest.NewRecorder()
	if err := core.handleVerifyMagicLink(newCtx(r, w, store, nil, nil)); err != nil {
		t.Fatalf("handleVerifyMagicLink: %v", err)
	}
	var resp signInEmailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Token == nil || *resp.Token == "" {
		t.Errorf("expected a session token, got %+v", resp)
	}
	if resp.User == nil || resp.User.Email != "ada@example.com" || resp.User.Name != "Ada" {
		t.Errorf("user = %+v, want ada@example.com/Ada", resp.User)
	}
}

func TestHandleVerifyMagicLinkRejectsReplayedToken(t *testing.T) {
	notifier := &capturingNotifier{}
	core, store, _ := newTestCore(t, Config{Notifier: notifier})

	body, _ := json.Marshal(signInMagicLinkRequest{Email: "ada@example.com"})
	if err := core.handleSignInMagicLink(newCtx(httptest.NewRequest(http.MethodPost, "/sign-in/magic-link", bytes.NewReader(body)), httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("handleSignInMagicLink: %v", err)
	}
	token := resetTokenFromURL(t, notifier.magicLinkURL)

	r1 := httptest.NewRequest(http.MethodGet, "/magic-link/verify?token="+token, nil)
	if err := core.handleVerifyMagicLink(newCtx(r1, httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/magic-link/verify?token="+token, nil)
	if err := core.handleVerifyMagicLink(newCtx(r2, httptest.NewRecorder(), store, nil, nil)); err == nil {
		t.Errorf("replaying a consumed magic-link token: want error")
	}
}

func TestHandleVerifyMagicLinkRejectsSignUpWhenDisabled(t *testing.T) {
	notifier := &capturingNotifier{}
	core, store, _ := newTestCore(t, Config{Notifier: notifier, DisableSignUp: true})

	body, _ := json.Marshal(signInMagicLinkRequest{Email: "new@example.com"})
	if err := core.handleSignInMagicLink(newCtx(httptest.NewRequest(http.MethodPost, "/sign-in/magic-link", bytes.NewReader(body)), httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("handleSignInMagicLink: %v", err)
	}
	token := resetTokenFromURL(t, notifier.magicLinkURL)

	r := httptest.NewRequest(http.MethodGet, "/magic-link/verify?token="+token, nil)
	if err := core.handleVerifyMagicLink(newCtx(r, httptest.NewRecorder(), store, nil, nil)); err == nil {
		t.Errorf("verifying an unrecognized email with sign-up disabled: want error")
	}
}

func TestHandleVerifyMagicLinkRedirectsWhenCallbackURLGiven(t *testing.T) {
	notifier := &capturingNotifier{}
	core, store, _ := newTestCore(t, Config{Notifier: notifier})

	body, _ := json.Marshal(signInMagicLinkRequest{Email: "ada@example.com", CallbackURL: "https://app.example.com/dashboard"})
	if err := core.handleSignInMagicLink(newCtx(httptest.NewRequest(http.MethodPost, "/sign-in/magic-link", bytes.NewReader(body)), httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("handleSignInMagicLink: %v", err)
	}
	token := resetTokenFromURL(t, notifier.magicLinkURL)

	r := httptest.NewRequest(http.MethodGet, "/magic-link/verify?token="+token+"&callbackURL=https://app.example.com/dashboard", nil)
	w := httptest.NewRecorder()
	if err := core.handleVerifyMagicLink(newCtx(r, w, store, nil, nil)); err != nil {
		t.Fatalf("handleVerifyMagicLink: %v", err)
	}
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "https://app.example.com/dashboard" {
		t.Errorf("Location = %q, want https://app.example.com/dashboard", loc)
	}
}
