package authcore

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

	"github.com/better-auth/authd/internal/cookiejar"
	"github.com/better-auth/authd/internal/credentials"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/internal/session"
	"github.com/better-auth/authd/internal/twofactor"
	"github.com/better-auth/authd/storage"
	"github.com/better-auth/authd/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCore(t *testing.T, cfg Config) (*Core, storage.Store, func() time.Time) {
	t.Helper()
	store := memory.New()
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	hasher := credentials.BcryptHasher{Cost: 4}
	creds := credentials.NewManager(store, hasher, credentials.Complexity{Level: credentials.LevelNone}, now)
	tokens := credentials.NewTokenSigner([]byte("test-token-signing-key-0123456789"), now)
	tf := twofactor.NewManager(store, "authd-test", nil, now)
	trustDevice := twofactor.NewTrustDeviceSigner([]byte("trust-device-key"))
	cookieSigner := cookiejar.NewSigner([]byte("cookie-signing-key"))
	sessions := session.New(store, session.Config{
		ExpiresIn:  time.Hour,
		UpdateAge:  30 * time.Minute,
		CookieName: "authd.session",
	}, cookieSigner, nil, now)

	core := New(store, sessions, creds, hasher, tokens, tf, trustDevice, cookieSigner, nil, cfg, now, discardLogger())
	return core, store, now
}

func newCtx(r *http.Request, w http.ResponseWriter, store storage.Store, vars map[string]string, session *storage.Session) *plugin.Context {
	c := plugin.NewContext(r.Context(), w, r, discardLogger(), store, nil, vars)
	c.Session = session
	return c
}

func TestHandleSignUpEmailAutoSignsInAndReturnsToken(t *testing.T) {
	core, store, _ := newTestCore(t, Config{AutoSignIn: true})

	body, _ := json.Marshal(signUpEmailRequest{Email: "ada@example.com", Password: "correct-password", Name: "Ada"})
	r := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(body))
	w := httptest.NewRecorder()
	c := newCtx(r, w, store, nil, nil)

	if err := core.handleSignUpEmail(c); err != nil {
		t.Fatalf("handleSignUpEmail: %v", err)
	}
	var resp signUpEmailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Token == nil || *resp.Token == "" {
		t.Errorf("expected an issued session token, got %+v", resp)
	}
	if resp.User.Email != "ada@example.com" {
		t.Errorf("user.email = %q, want ada@example.com", resp.User.Email)
	}
}

func TestHandleSignUpEmailRejectsDuplicateEmail(t *testing.T) {
	core, store, _ := newTestCore(t, Config{})
	body, _ := json.Marshal(signUpEmailRequest{Email: "ada@example.com", Password: "correct-password"})

	r1 := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(body))
	if err := core.handleSignUpEmail(newCtx(r1, httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("first sign-up: %v", err)
	}

	r2 := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(body))
	err := core.handleSignUpEmail(newCtx(r2, httptest.NewRecorder(), store, nil, nil))
	if err == nil {
		t.Errorf("sign-up with duplicate email: want error")
	}
}

func TestHandleSignInEmailWrongPassword(t *testing.T) {
	core, store, _ := newTestCore(t, Config{AutoSignIn: true})
	signUpBody, _ := json.Marshal(signUpEmailRequest{Email: "ada@example.com", Password: "correct-password"})
	r1 := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(signUpBody))
	if err := core.handleSignUpEmail(newCtx(r1, httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("sign-up: %v", err)
	}

	signInBody, _ := json.Marshal(signInEmailRequest{Email: "ada@example.com", Password: "wrong-password"})
	r2 := httptest.NewRequest(http.MethodPost, "/sign-in/email", bytes.NewReader(signInBody))
	err := core.handleSignInEmail(newCtx(r2, httptest.NewRecorder(), store, nil, nil))
	if err == nil {
		t.Errorf("sign-in with wrong password: want error")
	}
}

func TestHandleSignInEmailSucceedsWithoutTwoFactor(t *testing.T) {
	core, store, _ := newTestCore(t, Config{AutoSignIn: true})
	signUpBody, _ := json.Marshal(signUpEmailRequest{Email: "ada@example.com", Password: "correct-password"})
	r1 := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(signUpBody))
	if err := core.handleSignUpEmail(newCtx(r1, httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("sign-up: %v", err)
	}

	signInBody, _ := json.Marshal(signInEmailRequest{Email: "ada@example.com", Password: "correct-password"})
	r2 := httptest.NewRequest(http.MethodPost, "/sign-in/email", bytes.NewReader(signInBody))
	w2 := httptest.NewRecorder()
	if err := core.handleSignInEmail(newCtx(r2, w2, store, nil, nil)); err != nil {
		t.Fatalf("handleSignInEmail: %v", err)
	}
	var resp signInEmailResponse
	json.Unmarshal(w2.Body.Bytes(), &resp)
	if resp.Token == nil || *resp.Token == "" {
		t.Errorf("expected a session token, got %+v", resp)
	}
}

func TestHandleSignInEmailRedirectsToTwoFactorWhenEnabled(t *testing.T) {
	core, store, now := newTestCore(t, Config{AutoSignIn: true})
	signUpBody, _ := json.Marshal(signUpEmailRequest{Email: "ada@example.com", Password: "correct-password"})
	r1 := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(signUpBody))
	if err := core.handleSignUpEmail(newCtx(r1, httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	rec, err := store.FindOne(context.Background(), storage.ModelUser, []storage.Where{storage.Eq("email", "ada@example.com")}, nil)
	if err != nil {
		t.Fatalf("finding user: %v", err)
	}
	user := storage.UserFromRecord(rec)
	if _, err := store.Update(context.Background(), storage.ModelUser, []storage.Where{storage.Eq("id", user.ID)}, storage.Record{"twoFactorEnabled": true, "updatedAt": now()}); err != nil {
		t.Fatalf("enabling two-factor: %v", err)
	}

	signInBody, _ := json.Marshal(signInEmailRequest{Email: "ada@example.com", Password: "correct-password"})
	r2 := httptest.NewRequest(http.MethodPost, "/sign-in/email", bytes.NewReader(signInBody))
	w2 := httptest.NewRecorder()
	if err := core.handleSignInEmail(newCtx(r2, w2, store, nil, nil)); err != nil {
		t.Fatalf("handleSignInEmail: %v", err)
	}
	var resp signInEmailResponse
	json.Unmarshal(w2.Body.Bytes(), &resp)
	if !resp.TwoFactorRedirect {
		t.Errorf("expected twoFactorRedirect, got %+v", resp)
	}
	if resp.Token != nil {
		t.Errorf("expected no session token before completing two-factor, got %+v", resp)
	}
}

func TestHandleGetSessionRequiresSession(t *testing.T) {
	core, store, _ := newTestCore(t, Config{})
	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	err := core.handleGetSession(newCtx(r, httptest.NewRecorder(), store, nil, nil))
	if err == nil {
		t.Errorf("handleGetSession without a session: want error")
	}
}

func TestHandleGetSessionReturnsUser(t *testing.T) {
	core, store, _ := newTestCore(t, Config{})
	user := storage.User{ID: storage.NewID(), Email: "ada@example.com"}
	if _, err := store.Create(context.Background(), storage.ModelUser, user.ToRecord()); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	sess := &storage.Session{ID: storage.NewID(), Token: "tok", UserID: user.ID}

	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	w := httptest.NewRecorder()
	if err := core.handleGetSession(newCtx(r, w, store, nil, sess)); err != nil {
		t.Fatalf("handleGetSession: %v", err)
	}
	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.User.Email != "ada@example.com" {
		t.Errorf("user.email = %q, want ada@example.com", resp.User.Email)
	}
}

func TestHandleGetSessionTrustsCachedUserWithoutStoreLookup(t *testing.T) {
	core, store, _ := newTestCore(t, Config{})
	sess := &storage.Session{ID: storage.NewID(), Token: "tok", UserID: "deleted-user"}

	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	w := httptest.NewRecorder()
	ctx := newCtx(r, w, store, nil, sess)
	ctx.CachedUser = &storage.User{ID: "deleted-user", Email: "cached@example.com"}

	if err := core.handleGetSession(ctx); err != nil {
		t.Fatalf("handleGetSession: %v", err)
	}
	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.User.Email != "cached@example.com" {
		t.Errorf("user.email = %q, want cached@example.com (no store lookup expected)", resp.User.Email)
	}
}

func TestHandleChangePasswordRequiresCurrentPassword(t *testing.T) {
	core, store, _ := newTestCore(t, Config{AutoSignIn: true})
	signUpBody, _ := json.Marshal(signUpEmailRequest{Email: "ada@example.com", Password: "correct-password"})
	r1 := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(signUpBody))
	if err := core.handleSignUpEmail(newCtx(r1, httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	rec, _ := store.FindOne(context.Background(), storage.ModelUser, []storage.Where{storage.Eq("email", "ada@example.com")}, nil)
	user := storage.UserFromRecord(rec)
	sess := &storage.Session{ID: storage.NewID(), Token: "tok", UserID: user.ID}

	body, _ := json.Marshal(changePasswordRequest{CurrentPassword: "wrong", NewPassword: "a-new-password"})
	r2 := httptest.NewRequest(http.MethodPost, "/change-password", bytes.NewReader(body))
	err := core.handleChangePassword(newCtx(r2, httptest.NewRecorder(), store, nil, sess))
	if err == nil {
		t.Errorf("handleChangePassword with wrong current password: want error")
	}
}

func TestHandleSignOutClearsSession(t *testing.T) {
	core, store, _ := newTestCore(t, Config{AutoSignIn: true})
	signUpBody, _ := json.Marshal(signUpEmailRequest{Email: "ada@example.com", Password: "correct-password"})
	r1 := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(signUpBody))
	w1 := httptest.NewRecorder()
	if err := core.handleSignUpEmail(newCtx(r1, w1, store, nil, nil)); err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	var signUpResp signUpEmailResponse
	json.Unmarshal(w1.Body.Bytes(), &signUpResp)

	sess := &storage.Session{Token: *signUpResp.Token}
	r2 := httptest.NewRequest(http.MethodPost, "/sign-out", nil)
	w2 := httptest.NewRecorder()
	if err := core.handleSignOut(newCtx(r2, w2, store, nil, sess)); err != nil {
		t.Fatalf("handleSignOut: %v", err)
	}

	if _, err := store.FindOne(context.Background(), storage.ModelSession, []storage.Where{storage.Eq("token", *signUpResp.Token)}, nil); err != storage.ErrNotFound {
		t.Errorf("session still exists after sign-out: err=%v", err)
	}
}

func TestTwoFactorEnableRequiresPasswordThenEnablesTOTP(t *testing.T) {
	core, store, _ := newTestCore(t, Config{AutoSignIn: true})
	signUpBody, _ := json.Marshal(signUpEmailRequest{Email: "ada@example.com", Password: "correct-password"})
	r1 := httptest.NewRequest(http.MethodPost, "/sign-up/email", bytes.NewReader(signUpBody))
	if err := core.handleSignUpEmail(newCtx(r1, httptest.NewRecorder(), store, nil, nil)); err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	rec, _ := store.FindOne(context.Background(), storage.ModelUser, []storage.Where{storage.Eq("email", "ada@example.com")}, nil)
	user := storage.UserFromRecord(rec)
	sess := &storage.Session{ID: storage.NewID(), Token: "tok", UserID: user.ID}

	wrongBody, _ := json.Marshal(twoFactorEnableRequest{Password: "wrong"})
	rWrong := httptest.NewRequest(http.MethodPost, "/two-factor/enable", bytes.NewReader(wrongBody))
	if err := core.handleTwoFactorEnable(newCtx(rWrong, httptest.NewRecorder(), store, nil, sess)); err == nil {
		t.Errorf("handleTwoFactorEnable with wrong password: want error")
	}

	body, _ := json.Marshal(twoFactorEnableRequest{Password: "correct-password"})
	r := httptest.NewRequest(http.MethodPost, "/two-factor/enable", bytes.NewReader(body))
	w := httptest.NewRecorder()
	if err := core.handleTwoFactorEnable(newCtx(r, w, store, nil, sess)); err != nil {
		t.Fatalf("handleTwoFactorEnable: %v", err)
	}
	var resp twoFactorEnableResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.TOTPURI == "" {
		t.Errorf("expected a totpURI in the response")
	}

	updated, _ := store.FindOne(context.Background(), storage.ModelUser, []storage.Where{storage.Eq("id", user.ID)}, nil)
	if !storage.UserFromRecord(updated).TwoFactorEnabled {
		t.Errorf("user.twoFactorEnabled not set after enabling two-factor")
	}
}
