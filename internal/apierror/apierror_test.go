package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("loading user: %w", NotFound("USER_NOT_FOUND", "no such user"))
	aerr := As(wrapped)
	if aerr.Code != "USER_NOT_FOUND" {
		t.Errorf("As: code = %q, want USER_NOT_FOUND", aerr.Code)
	}

	generic := As(errors.New("boom"))
	if generic.Kind != KindInternalServerError {
		t.Errorf("As on non-Error: kind = %v, want KindInternalServerError", generic.Kind)
	}
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"bad request", BadRequest("INVALID_INPUT", "bad"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("NO_SESSION", "nope"), http.StatusUnauthorized},
		{"too many requests", TooManyRequests("RATE_LIMITED", "slow down"), http.StatusTooManyRequests},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.err)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body jsonBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("response not valid JSON: %v", err)
			}
		})
	}
}

func TestWriteTokenErrorSetsWWWAuthenticate(t *testing.T) {
	w := httptest.NewRecorder()
	WriteTokenError(w, Unauthorized("INVALID_CLIENT", "bad secret"), "xyz")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") != "Basic" {
		t.Errorf("WWW-Authenticate header missing on invalid_client")
	}

	var body oauthBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not valid JSON: %v", err)
	}
	if body.Error != "invalid_client" {
		t.Errorf("error = %q, want invalid_client", body.Error)
	}
	if body.State != "xyz" {
		t.Errorf("state = %q, want xyz", body.State)
	}
}

func TestRedirectAuthError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/authorize", nil)
	redirectURL, _ := url.Parse("https://client.example.com/callback")

	RedirectAuthError(w, r, Forbidden("ACCESS_DENIED", "nope"), "state-1", *redirectURL)

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location not a valid URL: %v", err)
	}
	if got := loc.Query().Get("error"); got != "access_denied" {
		t.Errorf("error query param = %q, want access_denied", got)
	}
	if got := loc.Query().Get("state"); got != "state-1" {
		t.Errorf("state query param = %q, want state-1", got)
	}
}
