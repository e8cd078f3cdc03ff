package cookiejar

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteReadChunkedSmallValueUsesSingleCookie(t *testing.T) {
	w := httptest.NewRecorder()
	WriteChunked(w, "session", "small-value", nil)

	resp := w.Result()
	if len(resp.Cookies()) != 1 {
		t.Fatalf("WriteChunked: wrote %d cookies, want 1", len(resp.Cookies()))
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range resp.Cookies() {
		r.AddCookie(c)
	}
	got, err := ReadChunked(r, "session")
	if err != nil {
		t.Fatalf("ReadChunked: %v", err)
	}
	if got != "small-value" {
		t.Errorf("ReadChunked: got %q, want small-value", got)
	}
}

func TestWriteReadChunkedLargeValueSplitsAcrossCookies(t *testing.T) {
	value := strings.Repeat("x", maxChunkSize*3+500)

	w := httptest.NewRecorder()
	WriteChunked(w, "session", value, nil)

	resp := w.Result()
	if len(resp.Cookies()) < 5 {
		t.Fatalf("WriteChunked: wrote %d cookies, want at least 5 (4 chunks + count)", len(resp.Cookies()))
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range resp.Cookies() {
		r.AddCookie(c)
	}
	got, err := ReadChunked(r, "session")
	if err != nil {
		t.Fatalf("ReadChunked: %v", err)
	}
	if got != value {
		t.Errorf("ReadChunked: reassembled value does not match original (len %d vs %d)", len(got), len(value))
	}
}

func TestReadChunkedMissingCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := ReadChunked(r, "session"); err != http.ErrNoCookie {
		t.Errorf("ReadChunked on empty request: err = %v, want http.ErrNoCookie", err)
	}
}

func TestClearChunkedExpiresEveryCookie(t *testing.T) {
	w := httptest.NewRecorder()
	ClearChunked(w, "session", nil)

	resp := w.Result()
	if len(resp.Cookies()) == 0 {
		t.Fatalf("ClearChunked: wrote no cookies")
	}
	for _, c := range resp.Cookies() {
		if c.MaxAge >= 0 {
			t.Errorf("cookie %q: MaxAge = %d, want negative", c.Name, c.MaxAge)
		}
	}
}
