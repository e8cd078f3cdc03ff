package dispatch

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubPlugin struct {
	endpoints []plugin.Endpoint
}

func (p stubPlugin) Name() string                          { return "stub" }
func (p stubPlugin) Endpoints() []plugin.Endpoint           { return p.endpoints }
func (p stubPlugin) BeforeHooks() []plugin.Hook             { return nil }
func (p stubPlugin) AfterHooks() []plugin.Hook              { return nil }
func (p stubPlugin) RateLimitRules() []plugin.RateLimitRule { return nil }
func (p stubPlugin) ErrorCodes() []plugin.ErrorCode         { return nil }
func (p stubPlugin) SchemaFields() []plugin.SchemaField     { return nil }

func TestDispatcherRoutesToRegisteredEndpoint(t *testing.T) {
	ep := plugin.Endpoint{
		Method: http.MethodGet,
		Path:   "/greet/{name}",
		Handler: func(c *plugin.Context) error {
			c.W.Write([]byte("hello " + c.Var("name")))
			return nil
		},
	}
	reg := plugin.NewRegistry(stubPlugin{endpoints: []plugin.Endpoint{ep}})
	d := New(memory.New(), reg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/greet/ada", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "hello ada" {
		t.Errorf("body = %q, want %q", w.Body.String(), "hello ada")
	}
}

func TestDispatcherWritesErrorAsJSON(t *testing.T) {
	ep := plugin.Endpoint{
		Method: http.MethodGet,
		Path:   "/fail",
		Handler: func(c *plugin.Context) error {
			return apierror.NotFound("NOT_FOUND", "nope")
		},
	}
	reg := plugin.NewRegistry(stubPlugin{endpoints: []plugin.Endpoint{ep}})
	d := New(memory.New(), reg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestDispatcherGlobalMiddlewareWrapsEveryEndpoint(t *testing.T) {
	var called bool
	global := func(next plugin.HandlerFunc) plugin.HandlerFunc {
		return func(c *plugin.Context) error {
			called = true
			return next(c)
		}
	}
	ep := plugin.Endpoint{
		Method:  http.MethodGet,
		Path:    "/ping",
		Handler: func(c *plugin.Context) error { return nil },
	}
	reg := plugin.NewRegistry(stubPlugin{endpoints: []plugin.Endpoint{ep}})
	d := New(memory.New(), reg, discardLogger(), global)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	d.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Errorf("global middleware was not invoked")
	}
}

func TestAdaptStampsRemoteIPAndRequestID(t *testing.T) {
	var gotIP, gotID any
	ep := plugin.Endpoint{
		Method: http.MethodGet,
		Path:   "/stamped",
		Handler: func(c *plugin.Context) error {
			gotIP = c.Context.Value(RequestKeyRemoteIP)
			gotID = c.Context.Value(RequestKeyRequestID)
			return nil
		},
	}
	reg := plugin.NewRegistry(stubPlugin{endpoints: []plugin.Endpoint{ep}})
	d := New(memory.New(), reg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/stamped", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	d.ServeHTTP(httptest.NewRecorder(), req)

	if gotIP != "10.0.0.5:1234" {
		t.Errorf("remote ip = %v, want 10.0.0.5:1234", gotIP)
	}
	if gotID == nil || gotID.(string) == "" {
		t.Errorf("request id not stamped")
	}
}

func TestRegisterMethodMismatchNotRouted(t *testing.T) {
	ep := plugin.Endpoint{
		Method:  http.MethodPost,
		Path:    "/only-post",
		Handler: func(c *plugin.Context) error { return errors.New("should not run") },
	}
	reg := plugin.NewRegistry(stubPlugin{endpoints: []plugin.Endpoint{ep}})
	d := New(memory.New(), reg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/only-post", nil)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 or 405", w.Code)
	}
}
