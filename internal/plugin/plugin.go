// Package plugin defines the extension contract §4.9 describes: flat
// registries for endpoints, before/after hooks, rate-limit rules, error
// codes, and schema fields, composed once when the engine starts up.
// Dex has no plugin system of its own; the shape here is grounded on
// how dex's own server wires a fixed handler set onto *mux.Router,
// generalized so a Plugin contributes the same pieces instead of them
// being hard-coded in one file.
package plugin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/better-auth/authd/storage"
)

// Context carries what every handler, before-hook, and after-hook needs:
// the request-scoped logger, the store, the plugin registry itself (so
// a handler can look up another plugin's contributed schema, say), and
// the resolved session, if any.
type Context struct {
	context.Context
	W       http.ResponseWriter
	R       *http.Request
	Logger  *slog.Logger
	Store   storage.Store
	Plugins *Registry
	Session *storage.Session
	// CachedUser is the user snapshot carried in the session-data cookie
	// cache, set only when Session was resolved from that cache rather
	// than a database hit. A handler that trusts it can skip its own
	// ModelUser lookup for read-only endpoints (§4.3).
	CachedUser *storage.User

	vars map[string]string
	// data is a small per-request bag a before-hook can populate for a
	// later hook or the handler to read back.
	data map[string]any
}

// NewContext constructs a Context. Dispatch is the only expected
// caller; exported so a plugin's tests can build one directly.
func NewContext(ctx context.Context, w http.ResponseWriter, r *http.Request, logger *slog.Logger, store storage.Store, plugins *Registry, vars map[string]string) *Context {
	return &Context{Context: ctx, W: w, R: r, Logger: logger, Store: store, Plugins: plugins, vars: vars, data: make(map[string]any)}
}

func (c *Context) Var(name string) string   { return c.vars[name] }
func (c *Context) Set(key string, v any)    { c.data[key] = v }
func (c *Context) Get(key string) (any, bool) { v, ok := c.data[key]; return v, ok }

// HandlerFunc is the signature every endpoint handler, and every
// before/after hook, implements.
type HandlerFunc func(c *Context) error

// Middleware wraps a HandlerFunc.
type Middleware func(HandlerFunc) HandlerFunc

// Endpoint is one routable operation a plugin contributes.
type Endpoint struct {
	Method      string
	Path        string
	Handler     HandlerFunc
	Middlewares []Middleware
}

// Hook is a before/after hook a plugin attaches to one or more paths.
// An empty Paths matches every request.
type Hook struct {
	Paths   []string
	Handler HandlerFunc
}

func (h Hook) appliesTo(path string) bool {
	if len(h.Paths) == 0 {
		return true
	}
	for _, p := range h.Paths {
		if p == path {
			return true
		}
	}
	return false
}

// RateLimitRule names a limiter rule a plugin wants enforced; the
// ratelimit package's Rule carries the actual Max/Window.
type RateLimitRule struct {
	Key    string
	Max    int
	WindowSeconds int
}

// ErrorCode documents one stable error code a plugin's handlers may
// return, so the schema/openapi layer and client SDKs can enumerate the
// full set up front.
type ErrorCode struct {
	Code        string
	Description string
}

// SchemaField is a plugin-contributed field on an existing model (e.g.
// two-factor's "twoFactorEnabled" on user), resolved by internal/schema
// when building migrations.
type SchemaField struct {
	Model string
	Name  string
	Field any // internal/schema.Field, kept as any to avoid an import cycle
}

// Plugin is the extension point: any package that wants to contribute
// endpoints, hooks, rate limits, error codes, or schema fields to the
// engine implements this.
type Plugin interface {
	Name() string
	Endpoints() []Endpoint
	BeforeHooks() []Hook
	AfterHooks() []Hook
	RateLimitRules() []RateLimitRule
	ErrorCodes() []ErrorCode
	SchemaFields() []SchemaField
}

// Registry is the flat, composed-once result of merging every
// registered Plugin's contributions, built once at engine.New and
// treated as read-only afterward.
type Registry struct {
	plugins        []Plugin
	endpoints      []Endpoint
	beforeHooks    []Hook
	afterHooks     []Hook
	rateLimitRules []RateLimitRule
	errorCodes     []ErrorCode
	schemaFields   []SchemaField
}

// NewRegistry composes plugins, in order, into a single Registry.
// Endpoints keep plugin order; on a path/method collision both are kept,
// and since the dispatcher registers them in that order on a router where
// the first matching route wins, the earlier plugin's endpoint is served.
func NewRegistry(plugins ...Plugin) *Registry {
	reg := &Registry{plugins: plugins}
	for _, p := range plugins {
		reg.endpoints = append(reg.endpoints, p.Endpoints()...)
		reg.beforeHooks = append(reg.beforeHooks, p.BeforeHooks()...)
		reg.afterHooks = append(reg.afterHooks, p.AfterHooks()...)
		reg.rateLimitRules = append(reg.rateLimitRules, p.RateLimitRules()...)
		reg.errorCodes = append(reg.errorCodes, p.ErrorCodes()...)
		reg.schemaFields = append(reg.schemaFields, p.SchemaFields()...)
	}
	return reg
}

func (r *Registry) Endpoints() []Endpoint             { return r.endpoints }
func (r *Registry) RateLimitRules() []RateLimitRule   { return r.rateLimitRules }
func (r *Registry) ErrorCodes() []ErrorCode           { return r.errorCodes }
func (r *Registry) SchemaFields() []SchemaField       { return r.schemaFields }

// Wrap composes h with every before-hook that applies to path, then h,
// then every after-hook that applies to path. Before-hooks run in
// registration order and short-circuit on error; after-hooks run only
// once h itself (and any before-hook) succeeded.
func (r *Registry) Wrap(path string, h HandlerFunc) HandlerFunc {
	return func(c *Context) error {
		for _, hook := range r.beforeHooks {
			if hook.appliesTo(path) {
				if err := hook.Handler(c); err != nil {
					return err
				}
			}
		}
		if err := h(c); err != nil {
			return err
		}
		for _, hook := range r.afterHooks {
			if hook.appliesTo(path) {
				if err := hook.Handler(c); err != nil {
					return err
				}
			}
		}
		return nil
	}
}
