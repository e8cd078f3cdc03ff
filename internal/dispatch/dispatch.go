// Package dispatch is the request pipeline (§4.1): a mux.Router-backed
// Dispatcher that composes the core endpoints with every registered
// plugin's endpoints, applying the before/after hook chain (see
// internal/plugin) around each one — grounded on dex's server package,
// which wires gorilla/mux directly and threads context/logger/storage
// through handler methods on *Server rather than a framework-provided
// context object.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/better-auth/authd/internal/apierror"
	"github.com/better-auth/authd/internal/plugin"
	"github.com/better-auth/authd/storage"
)

// requestContextKey namespaces the values adapt stamps onto each
// request's context, so a logging handler further down the chain (see
// cmd/authd/logger.go's requestContextHandler) can pull them back out
// without this package and the logging setup needing to agree on
// anything but these two keys.
type requestContextKey string

const (
	RequestKeyRemoteIP  requestContextKey = "remote_ip"
	RequestKeyRequestID requestContextKey = "request_id"
)

// Context is the plugin package's request context; re-exported here so
// dispatch callers don't need a second import for the common case.
type Context = plugin.Context

// HandlerFunc is the signature every endpoint handler implements.
type HandlerFunc = plugin.HandlerFunc

// Middleware wraps a HandlerFunc.
type Middleware = plugin.Middleware

// Endpoint is one routable operation.
type Endpoint = plugin.Endpoint

// Dispatcher is the top-level router, composed once at startup from the
// core endpoints plus every plugin's registered endpoints.
type Dispatcher struct {
	router  *mux.Router
	store   storage.Store
	plugins *plugin.Registry
	logger  *slog.Logger
}

// New returns a Dispatcher with every endpoint in the registry
// registered, wrapped with the registry's before/after hooks and then
// global. Register lets the caller add endpoints the registry itself
// doesn't own (e.g. a healthz probe).
func New(store storage.Store, plugins *plugin.Registry, logger *slog.Logger, global ...Middleware) *Dispatcher {
	d := &Dispatcher{router: mux.NewRouter(), store: store, plugins: plugins, logger: logger}
	for _, ep := range plugins.Endpoints() {
		d.Register(ep, global...)
	}
	return d
}

// Register adds a single endpoint: its own middleware chain, the
// registry's before/after hooks for its path, then the dispatcher-global
// middlewares, innermost first.
func (d *Dispatcher) Register(ep Endpoint, global ...Middleware) {
	h := ep.Handler
	for i := len(ep.Middlewares) - 1; i >= 0; i-- {
		h = ep.Middlewares[i](h)
	}
	h = d.plugins.Wrap(ep.Path, h)
	for i := len(global) - 1; i >= 0; i-- {
		h = global[i](h)
	}
	d.router.HandleFunc(ep.Path, d.adapt(h)).Methods(ep.Method)
}

func (d *Dispatcher) adapt(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), RequestKeyRemoteIP, r.RemoteAddr)
		ctx = context.WithValue(ctx, RequestKeyRequestID, storage.NewID())
		c := plugin.NewContext(ctx, w, r, d.logger, d.store, d.plugins, mux.Vars(r))
		if err := h(c); err != nil {
			apierror.WriteJSON(w, err)
		}
	}
}

// ServeHTTP makes Dispatcher usable directly with http.ListenAndServe.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.router.ServeHTTP(w, r)
}
