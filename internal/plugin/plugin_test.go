package plugin

import (
	"errors"
	"net/http/httptest"
	"testing"
)

type stubPlugin struct {
	name      string
	endpoints []Endpoint
	before    []Hook
	after     []Hook
}

func (p stubPlugin) Name() string                    { return p.name }
func (p stubPlugin) Endpoints() []Endpoint            { return p.endpoints }
func (p stubPlugin) BeforeHooks() []Hook              { return p.before }
func (p stubPlugin) AfterHooks() []Hook               { return p.after }
func (p stubPlugin) RateLimitRules() []RateLimitRule  { return nil }
func (p stubPlugin) ErrorCodes() []ErrorCode          { return nil }
func (p stubPlugin) SchemaFields() []SchemaField      { return nil }

func newTestContext() *Context {
	r := httptest.NewRequest("GET", "/x", nil)
	w := httptest.NewRecorder()
	return NewContext(r.Context(), w, r, nil, nil, nil, map[string]string{"id": "42"})
}

func TestContextVarsAndData(t *testing.T) {
	c := newTestContext()
	if c.Var("id") != "42" {
		t.Errorf("Var(id) = %q, want 42", c.Var("id"))
	}
	if c.Var("missing") != "" {
		t.Errorf("Var(missing) = %q, want empty", c.Var("missing"))
	}

	if _, ok := c.Get("key"); ok {
		t.Errorf("Get on unset key: ok = true, want false")
	}
	c.Set("key", "value")
	got, ok := c.Get("key")
	if !ok || got != "value" {
		t.Errorf("Get(key) = %v, %v; want value, true", got, ok)
	}
}

func TestNewRegistryComposesAllPlugins(t *testing.T) {
	p1 := stubPlugin{
		name:      "one",
		endpoints: []Endpoint{{Method: "GET", Path: "/one"}},
		before:    []Hook{{Handler: func(c *Context) error { return nil }}},
	}
	p2 := stubPlugin{
		name:      "two",
		endpoints: []Endpoint{{Method: "GET", Path: "/two"}},
		after:     []Hook{{Paths: []string{"/two"}, Handler: func(c *Context) error { return nil }}},
	}

	reg := NewRegistry(p1, p2)
	if len(reg.Endpoints()) != 2 {
		t.Fatalf("Endpoints: got %d, want 2", len(reg.Endpoints()))
	}
	if len(reg.beforeHooks) != 1 || len(reg.afterHooks) != 1 {
		t.Errorf("hooks not composed: before=%d after=%d", len(reg.beforeHooks), len(reg.afterHooks))
	}
}

func TestRegistryWrapRunsBeforeThenHandlerThenAfter(t *testing.T) {
	var order []string
	before := Hook{Handler: func(c *Context) error {
		order = append(order, "before")
		return nil
	}}
	after := Hook{Handler: func(c *Context) error {
		order = append(order, "after")
		return nil
	}}
	reg := NewRegistry(stubPlugin{before: []Hook{before}, after: []Hook{after}})

	h := reg.Wrap("/any", func(c *Context) error {
		order = append(order, "handler")
		return nil
	})

	if err := h(newTestContext()); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	want := []string{"before", "handler", "after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestRegistryWrapShortCircuitsOnBeforeHookError(t *testing.T) {
	sentinel := errors.New("denied")
	var handlerRan, afterRan bool
	before := Hook{Handler: func(c *Context) error { return sentinel }}
	after := Hook{Handler: func(c *Context) error { afterRan = true; return nil }}
	reg := NewRegistry(stubPlugin{before: []Hook{before}, after: []Hook{after}})

	h := reg.Wrap("/any", func(c *Context) error { handlerRan = true; return nil })

	if err := h(newTestContext()); err != sentinel {
		t.Fatalf("Wrap: err = %v, want sentinel", err)
	}
	if handlerRan {
		t.Errorf("handler ran despite before-hook error")
	}
	if afterRan {
		t.Errorf("after-hook ran despite before-hook error")
	}
}

func TestHookAppliesToRespectsPathScope(t *testing.T) {
	global := Hook{}
	if !global.appliesTo("/anything") {
		t.Errorf("empty Paths should match every path")
	}

	scoped := Hook{Paths: []string{"/a", "/b"}}
	if !scoped.appliesTo("/a") {
		t.Errorf("scoped hook should match /a")
	}
	if scoped.appliesTo("/c") {
		t.Errorf("scoped hook should not match /c")
	}
}
