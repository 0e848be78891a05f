// Package invoker implements the service-call dispatcher: it resolves
// declarative "<Service>.<method>" descriptors against a catalog of device
// and remote gateway services and runs each call under a per-service
// timeout, rate limit and circuit breaker.
package invoker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/triage/model"
)

// Method describes one callable method and the context keys it reads.
type Method struct {
	Name     string   `json:"name"`
	Required []string `json:"required,omitempty"`
	Optional []string `json:"optional,omitempty"`
	// NeedsUI marks methods that must present system UI.
	NeedsUI bool `json:"needsUI,omitempty"`
	// Dates lists keys that must parse as dates. They reach the service
	// normalised to RFC 3339.
	Dates []string `json:"dates,omitempty"`
}

// Keys returns the required keys followed by the optional ones.
func (m Method) Keys() []string {
	keys := make([]string, 0, len(m.Required)+len(m.Optional))
	keys = append(keys, m.Required...)
	return append(keys, m.Optional...)
}

// Call is a resolved invocation handed to a Service.
type Call struct {
	Descriptor model.ServiceCall
	Method     Method
	// Params holds every required key and each optional key present in
	// Context.
	Params    map[string]model.Value
	Context   model.ActionContext
	Presenter model.Presenter
}

// Param returns the parameter as text, or "" when absent.
func (c Call) Param(key string) string {
	v, ok := c.Params[key]
	if !ok {
		return ""
	}
	return v.Text()
}

// Service is a named collection of methods the dispatcher can invoke.
type Service interface {
	Name() string
	Methods() []Method
	Invoke(ctx context.Context, call Call) (model.ServiceResult, error)
}

type catalogEntry struct {
	service Service
	methods map[string]Method
}

// Catalog stores services by name and their method tables. It is safe for
// concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	services map[string]catalogEntry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{services: make(map[string]catalogEntry)}
}

// Register adds svc under its Name(). Panics on a duplicate name, since this
// indicates a wiring mistake at startup.
func (c *Catalog) Register(svc Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := svc.Name()
	if _, exists := c.services[name]; exists {
		panic(fmt.Sprintf("invoker: service %q already registered", name))
	}
	methods := make(map[string]Method)
	for _, m := range svc.Methods() {
		methods[m.Name] = m
	}
	c.services[name] = catalogEntry{service: svc, methods: methods}
}

// Get returns the service registered under name.
func (c *Catalog) Get(name string) (Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.services[name]
	return e.service, ok
}

// Method returns the named method of a registered service. The first bool
// reports whether the service exists, the second whether the method does.
func (c *Catalog) Method(service, method string) (Method, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.services[service]
	if !ok {
		return Method{}, false, false
	}
	m, ok := e.methods[method]
	return m, true, ok
}

// Names returns all registered service names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns every "<Service>.<method>" the catalog can serve,
// sorted.
func (c *Catalog) Descriptors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for name, e := range c.services {
		for m := range e.methods {
			out = append(out, model.ServiceCall{Service: name, Method: m}.String())
		}
	}
	sort.Strings(out)
	return out
}
