package model

import (
	"context"
	"fmt"
	"strings"
)

// ServiceCall is a parsed "<Service>.<method>" descriptor.
type ServiceCall struct {
	Service string
	Method  string
}

// String returns the wire form of the descriptor.
func (c ServiceCall) String() string { return c.Service + "." + c.Method }

// ParseServiceCall parses a descriptor of the form "Service.method". Exactly
// one separator is allowed and both parts must be non-empty.
func ParseServiceCall(s string) (ServiceCall, error) {
	s = strings.TrimSpace(s)
	service, method, ok := strings.Cut(s, ".")
	if !ok || service == "" || method == "" || strings.Contains(method, ".") {
		return ServiceCall{}, fmt.Errorf("invalid service call descriptor %q", s)
	}
	return ServiceCall{Service: service, Method: method}, nil
}

// ServiceResult is the outcome of a successful service call.
type ServiceResult struct {
	Descriptor string         `json:"descriptor"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Navigator opens a URL or deep link outside the app.
type Navigator interface {
	Open(ctx context.Context, url string) error
}

// Telemetry records fire-and-forget events. Implementations must not block.
type Telemetry interface {
	Record(event string, props map[string]any)
}

// Presenter is the live UI surface some device services need, such as a
// share sheet or message composer.
type Presenter interface {
	Present(ctx context.Context, kind string, payload map[string]any) error
}
