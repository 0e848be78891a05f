package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext is the authenticated caller behind an invocation: who they
// are, which inbox mode their client is in, and the ids that tie the request
// to logs and traces. It is built once per request and only read afterwards.
type RequestContext struct {
	SubjectID string
	Email     string
	Roles     []string
	Claims    map[string]any

	DeviceID string
	Mode     Mode
	Locale   string
	Timezone string

	CorrelationID string
	TraceID       string
	SpanID        string

	// Token is the raw bearer token, forwarded to remote gateways.
	Token string
}

var errNoSubject = errors.New("request has no subject")

// Validate reports a missing subject or an unrecognised inbox mode. An empty
// mode is allowed.
func (rc *RequestContext) Validate() error {
	var err error
	if rc.SubjectID == "" {
		err = errNoSubject
	}
	if rc.Mode != "" && !rc.Mode.Valid() {
		err = errors.Join(err, fmt.Errorf("inbox mode %q is not recognised", rc.Mode))
	}
	return err
}

// ClaimString returns the named token claim when it is a string.
func (rc *RequestContext) ClaimString(name string) (string, bool) {
	s, ok := rc.Claims[name].(string)
	return s, ok
}

type requestContextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the caller attached to ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
