package transport

import (
	"context"

	"github.com/pitabwire/triage/model"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	claimsKey
	tokenKey
	capabilitiesKey
)

// CorrelationIDFrom returns the request's correlation id.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithClaims stores verified token claims together with the raw token.
func WithClaims(ctx context.Context, claims map[string]any, token string) context.Context {
	return context.WithValue(context.WithValue(ctx, claimsKey, claims), tokenKey, token)
}

// ClaimsFrom returns the verified token claims.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey).(map[string]any)
	return claims
}

func tokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey).(string)
	return tok
}

// CapabilitiesFrom returns the caller's resolved capabilities. A nil set
// unlocks the free tier only.
func CapabilitiesFrom(ctx context.Context) model.CapabilitySet {
	caps, _ := ctx.Value(capabilitiesKey).(model.CapabilitySet)
	return caps
}
