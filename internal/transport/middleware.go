package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/triage/internal/config"
	"github.com/pitabwire/triage/internal/observability"
	"github.com/pitabwire/triage/model"
)

// Headers sent by the mail client.
const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderDeviceID      = "X-Device-Id"
	HeaderInboxMode     = "X-Inbox-Mode"
	HeaderTimezone      = "X-Timezone"
)

// Recovery converts a handler panic into a 500 and logs it with its stack.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				observability.RequestLogger(r.Context(), logger).Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("route", r.Method+" "+r.URL.Path),
					zap.Stack("stack"),
				)
				WriteError(w, model.APIError(model.ErrInternalError, ""))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS decorates responses to allowed origins and short-circuits preflight
// requests with 204.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	grant := http.Header{
		"Access-Control-Allow-Methods":  {strings.Join(cfg.AllowedMethods, ", ")},
		"Access-Control-Allow-Headers":  {strings.Join(cfg.AllowedHeaders, ", ")},
		"Access-Control-Max-Age":        {strconv.Itoa(cfg.MaxAge)},
		"Access-Control-Expose-Headers": {HeaderCorrelationID},
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
					for k, v := range grant {
						h[k] = v
					}
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID echoes the client's X-Correlation-Id, minting a uuid when none
// is sent.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sanitize(r.Header.Get(HeaderCorrelationID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey, id)))
	})
}

var securityHeaders = map[string]string{
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Cache-Control":             "no-store",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
}

// SecurityHeaders sets hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// BuildRequestContext turns verified claims and client headers into a
// model.RequestContext. claimPaths may remap subject_id, email and roles to
// dotted claim paths.
func BuildRequestContext(claimPaths map[string]string) func(http.Handler) http.Handler {
	subject := claimPathFor(claimPaths, "subject_id", "sub")
	email := claimPathFor(claimPaths, "email", "email")
	roles := claimPathFor(claimPaths, "roles", "roles")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims := ClaimsFrom(ctx)
			rctx := &model.RequestContext{
				SubjectID:     subject.str(claims),
				Email:         email.str(claims),
				Roles:         roles.strs(claims),
				Claims:        claims,
				DeviceID:      sanitize(r.Header.Get(HeaderDeviceID)),
				Mode:          model.Mode(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderInboxMode)))),
				Locale:        r.Header.Get("Accept-Language"),
				Timezone:      r.Header.Get(HeaderTimezone),
				CorrelationID: CorrelationIDFrom(ctx),
				TraceID:       observability.TraceIDFromContext(ctx),
				SpanID:        observability.SpanIDFromContext(ctx),
				Token:         tokenFrom(ctx),
			}
			switch err := rctx.Validate(); {
			case err == nil:
			case rctx.SubjectID == "":
				WriteError(w, model.APIError(model.ErrUnauthorized, "Token has no subject"))
				return
			default:
				WriteError(w, model.APIError(model.ErrBadRequest, err.Error()))
				return
			}
			next.ServeHTTP(w, r.WithContext(model.WithRequestContext(ctx, rctx)))
		})
	}
}

// ResolveCapabilities attaches the caller's capabilities to the request. On
// failure the caller is left on the free tier.
func ResolveCapabilities(resolver model.CapabilityResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if resolver == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := model.RequestContextFrom(r.Context())
			if rctx != nil {
				caps, err := resolver.Resolve(rctx)
				if err != nil {
					observability.RequestLogger(r.Context(), logger).Warn("capability resolution failed", zap.Error(err))
				} else {
					r = r.WithContext(context.WithValue(r.Context(), capabilitiesKey, caps))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerTimeout bounds the request context by d. Non-positive d is a no-op.
func HandlerTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogging writes one access line per request: info for success, warn
// for 4xx and error for 5xx.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := zapcore.InfoLevel
			if status >= http.StatusInternalServerError {
				level = zapcore.ErrorLevel
			} else if status >= http.StatusBadRequest {
				level = zapcore.WarnLevel
			}
			observability.RequestLogger(r.Context(), logger).Log(level, "request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// claimPath addresses a claim, possibly nested, such as realm_access.roles.
type claimPath []string

func claimPathFor(overrides map[string]string, field, fallback string) claimPath {
	if p := overrides[field]; p != "" {
		return strings.Split(p, ".")
	}
	return claimPath{fallback}
}

func (p claimPath) lookup(claims map[string]any) any {
	var cur any = claims
	for _, seg := range p {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

func (p claimPath) str(claims map[string]any) string {
	s, _ := p.lookup(claims).(string)
	return s
}

// strs reads a list claim. A space separated string, as in OAuth scope
// claims, is split into fields.
func (p claimPath) strs(claims map[string]any) []string {
	switch v := p.lookup(claims).(type) {
	case []string:
		return v
	case string:
		return strings.Fields(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func sanitize(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
