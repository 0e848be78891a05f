package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/triage/internal/config"
	"github.com/pitabwire/triage/model"
)

// NewLogger builds the process logger: JSON on stdout, ISO8601 timestamps
// and millisecond durations. An unparseable level falls back to info.
//
// Conventions: error for infrastructure faults and 5xx, warn for 4xx and
// degraded dispatch, info for request and invocation summaries, debug for
// cache and placeholder detail.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.OutputPaths = []string{"stdout"}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	return zc.Build()
}

// RequestLogger returns logger annotated with the caller attached to ctx.
// Device, mode and trace id are added only when known.
func RequestLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := make([]zap.Field, 0, 5)
	fields = append(fields,
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	)
	for _, opt := range [...]struct{ key, val string }{
		{"device_id", rctx.DeviceID},
		{"mode", string(rctx.Mode)},
		{"trace_id", rctx.TraceID},
	} {
		if opt.val != "" {
			fields = append(fields, zap.String(opt.key, opt.val))
		}
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

var secretKeys = []string{
	"password", "secret", "token", "access_token", "refresh_token",
	"api_key", "authorization", "card_number", "cvv", "account_number",
	"iban", "otp", "pin",
}

// Redact returns a deep copy of props with secret-looking keys masked. Keys
// compare case-insensitively; extra names add to the built-in list.
func Redact(props map[string]any, extra ...string) map[string]any {
	if props == nil {
		return nil
	}
	mask := make(map[string]struct{}, len(secretKeys)+len(extra))
	for _, keys := range [][]string{secretKeys, extra} {
		for _, k := range keys {
			mask[strings.ToLower(k)] = struct{}{}
		}
	}
	return redactValue(props, mask).(map[string]any)
}

func redactValue(v any, mask map[string]struct{}) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			if _, secret := mask[strings.ToLower(k)]; secret {
				out[k] = redacted
			} else {
				out[k] = redactValue(inner, mask)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = redactValue(inner, mask)
		}
		return out
	default:
		return v
	}
}
