package action

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/model"
)

const tracerName = "github.com/pitabwire/triage/internal/action"

// Lookup resolves action configs by id.
type Lookup interface {
	Get(actionID string) (model.ActionConfig, bool)
}

// ModalLoader resolves declarative modal configs by id.
type ModalLoader interface {
	Load(ctx context.Context, configID string) (*model.ModalConfig, error)
}

// State is the terminal state of an invocation.
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Dispatch is the target an invocation was handed to.
type Dispatch string

const (
	DispatchNone      Dispatch = "none"
	DispatchNavigate  Dispatch = "navigate"
	DispatchModal     Dispatch = "modal"
	DispatchComponent Dispatch = "component"
)

// Telemetry event names.
const (
	EventCompleted = "action_completed"
	EventDegraded  = "action_degraded"
	EventFailed    = "action_failed"
)

// Invocation is one request to run an action against a card.
type Invocation struct {
	ActionID string
	Card     model.Card
	// Payload is merged over the card context and wins on conflicts.
	Payload map[string]model.Value
	// Mode is the inbox mode the user is in. Empty means the card's mode;
	// when both are empty the mode check is skipped.
	Mode model.Mode
	// Capabilities gate non-free permission tiers. Nil grants only free.
	Capabilities model.CapabilitySet
}

// Outcome is the terminal result of an invocation.
type Outcome struct {
	InvocationID    string                 `json:"invocationId"`
	ActionID        string                 `json:"actionId"`
	State           State                  `json:"state"`
	Dispatch        Dispatch               `json:"dispatch"`
	URL             string                 `json:"url,omitempty"`
	Modal           *model.ModalConfig     `json:"modal,omitempty"`
	Component       string                 `json:"component,omitempty"`
	Degraded        bool                   `json:"degraded,omitempty"`
	FallbackApplied bool                   `json:"fallbackApplied,omitempty"`
	FilledKeys      []string               `json:"filledKeys,omitempty"`
	Validation      model.ValidationResult `json:"validation"`
	ErrorCode       string                 `json:"errorCode,omitempty"`
	Message         string                 `json:"message,omitempty"`
	Duration        time.Duration          `json:"-"`

	// Context is the validated context, including placeholder values.
	Context model.ActionContext `json:"-"`
	// Err is set when State is StateFailed.
	Err *model.ActionError `json:"-"`
	// ConfigErr is the loader failure behind a degraded dispatch.
	ConfigErr error `json:"-"`
}

// Observer receives every terminal outcome.
type Observer interface {
	OnActionInvoked(ctx context.Context, out Outcome)
}

// Router runs invocations through lookup, mode and permission checks,
// validation with one placeholder pass, and dispatch.
type Router struct {
	lookup      Lookup
	loader      ModalLoader
	navigator   model.Navigator
	telemetry   model.Telemetry
	observers   []Observer
	logger      *zap.Logger
	tracer      trace.Tracer
	deepLinks   map[string]bool
	placeholder bool
}

// Option configures a Router.
type Option func(*Router)

// WithNavigator opens GoTo URLs. Without one, the resolved URL is returned
// for the client to open.
func WithNavigator(n model.Navigator) Option {
	return func(r *Router) { r.navigator = n }
}

// WithTelemetry sets the event recorder.
func WithTelemetry(t model.Telemetry) Option {
	return func(r *Router) { r.telemetry = t }
}

// WithObserver adds an outcome observer.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observers = append(r.observers, o) }
}

// WithLogger sets the router's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithTracer overrides the tracer used for invocation spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// WithDeepLinkSchemes sets the non-web URL schemes GoTo actions may open.
func WithDeepLinkSchemes(schemes ...string) Option {
	return func(r *Router) {
		r.deepLinks = make(map[string]bool, len(schemes))
		for _, s := range schemes {
			r.deepLinks[strings.ToLower(s)] = true
		}
	}
}

// WithoutPlaceholders disables the placeholder pass.
func WithoutPlaceholders() Option {
	return func(r *Router) { r.placeholder = false }
}

// NewRouter creates a Router. loader may be nil, in which case in-app
// actions always use their hardcoded component.
func NewRouter(lookup Lookup, loader ModalLoader, opts ...Option) *Router {
	r := &Router{
		lookup:      lookup,
		loader:      loader,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(tracerName),
		deepLinks:   map[string]bool{"triage": true, "mailto": true, "tel": true},
		placeholder: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke runs one invocation to a terminal state. The action config is
// looked up exactly once and the result hook fires exactly once.
func (r *Router) Invoke(ctx context.Context, inv Invocation) Outcome {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "action.invoke",
		trace.WithAttributes(attribute.String("triage.action_id", inv.ActionID)),
	)
	defer span.End()

	out := r.run(ctx, inv)
	out.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("triage.invocation_id", out.InvocationID),
		attribute.String("triage.state", string(out.State)),
		attribute.String("triage.dispatch", string(out.Dispatch)),
		attribute.Bool("triage.degraded", out.Degraded),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Code)
	}

	r.finish(ctx, out)
	return out
}

func (r *Router) run(ctx context.Context, inv Invocation) Outcome {
	out := Outcome{
		InvocationID: uuid.NewString(),
		ActionID:     inv.ActionID,
		Dispatch:     DispatchNone,
	}

	cfg, ok := r.lookup.Get(inv.ActionID)
	if !ok {
		return fail(out, model.ErrUnsupportedAction, "unsupported action", nil)
	}

	mode := inv.Mode
	if mode == "" {
		mode = inv.Card.Mode
	}
	if mode != "" && !cfg.Mode.Allows(mode) {
		return fail(out, model.ErrModeUnavailable, fmt.Sprintf("not available in %s mode", mode), nil)
	}

	if !inv.Capabilities.Allows(cfg.Permission) {
		return fail(out, model.ErrPermissionDenied, fmt.Sprintf("requires %s tier", cfg.Permission), nil)
	}

	actx := model.NewActionContext(inv.Card, inv.Payload)
	result := Validate(cfg, actx)
	if !result.Valid && r.placeholder {
		var filled []string
		actx, filled = Placeholders(cfg, actx)
		if len(filled) > 0 {
			out.FallbackApplied = true
			out.FilledKeys = filled
			result = Validate(cfg, actx)
		}
	}
	out.Validation = result
	out.Context = actx
	if !result.Valid {
		return fail(out, model.ErrMissingContext, result.Error, nil)
	}

	switch cfg.ActionType {
	case model.ActionGoTo:
		return r.navigate(ctx, cfg, actx, out)
	case model.ActionInApp:
		return r.present(ctx, cfg, out)
	default:
		return fail(out, model.ErrUnsupportedAction, fmt.Sprintf("unknown action type %q", cfg.ActionType), nil)
	}
}

func (r *Router) navigate(ctx context.Context, cfg model.ActionConfig, actx model.ActionContext, out Outcome) Outcome {
	raw := actx.URL()
	if cfg.URLContextKey != "" {
		raw = actx.String(cfg.URLContextKey, "")
	}
	target, err := r.checkURL(raw)
	if err != nil {
		return fail(out, model.ErrInvalidURL, err.Error(), &model.NavError{URL: raw, Err: err})
	}

	out.Dispatch = DispatchNavigate
	out.URL = target
	if r.navigator != nil {
		if err := r.navigator.Open(ctx, target); err != nil {
			return fail(out, model.ErrNavigationFailed, "navigation failed", &model.NavError{URL: target, Err: err})
		}
	}
	out.State = StateCompleted
	return out
}

func (r *Router) checkURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("no url in context")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("malformed url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "":
		return "", fmt.Errorf("url %q is not absolute", raw)
	case scheme == "http" || scheme == "https":
		if u.Host == "" {
			return "", fmt.Errorf("url %q has no host", raw)
		}
	case !r.deepLinks[scheme]:
		return "", fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
	return u.String(), nil
}

func (r *Router) present(ctx context.Context, cfg model.ActionConfig, out Outcome) Outcome {
	if cfg.ModalConfigID != "" && r.loader != nil {
		modal, err := r.loader.Load(ctx, cfg.ModalConfigID)
		if err == nil {
			out.State = StateCompleted
			out.Dispatch = DispatchModal
			out.Modal = modal
			out.Component = cfg.ModalComponent
			return out
		}
		out.ConfigErr = err
		if cfg.ModalComponent == "" {
			return fail(out, model.ErrNoModal, "modal config unavailable and no component", err)
		}
		out.Degraded = true
		r.logger.Warn("modal config unavailable, using component",
			zap.String("action_id", cfg.ActionID),
			zap.String("config_id", cfg.ModalConfigID),
			zap.String("component", cfg.ModalComponent),
			zap.Error(err),
		)
	}

	if cfg.ModalComponent == "" {
		return fail(out, model.ErrNoModal, "no modal for action", nil)
	}
	out.State = StateCompleted
	out.Dispatch = DispatchComponent
	out.Component = cfg.ModalComponent
	return out
}

func fail(out Outcome, code, msg string, err error) Outcome {
	out.State = StateFailed
	out.ErrorCode = code
	out.Err = &model.ActionError{Code: code, ActionID: out.ActionID, Message: msg, Err: err}
	out.Message = out.Err.UserMessage()
	return out
}

func (r *Router) finish(ctx context.Context, out Outcome) {
	event := EventCompleted
	switch {
	case out.State == StateFailed:
		event = EventFailed
	case out.Degraded:
		event = EventDegraded
	}

	if r.telemetry != nil {
		props := map[string]any{
			"action_id":     out.ActionID,
			"invocation_id": out.InvocationID,
			"dispatch":      string(out.Dispatch),
			"duration_ms":   out.Duration.Milliseconds(),
		}
		if out.FallbackApplied {
			props["placeholder_keys"] = out.FilledKeys
		}
		if out.ErrorCode != "" {
			props["error_code"] = out.ErrorCode
		}
		if len(out.Validation.MissingKeys) > 0 {
			props["missing_keys"] = out.Validation.MissingKeys
		}
		var ce *model.ConfigError
		if errors.As(out.ConfigErr, &ce) {
			props["config_error"] = string(ce.Kind)
		}
		r.telemetry.Record(event, props)
	}

	for _, o := range r.observers {
		o.OnActionInvoked(ctx, out)
	}

	if out.State == StateFailed {
		r.logger.Info("action failed",
			zap.String("action_id", out.ActionID),
			zap.String("invocation_id", out.InvocationID),
			zap.String("code", out.ErrorCode),
			zap.Error(out.Err),
		)
		return
	}
	r.logger.Debug("action completed",
		zap.String("action_id", out.ActionID),
		zap.String("invocation_id", out.InvocationID),
		zap.String("dispatch", string(out.Dispatch)),
		zap.Bool("degraded", out.Degraded),
	)
}
