package invoker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pitabwire/triage/internal/config"
	"github.com/pitabwire/triage/model"
)

const tracerName = "github.com/pitabwire/triage/internal/invoker"

// DefaultTimeout bounds a service call when no per-service timeout is set.
const DefaultTimeout = 20 * time.Second

// CallEvent describes one finished Execute call.
type CallEvent struct {
	Descriptor string
	Service    string
	Method     string
	// Kind is empty on success.
	Kind     model.ExecutorErrorKind
	Duration time.Duration
}

// CallObserver receives every finished call.
type CallObserver interface {
	OnServiceCall(ctx context.Context, ev CallEvent)
}

// BreakerHook is told about every breaker transition.
type BreakerHook func(service string, from, to BreakerState)

type policy struct {
	timeout time.Duration
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// Dispatcher resolves descriptors against its catalog and runs calls.
type Dispatcher struct {
	catalog   *Catalog
	timeout   time.Duration
	settings  func(service string) config.ServiceConfig
	logger    *zap.Logger
	tracer    trace.Tracer
	observers []CallObserver
	onBreaker BreakerHook

	mu       sync.RWMutex
	policies map[string]*policy
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the default call timeout.
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithServiceSettings supplies per-service timeout, rate limit and breaker
// settings, typically config.Config.ServiceSettings.
func WithServiceSettings(fn func(service string) config.ServiceConfig) Option {
	return func(x *Dispatcher) { x.settings = fn }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(x *Dispatcher) { x.logger = logger }
}

// WithTracer overrides the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(x *Dispatcher) { x.tracer = t }
}

// WithCallObserver adds a call observer.
func WithCallObserver(o CallObserver) Option {
	return func(x *Dispatcher) { x.observers = append(x.observers, o) }
}

// WithBreakerHook sets the breaker transition hook.
func WithBreakerHook(h BreakerHook) Option {
	return func(x *Dispatcher) { x.onBreaker = h }
}

// NewDispatcher creates a dispatcher with an empty catalog.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:  NewCatalog(),
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		policies: make(map[string]*policy),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Catalog returns the dispatcher's service catalog.
func (d *Dispatcher) Catalog() *Catalog { return d.catalog }

// Register adds svc to the catalog and builds its call policy. Panics on a
// duplicate service name.
func (d *Dispatcher) Register(svc Service) {
	d.catalog.Register(svc)

	name := svc.Name()
	var sc config.ServiceConfig
	if d.settings != nil {
		sc = d.settings(name)
	}
	p := &policy{timeout: sc.Timeout, breaker: NewCircuitBreaker(name, sc.CircuitBreaker)}
	if p.timeout <= 0 {
		p.timeout = d.timeout
	}
	if sc.RateLimit.RPS > 0 {
		burst := sc.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(sc.RateLimit.RPS), burst)
	}
	p.breaker.OnStateChange(func(from, to BreakerState) {
		d.logger.Warn("service circuit breaker changed state",
			zap.String("service", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if d.onBreaker != nil {
			d.onBreaker(name, from, to)
		}
	})

	d.mu.Lock()
	d.policies[name] = p
	d.mu.Unlock()
}

// BreakerState returns the breaker state of a registered service.
func (d *Dispatcher) BreakerState(service string) (BreakerState, bool) {
	d.mu.RLock()
	p, ok := d.policies[service]
	d.mu.RUnlock()
	if !ok {
		return BreakerClosed, false
	}
	return p.breaker.State(), true
}

type execOptions struct {
	presenter model.Presenter
}

// ExecOption configures a single Execute call.
type ExecOption func(*execOptions)

// WithPresenter supplies the live UI surface for methods that need one.
func WithPresenter(p model.Presenter) ExecOption {
	return func(o *execOptions) { o.presenter = p }
}

// Execute runs descriptor against actx. Every returned error is a
// *model.ExecutorError. Checks run in order: descriptor format, service,
// method, required parameters, UI context, rate limit, circuit breaker and
// finally the call under its timeout. A call that outlives its timeout is
// abandoned and its late result discarded.
func (d *Dispatcher) Execute(ctx context.Context, descriptor string, actx model.ActionContext, opts ...ExecOption) (model.ServiceResult, error) {
	var eo execOptions
	for _, opt := range opts {
		opt(&eo)
	}

	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "service.execute",
		trace.WithAttributes(attribute.String("triage.service_call", descriptor)),
	)
	defer span.End()

	sc, res, err := d.execute(ctx, descriptor, actx, eo)

	ev := CallEvent{
		Descriptor: descriptor,
		Service:    sc.Service,
		Method:     sc.Method,
		Duration:   time.Since(start),
	}
	var xe *model.ExecutorError
	if errors.As(err, &xe) {
		ev.Kind = xe.Kind
		span.RecordError(err)
		span.SetStatus(codes.Error, string(xe.Kind))
		span.SetAttributes(attribute.String("triage.error_kind", string(xe.Kind)))
		d.logger.Info("service call failed",
			zap.String("descriptor", descriptor),
			zap.String("kind", string(xe.Kind)),
			zap.Duration("duration", ev.Duration),
			zap.Error(xe.Err),
		)
	} else {
		d.logger.Debug("service call completed",
			zap.String("descriptor", descriptor),
			zap.Duration("duration", ev.Duration),
		)
	}
	for _, o := range d.observers {
		o.OnServiceCall(ctx, ev)
	}
	return res, err
}

func (d *Dispatcher) execute(ctx context.Context, descriptor string, actx model.ActionContext, eo execOptions) (model.ServiceCall, model.ServiceResult, error) {
	sc, err := model.ParseServiceCall(descriptor)
	if err != nil {
		return sc, model.ServiceResult{}, execErr(model.ExecInvalidFormat, descriptor, err)
	}
	descriptor = sc.String()

	method, serviceOK, methodOK := d.catalog.Method(sc.Service, sc.Method)
	if !serviceOK {
		return sc, model.ServiceResult{}, execErr(model.ExecUnknownService, descriptor, nil)
	}
	if !methodOK {
		return sc, model.ServiceResult{}, execErr(model.ExecUnknownMethod, descriptor, nil)
	}
	svc, _ := d.catalog.Get(sc.Service)

	params := make(map[string]model.Value, len(method.Required)+len(method.Optional))
	for _, key := range method.Required {
		if !actx.Has(key) {
			return sc, model.ServiceResult{}, &model.ExecutorError{
				Kind: model.ExecMissingParameter, Descriptor: descriptor, Key: key,
			}
		}
		v, _ := actx.Value(key)
		params[key] = v
	}
	for _, key := range method.Optional {
		if actx.Has(key) {
			v, _ := actx.Value(key)
			params[key] = v
		}
	}
	for _, key := range method.Dates {
		if _, present := params[key]; !present {
			continue
		}
		t, ok := actx.Time(key)
		if !ok {
			return sc, model.ServiceResult{}, &model.ExecutorError{
				Kind: model.ExecMissingParameter, Descriptor: descriptor, Key: key,
				Err: fmt.Errorf("%s is not a recognisable date", key),
			}
		}
		params[key] = model.Time(t)
	}

	if method.NeedsUI && eo.presenter == nil {
		return sc, model.ServiceResult{}, execErr(model.ExecRequiresUIContext, descriptor, nil)
	}

	d.mu.RLock()
	p := d.policies[sc.Service]
	d.mu.RUnlock()

	if p.limiter != nil && !p.limiter.Allow() {
		return sc, model.ServiceResult{}, execErr(model.ExecRateLimited, descriptor, nil)
	}
	if err := p.breaker.Allow(); err != nil {
		return sc, model.ServiceResult{}, execErr(model.ExecUnavailable, descriptor, err)
	}

	call := Call{
		Descriptor: sc,
		Method:     method,
		Params:     params,
		Context:    actx,
		Presenter:  eo.presenter,
	}
	res, err := d.call(ctx, p, svc, call)
	if err != nil && ctx.Err() != nil {
		p.breaker.Release()
		return sc, model.ServiceResult{}, abandoned(ctx, descriptor)
	}
	p.breaker.Done(err)
	if err != nil {
		return sc, model.ServiceResult{}, classify(descriptor, err)
	}
	if res.Descriptor == "" {
		res.Descriptor = descriptor
	}
	return sc, res, nil
}

type callResult struct {
	res model.ServiceResult
	err error
}

// call runs the service on its own goroutine. The result channel is
// buffered so an abandoned call can still deliver and exit.
func (d *Dispatcher) call(ctx context.Context, p *policy, svc Service, call Call) (model.ServiceResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("service panicked: %v", r)}
			}
		}()
		res, err := svc.Invoke(callCtx, call)
		done <- callResult{res: res, err: err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-callCtx.Done():
		return model.ServiceResult{}, callCtx.Err()
	}
}

// classify maps a service error onto an executor error kind. Errors that
// already carry a kind pass through with the descriptor filled in.
func classify(descriptor string, err error) error {
	var xe *model.ExecutorError
	if errors.As(err, &xe) {
		if xe.Descriptor == "" {
			xe.Descriptor = descriptor
		}
		return xe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return execErr(model.ExecTimeout, descriptor, err)
	}
	if errors.Is(err, context.Canceled) {
		return execErr(model.ExecCanceled, descriptor, err)
	}
	if errors.Is(err, ErrCircuitOpen) {
		return execErr(model.ExecUnavailable, descriptor, err)
	}
	return execErr(model.ExecServiceFailed, descriptor, err)
}

// abandoned reports a call whose caller stopped waiting. The service is
// not blamed.
func abandoned(ctx context.Context, descriptor string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return execErr(model.ExecTimeout, descriptor, ctx.Err())
	}
	return execErr(model.ExecCanceled, descriptor, ctx.Err())
}

func execErr(kind model.ExecutorErrorKind, descriptor string, err error) *model.ExecutorError {
	return &model.ExecutorError{Kind: kind, Descriptor: descriptor, Err: err}
}
