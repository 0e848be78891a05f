package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/triage/internal/action"
	"github.com/pitabwire/triage/internal/invoker"
	"github.com/pitabwire/triage/internal/modal"
	"github.com/pitabwire/triage/model"
)

const namespace = "triage"

var (
	latencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	callBuckets    = []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20}
	sizeBuckets    = prometheus.ExponentialBuckets(100, 10, 5)
)

// Metrics is the service's Prometheus instrumentation. Every series is
// prefixed triage_.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	ActionInvocationsTotal    *prometheus.CounterVec
	ActionDuration            *prometheus.HistogramVec
	ActionValidationFailures  *prometheus.CounterVec
	ActionDegradedTotal       *prometheus.CounterVec
	ActionPlaceholdersApplied *prometheus.CounterVec

	ServiceCallsTotal          *prometheus.CounterVec
	ServiceCallDuration        *prometheus.HistogramVec
	ServiceCircuitBreakerState *prometheus.GaugeVec

	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	ModalLoadsTotal            *prometheus.CounterVec

	DefinitionReloadTotal    *prometheus.CounterVec
	DefinitionsLoaded        prometheus.Gauge
	OpenAPIOperationsIndexed *prometheus.GaugeVec
	TelemetryEventsTotal     *prometheus.CounterVec
}

// InitMetrics creates the instruments and registers them with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	route := []string{"method", "path_pattern"}

	return &Metrics{
		HTTPRequestsTotal:     counter("http_requests_total", "HTTP requests served.", "method", "path_pattern", "status"),
		HTTPRequestDuration:   histogram("http_request_duration_seconds", "HTTP request latency.", latencyBuckets, route...),
		HTTPRequestSizeBytes:  histogram("http_request_size_bytes", "HTTP request body size.", sizeBuckets, route...),
		HTTPResponseSizeBytes: histogram("http_response_size_bytes", "HTTP response body size.", sizeBuckets, route...),

		ActionInvocationsTotal:    counter("action_invocations_total", "Action invocations by terminal state and dispatch.", "action_id", "state", "dispatch"),
		ActionDuration:            histogram("action_duration_seconds", "Action invocation latency.", latencyBuckets, "action_id"),
		ActionValidationFailures:  counter("action_validation_failures_total", "Invocations rejected for missing card context.", "action_id"),
		ActionDegradedTotal:       counter("action_degraded_total", "Invocations served by a built-in component instead of a modal.", "action_id"),
		ActionPlaceholdersApplied: counter("action_placeholders_applied_total", "Invocations completed with placeholder values.", "action_id"),

		ServiceCallsTotal:   counter("service_calls_total", "Service calls by outcome.", "service", "method", "outcome"),
		ServiceCallDuration: histogram("service_call_duration_seconds", "Service call latency.", callBuckets, "service"),
		ServiceCircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_circuit_breaker_state",
			Help:      "Breaker state per service: 0 closed, 1 half-open, 2 open.",
		}, []string{"service"}),

		CapabilityCacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "capability_cache_hits_total", Help: "Capability cache hits.",
		}),
		CapabilityCacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "capability_cache_misses_total", Help: "Capability cache misses.",
		}),
		ModalLoadsTotal: counter("modal_loads_total", "Modal config loads by outcome and error kind.", "outcome", "kind"),

		DefinitionReloadTotal: counter("definition_reload_total", "Action definition reloads by result.", "status"),
		DefinitionsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "definitions_loaded", Help: "Registered action definitions.",
		}),
		OpenAPIOperationsIndexed: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "openapi_operations_indexed", Help: "Indexed OpenAPI operations per service.",
		}, []string{"service"}),
		TelemetryEventsTotal: counter("telemetry_events_total", "Telemetry events recorded.", "event"),
	}
}

// RecordHTTPRequest observes one served request.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// OnActionInvoked implements action.Observer.
func (m *Metrics) OnActionInvoked(_ context.Context, out action.Outcome) {
	id := out.ActionID
	m.ActionInvocationsTotal.WithLabelValues(id, string(out.State), string(out.Dispatch)).Inc()
	m.ActionDuration.WithLabelValues(id).Observe(out.Duration.Seconds())
	for _, c := range []struct {
		hit bool
		vec *prometheus.CounterVec
	}{
		{out.ErrorCode == model.ErrMissingContext, m.ActionValidationFailures},
		{out.Degraded, m.ActionDegradedTotal},
		{out.FallbackApplied, m.ActionPlaceholdersApplied},
	} {
		if c.hit {
			c.vec.WithLabelValues(id).Inc()
		}
	}
}

// OnServiceCall implements invoker.CallObserver. Descriptors that never
// resolved to a service are counted as unknown/unknown.
func (m *Metrics) OnServiceCall(_ context.Context, ev invoker.CallEvent) {
	service, method := ev.Service, ev.Method
	if service == "" {
		service, method = "unknown", "unknown"
	}
	outcome := "success"
	if ev.Kind != "" {
		outcome = string(ev.Kind)
	}
	m.ServiceCallsTotal.WithLabelValues(service, method, outcome).Inc()
	m.ServiceCallDuration.WithLabelValues(service).Observe(ev.Duration.Seconds())
}

var breakerGauge = map[invoker.BreakerState]float64{
	invoker.BreakerClosed:   0,
	invoker.BreakerHalfOpen: 1,
	invoker.BreakerOpen:     2,
}

// BreakerHook mirrors breaker transitions into the state gauge.
func (m *Metrics) BreakerHook() invoker.BreakerHook {
	return func(service string, _, to invoker.BreakerState) {
		m.ServiceCircuitBreakerState.WithLabelValues(service).Set(breakerGauge[to])
	}
}

// ModalLoadHook counts modal loads by outcome and error kind.
func (m *Metrics) ModalLoadHook() modal.LoadHook {
	return func(_, outcome string, kind model.ConfigErrorKind) {
		m.ModalLoadsTotal.WithLabelValues(outcome, string(kind)).Inc()
	}
}

// RecordCapabilityCache counts a capability cache lookup.
func (m *Metrics) RecordCapabilityCache(hit bool) {
	if hit {
		m.CapabilityCacheHitsTotal.Inc()
	} else {
		m.CapabilityCacheMissesTotal.Inc()
	}
}

// RecordDefinitionReload counts a definition reload by result.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the registered definition count.
func (m *Metrics) SetDefinitionsLoaded(count int) {
	m.DefinitionsLoaded.Set(float64(count))
}

// SetOpenAPIOperationsIndexed sets the operation count for service.
func (m *Metrics) SetOpenAPIOperationsIndexed(service string, count int) {
	m.OpenAPIOperationsIndexed.WithLabelValues(service).Set(float64(count))
}

// RecordTelemetryEvent counts a telemetry event.
func (m *Metrics) RecordTelemetryEvent(event string) {
	m.TelemetryEventsTotal.WithLabelValues(event).Inc()
}

// MetricsMiddleware records each request under its chi route pattern so
// path parameters do not multiply series. Unrouted requests use the raw
// path.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				pattern = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordHTTPRequest(r.Method, pattern, status, time.Since(start), int(max(r.ContentLength, 0)), ww.BytesWritten())
	})
}

// Handler serves g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
