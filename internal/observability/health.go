package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Version and Commit are stamped at link time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the /ready body.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult reports one readiness probe.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker is implemented by dependencies that can probe themselves.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc lets a plain function, such as a store's Ping, serve as a
// HealthChecker.
type CheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks lists what /ready probes. Definitions are always checked;
// the other probes run only when set.
type ReadinessChecks struct {
	DefinitionsLoaded func() bool
	OpenAPILoaded     func() bool
	ModalSource       HealthChecker
	HistoryStore      HealthChecker
}

const checkTimeout = 2 * time.Second

var (
	errNoDefinitions = errors.New("no action definitions loaded")
	errNoOpenAPI     = errors.New("no OpenAPI specs indexed")
)

type probe struct {
	name  string
	check HealthChecker
}

func flag(fn func() bool, failure error) HealthChecker {
	return CheckFunc(func(context.Context) error {
		if fn == nil || !fn() {
			return failure
		}
		return nil
	})
}

func (c ReadinessChecks) probes() []probe {
	ps := []probe{{"definitions", flag(c.DefinitionsLoaded, errNoDefinitions)}}
	if c.OpenAPILoaded != nil {
		ps = append(ps, probe{"openapi_index", flag(c.OpenAPILoaded, errNoOpenAPI)})
	}
	if c.ModalSource != nil {
		ps = append(ps, probe{"modal_source", c.ModalSource})
	}
	if c.HistoryStore != nil {
		ps = append(ps, probe{"history_store", c.HistoryStore})
	}
	return ps
}

// HandleHealth answers liveness with the build identity.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady runs every probe concurrently, each under its own deadline,
// and answers 503 if any fails.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := checks.probes()
		results := make([]CheckResult, len(probes))

		var wg sync.WaitGroup
		for i, p := range probes {
			i, p := i, p
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = runProbe(r.Context(), p.check)
			}()
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(probes))}
		code := http.StatusOK
		for i, p := range probes {
			resp.Checks[p.name] = results[i]
			if results[i].Status != "ok" {
				resp.Status, code = "not_ready", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, resp)
	}
}

func runProbe(parent context.Context, hc HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := hc.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status, res.Error = "error", err.Error()
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
