package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/internal/action"
	"github.com/pitabwire/triage/internal/config"
	"github.com/pitabwire/triage/internal/history"
	"github.com/pitabwire/triage/internal/invoker"
	"github.com/pitabwire/triage/internal/metadata"
	"github.com/pitabwire/triage/internal/observability"
	"github.com/pitabwire/triage/model"
)

// ActionCatalog lists registered actions.
type ActionCatalog interface {
	Get(actionID string) (model.ActionConfig, bool)
	ActionsForMode(mode model.Mode) []model.ActionConfig
}

// ActionInvoker runs an action against a card.
type ActionInvoker interface {
	Invoke(ctx context.Context, inv action.Invocation) action.Outcome
}

// ModalSource resolves modal configs by ID.
type ModalSource interface {
	Load(ctx context.Context, configID string) (*model.ModalConfig, error)
}

// ServiceExecutor runs service-call descriptors.
type ServiceExecutor interface {
	Execute(ctx context.Context, descriptor string, actx model.ActionContext, opts ...invoker.ExecOption) (model.ServiceResult, error)
}

// Dependencies holds everything the HTTP layer needs. Metrics, History and
// Authenticate may be nil.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Metrics            *observability.Metrics
	Gatherer           prometheus.Gatherer
	Readiness          observability.ReadinessChecks
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver

	Catalog  ActionCatalog
	Provider *metadata.ActionProvider
	Router   ActionInvoker
	Modals   ModalSource
	Renderer *metadata.ModalRenderer
	Services ServiceExecutor
	History  history.Store
}

// NewRouter builds the chi router. Health, readiness and metrics bypass
// authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{deps: deps, logger: logger}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Gatherer != nil && deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, observability.Handler(deps.Gatherer))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/actions", h.listActions)
		r.Get("/actions/{actionId}", h.getAction)
		r.Post("/actions/{actionId}/invoke", h.invokeAction)
		r.Post("/cards/actions", h.cardActions)
		r.Get("/modals/{configId}", h.getModal)
		r.Post("/modals/{configId}/render", h.renderModal)
		r.Post("/services/{descriptor}", h.executeService)
		r.Get("/history", h.listHistory)
	})

	return r
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}
