package transport

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/internal/observability"
	"github.com/pitabwire/triage/model"
)

// POST /v1/services/{descriptor}
//
// descriptor is Service.method, optionally path-escaped. Calls that need a
// presenter fail with RequiresUIContext since the gateway has no UI.
func (h *handlers) executeService(w http.ResponseWriter, r *http.Request) {
	descriptor, err := url.PathUnescape(chi.URLParam(r, "descriptor"))
	if err != nil {
		h.fail(w, r, model.APIError(model.ErrBadRequest, "Malformed service descriptor"))
		return
	}

	var body cardRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, model.APIError(model.ErrBadRequest, "Invalid request body: "+err.Error()))
		return
	}

	result, err := h.deps.Services.Execute(r.Context(), descriptor, model.NewActionContext(body.Card, body.Payload))
	if err != nil {
		observability.RequestLogger(r.Context(), h.logger).Warn("service call failed",
			zap.String("descriptor", descriptor),
			zap.Error(err),
		)
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
