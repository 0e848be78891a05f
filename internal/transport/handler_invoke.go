package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/internal/action"
	"github.com/pitabwire/triage/internal/metadata"
	"github.com/pitabwire/triage/internal/observability"
	"github.com/pitabwire/triage/model"
)

type invokeResponse struct {
	action.Outcome
	View *metadata.ModalView `json:"view,omitempty"`
}

// POST /v1/actions/{actionId}/invoke
//
// The outcome is always returned; failed outcomes carry the status of their
// error code.
func (h *handlers) invokeAction(w http.ResponseWriter, r *http.Request) {
	var body cardRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, model.APIError(model.ErrBadRequest, "Invalid request body: "+err.Error()))
		return
	}

	out := h.deps.Router.Invoke(r.Context(), action.Invocation{
		ActionID:     chi.URLParam(r, "actionId"),
		Card:         body.Card,
		Payload:      body.Payload,
		Mode:         requestMode(r, body.Mode),
		Capabilities: CapabilitiesFrom(r.Context()),
	})

	resp := invokeResponse{Outcome: out}
	if out.Modal != nil && h.deps.Renderer != nil {
		view := h.deps.Renderer.Render(out.Modal, out.Context)
		resp.View = &view
	}

	status := http.StatusOK
	if out.State == action.StateFailed {
		status = StatusFor(out.ErrorCode)
		observability.RequestLogger(r.Context(), h.logger).Info("action failed",
			zap.String("action_id", out.ActionID),
			zap.String("invocation_id", out.InvocationID),
			zap.String("error_code", out.ErrorCode),
		)
	}
	WriteJSON(w, status, resp)
}
