package transport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/triage/model"
)

// loadModal maps loader failures to client errors.
func (h *handlers) loadModal(w http.ResponseWriter, r *http.Request) (*model.ModalConfig, bool) {
	id := chi.URLParam(r, "configId")
	cfg, err := h.deps.Modals.Load(r.Context(), id)
	if err == nil {
		return cfg, true
	}

	var ce *model.ConfigError
	switch {
	case errors.As(err, &ce) && ce.Kind == model.ConfigNotFound:
		h.fail(w, r, model.APIError(model.ErrNotFound, "Unknown modal "+id))
	case errors.As(err, &ce):
		h.fail(w, r, &model.ErrorEnvelope{Code: model.ErrModalConfig, Message: ce.Error()})
	default:
		h.fail(w, r, err)
	}
	return nil, false
}

// GET /v1/modals/{configId}
func (h *handlers) getModal(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.loadModal(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

// POST /v1/modals/{configId}/render
func (h *handlers) renderModal(w http.ResponseWriter, r *http.Request) {
	var body cardRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, model.APIError(model.ErrBadRequest, "Invalid request body: "+err.Error()))
		return
	}
	cfg, ok := h.loadModal(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.deps.Renderer.Render(cfg, model.NewActionContext(body.Card, body.Payload)))
}
