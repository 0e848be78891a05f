package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/triage/internal/observability"
	"github.com/pitabwire/triage/model"
)

const maxBodyBytes = 1 << 20

// cardRequest is the body shared by card-scoped endpoints.
type cardRequest struct {
	Card    model.Card             `json:"card"`
	Payload map[string]model.Value `json:"payload,omitempty"`
	Mode    model.Mode             `json:"mode,omitempty"`
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// requestMode picks the explicit mode, then the X-Inbox-Mode header.
func requestMode(r *http.Request, explicit model.Mode) model.Mode {
	if explicit != "" {
		return explicit
	}
	if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
		return rctx.Mode
	}
	return ""
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	ee, status := envelopeFor(err)
	out := *ee
	out.TraceID = observability.TraceIDFromContext(r.Context())
	WriteJSON(w, status, errorResponse{Error: &out})
}

// GET /v1/actions?mode=
func (h *handlers) listActions(w http.ResponseWriter, r *http.Request) {
	var mode model.Mode
	if q := r.URL.Query().Get("mode"); q != "" {
		if err := mode.UnmarshalText([]byte(q)); err != nil {
			h.fail(w, r, model.APIError(model.ErrBadRequest, err.Error()))
			return
		}
	}
	mode = requestMode(r, mode)
	if mode == "" {
		mode = model.ModeBoth
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"mode":    mode,
		"actions": h.deps.Catalog.ActionsForMode(mode),
	})
}

// GET /v1/actions/{actionId}
func (h *handlers) getAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actionId")
	cfg, ok := h.deps.Catalog.Get(id)
	if !ok {
		h.fail(w, r, model.APIError(model.ErrNotFound, "Unknown action "+id))
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

// POST /v1/cards/actions
func (h *handlers) cardActions(w http.ResponseWriter, r *http.Request) {
	var body cardRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, model.APIError(model.ErrBadRequest, "Invalid request body: "+err.Error()))
		return
	}
	if body.Card.ID == "" {
		h.fail(w, r, model.APIError(model.ErrBadRequest, "card.id is required"))
		return
	}

	descriptors := h.deps.Provider.ForCard(body.Card, requestMode(r, body.Mode), CapabilitiesFrom(r.Context()))
	WriteJSON(w, http.StatusOK, map[string]any{
		"cardId":  body.Card.ID,
		"actions": descriptors,
	})
}
