package transport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pitabwire/triage/internal/history"
	"github.com/pitabwire/triage/model"
)

type historyItem struct {
	history.Entry
	DurationMs int64 `json:"durationMs"`
}

// GET /v1/history?action=&limit=
//
// Callers only see their own invocations.
func (h *handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		h.fail(w, r, model.APIError(model.ErrNotFound, "History is disabled"))
		return
	}

	q := r.URL.Query()
	f := history.Filter{
		SubjectID: model.RequestContextFrom(r.Context()).SubjectID,
		ActionID:  q.Get("action"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(w, r, model.APIError(model.ErrBadRequest, "limit must be a non-negative integer"))
			return
		}
		f.Limit = n
	}

	entries, err := h.deps.History.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	items := make([]historyItem, len(entries))
	for i, e := range entries {
		items[i] = historyItem{Entry: e, DurationMs: e.DurationMillis()}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"entries":     items,
		"generatedAt": time.Now().UTC(),
	})
}
