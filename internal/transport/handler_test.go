package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pitabwire/triage/internal/metadata"
	"github.com/pitabwire/triage/model"
)

func invoiceCard() map[string]any {
	return map[string]any{
		"id":      "card-1",
		"subject": "Your March invoice",
		"mode":    "mail",
		"context": map[string]any{
			"invoiceId":   "inv-204",
			"amount":      "129.50",
			"merchant":    "Acme Utilities",
			"paymentLink": "https://pay.example.com/inv-204",
		},
	}
}

type outcomeBody struct {
	InvocationID string                 `json:"invocationId"`
	ActionID     string                 `json:"actionId"`
	State        string                 `json:"state"`
	Dispatch     string                 `json:"dispatch"`
	URL          string                 `json:"url"`
	Component    string                 `json:"component"`
	Degraded     bool                   `json:"degraded"`
	ErrorCode    string                 `json:"errorCode"`
	Message      string                 `json:"message"`
	Validation   model.ValidationResult `json:"validation"`
	View         *metadata.ModalView    `json:"view"`
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// --- Actions ---

func TestListActions(t *testing.T) {
	h := newHarness(t)

	var body struct {
		Mode    model.Mode           `json:"mode"`
		Actions []model.ActionConfig `json:"actions"`
	}
	w := h.do(t, http.MethodGet, "/v1/actions?mode=ads", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	decodeJSON(t, w, &body)

	if body.Mode != model.ModeAds {
		t.Errorf("mode = %q, want ads", body.Mode)
	}
	ids := map[string]bool{}
	for _, a := range body.Actions {
		ids[a.ActionID] = true
	}
	if !ids["unsubscribe"] || !ids["open_link"] {
		t.Errorf("ads actions = %v, want unsubscribe and open_link", ids)
	}
	if ids["pay_invoice"] {
		t.Error("mail-only action listed for ads")
	}
}

func TestListActions_invalidMode(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/v1/actions?mode=junk", "alice", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetAction(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/v1/actions/pay_invoice", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var cfg model.ActionConfig
	decodeJSON(t, w, &cfg)
	if cfg.ActionID != "pay_invoice" || cfg.ModalConfigID != "pay_invoice" {
		t.Errorf("config = %+v", cfg)
	}

	w = h.do(t, http.MethodGet, "/v1/actions/teleport", "alice", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown action status = %d, want 404", w.Code)
	}
	env := decodeError(t, w)
	if env.Code != model.ErrNotFound || env.Message != "Unknown action teleport" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestCardActions_filtersByTier(t *testing.T) {
	h := newHarness(t)
	card := invoiceCard()
	card["actions"] = []string{"pay_invoice", "schedule_meeting", "does_not_exist"}

	ids := func(token string) []string {
		w := h.do(t, http.MethodPost, "/v1/cards/actions", token, map[string]any{"card": card})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var body struct {
			CardID  string                   `json:"cardId"`
			Actions []model.ActionDescriptor `json:"actions"`
		}
		decodeJSON(t, w, &body)
		if body.CardID != "card-1" {
			t.Errorf("cardId = %q", body.CardID)
		}
		var out []string
		for _, d := range body.Actions {
			out = append(out, d.ID)
			if d.ID == "pay_invoice" && !d.Enabled {
				t.Error("pay_invoice should be enabled with full context")
			}
		}
		return out
	}

	if got := ids("bob"); len(got) != 1 || got[0] != "pay_invoice" {
		t.Errorf("free caller actions = %v, want [pay_invoice]", got)
	}
	if got := ids("alice:subscriber"); len(got) != 2 {
		t.Errorf("subscriber actions = %v, want pay_invoice and schedule_meeting", got)
	}
}

func TestCardActions_requiresCardID(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/v1/cards/actions", "alice", map[string]any{"card": map[string]any{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// --- Invoke ---

func TestInvokeAction_presentsModal(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/actions/pay_invoice/invoke", "alice", map[string]any{"card": invoiceCard()})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out outcomeBody
	decodeJSON(t, w, &out)

	if out.State != "completed" || out.Dispatch != "modal" || out.Degraded {
		t.Errorf("outcome = %+v", out)
	}
	if out.InvocationID == "" {
		t.Error("invocation id missing")
	}
	if !out.Validation.Valid {
		t.Errorf("validation = %+v", out.Validation)
	}
	if out.View == nil {
		t.Fatal("view missing")
	}
	if out.View.ID != "pay_invoice" || out.View.PrimaryButton == nil || out.View.PrimaryButton.Title != "Pay Now" {
		t.Errorf("view = %+v", out.View)
	}
	if !out.View.Complete() {
		t.Errorf("view missing keys = %v", out.View.MissingKeys)
	}
}

func TestInvokeAction_missingContext(t *testing.T) {
	h := newHarness(t)
	card := invoiceCard()
	card["context"] = map[string]any{"invoiceId": "inv-204"}

	w := h.do(t, http.MethodPost, "/v1/actions/pay_invoice/invoke", "alice", map[string]any{"card": card})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var out outcomeBody
	decodeJSON(t, w, &out)
	if out.State != "failed" || out.ErrorCode != model.ErrMissingContext {
		t.Errorf("outcome = %+v", out)
	}
	if len(out.Validation.MissingKeys) != 2 {
		t.Errorf("missing keys = %v, want amount and merchant", out.Validation.MissingKeys)
	}
	if out.View != nil {
		t.Error("failed outcome should not carry a view")
	}
}

func TestInvokeAction_failureStatuses(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name     string
		actionID string
		token    string
		body     map[string]any
		status   int
		code     string
	}{
		{"unknown action", "teleport", "alice", map[string]any{"card": invoiceCard()}, http.StatusNotFound, model.ErrUnsupportedAction},
		{"premium without tier", "schedule_meeting", "bob",
			map[string]any{"card": map[string]any{"id": "c", "context": map[string]any{"subject": "Sync"}}},
			http.StatusForbidden, model.ErrPermissionDenied},
		{"wrong mode", "pay_invoice", "alice", map[string]any{"card": invoiceCard(), "mode": "ads"}, http.StatusConflict, model.ErrModeUnavailable},
		{"bad scheme", "open_link", "alice",
			map[string]any{"card": map[string]any{"id": "c", "context": map[string]any{"url": "javascript:alert(1)"}}},
			http.StatusUnprocessableEntity, model.ErrInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/v1/actions/"+tt.actionID+"/invoke", tt.token, tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			var out outcomeBody
			decodeJSON(t, w, &out)
			if out.ErrorCode != tt.code {
				t.Errorf("errorCode = %q, want %q", out.ErrorCode, tt.code)
			}
			if out.Message == "" {
				t.Error("failed outcome should carry a user message")
			}
		})
	}
}

func TestInvokeAction_premiumWithTier(t *testing.T) {
	h := newHarness(t)
	body := map[string]any{"card": map[string]any{"id": "c", "context": map[string]any{"subject": "Sync"}}}

	w := h.do(t, http.MethodPost, "/v1/actions/schedule_meeting/invoke", "alice:subscriber", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out outcomeBody
	decodeJSON(t, w, &out)
	if out.Dispatch != "component" || out.Component != "ScheduleMeetingModal" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestInvokeAction_degradesToComponent(t *testing.T) {
	h := newHarness(t)
	card := map[string]any{
		"id":      "card-2",
		"context": map[string]any{"trackingNumber": "1Z999", "carrier": "UPS"},
	}

	w := h.do(t, http.MethodPost, "/v1/actions/track_package/invoke", "alice", map[string]any{"card": card})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out outcomeBody
	decodeJSON(t, w, &out)
	if !out.Degraded || out.Dispatch != "component" || out.Component != "TrackPackageModal" {
		t.Errorf("outcome = %+v", out)
	}
	if out.View != nil {
		t.Error("degraded outcome should not carry a view")
	}
}

func TestInvokeAction_navigates(t *testing.T) {
	h := newHarness(t)
	card := map[string]any{"id": "c", "context": map[string]any{"url": "https://shop.example.com/deal"}}

	w := h.do(t, http.MethodPost, "/v1/actions/open_link/invoke", "alice", map[string]any{"card": card})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out outcomeBody
	decodeJSON(t, w, &out)
	if out.Dispatch != "navigate" || out.URL != "https://shop.example.com/deal" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestInvokeAction_malformedBody(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/actions/pay_invoice/invoke", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer alice")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// --- Modals ---

func TestGetModal(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/v1/modals/pay_invoice", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var cfg model.ModalConfig
	decodeJSON(t, w, &cfg)
	if cfg.ID != "pay_invoice" || len(cfg.Sections) != 2 {
		t.Errorf("modal = %+v", cfg)
	}

	if w := h.do(t, http.MethodGet, "/v1/modals/nonexistent", "alice", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown modal status = %d, want 404", w.Code)
	}

	w = h.do(t, http.MethodGet, "/v1/modals/bad_syntax", "alice", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("broken modal status = %d, want 500", w.Code)
	}
	if env := decodeError(t, w); env.Code != model.ErrModalConfig {
		t.Errorf("code = %q, want %s", env.Code, model.ErrModalConfig)
	}
}

func TestRenderModal(t *testing.T) {
	h := newHarness(t)
	card := invoiceCard()
	card["context"] = map[string]any{"invoiceId": "inv-204", "merchant": "Acme Utilities"}

	w := h.do(t, http.MethodPost, "/v1/modals/pay_invoice/render", "alice", map[string]any{"card": card})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var view metadata.ModalView
	decodeJSON(t, w, &view)
	if len(view.MissingKeys) != 1 || view.MissingKeys[0] != "amount" {
		t.Errorf("missing keys = %v, want [amount]", view.MissingKeys)
	}
	if view.PrimaryButton == nil || view.PrimaryButton.Title != "Pay Now" {
		t.Errorf("primary button = %+v", view.PrimaryButton)
	}
}

// --- Services ---

func TestExecuteService(t *testing.T) {
	h := newHarness(t)
	card := map[string]any{
		"id":      "card-3",
		"context": map[string]any{"eventDate": "2026-03-20T10:00:00Z", "eventTitle": "Dentist"},
	}

	w := h.do(t, http.MethodPost, "/v1/services/CalendarService.addEvent", "alice", map[string]any{"card": card})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res model.ServiceResult
	decodeJSON(t, w, &res)
	if res.Message != "Added to your calendar" {
		t.Errorf("message = %q", res.Message)
	}
	instruction, ok := res.Data["instruction"].(map[string]any)
	if !ok {
		t.Fatalf("data = %v", res.Data)
	}
	if instruction["service"] != "CalendarService" || instruction["method"] != "addEvent" {
		t.Errorf("instruction = %v", instruction)
	}
}

func TestExecuteService_errors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name       string
		descriptor string
		context    map[string]any
		status     int
		kind       string
	}{
		{"missing parameter", "CalendarService.addEvent", map[string]any{"eventTitle": "Dentist"},
			http.StatusUnprocessableEntity, string(model.ExecMissingParameter)},
		{"needs ui", "ShareService.share", map[string]any{"url": "https://example.com"},
			http.StatusConflict, string(model.ExecRequiresUIContext)},
		{"unknown service", "FaxService.send", nil, http.StatusNotFound, string(model.ExecUnknownService)},
		{"malformed", "not-a-descriptor", nil, http.StatusBadRequest, string(model.ExecInvalidFormat)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]any{"card": map[string]any{"id": "c", "context": tt.context}}
			w := h.do(t, http.MethodPost, "/v1/services/"+tt.descriptor, "alice", body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			env := decodeError(t, w)
			if env.Code != model.ErrServiceCall {
				t.Errorf("code = %q, want %s", env.Code, model.ErrServiceCall)
			}
			if len(env.Details) != 1 || env.Details[0].Kind != tt.kind {
				t.Errorf("details = %+v, want kind %s", env.Details, tt.kind)
			}
		})
	}
}

// --- History ---

func TestListHistory_onlyCallersEntries(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodPost, "/v1/actions/pay_invoice/invoke", "alice", map[string]any{"card": invoiceCard()})
	h.do(t, http.MethodPost, "/v1/actions/teleport/invoke", "alice", map[string]any{"card": invoiceCard()})
	h.do(t, http.MethodPost, "/v1/actions/pay_invoice/invoke", "bob", map[string]any{"card": invoiceCard()})

	w := h.do(t, http.MethodGet, "/v1/history", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body struct {
		Entries []struct {
			SubjectID string `json:"subjectId"`
			ActionID  string `json:"actionId"`
			State     string `json:"state"`
			ErrorCode string `json:"errorCode"`
		} `json:"entries"`
	}
	decodeJSON(t, w, &body)
	if len(body.Entries) != 2 {
		t.Fatalf("entries = %+v, want 2", body.Entries)
	}
	if body.Entries[0].ActionID != "teleport" || body.Entries[0].ErrorCode != model.ErrUnsupportedAction {
		t.Errorf("newest entry = %+v", body.Entries[0])
	}
	for _, e := range body.Entries {
		if e.SubjectID != "alice" {
			t.Errorf("leaked entry for %q", e.SubjectID)
		}
	}

	w = h.do(t, http.MethodGet, "/v1/history?action=pay_invoice&limit=5", "alice", nil)
	decodeJSON(t, w, &body)
	if len(body.Entries) != 1 || body.Entries[0].State != "completed" {
		t.Errorf("filtered entries = %+v", body.Entries)
	}
}

func TestListHistory_badLimit(t *testing.T) {
	h := newHarness(t)
	if w := h.do(t, http.MethodGet, "/v1/history?limit=many", "alice", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListHistory_disabled(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) { d.History = nil })
	if w := h.do(t, http.MethodGet, "/v1/history", "alice", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
