package metadata

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pitabwire/triage/model"
)

func loadModal(t *testing.T, name string) *model.ModalConfig {
	t.Helper()
	data, err := os.ReadFile("../modal/testdata/modals/" + name + ".json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var cfg model.ModalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return &cfg
}

func invoiceContext(extra map[string]model.Value) model.ActionContext {
	values := map[string]model.Value{
		"merchant":    model.String("Acme Utilities"),
		"amount":      model.Number(12.5),
		"invoiceId":   model.String("inv-42"),
		"dueDate":     model.String("2026-03-14"),
		"status":      model.String("paid"),
		"description": model.String(strings.Repeat("a", 50)),
		"paymentLink": model.String("https://pay.example.com/inv-42"),
	}
	for k, v := range extra {
		values[k] = v
	}
	return model.NewActionContext(model.Card{ID: "c1"}, values)
}

func fieldByID(t *testing.T, v ModalView, id string) FieldView {
	t.Helper()
	for _, s := range v.Sections {
		for _, f := range s.Fields {
			if f.ID == id {
				return f
			}
		}
	}
	t.Fatalf("field %q not rendered", id)
	return FieldView{}
}

func hasField(v ModalView, id string) bool {
	for _, s := range v.Sections {
		for _, f := range s.Fields {
			if f.ID == id {
				return true
			}
		}
	}
	return false
}

func TestModalRenderer_Render_complete(t *testing.T) {
	r := NewModalRenderer()
	view := r.Render(loadModal(t, "pay_invoice"), invoiceContext(nil))

	if !view.Complete() {
		t.Fatalf("MissingKeys = %v, want none", view.MissingKeys)
	}
	if view.ID != "pay_invoice" || view.Title != "Pay Invoice" {
		t.Errorf("header = %q/%q", view.ID, view.Title)
	}
	if len(view.Sections) != 2 {
		t.Fatalf("len(Sections) = %d, want 2", len(view.Sections))
	}

	if got := fieldByID(t, view, "merchant").Value; got != "Acme Utilities" {
		t.Errorf("merchant = %q", got)
	}
	amount := fieldByID(t, view, "amount").Value
	if !strings.Contains(amount, "$") || !strings.Contains(amount, "12.50") {
		t.Errorf("amount = %q, want dollars with two decimals", amount)
	}
	invoice := fieldByID(t, view, "invoice")
	if invoice.Value != "INV-42" {
		t.Errorf("invoice = %q, want INV-42", invoice.Value)
	}
	if !invoice.Copyable {
		t.Error("invoice should be copyable")
	}
	if got := fieldByID(t, view, "due").Value; got != "Mar 14, 2026" {
		t.Errorf("due = %q, want Mar 14, 2026", got)
	}
	status := fieldByID(t, view, "status")
	if status.Color != "green" {
		t.Errorf("status color = %q, want green", status.Color)
	}
	notes := fieldByID(t, view, "notes").Value
	if !strings.HasSuffix(notes, "…") || utf8.RuneCountInString(notes) != 41 {
		t.Errorf("notes = %q, want 40 runes and an ellipsis", notes)
	}

	if view.PrimaryButton == nil || !view.PrimaryButton.Enabled {
		t.Fatal("primary button should be enabled")
	}
	if view.PrimaryButton.Target != "https://pay.example.com/inv-42" {
		t.Errorf("primary target = %q", view.PrimaryButton.Target)
	}
	if view.SecondaryButton == nil {
		t.Fatal("secondary button missing")
	}
	if view.SecondaryButton.Kind != model.ButtonSubmit || view.SecondaryButton.ServiceCall != "RemindersService.addReminder" {
		t.Errorf("secondary = %+v", *view.SecondaryButton)
	}
	if !view.SecondaryButton.Enabled {
		t.Error("submit button should be enabled")
	}
}

func TestModalRenderer_Render_missing_values(t *testing.T) {
	r := NewModalRenderer()
	actx := model.NewActionContext(model.Card{ID: "c1"}, map[string]model.Value{
		"merchant": model.String("Acme Utilities"),
	})
	view := r.Render(loadModal(t, "pay_invoice"), actx)

	if view.Complete() {
		t.Fatal("view should be incomplete")
	}
	want := []string{"amount", "invoiceId"}
	if strings.Join(view.MissingKeys, ",") != strings.Join(want, ",") {
		t.Errorf("MissingKeys = %v, want %v", view.MissingKeys, want)
	}

	amount := fieldByID(t, view, "amount")
	if !amount.Placeholder || amount.Value != MissingPlaceholder {
		t.Errorf("amount = %+v, want placeholder", amount)
	}
	invoice := fieldByID(t, view, "invoice")
	if invoice.Copyable {
		t.Error("placeholder should not be copyable")
	}
	for _, id := range []string{"due", "status", "notes"} {
		if hasField(view, id) {
			t.Errorf("optional field %q should be omitted", id)
		}
	}
	if !hasField(view, "sep") {
		t.Error("divider should always render")
	}
	if view.PrimaryButton.Enabled {
		t.Error("openURL without a link should be disabled")
	}
	if view.PrimaryButton.Target != "" {
		t.Errorf("primary target = %q, want empty", view.PrimaryButton.Target)
	}
}

func TestModalRenderer_Render_currency_from_context(t *testing.T) {
	r := NewModalRenderer()
	view := r.Render(loadModal(t, "pay_invoice"), invoiceContext(map[string]model.Value{
		"currency": model.String("EUR"),
		"amount":   model.String("€1,204.10"),
	}))
	amount := fieldByID(t, view, "amount").Value
	if !strings.Contains(amount, "€") {
		t.Errorf("amount = %q, want euro symbol", amount)
	}
	if !strings.Contains(amount, "204.10") {
		t.Errorf("amount = %q, want parsed amount", amount)
	}
}

func TestModalRenderer_Render_default_currency(t *testing.T) {
	r := NewModalRenderer(WithDefaultCurrency("GBP"), WithDefaultCurrency("nope"))
	view := r.Render(loadModal(t, "pay_invoice"), invoiceContext(nil))
	if amount := fieldByID(t, view, "amount").Value; !strings.Contains(amount, "£") {
		t.Errorf("amount = %q, want pound symbol", amount)
	}
}

func TestModalRenderer_Render_unparseable_currency_kept(t *testing.T) {
	r := NewModalRenderer()
	view := r.Render(loadModal(t, "pay_invoice"), invoiceContext(map[string]model.Value{
		"amount": model.String("call us"),
	}))
	if got := fieldByID(t, view, "amount").Value; got != "call us" {
		t.Errorf("amount = %q, want raw text", got)
	}
}

func TestModalRenderer_Render_status_colors(t *testing.T) {
	r := NewModalRenderer()
	cfg := loadModal(t, "pay_invoice")
	tests := []struct {
		status string
		want   string
	}{
		{"Paid", "green"},
		{"overdue", "red"},
		{"PENDING", "orange"},
		{"refunded", DefaultStatusColor},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			view := r.Render(cfg, invoiceContext(map[string]model.Value{"status": model.String(tt.status)}))
			f := fieldByID(t, view, "status")
			if f.Color != tt.want {
				t.Errorf("color = %q, want %q", f.Color, tt.want)
			}
			if f.Value != tt.status {
				t.Errorf("value = %q, want %q", f.Value, tt.status)
			}
		})
	}
}

func TestModalRenderer_Render_dates(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)
	cfg := &model.ModalConfig{
		ID:    "when",
		Title: "When",
		Sections: []model.Section{{
			ID: "s",
			Fields: []model.Field{
				{ID: "start", Type: model.FieldDateTime, ContextKey: "start"},
				{ID: "day", Type: model.FieldDate, ContextKey: "start"},
				{ID: "raw", Type: model.FieldDate, ContextKey: "raw"},
			},
		}},
	}
	actx := model.NewActionContext(model.Card{}, map[string]model.Value{
		"start": model.Time(ts),
		"raw":   model.String("sometime soon"),
	})

	view := NewModalRenderer().Render(cfg, actx)
	if got := fieldByID(t, view, "start").Value; got != "Mar 14, 2026 at 3:30 PM" {
		t.Errorf("start = %q", got)
	}
	if got := fieldByID(t, view, "day").Value; got != "Mar 14, 2026" {
		t.Errorf("day = %q", got)
	}
	if got := fieldByID(t, view, "raw").Value; got != "sometime soon" {
		t.Errorf("raw = %q, want unparsed text", got)
	}
	if view.Sections[0].Layout != model.LayoutVertical || view.Sections[0].Background != model.BackgroundNone {
		t.Errorf("section defaults = %q/%q", view.Sections[0].Layout, view.Sections[0].Background)
	}

	tokyo := time.FixedZone("JST", 9*60*60)
	view = NewModalRenderer(WithLocation(tokyo)).Render(cfg, actx)
	if got := fieldByID(t, view, "start").Value; got != "Mar 15, 2026 at 12:30 AM" {
		t.Errorf("start in JST = %q", got)
	}
}

func TestModalRenderer_Render_formats(t *testing.T) {
	tests := []struct {
		format string
		in     string
		want   string
	}{
		{"uppercase", "inv-42", "INV-42"},
		{"lowercase", "ACME", "acme"},
		{"titlecase", "hello big world", "Hello Big World"},
		{"truncate:5", "héllo wörld", "héllo…"},
		{"truncate:6", "hello world", "hello…"},
		{"truncate:40", "short", "short"},
		{"mask", "4111111111111111", "••••••••••••1111"},
		{"mask:2", "secret", "••••et"},
		{"mask:10", "abc", "abc"},
		{"bogus", "kept", "kept"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			cfg := &model.ModalConfig{
				ID: "fmt",
				Sections: []model.Section{{
					ID:     "s",
					Fields: []model.Field{{ID: "f", Type: model.FieldText, ContextKey: "v", Format: tt.format}},
				}},
			}
			actx := model.NewActionContext(model.Card{}, map[string]model.Value{"v": model.String(tt.in)})
			view := NewModalRenderer().Render(cfg, actx)
			if got := fieldByID(t, view, "f").Value; got != tt.want {
				t.Errorf("%s(%q) = %q, want %q", tt.format, tt.in, got, tt.want)
			}
		})
	}
}

func TestModalRenderer_Render_links_and_empty_sections(t *testing.T) {
	cfg := &model.ModalConfig{
		ID: "links",
		Sections: []model.Section{
			{ID: "a", Fields: []model.Field{{ID: "site", Type: model.FieldLink, ContextKey: "url"}}},
			{ID: "b", Fields: []model.Field{{ID: "gone", Type: model.FieldText, ContextKey: "missing"}}},
		},
		PrimaryButton: &model.ButtonConfig{
			Title:  "Call",
			Action: model.ButtonAction{Kind: model.ButtonCallPhone, ContextKey: "phone"},
		},
		SecondaryButton: &model.ButtonConfig{
			Title:  "Close",
			Action: model.ButtonAction{Kind: model.ButtonDismiss},
		},
	}
	actx := model.NewActionContext(model.Card{}, map[string]model.Value{
		"url":   model.String("https://example.com"),
		"phone": model.String("+1 555 0100"),
	})

	view := NewModalRenderer().Render(cfg, actx)
	if len(view.Sections) != 1 {
		t.Fatalf("len(Sections) = %d, want 1", len(view.Sections))
	}
	if f := fieldByID(t, view, "site"); f.Href != "https://example.com" {
		t.Errorf("href = %q", f.Href)
	}
	if view.PrimaryButton.Style != model.ButtonPrimary || view.PrimaryButton.Target != "+1 555 0100" {
		t.Errorf("primary = %+v", *view.PrimaryButton)
	}
	if view.SecondaryButton.Style != model.ButtonSecondary || !view.SecondaryButton.Enabled {
		t.Errorf("secondary = %+v", *view.SecondaryButton)
	}
}
