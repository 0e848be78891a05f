package model

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func testContext() ActionContext {
	card := Card{
		ID:      "card-1",
		Subject: "Dinner with Sam",
		Context: map[string]Value{
			"trackingNumber": String("1Z999"),
			"carrier":        String("UPS"),
			"amount":         String("$1,234.50"),
			"count":          Number(3),
			"ratio":          String(" 0.25 "),
			"half":           Number(2.5),
			"flag":           String("Yes"),
			"blank":          String("   "),
			"nothing":        Null(),
			"tags":           List(String("a"), String("b")),
			"meta":           Map(map[string]Value{"k": String("v")}),
			"eventDate":      String("2026-03-14T18:30:00Z"),
			"epoch":          Number(1700000000),
		},
	}
	return NewActionContext(card, map[string]Value{"carrier": String("FedEx")})
}

func TestNewActionContext_payload_wins(t *testing.T) {
	c := testContext()
	if got := c.Carrier(); got != "FedEx" {
		t.Errorf("Carrier() = %q, want payload value FedEx", got)
	}
	if c.Card().Context != nil {
		t.Error("Card().Context should be cleared")
	}
	if c.Card().Subject != "Dinner with Sam" {
		t.Errorf("Card().Subject = %q", c.Card().Subject)
	}
}

func TestActionContext_With_is_copy_on_write(t *testing.T) {
	c := testContext()
	d := c.With("merchant", String("Acme"))
	if c.Has("merchant") {
		t.Error("With() mutated the original context")
	}
	if d.Merchant() != "Acme" {
		t.Errorf("Merchant() = %q, want Acme", d.Merchant())
	}
	if d.Len() != c.Len()+1 {
		t.Errorf("Len() = %d, want %d", d.Len(), c.Len()+1)
	}
}

func TestActionContext_Has(t *testing.T) {
	c := testContext()
	tests := []struct {
		key  string
		want bool
	}{
		{"trackingNumber", true},
		{"count", true},
		{"tags", true},
		{"blank", false},
		{"nothing", false},
		{"absent", false},
	}
	for _, tt := range tests {
		if got := c.Has(tt.key); got != tt.want {
			t.Errorf("Has(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestActionContext_typed_accessors(t *testing.T) {
	c := testContext()

	if got := c.String("count", ""); got != "3" {
		t.Errorf("String(count) = %q, want 3", got)
	}
	if got := c.String("tags", "fallback"); got != "fallback" {
		t.Errorf("String(tags) = %q, want fallback", got)
	}
	if got := c.String("blank", "fallback"); got != "fallback" {
		t.Errorf("String(blank) = %q, want fallback", got)
	}

	if n, ok := c.Int("count"); !ok || n != 3 {
		t.Errorf("Int(count) = %d, %v", n, ok)
	}
	if _, ok := c.Int("half"); ok {
		t.Error("Int(half) should reject fractional numbers")
	}
	if _, ok := c.Int("carrier"); ok {
		t.Error("Int(carrier) should reject text")
	}

	if f, ok := c.Float("ratio"); !ok || f != 0.25 {
		t.Errorf("Float(ratio) = %v, %v", f, ok)
	}
	if _, ok := c.Float("tags"); ok {
		t.Error("Float(tags) should fail")
	}

	if b, ok := c.Bool("flag"); !ok || !b {
		t.Errorf("Bool(flag) = %v, %v", b, ok)
	}
	if _, ok := c.Bool("carrier"); ok {
		t.Error("Bool(carrier) should fail")
	}

	if l, ok := c.List("tags"); !ok || len(l) != 2 {
		t.Errorf("List(tags) = %v, %v", l, ok)
	}
	if m, ok := c.Map("meta"); !ok || !m["k"].Equal(String("v")) {
		t.Errorf("Map(meta) = %v, %v", m, ok)
	}
	if _, ok := c.Map("tags"); ok {
		t.Error("Map(tags) should fail")
	}

	want := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)
	if got, ok := c.EventTime(); !ok || !got.Equal(want) {
		t.Errorf("EventTime() = %v, %v", got, ok)
	}
	if got, ok := c.Time("epoch"); !ok || got.Unix() != 1700000000 {
		t.Errorf("Time(epoch) = %v, %v", got, ok)
	}
	if _, ok := c.Time("carrier"); ok {
		t.Error("Time(carrier) should fail")
	}
}

func TestActionContext_accessors_are_total(t *testing.T) {
	var c ActionContext
	if c.String("x", "d") != "d" || c.Has("x") || c.Len() != 0 {
		t.Error("zero context should report nothing present")
	}
	if _, ok := c.Int("x"); ok {
		t.Error("Int on zero context")
	}
	if _, ok := c.Time("x"); ok {
		t.Error("Time on zero context")
	}
	if _, ok := c.List("x"); ok {
		t.Error("List on zero context")
	}
	if r := c.Validate([]string{"x"}); r.Valid {
		t.Error("Validate on zero context should be invalid")
	}
}

func TestActionContext_convenience(t *testing.T) {
	c := testContext()
	if c.TrackingNumber() != "1Z999" {
		t.Errorf("TrackingNumber() = %q", c.TrackingNumber())
	}
	if got, ok := c.PaymentAmount(); !ok || got != 1234.50 {
		t.Errorf("PaymentAmount() = %v, %v", got, ok)
	}
	if got := c.EventTitle(); got != "Dinner with Sam" {
		t.Errorf("EventTitle() = %q, want subject fallback", got)
	}
	if got := c.URL(); got != "" {
		t.Errorf("URL() = %q, want empty", got)
	}
	d := c.With("link", String("https://a.example")).With("deepLink", String("triage://x"))
	if got := d.URL(); got != "https://a.example" {
		t.Errorf("URL() = %q, want link before deepLink", got)
	}
}

func TestActionContext_Validate(t *testing.T) {
	c := NewActionContext(Card{}, map[string]Value{
		"invoiceId": String("INV-1"),
		"amount":    String("$10.00"),
	})

	got := c.Validate([]string{"invoiceId", "amount", "merchant"})
	want := ValidationResult{
		Valid:       false,
		MissingKeys: []string{"merchant"},
		Error:       "missing required context: merchant",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Validate() = %+v, want %+v", got, want)
	}

	ok := c.Validate([]string{"invoiceId"})
	if !ok.Valid || ok.MissingKeys == nil || len(ok.MissingKeys) != 0 {
		t.Errorf("Validate(valid) = %+v, want valid with empty MissingKeys", ok)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$10.00", 10, true},
		{"USD 1,234.5", 1234.5, true},
		{"Total: $1,234,567.89 due", 1234567.89, true},
		{"$.50", 0.5, true},
		{"$10.00, thanks", 10, true},
		{"-€3", -3, true},
		{"USD -5", -5, true},
		{"Ref-less: $5", 5, true},
		{"€", 0, false},
		{"1.2.3", 0, false},
		{"3 items, $10.00", 0, false},
		{"1.234,56", 0, false},
		{"1,5", 0, false},
		{"12,34,567", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		if ok != tt.ok || (ok && math.Abs(got-tt.want) > 1e-9) {
			t.Errorf("ParseAmount(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseDate_formats(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-14T18:30:00+02:00", time.Date(2026, 3, 14, 16, 30, 0, 0, time.UTC)},
		{"2026-03-14 18:30", time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)},
		{"2026-03-14", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"03/14/2026", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"Mar 14, 2026 at 6:30 PM", time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)},
		{"March 14, 2026", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"14 Mar 2026", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if !ok || !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, %v; want %v", tt.in, got, ok, tt.want)
		}
	}
}

func TestParseDate_round_trip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	minSec := time.Date(1971, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxSec := time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC).Unix()

	// The finest unit a layout can express.
	precision := func(layout string) time.Duration {
		switch {
		case strings.Contains(layout, "05"):
			return time.Second
		case strings.Contains(layout, "04"):
			return time.Minute
		default:
			return 24 * time.Hour
		}
	}

	for _, layout := range append([]string{time.RFC3339}, humanDateLayouts...) {
		layout := layout
		properties.Property("round trip "+layout, prop.ForAll(
			func(sec int64) bool {
				want := time.Unix(sec, 0).UTC().Truncate(precision(layout))
				c := NewActionContext(Card{}, map[string]Value{"when": String(want.Format(layout))})
				got, ok := c.Time("when")
				return ok && got.Equal(want)
			},
			gen.Int64Range(minSec, maxSec),
		))
	}

	properties.Property("non-date strings are rejected", prop.ForAll(
		func(s string) bool {
			_, ok := ParseDate(s)
			return !ok
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
