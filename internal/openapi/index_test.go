package openapi

import (
	"reflect"
	"testing"

	"github.com/pitabwire/triage/internal/config"
)

func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	idx := NewIndex()
	err := idx.Load([]SpecSource{
		{Service: "BillingService", BaseURL: "https://billing.test/", SpecPath: "testdata/billing-service.yaml"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestIndex_Load(t *testing.T) {
	idx := loadTestIndex(t)
	want := []string{"disputeInvoice", "getInvoice", "listInvoices", "payInvoice"}
	if got := idx.AllOperationIDs("BillingService"); !reflect.DeepEqual(got, want) {
		t.Errorf("AllOperationIDs() = %v, want %v", got, want)
	}
	if got := idx.Services(); !reflect.DeepEqual(got, []string{"BillingService"}) {
		t.Errorf("Services() = %v", got)
	}
}

func TestIndex_GetOperation(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.GetOperation("BillingService", "payInvoice")
	if !ok {
		t.Fatal("GetOperation(payInvoice) not found")
	}
	if op.Method != "POST" {
		t.Errorf("Method = %q, want POST", op.Method)
	}
	if op.PathTemplate != "/invoices/{invoiceId}/payments" {
		t.Errorf("PathTemplate = %q", op.PathTemplate)
	}
	if op.BaseURL != "https://billing.test" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", op.BaseURL)
	}
	if op.BodySchema == nil {
		t.Error("BodySchema = nil")
	}

	if _, ok := idx.GetOperation("BillingService", "refund"); ok {
		t.Error("GetOperation(refund) should return false")
	}
	if _, ok := idx.GetOperation("ShippingService", "payInvoice"); ok {
		t.Error("GetOperation on unknown service should return false")
	}
}

func TestIndexedOperation_keys(t *testing.T) {
	idx := loadTestIndex(t)

	tests := []struct {
		op       string
		required []string
		optional []string
	}{
		{"payInvoice", []string{"invoiceId", "amount", "merchant"}, []string{"currency", "note"}},
		{"getInvoice", []string{"invoiceId"}, nil},
		{"listInvoices", nil, []string{"status"}},
		{"disputeInvoice", []string{"invoiceId", "reason"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			op, ok := idx.GetOperation("BillingService", tt.op)
			if !ok {
				t.Fatalf("GetOperation(%s) not found", tt.op)
			}
			if got := op.RequiredKeys(); !reflect.DeepEqual(got, tt.required) {
				t.Errorf("RequiredKeys() = %v, want %v", got, tt.required)
			}
			if got := op.OptionalKeys(); !reflect.DeepEqual(got, tt.optional) {
				t.Errorf("OptionalKeys() = %v, want %v", got, tt.optional)
			}
		})
	}
}

func TestIndex_ValidateRequest(t *testing.T) {
	idx := loadTestIndex(t)

	tests := []struct {
		name    string
		op      string
		body    map[string]any
		wantLen int
	}{
		{"valid", "payInvoice", map[string]any{"amount": 12.5, "merchant": "Acme"}, 0},
		{"missing required", "payInvoice", map[string]any{"note": "hi"}, 2},
		{"wrong type", "payInvoice", map[string]any{"amount": "lots", "merchant": "Acme"}, 1},
		{"negative amount", "payInvoice", map[string]any{"amount": -1.0, "merchant": "Acme"}, 1},
		{"no body", "listInvoices", map[string]any{}, 0},
		{"unknown operation", "refund", map[string]any{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := idx.ValidateRequest("BillingService", tt.op, tt.body)
			if len(errs) != tt.wantLen {
				t.Errorf("ValidateRequest() = %v, want %d errors", errs, tt.wantLen)
			}
		})
	}
}

func TestIndex_Load_errors(t *testing.T) {
	for _, path := range []string{"testdata/nonexistent.yaml", "testdata/broken.yaml"} {
		idx := NewIndex()
		if err := idx.Load([]SpecSource{{Service: "Bad", SpecPath: path}}); err == nil {
			t.Errorf("Load(%s) should return error", path)
		}
	}
}

func TestIndex_BaseURL_from_spec(t *testing.T) {
	idx := NewIndex()
	if err := idx.Load([]SpecSource{{Service: "BillingService", SpecPath: "testdata/billing-service.yaml"}}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	op, _ := idx.GetOperation("BillingService", "listInvoices")
	if op.BaseURL != "https://billing.internal" {
		t.Errorf("BaseURL = %q, want servers[0] url", op.BaseURL)
	}
}

func TestSourcesFromConfig(t *testing.T) {
	specs := config.SpecsConfig{
		Directory: "/etc/triage/specs",
		Sources: []config.SpecSource{
			{Service: "BillingService", SpecFile: "billing.yaml"},
			{Service: "ShippingService", SpecFile: "/opt/shipping.yaml"},
		},
	}
	services := map[string]config.ServiceConfig{
		"BillingService": {BaseURL: "https://billing.internal"},
	}

	got := SourcesFromConfig(specs, services)
	want := []SpecSource{
		{Service: "BillingService", BaseURL: "https://billing.internal", SpecPath: "/etc/triage/specs/billing.yaml"},
		{Service: "ShippingService", SpecPath: "/opt/shipping.yaml"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SourcesFromConfig() = %+v, want %+v", got, want)
	}
}
