package definition

import (
	"reflect"
	"sync"
	"testing"

	"github.com/pitabwire/triage/model"
)

func testAction(id string, mode model.Mode, prio model.Priority) model.ActionConfig {
	return model.ActionConfig{
		ActionID:       id,
		DisplayName:    id,
		ActionType:     model.ActionInApp,
		Mode:           mode,
		ModalComponent: "GenericModal",
		Priority:       prio,
		Permission:     model.PermissionFree,
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(Builtins(), nil)

	a, ok := r.Get("pay_invoice")
	if !ok {
		t.Fatal("Get(pay_invoice) not found")
	}
	if a.ModalComponent != "PayInvoiceModal" {
		t.Errorf("ModalComponent = %q, want PayInvoiceModal", a.ModalComponent)
	}
	if a.Source != model.SourceBuiltin {
		t.Errorf("Source = %q, want builtin", a.Source)
	}

	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get(nonexistent) should return false")
	}
}

func TestRegistry_Get_idempotent(t *testing.T) {
	r := NewRegistry(Builtins(), nil)
	for _, a := range Builtins() {
		first, ok1 := r.Get(a.ActionID)
		second, ok2 := r.Get(a.ActionID)
		if !ok1 || !ok2 {
			t.Fatalf("Get(%s) not found", a.ActionID)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("Get(%s) returned different values: %+v vs %+v", a.ActionID, first, second)
		}
	}
}

func TestRegistry_Get_returns_copy(t *testing.T) {
	r := NewRegistry(Builtins(), nil)
	a, _ := r.Get("pay_invoice")
	a.RequiredContextKeys[0] = "mutated"

	again, _ := r.Get("pay_invoice")
	if again.RequiredContextKeys[0] != "invoiceId" {
		t.Errorf("registry state changed through returned value: %v", again.RequiredContextKeys)
	}
}

func TestRegistry_declarative_precedence(t *testing.T) {
	declarative := []model.ActionConfig{
		{
			ActionID:            "pay_invoice",
			DisplayName:         "Pay Now",
			ActionType:          model.ActionInApp,
			Mode:                model.ModeMail,
			ModalComponent:      "PayInvoiceModal",
			RequiredContextKeys: []string{"invoiceId"},
			Priority:            model.PriorityHigh,
			Permission:          model.PermissionFree,
		},
	}
	r := NewRegistry(Builtins(), declarative)

	a, _ := r.Get("pay_invoice")
	if a.DisplayName != "Pay Now" {
		t.Errorf("DisplayName = %q, want declarative Pay Now", a.DisplayName)
	}
	if a.Source != model.SourceDeclarative {
		t.Errorf("Source = %q, want declarative", a.Source)
	}
	if r.Len() != len(Builtins()) {
		t.Errorf("Len() = %d, want %d", r.Len(), len(Builtins()))
	}

	// A fallback registration never displaces the declarative entry.
	if r.Register(Builtins()[0]) {
		t.Error("Register() of builtin over declarative should be refused")
	}
	a, _ = r.Get("pay_invoice")
	if a.Source != model.SourceDeclarative {
		t.Errorf("Source after Register = %q, want declarative", a.Source)
	}
}

func TestRegistry_declarative_precedence_independent_of_order(t *testing.T) {
	decl := testAction("x", model.ModeMail, model.PriorityHigh)
	decl.DisplayName = "declarative"
	builtin := testAction("x", model.ModeMail, model.PriorityLow)
	builtin.DisplayName = "builtin"

	r := NewRegistry([]model.ActionConfig{builtin}, []model.ActionConfig{decl})
	a, _ := r.Get("x")
	if a.DisplayName != "declarative" {
		t.Errorf("DisplayName = %q, want declarative", a.DisplayName)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil, nil)

	if !r.Register(testAction("a", model.ModeMail, model.PriorityLow)) {
		t.Fatal("Register(a) should succeed")
	}
	if r.Register(testAction("a", model.ModeAds, model.PriorityHigh)) {
		t.Error("Register(a) twice should be refused")
	}
	if r.Register(model.ActionConfig{}) {
		t.Error("Register() with empty id should be refused")
	}

	a, _ := r.Get("a")
	if a.Mode != model.ModeMail {
		t.Errorf("Mode = %q, want first registration", a.Mode)
	}
	if a.Source != model.SourceBuiltin {
		t.Errorf("Source = %q, want builtin default", a.Source)
	}
}

func TestRegistry_ActionsForMode(t *testing.T) {
	r := NewRegistry([]model.ActionConfig{
		testAction("m1", model.ModeMail, model.PriorityHigh),
		testAction("a1", model.ModeAds, model.PriorityLow),
		testAction("b1", model.ModeBoth, model.PriorityMedium),
		testAction("m2", model.ModeMail, model.PriorityCritical),
	}, nil)

	got := r.ActionsForMode(model.ModeMail)
	var ids []string
	for _, a := range got {
		ids = append(ids, a.ActionID)
	}
	want := []string{"m2", "m1", "b1"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ActionsForMode(mail) = %v, want %v", ids, want)
	}
}

func TestRegistry_ActionsForMode_ties_keep_insertion_order(t *testing.T) {
	r := NewRegistry(
		[]model.ActionConfig{
			testAction("first", model.ModeAds, model.PriorityMedium),
			testAction("second", model.ModeBoth, model.PriorityMedium),
			testAction("third", model.ModeAds, model.PriorityMedium),
		},
		[]model.ActionConfig{testAction("decl", model.ModeAds, model.PriorityMedium)},
	)

	var ids []string
	for _, a := range r.ActionsForMode(model.ModeAds) {
		ids = append(ids, a.ActionID)
	}
	want := []string{"decl", "first", "second", "third"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ActionsForMode(ads) = %v, want %v", ids, want)
	}
}

func TestRegistry_ActionsForMode_both_returns_all(t *testing.T) {
	r := NewRegistry([]model.ActionConfig{
		testAction("m", model.ModeMail, model.PriorityLow),
		testAction("a", model.ModeAds, model.PriorityLow),
	}, nil)
	if got := len(r.ActionsForMode(model.ModeBoth)); got != 2 {
		t.Errorf("ActionsForMode(both) = %d actions, want 2", got)
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry(Builtins(), nil)
	before := r.Checksum()

	r.Replace(nil, []model.ActionConfig{testAction("only", model.ModeMail, model.PriorityLow)})

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if _, ok := r.Get("pay_invoice"); ok {
		t.Error("pay_invoice should be gone after Replace")
	}
	if r.Checksum() == before {
		t.Error("Checksum should change after Replace")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(Builtins(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Get("pay_invoice")
			r.ActionsForMode(model.ModeMail)
			r.Checksum()
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register(testAction(string(rune('a'+i)), model.ModeAds, model.PriorityLow))
		}(i)
	}
	wg.Wait()

	if r.Len() != len(Builtins())+10 {
		t.Errorf("Len() = %d, want %d", r.Len(), len(Builtins())+10)
	}
}

func TestBuiltins_valid(t *testing.T) {
	if errs := NewValidator().Validate(Builtins()); len(errs) != 0 {
		t.Errorf("builtin catalog has errors: %v", errs)
	}
}
