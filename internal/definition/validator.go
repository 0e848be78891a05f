package definition

import (
	"fmt"

	"github.com/pitabwire/triage/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks action configs structurally and lints modal documents
// against the actions that use them.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every action and reports duplicate IDs.
func (v *Validator) Validate(actions []model.ActionConfig) []VError {
	var errs []VError
	seen := make(map[string]int, len(actions))
	for i, a := range actions {
		prefix := fmt.Sprintf("actions[%d]", i)
		errs = append(errs, v.ValidateAction(prefix, a)...)
		if a.ActionID == "" {
			continue
		}
		if first, dup := seen[a.ActionID]; dup {
			errs = append(errs, VError{
				Path:    prefix + ".id",
				Code:    "DUPLICATE_ID",
				Message: fmt.Sprintf("action %q already defined at actions[%d]", a.ActionID, first),
			})
			continue
		}
		seen[a.ActionID] = i
	}
	return errs
}

// ValidateAction checks a single action config.
func (v *Validator) ValidateAction(prefix string, a model.ActionConfig) []VError {
	var errs []VError

	if a.ActionID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if a.DisplayName == "" {
		errs = append(errs, VError{Path: prefix + ".display_name", Code: "REQUIRED", Message: "display_name is required"})
	}
	if !a.ActionType.Valid() {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_VALUE", Message: fmt.Sprintf("unknown action type %q", a.ActionType)})
	}
	if !a.Mode.Valid() {
		errs = append(errs, VError{Path: prefix + ".mode", Code: "INVALID_VALUE", Message: fmt.Sprintf("unknown mode %q", a.Mode)})
	}
	if !a.Priority.Valid() {
		errs = append(errs, VError{Path: prefix + ".priority", Code: "INVALID_VALUE", Message: fmt.Sprintf("unknown priority %q", a.Priority)})
	}
	if !a.Permission.Valid() {
		errs = append(errs, VError{Path: prefix + ".permission", Code: "INVALID_VALUE", Message: fmt.Sprintf("unknown permission %q", a.Permission)})
	}

	errs = append(errs, validateKeys(prefix+".required_context", a.RequiredContextKeys)...)
	errs = append(errs, validateKeys(prefix+".optional_context", a.OptionalContextKeys)...)

	required := make(map[string]bool, len(a.RequiredContextKeys))
	for _, k := range a.RequiredContextKeys {
		required[k] = true
	}
	for _, k := range a.OptionalContextKeys {
		if required[k] {
			errs = append(errs, VError{
				Path:    prefix + ".optional_context",
				Code:    "OVERLAPPING_KEY",
				Message: fmt.Sprintf("key %q is both required and optional", k),
			})
		}
	}

	switch a.ActionType {
	case model.ActionInApp:
		if a.ModalComponent == "" && a.ModalConfigID == "" {
			errs = append(errs, VError{
				Path:    prefix + ".modal_component",
				Code:    "REQUIRED",
				Message: "inApp actions need modal_component or modal_config_id",
			})
		}
		if a.URLContextKey != "" {
			errs = append(errs, VError{
				Path:    prefix + ".url_context_key",
				Code:    "INVALID_VALUE",
				Message: "url_context_key only applies to goTo actions",
			})
		}
	case model.ActionGoTo:
		if a.ModalConfigID != "" {
			errs = append(errs, VError{
				Path:    prefix + ".modal_config_id",
				Code:    "INVALID_VALUE",
				Message: "modal_config_id only applies to inApp actions",
			})
		}
	}

	return errs
}

func validateKeys(path string, keys []string) []VError {
	var errs []VError
	seen := make(map[string]bool, len(keys))
	for i, k := range keys {
		if k == "" {
			errs = append(errs, VError{Path: fmt.Sprintf("%s[%d]", path, i), Code: "REQUIRED", Message: "context key must not be empty"})
			continue
		}
		if seen[k] {
			errs = append(errs, VError{Path: fmt.Sprintf("%s[%d]", path, i), Code: "DUPLICATE_KEY", Message: fmt.Sprintf("context key %q listed twice", k)})
		}
		seen[k] = true
	}
	return errs
}

// LintModal reports modal fields and buttons whose context key is not
// declared by the action. These are warnings: at render time such fields are
// omitted or shown with a placeholder.
func (v *Validator) LintModal(a model.ActionConfig, m *model.ModalConfig) []VError {
	if m == nil {
		return nil
	}
	var warns []VError
	for i, s := range m.Sections {
		for j, f := range s.Fields {
			if f.ContextKey == "" || a.DeclaresKey(f.ContextKey) {
				continue
			}
			code := "UNDECLARED_KEY"
			if f.Required {
				code = "UNDECLARED_REQUIRED_KEY"
			}
			warns = append(warns, VError{
				Path:    fmt.Sprintf("%s.sections[%d].fields[%d].contextKey", m.ID, i, j),
				Code:    code,
				Message: fmt.Sprintf("field %q reads %q, which action %q does not declare", f.ID, f.ContextKey, a.ActionID),
			})
		}
	}
	buttons := []struct {
		name string
		b    *model.ButtonConfig
	}{{"primaryButton", m.PrimaryButton}, {"secondaryButton", m.SecondaryButton}}
	for _, btn := range buttons {
		name, b := btn.name, btn.b
		if b == nil || b.Action.ContextKey == "" || a.DeclaresKey(b.Action.ContextKey) {
			continue
		}
		warns = append(warns, VError{
			Path:    fmt.Sprintf("%s.%s.action.contextKey", m.ID, name),
			Code:    "UNDECLARED_KEY",
			Message: fmt.Sprintf("button reads %q, which action %q does not declare", b.Action.ContextKey, a.ActionID),
		})
	}
	return warns
}
