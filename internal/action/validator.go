// Package action runs a single user action end to end: it validates the card
// context against the action's requirements, fills obvious gaps from the
// card, and dispatches to navigation or an in-app modal.
package action

import (
	"strings"

	"github.com/pitabwire/triage/model"
)

// Validate reports which of cfg's required context keys are absent from
// actx. Missing keys are listed in declaration order. It never panics, even
// for empty or wrongly typed contexts.
func Validate(cfg model.ActionConfig, actx model.ActionContext) model.ValidationResult {
	return actx.Validate(cfg.RequiredContextKeys)
}

// placeholderSources maps context keys to the card field that can stand in
// for them.
var placeholderSources = map[string]func(model.Card) string{
	"title":         func(c model.Card) string { return c.Subject },
	"eventTitle":    func(c model.Card) string { return c.Subject },
	"reminderTitle": func(c model.Card) string { return c.Subject },
	"subject":       func(c model.Card) string { return c.Subject },
	"notes":         func(c model.Card) string { return c.Summary },
	"description":   func(c model.Card) string { return c.Summary },
	"sender":        func(c model.Card) string { return c.Sender },
	"merchant":      func(c model.Card) string { return c.Sender },
	"name":          func(c model.Card) string { return c.Sender },
	"email":         func(c model.Card) string { return c.SenderEmail },
	"recipient":     func(c model.Card) string { return c.SenderEmail },
}

// Placeholders derives best-effort values for declared keys that are missing
// from actx, using the card the context was built from. It returns the
// derived context and the keys it filled, in declaration order. Keys with no
// card equivalent, or whose card field is blank, stay missing.
func Placeholders(cfg model.ActionConfig, actx model.ActionContext) (model.ActionContext, []string) {
	var filled []string
	card := actx.Card()
	for _, key := range cfg.ContextKeys() {
		if actx.Has(key) {
			continue
		}
		source, ok := placeholderSources[key]
		if !ok {
			continue
		}
		v := strings.TrimSpace(source(card))
		if v == "" {
			continue
		}
		actx = actx.With(key, model.String(v))
		filled = append(filled, key)
	}
	return actx, filled
}
