// Package metadata turns action and modal configuration into the
// client-facing descriptors the generic UI renders.
package metadata

import (
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/pitabwire/triage/model"
)

// DefaultStatusColor is used for status values without a mapping.
const DefaultStatusColor = "gray"

// MissingPlaceholder is shown for required fields with no value.
const MissingPlaceholder = "Not available"

// ModalView is a modal config resolved against one context.
type ModalView struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Icon            *model.IconConfig `json:"icon,omitempty"`
	Sections        []SectionView     `json:"sections"`
	PrimaryButton   *ButtonView       `json:"primaryButton,omitempty"`
	SecondaryButton *ButtonView       `json:"secondaryButton,omitempty"`
	// MissingKeys lists the context keys of required fields that had no
	// value.
	MissingKeys []string `json:"missingKeys,omitempty"`
}

// Complete reports whether every required field resolved.
func (v ModalView) Complete() bool { return len(v.MissingKeys) == 0 }

// SectionView is a resolved section. Sections whose fields all dropped out
// are omitted from the view.
type SectionView struct {
	ID         string                  `json:"id"`
	Title      string                  `json:"title,omitempty"`
	Layout     model.SectionLayout     `json:"layout"`
	Background model.SectionBackground `json:"background"`
	Fields     []FieldView             `json:"fields"`
}

// FieldView is a resolved, formatted field.
type FieldView struct {
	ID          string          `json:"id"`
	Label       string          `json:"label,omitempty"`
	Type        model.FieldType `json:"type"`
	Value       string          `json:"value,omitempty"`
	Href        string          `json:"href,omitempty"`
	Color       string          `json:"color,omitempty"`
	Copyable    bool            `json:"copyable,omitempty"`
	Placeholder bool            `json:"placeholder,omitempty"`
}

// ButtonView is a resolved button.
type ButtonView struct {
	Title       string                 `json:"title"`
	Style       model.ButtonStyle      `json:"style"`
	Kind        model.ButtonActionKind `json:"kind"`
	Target      string                 `json:"target,omitempty"`
	ServiceCall string                 `json:"serviceCall,omitempty"`
	Enabled     bool                   `json:"enabled"`
}

// ModalRenderer resolves modal configs against action contexts.
type ModalRenderer struct {
	lang        language.Tag
	currencyKey string
	currency    currency.Unit
	location    *time.Location
	logger      *zap.Logger
}

// RendererOption configures a ModalRenderer.
type RendererOption func(*ModalRenderer)

// WithLanguage sets the locale used for currency and case formatting.
func WithLanguage(tag language.Tag) RendererOption {
	return func(r *ModalRenderer) { r.lang = tag }
}

// WithDefaultCurrency sets the currency used when the context carries none.
// Unknown ISO codes are ignored.
func WithDefaultCurrency(iso string) RendererOption {
	return func(r *ModalRenderer) {
		if u, err := currency.ParseISO(iso); err == nil {
			r.currency = u
		}
	}
}

// WithLocation sets the zone dates are displayed in.
func WithLocation(loc *time.Location) RendererOption {
	return func(r *ModalRenderer) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithRendererLogger sets the logger.
func WithRendererLogger(logger *zap.Logger) RendererOption {
	return func(r *ModalRenderer) { r.logger = logger }
}

// NewModalRenderer creates a renderer for English and USD in UTC.
func NewModalRenderer(opts ...RendererOption) *ModalRenderer {
	r := &ModalRenderer{
		lang:        language.English,
		currencyKey: "currency",
		currency:    currency.USD,
		location:    time.UTC,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render resolves every field and button of cfg against actx. Missing
// optional fields are dropped, missing required fields become placeholders
// and context-driven buttons without a target are disabled.
func (r *ModalRenderer) Render(cfg *model.ModalConfig, actx model.ActionContext) ModalView {
	view := ModalView{ID: cfg.ID, Title: cfg.Title, Icon: cfg.Icon}

	for _, s := range cfg.Sections {
		sv := SectionView{
			ID:         s.ID,
			Title:      s.Title,
			Layout:     s.Layout,
			Background: s.Background,
		}
		if sv.Layout == "" {
			sv.Layout = model.LayoutVertical
		}
		if sv.Background == "" {
			sv.Background = model.BackgroundNone
		}
		for _, f := range s.Fields {
			fv, ok := r.renderField(f, actx)
			if !ok {
				continue
			}
			if fv.Placeholder {
				view.MissingKeys = append(view.MissingKeys, f.ContextKey)
			}
			sv.Fields = append(sv.Fields, fv)
		}
		if len(sv.Fields) == 0 {
			continue
		}
		view.Sections = append(view.Sections, sv)
	}

	if cfg.PrimaryButton != nil {
		b := r.renderButton(*cfg.PrimaryButton, model.ButtonPrimary, actx)
		view.PrimaryButton = &b
	}
	if cfg.SecondaryButton != nil {
		b := r.renderButton(*cfg.SecondaryButton, model.ButtonSecondary, actx)
		view.SecondaryButton = &b
	}
	return view
}

func (r *ModalRenderer) renderField(f model.Field, actx model.ActionContext) (FieldView, bool) {
	fv := FieldView{ID: f.ID, Label: f.Label, Type: f.Type, Copyable: f.Copyable}
	if f.Type == model.FieldDivider {
		return fv, true
	}
	if f.ContextKey == "" || !actx.Has(f.ContextKey) {
		if !f.Required {
			return fv, false
		}
		fv.Value = MissingPlaceholder
		fv.Placeholder = true
		fv.Copyable = false
		return fv, true
	}

	raw := actx.String(f.ContextKey, "")
	switch f.Type {
	case model.FieldCurrency:
		fv.Value = r.formatCurrency(actx, f.ContextKey, raw)
	case model.FieldDate:
		fv.Value = r.formatTime(actx, f.ContextKey, raw, "Jan 2, 2006")
	case model.FieldDateTime:
		fv.Value = r.formatTime(actx, f.ContextKey, raw, "Jan 2, 2006 at 3:04 PM")
	case model.FieldStatusBadge:
		fv.Value = raw
		fv.Color = statusColor(f.ColorMapping, raw)
	case model.FieldLink, model.FieldButton, model.FieldImage:
		fv.Value = raw
		fv.Href = raw
	default:
		fv.Value = raw
	}

	if f.Format != "" {
		rule, err := model.ParseFormatRule(f.Format)
		if err != nil {
			r.logger.Debug("ignoring invalid field format",
				zap.String("field", f.ID),
				zap.String("format", f.Format),
				zap.Error(err),
			)
		} else {
			fv.Value = r.applyFormat(rule, fv.Value)
		}
	}
	return fv, true
}

func (r *ModalRenderer) formatCurrency(actx model.ActionContext, key, raw string) string {
	amount, ok := actx.Float(key)
	if !ok {
		if amount, ok = model.ParseAmount(raw); !ok {
			return raw
		}
	}
	unit := r.currency
	if code := actx.String(r.currencyKey, ""); code != "" {
		if u, err := currency.ParseISO(code); err == nil {
			unit = u
		}
	}
	return message.NewPrinter(r.lang).Sprint(currency.Symbol(unit.Amount(amount)))
}

func (r *ModalRenderer) formatTime(actx model.ActionContext, key, raw, layout string) string {
	t, ok := actx.Time(key)
	if !ok {
		return raw
	}
	return t.In(r.location).Format(layout)
}

func (r *ModalRenderer) applyFormat(rule model.FormatRule, s string) string {
	switch rule.Kind {
	case model.FormatUppercase:
		return cases.Upper(r.lang).String(s)
	case model.FormatLowercase:
		return cases.Lower(r.lang).String(s)
	case model.FormatTitlecase:
		return cases.Title(r.lang).String(s)
	case model.FormatTruncate:
		return truncate(s, rule.N)
	case model.FormatMask:
		return mask(s, rule.N)
	}
	return s
}

func (r *ModalRenderer) renderButton(b model.ButtonConfig, defaultStyle model.ButtonStyle, actx model.ActionContext) ButtonView {
	bv := ButtonView{
		Title:       b.Title,
		Style:       b.Style,
		Kind:        b.Action.Kind,
		ServiceCall: b.Action.ServiceCall,
		Enabled:     true,
	}
	if bv.Style == "" {
		bv.Style = defaultStyle
	}
	if b.Action.Kind.NeedsContextKey() {
		bv.Target = actx.String(b.Action.ContextKey, "")
		bv.Enabled = bv.Target != ""
	}
	return bv
}

// statusColor looks value up case-insensitively in mapping.
func statusColor(mapping map[string]string, value string) string {
	want := strings.ToLower(strings.TrimSpace(value))
	for k, color := range mapping {
		if strings.ToLower(k) == want {
			return color
		}
	}
	return DefaultStatusColor
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:n]), " ") + "…"
}

// mask hides all but the last n runes.
func mask(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	hidden := len(runes) - n
	return strings.Repeat("•", hidden) + string(runes[hidden:])
}
