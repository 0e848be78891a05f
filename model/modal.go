package model

import (
	"fmt"
	"strconv"
	"strings"
)

// IconSize is the rendered size of a modal icon.
type IconSize string

const (
	IconSmall  IconSize = "small"
	IconMedium IconSize = "medium"
	IconLarge  IconSize = "large"
)

// SectionLayout arranges a section's fields.
type SectionLayout string

const (
	LayoutVertical   SectionLayout = "vertical"
	LayoutHorizontal SectionLayout = "horizontal"
	LayoutGrid       SectionLayout = "grid"
)

// SectionBackground is the surface a section is drawn on.
type SectionBackground string

const (
	BackgroundNone  SectionBackground = "none"
	BackgroundCard  SectionBackground = "card"
	BackgroundGlass SectionBackground = "glass"
)

// FieldType selects how a field's value is displayed.
type FieldType string

const (
	FieldText          FieldType = "text"
	FieldTextMultiline FieldType = "textMultiline"
	FieldBadge         FieldType = "badge"
	FieldStatusBadge   FieldType = "statusBadge"
	FieldDate          FieldType = "date"
	FieldDateTime      FieldType = "dateTime"
	FieldCurrency      FieldType = "currency"
	FieldLink          FieldType = "link"
	FieldButton        FieldType = "button"
	FieldImage         FieldType = "image"
	FieldDivider       FieldType = "divider"
)

// ButtonStyle is the visual weight of a modal button.
type ButtonStyle string

const (
	ButtonPrimary     ButtonStyle = "primary"
	ButtonSecondary   ButtonStyle = "secondary"
	ButtonDestructive ButtonStyle = "destructive"
)

// ButtonActionKind is the effect of tapping a modal button.
type ButtonActionKind string

const (
	ButtonOpenURL         ButtonActionKind = "openURL"
	ButtonCopyToClipboard ButtonActionKind = "copyToClipboard"
	ButtonCallPhone       ButtonActionKind = "callPhone"
	ButtonOpenMaps        ButtonActionKind = "openMaps"
	ButtonSubmit          ButtonActionKind = "submit"
	ButtonShare           ButtonActionKind = "share"
	ButtonDismiss         ButtonActionKind = "dismiss"
)

var (
	iconSizes   = map[IconSize]bool{IconSmall: true, IconMedium: true, IconLarge: true}
	layouts     = map[SectionLayout]bool{LayoutVertical: true, LayoutHorizontal: true, LayoutGrid: true}
	backgrounds = map[SectionBackground]bool{BackgroundNone: true, BackgroundCard: true, BackgroundGlass: true}
	fieldTypes  = map[FieldType]bool{
		FieldText: true, FieldTextMultiline: true, FieldBadge: true, FieldStatusBadge: true,
		FieldDate: true, FieldDateTime: true, FieldCurrency: true, FieldLink: true,
		FieldButton: true, FieldImage: true, FieldDivider: true,
	}
	buttonStyles = map[ButtonStyle]bool{ButtonPrimary: true, ButtonSecondary: true, ButtonDestructive: true}
	buttonKinds  = map[ButtonActionKind]bool{
		ButtonOpenURL: true, ButtonCopyToClipboard: true, ButtonCallPhone: true, ButtonOpenMaps: true,
		ButtonSubmit: true, ButtonShare: true, ButtonDismiss: true,
	}
)

func (s *IconSize) UnmarshalText(b []byte) error {
	return decodeEnum(b, iconSizes, s, "icon size")
}

func (l *SectionLayout) UnmarshalText(b []byte) error {
	return decodeEnum(b, layouts, l, "section layout")
}

func (bg *SectionBackground) UnmarshalText(b []byte) error {
	return decodeEnum(b, backgrounds, bg, "section background")
}

func (t *FieldType) UnmarshalText(b []byte) error {
	return decodeEnum(b, fieldTypes, t, "field type")
}

func (s *ButtonStyle) UnmarshalText(b []byte) error {
	return decodeEnum(b, buttonStyles, s, "button style")
}

func (k *ButtonActionKind) UnmarshalText(b []byte) error {
	return decodeEnum(b, buttonKinds, k, "button action type")
}

func decodeEnum[T ~string](b []byte, known map[T]bool, dst *T, what string) error {
	v := T(b)
	if !known[v] {
		return fmt.Errorf("unknown %s %q", what, string(b))
	}
	*dst = v
	return nil
}

// NeedsContextKey reports whether the action reads its target from the
// context.
func (k ButtonActionKind) NeedsContextKey() bool {
	switch k {
	case ButtonOpenURL, ButtonCopyToClipboard, ButtonCallPhone, ButtonOpenMaps, ButtonShare:
		return true
	}
	return false
}

// ModalConfig is a parsed declarative modal document. It is immutable once
// returned by the loader.
type ModalConfig struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Version         string        `json:"version,omitempty"`
	Icon            *IconConfig   `json:"icon,omitempty"`
	Sections        []Section     `json:"sections"`
	PrimaryButton   *ButtonConfig `json:"primaryButton,omitempty"`
	SecondaryButton *ButtonConfig `json:"secondaryButton,omitempty"`

	// Checksum is the sha256 of the canonical document, set by the loader.
	Checksum string `json:"checksum,omitempty"`
}

// Buttons returns the configured buttons, primary first.
func (m *ModalConfig) Buttons() []*ButtonConfig {
	var out []*ButtonConfig
	if m.PrimaryButton != nil {
		out = append(out, m.PrimaryButton)
	}
	if m.SecondaryButton != nil {
		out = append(out, m.SecondaryButton)
	}
	return out
}

// ContextKeys returns every context key referenced by fields and buttons, in
// document order, without duplicates.
func (m *ModalConfig) ContextKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, s := range m.Sections {
		for _, f := range s.Fields {
			add(f.ContextKey)
		}
	}
	for _, b := range m.Buttons() {
		add(b.Action.ContextKey)
	}
	return keys
}

// IconConfig is the modal header icon.
type IconConfig struct {
	Symbol string   `json:"symbol"`
	Size   IconSize `json:"size,omitempty"`
	Color  string   `json:"color,omitempty"`
}

// Section groups fields under an optional title.
type Section struct {
	ID         string            `json:"id"`
	Title      string            `json:"title,omitempty"`
	Layout     SectionLayout     `json:"layout,omitempty"`
	Background SectionBackground `json:"background,omitempty"`
	Fields     []Field           `json:"fields"`
}

// Field is one displayed value resolved from the context.
type Field struct {
	ID           string            `json:"id"`
	Label        string            `json:"label,omitempty"`
	Type         FieldType         `json:"type"`
	ContextKey   string            `json:"contextKey,omitempty"`
	Required     bool              `json:"required,omitempty"`
	Copyable     bool              `json:"copyable,omitempty"`
	Format       string            `json:"format,omitempty"`
	ColorMapping map[string]string `json:"colorMapping,omitempty"`
}

// ButtonConfig is a modal button.
type ButtonConfig struct {
	Title  string       `json:"title"`
	Style  ButtonStyle  `json:"style,omitempty"`
	Action ButtonAction `json:"action"`
}

// ButtonAction is the tagged effect of a button. ContextKey is used by the
// context-driven kinds, ServiceCall by submit.
type ButtonAction struct {
	Kind        ButtonActionKind `json:"type"`
	ContextKey  string           `json:"contextKey,omitempty"`
	ServiceCall string           `json:"serviceCall,omitempty"`
}

// FormatKind names a field formatting rule.
type FormatKind string

const (
	FormatUppercase FormatKind = "uppercase"
	FormatLowercase FormatKind = "lowercase"
	FormatTitlecase FormatKind = "titlecase"
	FormatTruncate  FormatKind = "truncate"
	FormatMask      FormatKind = "mask"
)

// FormatRule is a parsed field format such as "truncate:40" or "mask:4".
type FormatRule struct {
	Kind FormatKind
	N    int
}

// ParseFormatRule parses a field's format string. The empty string yields
// the zero rule.
func ParseFormatRule(s string) (FormatRule, error) {
	if s == "" {
		return FormatRule{}, nil
	}
	name, arg, hasArg := strings.Cut(s, ":")
	kind := FormatKind(name)
	switch kind {
	case FormatUppercase, FormatLowercase, FormatTitlecase:
		if hasArg {
			return FormatRule{}, fmt.Errorf("format %q takes no argument", name)
		}
		return FormatRule{Kind: kind}, nil
	case FormatTruncate, FormatMask:
		n := 4
		if kind == FormatTruncate {
			n = 0
		}
		if hasArg {
			v, err := strconv.Atoi(arg)
			if err != nil || v < 0 {
				return FormatRule{}, fmt.Errorf("format %q: invalid length %q", name, arg)
			}
			n = v
		}
		if kind == FormatTruncate && n == 0 {
			return FormatRule{}, fmt.Errorf("format %q requires a length", name)
		}
		return FormatRule{Kind: kind, N: n}, nil
	default:
		return FormatRule{}, fmt.Errorf("unknown format %q", s)
	}
}
