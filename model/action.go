package model

import (
	"fmt"
	"strings"
)

// ActionType says whether an action navigates out of the app or renders a
// modal inside it.
type ActionType string

const (
	ActionGoTo  ActionType = "goTo"
	ActionInApp ActionType = "inApp"
)

// Mode is the inbox mode an action is available in.
type Mode string

const (
	ModeMail Mode = "mail"
	ModeAds  Mode = "ads"
	ModeBoth Mode = "both"
)

// Permission is the product tier required to run an action.
type Permission string

const (
	PermissionFree    Permission = "free"
	PermissionPremium Permission = "premium"
	PermissionBeta    Permission = "beta"
	PermissionAdmin   Permission = "admin"
)

// Priority orders actions for display. Higher ranks sort first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityVeryHigh Priority = "veryHigh"
	PriorityCritical Priority = "critical"
)

// DefinitionSource records where a registered ActionConfig came from.
type DefinitionSource string

const (
	SourceBuiltin     DefinitionSource = "builtin"
	SourceDeclarative DefinitionSource = "declarative"
)

var (
	validActionTypes = map[ActionType]bool{ActionGoTo: true, ActionInApp: true}
	validModes       = map[Mode]bool{ModeMail: true, ModeAds: true, ModeBoth: true}
	validPermissions = map[Permission]bool{
		PermissionFree: true, PermissionPremium: true, PermissionBeta: true, PermissionAdmin: true,
	}
	priorityRanks = map[Priority]int{
		PriorityLow: 1, PriorityMedium: 2, PriorityHigh: 3, PriorityVeryHigh: 4, PriorityCritical: 5,
	}
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool { return validActionTypes[t] }

// UnmarshalText rejects unknown action types. Matching is case-insensitive.
func (t *ActionType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "goto":
		*t = ActionGoTo
	case "inapp":
		*t = ActionInApp
	default:
		return fmt.Errorf("unknown action type %q", string(b))
	}
	return nil
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return validModes[m] }

// UnmarshalText rejects unknown modes.
func (m *Mode) UnmarshalText(b []byte) error {
	v := Mode(strings.ToLower(string(b)))
	if !v.Valid() {
		return fmt.Errorf("unknown mode %q", string(b))
	}
	*m = v
	return nil
}

// Allows reports whether an action declared for m can run while the inbox is
// in the current mode. An action declared for both modes runs anywhere.
func (m Mode) Allows(current Mode) bool {
	return m == current || m == ModeBoth
}

// Valid reports whether p is a known permission tier.
func (p Permission) Valid() bool { return validPermissions[p] }

// UnmarshalText rejects unknown permission tiers.
func (p *Permission) UnmarshalText(b []byte) error {
	v := Permission(strings.ToLower(string(b)))
	if !v.Valid() {
		return fmt.Errorf("unknown permission %q", string(b))
	}
	*p = v
	return nil
}

// Capability returns the capability a caller must hold to use the tier, or
// "" for the free tier.
func (p Permission) Capability() string {
	if p == PermissionFree || p == "" {
		return ""
	}
	return "tier:" + string(p)
}

// Rank returns the sort weight of p. Unknown priorities rank zero.
func (p Priority) Rank() int { return priorityRanks[p] }

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return priorityRanks[p] > 0 }

// UnmarshalText rejects unknown priorities.
func (p *Priority) UnmarshalText(b []byte) error {
	v := Priority(b)
	if !v.Valid() {
		return fmt.Errorf("unknown priority %q", string(b))
	}
	*p = v
	return nil
}

// ActionConfig is the static metadata of one user-invocable action.
type ActionConfig struct {
	ActionID            string     `yaml:"id"                json:"id"`
	DisplayName         string     `yaml:"display_name"      json:"displayName"`
	ActionType          ActionType `yaml:"type"              json:"actionType"`
	Mode                Mode       `yaml:"mode"              json:"mode"`
	ModalComponent      string     `yaml:"modal_component"   json:"modalComponent,omitempty"`
	Icon                string     `yaml:"icon"              json:"icon,omitempty"`
	RequiredContextKeys []string   `yaml:"required_context"  json:"requiredContextKeys"`
	OptionalContextKeys []string   `yaml:"optional_context"  json:"optionalContextKeys,omitempty"`
	Priority            Priority   `yaml:"priority"          json:"priority"`
	Permission          Permission `yaml:"permission"        json:"permission"`
	ModalConfigID       string     `yaml:"modal_config_id"   json:"modalConfigId,omitempty"`
	URLContextKey       string     `yaml:"url_context_key"   json:"urlContextKey,omitempty"`

	// Source is assigned by the registry and never read from documents.
	Source DefinitionSource `yaml:"-" json:"source,omitempty"`
}

// DeclaresKey reports whether key is one of the action's required or
// optional context keys.
func (c ActionConfig) DeclaresKey(key string) bool {
	for _, k := range c.RequiredContextKeys {
		if k == key {
			return true
		}
	}
	for _, k := range c.OptionalContextKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ContextKeys returns required keys followed by optional keys.
func (c ActionConfig) ContextKeys() []string {
	keys := make([]string, 0, len(c.RequiredContextKeys)+len(c.OptionalContextKeys))
	keys = append(keys, c.RequiredContextKeys...)
	return append(keys, c.OptionalContextKeys...)
}

// ActionDocument is the root of a declarative action definition file.
type ActionDocument struct {
	Version string         `yaml:"version" json:"version"`
	Actions []ActionConfig `yaml:"actions" json:"actions"`
}

// ActionDescriptor is the client-facing summary of an action available on a
// card.
type ActionDescriptor struct {
	ID            string     `json:"id"`
	Label         string     `json:"label"`
	Icon          string     `json:"icon,omitempty"`
	Type          ActionType `json:"type"`
	Priority      Priority   `json:"priority"`
	Permission    Permission `json:"permission"`
	ModalConfigID string     `json:"modalConfigId,omitempty"`
	Enabled       bool       `json:"enabled"`
	MissingKeys   []string   `json:"missingKeys,omitempty"`
}
