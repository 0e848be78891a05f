package metadata

import (
	"sort"

	"go.uber.org/zap"

	"github.com/pitabwire/triage/internal/action"
	"github.com/pitabwire/triage/model"
)

// ActionLookup is the read side of the action definition registry.
type ActionLookup interface {
	Get(actionID string) (model.ActionConfig, bool)
	ActionsForMode(mode model.Mode) []model.ActionConfig
}

// ActionProvider lists the actions a card offers as client descriptors,
// filtering by mode and capability.
type ActionProvider struct {
	registry ActionLookup
	logger   *zap.Logger
}

// NewActionProvider creates a new ActionProvider.
func NewActionProvider(registry ActionLookup, logger *zap.Logger) *ActionProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionProvider{registry: registry, logger: logger}
}

// ForCard resolves the actions for card. When the card names its actions
// those are used, otherwise every action registered for the mode. An empty
// mode falls back to the card's mode; when both are empty no mode filter
// applies. Actions whose permission tier caps does not grant are omitted.
// A descriptor is enabled when every required key is present after
// placeholders from the card are applied. The result is sorted by priority,
// highest first, and is never nil.
func (p *ActionProvider) ForCard(card model.Card, mode model.Mode, caps model.CapabilitySet) []model.ActionDescriptor {
	if mode == "" {
		mode = card.Mode
	}

	var configs []model.ActionConfig
	if len(card.Actions) > 0 {
		for _, id := range card.Actions {
			cfg, ok := p.registry.Get(id)
			if !ok {
				p.logger.Debug("card references unknown action",
					zap.String("card_id", card.ID),
					zap.String("action_id", id),
				)
				continue
			}
			configs = append(configs, cfg)
		}
	} else {
		lookup := mode
		if lookup == "" {
			lookup = model.ModeBoth
		}
		configs = p.registry.ActionsForMode(lookup)
	}

	actx := model.NewActionContext(card, nil)
	result := make([]model.ActionDescriptor, 0, len(configs))
	for _, cfg := range configs {
		if mode != "" && !cfg.Mode.Allows(mode) {
			continue
		}
		if !caps.Allows(cfg.Permission) {
			continue
		}
		result = append(result, describe(cfg, actx))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority.Rank() > result[j].Priority.Rank()
	})
	return result
}

// Describe builds the descriptor for a single action against actx.
func (p *ActionProvider) Describe(cfg model.ActionConfig, actx model.ActionContext) model.ActionDescriptor {
	return describe(cfg, actx)
}

func describe(cfg model.ActionConfig, actx model.ActionContext) model.ActionDescriptor {
	filled, _ := action.Placeholders(cfg, actx)
	vr := action.Validate(cfg, filled)
	desc := model.ActionDescriptor{
		ID:            cfg.ActionID,
		Label:         cfg.DisplayName,
		Icon:          cfg.Icon,
		Type:          cfg.ActionType,
		Priority:      cfg.Priority,
		Permission:    cfg.Permission,
		ModalConfigID: cfg.ModalConfigID,
		Enabled:       vr.Valid,
	}
	if !vr.Valid {
		desc.MissingKeys = vr.MissingKeys
	}
	return desc
}
