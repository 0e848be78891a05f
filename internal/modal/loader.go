// Package modal loads declarative modal documents, validates them against an
// embedded JSON Schema and semantic rules, and caches the parsed result for
// the lifetime of the process.
package modal

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/model"
)

//go:embed modal.schema.json
var schemaJSON string

const schemaURL = "https://triage.schemas.local/modal.schema.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("modal schema load failed: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("modal schema compile failed: %w", err)
	}
	return s, nil
})

// Load outcomes reported to the load hook.
const (
	OutcomeHit    = "hit"
	OutcomeMiss   = "miss"
	OutcomeFailed = "failed"
)

// LoadHook observes every Load call. kind is empty unless outcome is
// OutcomeFailed.
type LoadHook func(configID, outcome string, kind model.ConfigErrorKind)

// Loader resolves modal configs by ID. Parsed configs are cached without
// expiry; failures are not cached. Concurrent first loads of the same ID may
// both parse; the last write wins. A load that overlaps an Invalidate or
// ResetCache returns its result without caching it.
type Loader struct {
	source     Source
	constraint *semver.Constraints
	logger     *zap.Logger
	hook       LoadHook

	mu     sync.RWMutex
	cache  map[string]*model.ModalConfig
	gen    uint64 // bumped by every invalidation
	parses atomic.Int64
}

// Option configures a Loader.
type Option func(*Loader)

// WithVersionConstraint rejects documents whose version does not satisfy c.
// Documents without a version are accepted.
func WithVersionConstraint(c *semver.Constraints) Option {
	return func(l *Loader) { l.constraint = c }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithLoadHook registers a hook called after every Load.
func WithLoadHook(h LoadHook) Option {
	return func(l *Loader) { l.hook = h }
}

// NewLoader creates a Loader reading from source.
func NewLoader(source Source, opts ...Option) *Loader {
	l := &Loader{
		source: source,
		logger: zap.NewNop(),
		cache:  make(map[string]*model.ModalConfig),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the modal config for configID. The returned value is shared
// and must not be modified. Errors are always *model.ConfigError.
func (l *Loader) Load(ctx context.Context, configID string) (*model.ModalConfig, error) {
	l.mu.RLock()
	cached, ok := l.cache[configID]
	gen := l.gen
	l.mu.RUnlock()
	if ok {
		l.logger.Debug("modal cache hit", zap.String("config_id", configID))
		l.observe(configID, OutcomeHit, "")
		return cached, nil
	}

	cfg, err := l.fetchAndParse(ctx, configID)
	if err != nil {
		var ce *model.ConfigError
		if errors.As(err, &ce) {
			l.observe(configID, OutcomeFailed, ce.Kind)
		}
		l.logger.Warn("modal config unavailable",
			zap.String("config_id", configID),
			zap.Error(err),
		)
		return nil, err
	}

	l.mu.Lock()
	stale := l.gen != gen
	if !stale {
		l.cache[configID] = cfg
	}
	l.mu.Unlock()

	l.logger.Debug("modal cache store",
		zap.String("config_id", configID),
		zap.String("checksum", cfg.Checksum),
		zap.Bool("skipped", stale),
	)
	l.observe(configID, OutcomeMiss, "")
	return cfg, nil
}

func (l *Loader) observe(configID, outcome string, kind model.ConfigErrorKind) {
	if l.hook != nil {
		l.hook(configID, outcome, kind)
	}
}

func (l *Loader) fetchAndParse(ctx context.Context, configID string) (*model.ModalConfig, error) {
	raw, err := l.source.Fetch(ctx, configID)
	if errors.Is(err, ErrDocumentNotFound) {
		return nil, &model.ConfigError{Kind: model.ConfigNotFound, ConfigID: configID}
	}
	if err != nil {
		return nil, &model.ConfigError{Kind: model.ConfigNotFound, ConfigID: configID, Reason: "source unavailable", Err: err}
	}

	l.parses.Add(1)
	return Parse(configID, raw, l.constraint)
}

// Invalidate drops the cached config for configID.
func (l *Loader) Invalidate(configID string) {
	l.mu.Lock()
	delete(l.cache, configID)
	l.gen++
	l.mu.Unlock()
	l.logger.Debug("modal cache invalidate", zap.String("config_id", configID))
}

// ResetCache drops every cached config.
func (l *Loader) ResetCache() {
	l.mu.Lock()
	l.cache = make(map[string]*model.ModalConfig)
	l.gen++
	l.mu.Unlock()
	l.logger.Debug("modal cache reset")
}

// Cached returns the number of cached configs.
func (l *Loader) Cached() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}

// ParseCount returns how many documents the loader has parsed.
func (l *Loader) ParseCount() int64 {
	return l.parses.Load()
}

// Parse runs the full pipeline on a raw document: JSON syntax, schema,
// typed decode, semantic checks, version gate, and canonical checksum.
// constraint may be nil.
func Parse(configID string, raw []byte, constraint *semver.Constraints) (*model.ModalConfig, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &model.ConfigError{Kind: model.ConfigParseError, ConfigID: configID, Err: err}
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, &model.ConfigError{Kind: model.ConfigSchemaError, ConfigID: configID, Reason: "schema unavailable", Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &model.ConfigError{Kind: model.ConfigSchemaError, ConfigID: configID, Err: err}
	}

	var cfg model.ModalConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, &model.ConfigError{Kind: model.ConfigSchemaError, ConfigID: configID, Err: err}
	}

	if problems := check(configID, &cfg); len(problems) > 0 {
		return nil, &model.ConfigError{
			Kind:     model.ConfigSchemaError,
			ConfigID: configID,
			Reason:   strings.Join(problems, "; "),
		}
	}

	if cfg.Version != "" && constraint != nil {
		v, err := semver.NewVersion(cfg.Version)
		if err != nil {
			return nil, &model.ConfigError{Kind: model.ConfigSchemaError, ConfigID: configID, Reason: "invalid version", Err: err}
		}
		if !constraint.Check(v) {
			return nil, &model.ConfigError{
				Kind:     model.ConfigSchemaError,
				ConfigID: configID,
				Reason:   fmt.Sprintf("version %s does not satisfy %s", v, constraint),
			}
		}
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, &model.ConfigError{Kind: model.ConfigParseError, ConfigID: configID, Reason: "canonicalization failed", Err: err}
	}
	cfg.Checksum = fmt.Sprintf("%x", sha256.Sum256(canonical))

	return &cfg, nil
}

// check applies the rules the schema cannot express.
func check(configID string, cfg *model.ModalConfig) []string {
	var problems []string

	if cfg.ID != configID {
		problems = append(problems, fmt.Sprintf("id %q does not match requested %q", cfg.ID, configID))
	}
	if cfg.PrimaryButton == nil {
		problems = append(problems, "primaryButton is required")
	}

	sectionIDs := make(map[string]bool, len(cfg.Sections))
	for i := range cfg.Sections {
		s := &cfg.Sections[i]
		if sectionIDs[s.ID] {
			problems = append(problems, fmt.Sprintf("sections[%d]: duplicate id %q", i, s.ID))
		}
		sectionIDs[s.ID] = true
		if s.Layout == "" {
			s.Layout = model.LayoutVertical
		}
		if s.Background == "" {
			s.Background = model.BackgroundNone
		}

		fieldIDs := make(map[string]bool, len(s.Fields))
		for j := range s.Fields {
			f := &s.Fields[j]
			path := fmt.Sprintf("sections[%d].fields[%d]", i, j)
			if fieldIDs[f.ID] {
				problems = append(problems, fmt.Sprintf("%s: duplicate id %q", path, f.ID))
			}
			fieldIDs[f.ID] = true

			if f.Type != model.FieldDivider && f.ContextKey == "" {
				problems = append(problems, fmt.Sprintf("%s: contextKey is required for %s fields", path, f.Type))
			}
			if _, err := model.ParseFormatRule(f.Format); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", path, err))
			}
			if len(f.ColorMapping) > 0 {
				lowered := make(map[string]string, len(f.ColorMapping))
				for k, v := range f.ColorMapping {
					lowered[strings.ToLower(k)] = v
				}
				f.ColorMapping = lowered
			}
		}
	}

	buttons := []struct {
		name string
		b    *model.ButtonConfig
	}{{"primaryButton", cfg.PrimaryButton}, {"secondaryButton", cfg.SecondaryButton}}
	for _, btn := range buttons {
		name, b := btn.name, btn.b
		if b == nil {
			continue
		}
		if b.Style == "" {
			b.Style = model.ButtonPrimary
			if name == "secondaryButton" {
				b.Style = model.ButtonSecondary
			}
		}
		switch {
		case b.Action.Kind == model.ButtonSubmit:
			if _, err := model.ParseServiceCall(b.Action.ServiceCall); err != nil {
				problems = append(problems, fmt.Sprintf("%s.action: %v", name, err))
			}
		case b.Action.Kind.NeedsContextKey() && b.Action.ContextKey == "":
			problems = append(problems, fmt.Sprintf("%s.action: contextKey is required for %s", name, b.Action.Kind))
		}
	}

	return problems
}
