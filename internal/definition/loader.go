// Package definition loads declarative action configs from YAML and JSON
// files, validates them, merges them with the built-in catalog, and serves
// them from a fast-lookup registry with atomic pointer swap.
package definition

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/triage/model"
)

// Diagnostic reports a file or action that was skipped during loading.
type Diagnostic struct {
	File     string   `json:"file"`
	Index    int      `json:"index"`
	ActionID string   `json:"action_id,omitempty"`
	Message  string   `json:"message"`
	Errors   []VError `json:"errors,omitempty"`
}

func (d Diagnostic) String() string {
	if d.ActionID != "" {
		return fmt.Sprintf("%s: action %q: %s", d.File, d.ActionID, d.Message)
	}
	if d.Index >= 0 {
		return fmt.Sprintf("%s: actions[%d]: %s", d.File, d.Index, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.File, d.Message)
}

// LoadResult is the outcome of scanning definition directories. Actions are
// valid declarative configs in discovery order; Checksums maps each file read
// to its sha256.
type LoadResult struct {
	Actions     []model.ActionConfig
	Diagnostics []Diagnostic
	Checksums   map[string]string
}

// Loader scans directories for action definition files. A malformed file or
// action is reported as a Diagnostic and skipped; loading never aborts.
type Loader struct {
	validator  *Validator
	constraint *semver.Constraints
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithVersionConstraint rejects documents whose version does not satisfy c.
// Documents without a version are accepted.
func WithVersionConstraint(c *semver.Constraints) LoaderOption {
	return func(l *Loader) { l.constraint = c }
}

// NewLoader creates a new definition Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{validator: NewValidator()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadAll recursively scans directories for *.yaml, *.yml and *.json files.
// Duplicate IDs keep the first definition found.
func (l *Loader) LoadAll(directories []string) LoadResult {
	res := LoadResult{Checksums: make(map[string]string)}
	seen := make(map[string]string)

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{File: path, Index: -1, Message: err.Error()})
				return nil
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" && ext != ".json" {
				return nil
			}

			actions, diags, checksum := l.LoadFile(path)
			res.Diagnostics = append(res.Diagnostics, diags...)
			if checksum != "" {
				res.Checksums[path] = checksum
			}
			for _, a := range actions {
				if first, dup := seen[a.ActionID]; dup {
					res.Diagnostics = append(res.Diagnostics, Diagnostic{
						File:     path,
						Index:    -1,
						ActionID: a.ActionID,
						Message:  "duplicate action id, already defined in " + first,
					})
					continue
				}
				seen[a.ActionID] = path
				res.Actions = append(res.Actions, a)
			}
			return nil
		})
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{File: dir, Index: -1, Message: err.Error()})
		}
	}

	return res
}

// LoadFile parses one definition file. Each action is decoded and validated
// on its own so one bad entry does not affect its neighbours.
func (l *Loader) LoadFile(path string) ([]model.ActionConfig, []Diagnostic, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []Diagnostic{{File: path, Index: -1, Message: fmt.Sprintf("reading: %v", err)}}, ""
	}
	checksum := fmt.Sprintf("%x", sha256.Sum256(data))

	var (
		version string
		decoded []decodedAction
		derr    error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		version, decoded, derr = decodeJSON(data)
	} else {
		version, decoded, derr = decodeYAML(data)
	}
	if derr != nil {
		return nil, []Diagnostic{{File: path, Index: -1, Message: fmt.Sprintf("parsing: %v", derr)}}, checksum
	}
	if err := l.checkVersion(version); err != nil {
		return nil, []Diagnostic{{File: path, Index: -1, Message: err.Error()}}, checksum
	}

	var (
		actions []model.ActionConfig
		diags   []Diagnostic
	)
	for i, d := range decoded {
		if d.err != nil {
			diags = append(diags, Diagnostic{File: path, Index: i, ActionID: d.id, Message: fmt.Sprintf("decoding: %v", d.err)})
			continue
		}
		if verrs := l.validator.ValidateAction(fmt.Sprintf("actions[%d]", i), d.cfg); len(verrs) > 0 {
			diags = append(diags, Diagnostic{File: path, Index: i, ActionID: d.cfg.ActionID, Message: "invalid action", Errors: verrs})
			continue
		}
		actions = append(actions, d.cfg)
	}
	return actions, diags, checksum
}

func (l *Loader) checkVersion(version string) error {
	if l.constraint == nil || version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid document version %q: %w", version, err)
	}
	if !l.constraint.Check(v) {
		return fmt.Errorf("document version %s does not satisfy %s", v, l.constraint)
	}
	return nil
}

type decodedAction struct {
	id  string
	cfg model.ActionConfig
	err error
}

func decodeYAML(data []byte) (string, []decodedAction, error) {
	var doc struct {
		Version string      `yaml:"version"`
		Actions []yaml.Node `yaml:"actions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", nil, err
	}
	out := make([]decodedAction, len(doc.Actions))
	for i := range doc.Actions {
		node := &doc.Actions[i]
		var probe struct {
			ID string `yaml:"id"`
		}
		_ = node.Decode(&probe)
		out[i].id = probe.ID
		out[i].err = node.Decode(&out[i].cfg)
	}
	return doc.Version, out, nil
}

func decodeJSON(data []byte) (string, []decodedAction, error) {
	var doc struct {
		Version string            `json:"version"`
		Actions []json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, err
	}
	out := make([]decodedAction, len(doc.Actions))
	for i, raw := range doc.Actions {
		var probe struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &probe)
		out[i].id = probe.ID

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		out[i].err = dec.Decode(&out[i].cfg)
	}
	return doc.Version, out, nil
}
