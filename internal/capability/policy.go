package capability

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/triage/model"
)

// TierClaim is the token claim naming the caller's product tier.
const TierClaim = "tier"

// policyDocument is the on-disk shape of a policy file.
type policyDocument struct {
	Default []string            `yaml:"default"`
	Roles   map[string][]string `yaml:"roles"`
}

// FilePolicy grants capabilities from a YAML document: the default list to
// everyone, each role's list to its holders, and "tier:<claim>" when the
// token carries a recognised tier claim.
type FilePolicy struct {
	path string

	mu  sync.RWMutex
	doc policyDocument
}

// NewFilePolicy reads the policy at path. An empty path grants tier claims
// only.
func NewFilePolicy(path string) (*FilePolicy, error) {
	p := &FilePolicy{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Grants implements model.Policy. A nil caller receives the defaults.
func (p *FilePolicy) Grants(rctx *model.RequestContext) (model.CapabilitySet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := model.CapabilitySet{}
	grant := func(caps []string) {
		for _, c := range caps {
			set[c] = true
		}
	}
	grant(p.doc.Default)
	if rctx == nil {
		return set, nil
	}
	for _, role := range rctx.Roles {
		grant(p.doc.Roles[role])
	}

	if claim, ok := rctx.ClaimString(TierClaim); ok {
		var tier model.Permission
		if tier.UnmarshalText([]byte(claim)) == nil && tier.Capability() != "" {
			set[tier.Capability()] = true
		}
	}
	return set, nil
}

// Reload rereads the policy file. The previous document stays in force when
// reading or parsing fails.
func (p *FilePolicy) Reload() error {
	if p.path == "" {
		return nil
	}
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("capability: %w", err)
	}
	var doc policyDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("capability: %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return nil
}
