package model

import "strings"

// CapabilitySet holds the capabilities granted to a caller, such as
// "tier:premium" or "services:calendar:add". A key ending in ":*" grants
// everything beneath that prefix and "*" grants everything.
type CapabilitySet map[string]bool

// Has reports whether the set grants capability, directly or through a
// wildcard.
func (cs CapabilitySet) Has(capability string) bool {
	if cs[capability] || cs["*"] {
		return true
	}
	for i := strings.LastIndexByte(capability, ':'); i > 0; i = strings.LastIndexByte(capability[:i], ':') {
		if cs[capability[:i]+":*"] {
			return true
		}
	}
	return false
}

// Allows reports whether the set unlocks the tier p. The free tier needs
// nothing.
func (cs CapabilitySet) Allows(p Permission) bool {
	need := p.Capability()
	return need == "" || cs.Has(need)
}

// CapabilityResolver produces the capability set of the caller.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)
}

// Policy computes grants from a caller's roles and claims without caching.
type Policy interface {
	Grants(rctx *RequestContext) (CapabilitySet, error)
}
