// Package capability works out what the calling user may do: which product
// tiers they hold and which services they may call.
package capability

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/triage/model"
)

type cached struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver, memoising a Policy per
// subject for a fixed TTL.
type Resolver struct {
	policy     model.Policy
	ttl        time.Duration
	maxEntries int
	logger     *zap.Logger
	onLookup   func(hit bool)
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]cached
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMaxEntries bounds the number of cached subjects. A full cache first
// sheds expired entries and is emptied if that is not enough.
func WithMaxEntries(n int) ResolverOption {
	return func(r *Resolver) { r.maxEntries = n }
}

// WithCacheObserver is told whether each cached lookup hit.
func WithCacheObserver(fn func(hit bool)) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.onLookup = fn
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver caches policy results for ttl. A non-positive ttl disables the
// cache.
func NewResolver(policy model.Policy, ttl time.Duration, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		policy:   policy,
		ttl:      ttl,
		logger:   zap.NewNop(),
		onLookup: func(bool) {},
		now:      time.Now,
		entries:  map[string]cached{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the caller's capabilities. Policy errors are not cached.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	if rctx == nil || r.ttl <= 0 {
		return r.policy.Grants(rctx)
	}

	now := r.now()
	r.mu.Lock()
	e, ok := r.entries[rctx.SubjectID]
	r.mu.Unlock()
	if ok && now.Before(e.expires) {
		r.onLookup(true)
		return e.caps, nil
	}
	r.onLookup(false)

	caps, err := r.policy.Grants(rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxEntries > 0 && len(r.entries) >= r.maxEntries {
		r.shed(now)
	}
	r.entries[rctx.SubjectID] = cached{caps: caps, expires: now.Add(r.ttl)}
	return caps, nil
}

// shed drops expired entries, then everything if still full. r.mu is held.
func (r *Resolver) shed(now time.Time) {
	for k, e := range r.entries {
		if !now.Before(e.expires) {
			delete(r.entries, k)
		}
	}
	if len(r.entries) >= r.maxEntries {
		r.logger.Debug("capability cache full, flushing", zap.Int("entries", len(r.entries)))
		clear(r.entries)
	}
}

// Flush forgets every cached subject, typically after the policy reloads.
func (r *Resolver) Flush() {
	r.mu.Lock()
	clear(r.entries)
	r.mu.Unlock()
}

// Len returns the number of cached subjects.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
