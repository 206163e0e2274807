package breaker

import "sync"

// Registry holds one Breaker per named downstream. Session construction
// pre-registers breakers for the four standing
// downstreams (llm_service, database, external_api, cache_service); judge
// adapters may register additional named breakers of their own (e.g. one
// per judge ID) via GetOrCreate.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry constructs a Registry and pre-registers the four standing
// downstreams using cfg as their shared configuration template.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
	for _, name := range []string{"llm_service", "database", "external_api", "cache_service"} {
		r.breakers[name] = New(name, cfg)
	}
	return r
}

// Get returns the named breaker, or nil if it was never registered.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// GetOrCreate returns the named breaker, creating one with the registry's
// default config on first use — the path judge-scoped breakers take.
func (r *Registry) GetOrCreate(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, r.cfg)
	r.breakers[name] = b
	return b
}

// Snapshot returns a stats snapshot for every registered breaker, keyed by
// name, for the Health & Metrics component (C12).
func (r *Registry) Snapshot() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Stats()
	}
	return out
}
