package orchestration

import (
	"fmt"
	"sync"
)

// Registry holds capabilities in registration order.
type Registry struct {
	mu    sync.RWMutex
	caps  []Capability
	index map[string]int
}

func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(c Capability) error {
	if c == nil {
		return fmt.Errorf("%w: nil capability", ErrConfiguration)
	}
	id := c.ID()
	if id == "" {
		return fmt.Errorf("%w: capability %q has an empty id", ErrConfiguration, c.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[id]; exists {
		return fmt.Errorf("%w: duplicate capability id %q", ErrConfiguration, id)
	}
	r.index[id] = len(r.caps)
	r.caps = append(r.caps, c)
	return nil
}

func (r *Registry) Get(id string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.caps[i], true
}

// List returns a copy, so later registrations do not affect a running scan.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, len(r.caps))
	copy(out, r.caps)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

func (r *Registry) Describe() []CapabilityInfo {
	caps := r.List()
	out := make([]CapabilityInfo, 0, len(caps))
	for _, c := range caps {
		out = append(out, Describe(c))
	}
	return out
}
