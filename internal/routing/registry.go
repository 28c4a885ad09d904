package routing

import (
	"sort"
	"strings"
	"sync"
)

// Key identifies one scoreboard: a model set as seen by a tenant's agent
type Key struct {
	TenantID string
	AgentID  string
	ModelSet string
}

func (k Key) String() string {
	return strings.Join([]string{k.TenantID, k.AgentID, k.ModelSet}, ":")
}

// Registry owns the scoreboards of a gateway instance. Scoreboards are
// created on first use and live until the registry is dropped.
type Registry struct {
	mu     sync.RWMutex
	boards map[Key]*Scoreboard
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{boards: make(map[Key]*Scoreboard)}
}

// Get returns the scoreboard for key, creating it from models if needed.
// models is only read on creation.
func (r *Registry) Get(key Key, models []string) *Scoreboard {
	r.mu.RLock()
	sb, ok := r.boards[key]
	r.mu.RUnlock()
	if ok {
		return sb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sb, ok := r.boards[key]; ok {
		return sb
	}
	sb = NewScoreboard(models)
	r.boards[key] = sb
	return sb
}

// Lookup returns an existing scoreboard
func (r *Registry) Lookup(key Key) (*Scoreboard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sb, ok := r.boards[key]
	return sb, ok
}

// Keys lists registered keys sorted by their string form
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.boards))
	for k := range r.boards {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// RemoveTenant drops every scoreboard of a tenant
func (r *Registry) RemoveTenant(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.boards {
		if k.TenantID == tenantID {
			delete(r.boards, k)
			n++
		}
	}
	return n
}
