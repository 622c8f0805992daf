package liveness

import "sync"

// Registry owns one State per subject key so evidence never leaks between
// subjects. The caller decides what a key is (track ID, identity label, ...).
type Registry struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*State
}

// NewRegistry returns an empty registry whose states use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, states: make(map[string]*State)}
}

// Get returns the state for key, creating it on first use.
func (r *Registry) Get(key string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[key]
	if !ok {
		s = New(r.cfg)
		r.states[key] = s
	}
	return s
}

// Reset starts a new session for key if it exists.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	s, ok := r.states[key]
	r.mu.Unlock()
	if ok {
		s.Reset()
	}
}

// Forget drops the state for key.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, key)
}

// Len returns the number of tracked subjects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
