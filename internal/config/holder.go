package config

import "sync"

// Holder carries the active configuration at the composition root. Core packages never read it;
// they receive explicit config values through their constructors.
type Holder struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewHolder returns a holder for cfg.
func NewHolder(cfg *Config) *Holder {
	return &Holder{cfg: cfg}
}

// Get returns the active config.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// With makes tmp the active config for the duration of fn. The previous config is restored on
// every exit path, including a panic in fn.
func (h *Holder) With(tmp *Config, fn func(*Config) error) error {
	h.mu.Lock()
	prev := h.cfg
	h.cfg = tmp
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.cfg = prev
		h.mu.Unlock()
	}()
	return fn(tmp)
}
