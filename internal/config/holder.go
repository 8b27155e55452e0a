package config

import "sync"

// Holder provides thread-safe read/update access to the current Config.
// The control context calls Update after a successful reload; the worker
// (and the RPC surface) call Config to get a value-type snapshot — no lock
// is held across a sync cycle. Grounded on the teacher's internal/config/holder.go,
// and directly implements spec §5's "adMonitor.config is read by the RPC
// surface without locking (value-type copy on write from the worker)".
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder creates a Holder with an initial config and its source path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Config returns the current configuration. The returned pointer must be
// treated as read-only by the caller — Update always installs a brand new
// *Config rather than mutating the one in place.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path this Holder was loaded from.
func (h *Holder) Path() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.path
}

// Update atomically replaces the held configuration.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}
