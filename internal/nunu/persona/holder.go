package persona

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Holder publishes the current Profile. Readers call Current and get a
// complete snapshot without locking; Reload and Set swap the pointer.
type Holder struct {
	path    string
	current atomic.Pointer[applied]

	reloadMu sync.Mutex
}

// applied pairs a profile with the hash of the document it came from so
// both are published in one swap.
type applied struct {
	profile *Profile
	hash    string
}

// NewHolder loads the persona at path (empty means defaults only) and
// returns a Holder serving it. The error is the load warning, if any; the
// Holder is always usable.
func NewHolder(path string) (*Holder, error) {
	h := &Holder{path: path}
	_, err := h.Reload()
	return h, err
}

// Path returns the persona source path.
func (h *Holder) Path() string { return h.path }

// Current returns the live snapshot. Never nil.
func (h *Holder) Current() *Profile {
	p, _ := h.Snapshot()
	return p
}

// Snapshot returns the live profile together with its document hash, taken
// from the same publication.
func (h *Holder) Snapshot() (*Profile, string) {
	if a := h.current.Load(); a != nil {
		return a.profile, a.hash
	}
	return Default(), ""
}

// Hash returns the short content hash of the applied document, or "" when
// running on defaults.
func (h *Holder) Hash() string {
	_, hash := h.Snapshot()
	return hash
}

// Set publishes p directly. A nil p publishes the defaults.
func (h *Holder) Set(p *Profile) {
	if p == nil {
		p = Default()
	}
	h.current.Store(&applied{profile: p})
}

// Reload re-reads the source and publishes the result. A malformed or
// missing source publishes the defaults and returns the warning.
func (h *Holder) Reload() (*Profile, error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	p, hash, err := load(h.path)
	h.current.Store(&applied{profile: p, hash: hash})

	switch {
	case err == nil:
		slog.Info("persona applied", "name", p.Name, "hash", hash)
	case h.path == "":
		slog.Debug("no persona file configured; using defaults")
	default:
		slog.Warn("persona load failed; using defaults", "path", h.path, "err", err)
	}
	return p, err
}
