// Package ratelimit keeps Nunu from flooding a channel: a minimum gap
// between replies plus a sliding per-minute cap, tracked either for the whole
// bot or separately for each sender.
package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCooldown is the minimum gap between two replies.
	DefaultCooldown = 3 * time.Second

	// DefaultMaxPerMinute caps replies inside the sliding window.
	DefaultMaxPerMinute = 12

	// Window is the sliding window the per-minute cap applies to.
	Window = time.Minute
)

// Scope selects how reply history is keyed.
type Scope string

const (
	// ScopeGlobal shares one history across all senders.
	ScopeGlobal Scope = "global"
	// ScopeSender keeps a separate history per sender key.
	ScopeSender Scope = "sender"
)

// ParseScope accepts "global", "sender" or "per-sender" (any case).
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "global":
		return ScopeGlobal, nil
	case "sender", "per-sender", "per_sender":
		return ScopeSender, nil
	}
	return "", fmt.Errorf("unknown rate limit scope %q", s)
}

// Config configures a Limiter.
type Config struct {
	// Cooldown is the minimum gap between replies. Zero disables it.
	Cooldown time.Duration
	// MaxPerMinute caps replies per Window. Zero or less disables the cap.
	MaxPerMinute int
	Scope        Scope
}

type state struct {
	lastReplyAt time.Time
	hasReplied  bool
	recent      []time.Time // ascending
}

// Limiter enforces Config. Both the cooldown and the cap must allow a reply.
//
// Limiter is safe for concurrent use from multiple goroutines.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*state
}

// New returns a Limiter for cfg. An empty Scope means ScopeGlobal.
func New(cfg Config) *Limiter {
	if cfg.Scope == "" {
		cfg.Scope = ScopeGlobal
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	return &Limiter{cfg: cfg, states: make(map[string]*state)}
}

// Scope reports the limiter's scope.
func (l *Limiter) Scope() Scope { return l.cfg.Scope }

func (l *Limiter) key(sender string) string {
	if l.cfg.Scope == ScopeSender {
		return strings.ToLower(strings.TrimSpace(sender))
	}
	return ""
}

// CanReplyNow reports whether a reply to sender is allowed at now. It prunes
// expired window entries but records nothing.
func (l *Limiter) CanReplyNow(sender string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canReplyLocked(l.key(sender), now)
}

// MarkReply records a reply to sender at now.
func (l *Limiter) MarkReply(sender string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markLocked(l.key(sender), now)
}

// Allow is CanReplyNow followed by MarkReply under one lock.
//
//	if !limiter.Allow(msg.Sender, time.Now()) {
//	    return // suppressed; the message is still remembered
//	}
func (l *Limiter) Allow(sender string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.key(sender)
	if !l.canReplyLocked(key, now) {
		return false
	}
	l.markLocked(key, now)
	return true
}

// Remaining reports how many replies the per-minute cap still allows at now.
// It returns -1 when the cap is disabled.
func (l *Limiter) Remaining(sender string, now time.Time) int {
	if l.cfg.MaxPerMinute <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.states[l.key(sender)]
	if st == nil {
		return l.cfg.MaxPerMinute
	}
	prune(st, now)
	return max(l.cfg.MaxPerMinute-len(st.recent), 0)
}

func (l *Limiter) canReplyLocked(key string, now time.Time) bool {
	st := l.states[key]
	if st == nil {
		return true
	}
	if st.hasReplied && now.Sub(st.lastReplyAt) < l.cfg.Cooldown {
		return false
	}
	prune(st, now)
	if l.cfg.MaxPerMinute > 0 && len(st.recent) >= l.cfg.MaxPerMinute {
		return false
	}
	return true
}

func (l *Limiter) markLocked(key string, now time.Time) {
	st := l.states[key]
	if st == nil {
		st = &state{}
		l.states[key] = st
	}
	st.lastReplyAt = now
	st.hasReplied = true
	st.recent = append(st.recent, now)
}

// prune drops entries older than Window before now. An entry exactly Window
// old has expired.
func prune(st *state, now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(st.recent) && !st.recent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.recent = append(st.recent[:0], st.recent[i:]...)
	}
}

// Sweep forgets senders whose history has fully expired at now, so a
// per-sender limiter does not grow with every passer-by. It returns the
// number of entries removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, st := range l.states {
		prune(st, now)
		if len(st.recent) == 0 && now.Sub(st.lastReplyAt) >= l.cfg.Cooldown {
			delete(l.states, k)
			removed++
		}
	}
	return removed
}
