package ratelimit_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/nunu/internal/nunu/ratelimit"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestLimiter_FreshAllowsReply(t *testing.T) {
	rl := ratelimit.New(ratelimit.Config{Cooldown: 3 * time.Second, MaxPerMinute: 12})
	if !rl.CanReplyNow("Aria", t0) {
		t.Fatal("fresh limiter should allow a reply")
	}
}

func TestLimiter_CooldownBoundary(t *testing.T) {
	rl := ratelimit.New(ratelimit.Config{Cooldown: 3000 * time.Millisecond, MaxPerMinute: 12})
	rl.MarkReply("Aria", at(0))

	if rl.CanReplyNow("Aria", at(2999)) {
		t.Error("reply at 2999ms should be blocked by cooldown")
	}
	if !rl.CanReplyNow("Aria", at(3000)) {
		t.Error("reply at 3000ms should be allowed")
	}
}

func TestLimiter_PerMinuteCap(t *testing.T) {
	rl := ratelimit.New(ratelimit.Config{MaxPerMinute: 12})
	for i := range 12 {
		now := at(i * 4000)
		if !rl.CanReplyNow("Aria", now) {
			t.Fatalf("reply %d should be allowed", i+1)
		}
		rl.MarkReply("Aria", now)
	}
	if rl.CanReplyNow("Aria", at(50_000)) {
		t.Error("13th reply inside the window should be blocked")
	}
	if got := rl.Remaining("Aria", at(50_000)); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
	// The first reply (t=0) expires exactly one window later.
	if !rl.CanReplyNow("Aria", at(60_000)) {
		t.Error("reply should be allowed once the oldest entry leaves the window")
	}
}

func TestLimiter_CapDisabled(t *testing.T) {
	rl := ratelimit.New(ratelimit.Config{})
	for i := range 100 {
		if !rl.Allow("Aria", at(i)) {
			t.Fatalf("Allow %d returned false with no limits", i)
		}
	}
	if got := rl.Remaining("Aria", t0); got != -1 {
		t.Errorf("Remaining = %d, want -1 when the cap is disabled", got)
	}
}

func TestLimiter_GlobalScopeSharesHistory(t *testing.T) {
	rl := ratelimit.New(ratelimit.Config{Cooldown: time.Second})
	if rl.Scope() != ratelimit.ScopeGlobal {
		t.Fatalf("default scope = %q, want global", rl.Scope())
	}
	rl.MarkReply("Aria", t0)
	if rl.CanReplyNow("Bram", at(500)) {
		t.Error("global scope: Bram should share Aria's cooldown")
	}
}

func TestLimiter_SenderScopeIndependent(t *testing.T) {
	rl := ratelimit.New(ratelimit.Config{Cooldown: time.Second, MaxPerMinute: 1, Scope: ratelimit.ScopeSender})
	if !rl.Allow("Aria", t0) {
		t.Fatal("first Aria reply should be allowed")
	}
	if rl.Allow("aria", at(10)) {
		t.Error("sender keys should be case-insensitive")
	}
	if !rl.Allow("Bram", at(10)) {
		t.Error("Bram should not be limited by Aria's history")
	}
}

func TestLimiter_Sweep(t *testing.T) {
	rl := ratelimit.New(ratelimit.Config{Cooldown: time.Second, MaxPerMinute: 5, Scope: ratelimit.ScopeSender})
	rl.MarkReply("Aria", t0)
	rl.MarkReply("Bram", at(30_000))

	if got := rl.Sweep(at(61_000)); got != 1 {
		t.Errorf("Sweep removed %d, want 1", got)
	}
	if got := rl.Remaining("Bram", at(61_000)); got != 4 {
		t.Errorf("Bram remaining = %d, want 4", got)
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    ratelimit.Scope
		wantErr bool
	}{
		{"", ratelimit.ScopeGlobal, false},
		{"Global", ratelimit.ScopeGlobal, false},
		{"sender", ratelimit.ScopeSender, false},
		{"per-sender", ratelimit.ScopeSender, false},
		{"room", "", true},
	}
	for _, tc := range tests {
		got, err := ratelimit.ParseScope(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseScope(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseScope(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLimiter_ConcurrentAllow(t *testing.T) {
	const limit = 12
	rl := ratelimit.New(ratelimit.Config{MaxPerMinute: limit})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(fmt.Sprintf("s%d", i), t0) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != limit {
		t.Errorf("allowed = %d, want exactly %d", allowed, limit)
	}
}
