// Package conversation keeps the role-tagged history handed to the
// completion provider and serialises completion calls through a single-slot
// gate.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/bdobrica/nunu/internal/nunu/llm"
)

var (
	// ErrBusy is returned by Send while another completion is in flight.
	ErrBusy = errors.New("conversation: a completion is already in flight")

	// ErrNoProvider is returned by Send when no provider is configured.
	ErrNoProvider = errors.New("conversation: no completion provider")
)

// ErrorPrefix marks synthetic assistant turns recorded for failed calls.
const ErrorPrefix = "[error] "

// DefaultMaxHistoryPairs is used when Config.MaxHistoryPairs is not positive.
const DefaultMaxHistoryPairs = 8

// Config holds the generation parameters sent with every request.
type Config struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	MaxHistoryPairs int
}

// Context is one conversation. The system turn, when present, is always at
// index 0 and never counts toward the history bound.
type Context struct {
	cfg  Config
	gate *semaphore.Weighted

	inFlight atomic.Bool

	mu       sync.Mutex
	provider llm.Provider
	turns    []llm.Message
}

// New returns an empty conversation using provider.
func New(provider llm.Provider, cfg Config) *Context {
	if cfg.MaxHistoryPairs <= 0 {
		cfg.MaxHistoryPairs = DefaultMaxHistoryPairs
	}
	return &Context{
		cfg:      cfg,
		gate:     semaphore.NewWeighted(1),
		provider: provider,
	}
}

// SetProvider swaps the provider used by subsequent Send calls.
func (c *Context) SetProvider(p llm.Provider) {
	c.mu.Lock()
	c.provider = p
	c.mu.Unlock()
}

// EnsureSystem inserts a system turn at the front unless one already
// exists. It reports whether a turn was inserted.
func (c *Context) EnsureSystem(prompt string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSystemLocked() {
		return false
	}
	c.turns = append([]llm.Message{{Role: llm.RoleSystem, Content: prompt}}, c.turns...)
	return true
}

// SetSystem replaces the system turn, inserting it if absent. Used when the
// persona is reloaded.
func (c *Context) SetSystem(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSystemLocked() {
		c.turns[0].Content = prompt
		return
	}
	c.turns = append([]llm.Message{{Role: llm.RoleSystem, Content: prompt}}, c.turns...)
}

// Reset drops the whole history. A non-empty system prompt is re-inserted.
func (c *Context) Reset(system string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
	if strings.TrimSpace(system) != "" {
		c.turns = []llm.Message{{Role: llm.RoleSystem, Content: system}}
	}
}

// History returns a copy of all stored turns.
func (c *Context) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// Busy reports whether a completion is currently in flight.
func (c *Context) Busy() bool { return c.inFlight.Load() }

// Send asks the provider to answer userText.
//
// The request carries the system turn plus the last 2*MaxHistoryPairs
// non-system turns, ending with the new user turn. Only a successful call
// commits anything: the user and assistant turns are appended together. On
// error or cancellation the history is left untouched. A second call while
// one is in flight returns ErrBusy immediately.
func (c *Context) Send(ctx context.Context, userText string) (string, error) {
	if !c.gate.TryAcquire(1) {
		return "", ErrBusy
	}
	c.inFlight.Store(true)
	defer func() {
		c.inFlight.Store(false)
		c.gate.Release(1)
	}()

	user := llm.Message{Role: llm.RoleUser, Content: userText}

	c.mu.Lock()
	provider := c.provider
	view := c.viewLocked(user)
	c.mu.Unlock()

	if provider == nil {
		return "", ErrNoProvider
	}

	reply, err := provider.Complete(ctx, llm.Request{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages:    view,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.turns = append(c.turns, user, llm.Message{Role: llm.RoleAssistant, Content: reply})
	c.trimLocked()
	c.mu.Unlock()
	return reply, nil
}

// RecordFailure appends the user turn and a synthetic "[error] ..."
// assistant turn so the failure is visible in the transcript.
func (c *Context) RecordFailure(userText string, cause error) {
	msg := "request failed"
	if cause != nil {
		msg = cause.Error()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns,
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: ErrorPrefix + msg},
	)
	c.trimLocked()
}

func (c *Context) hasSystemLocked() bool {
	return len(c.turns) > 0 && c.turns[0].Role == llm.RoleSystem
}

// viewLocked builds the request messages with next appended.
func (c *Context) viewLocked(next llm.Message) []llm.Message {
	limit := 2 * c.cfg.MaxHistoryPairs
	var system []llm.Message
	rest := c.turns
	if c.hasSystemLocked() {
		system, rest = c.turns[:1], c.turns[1:]
	}
	rest = append(rest[:len(rest):len(rest)], next)
	if len(rest) > limit {
		rest = rest[len(rest)-limit:]
	}
	view := make([]llm.Message, 0, len(system)+len(rest))
	view = append(view, system...)
	return append(view, rest...)
}

// trimLocked drops the oldest non-system turns beyond the bound.
func (c *Context) trimLocked() {
	limit := 2 * c.cfg.MaxHistoryPairs
	start := 0
	if c.hasSystemLocked() {
		start = 1
	}
	if excess := len(c.turns) - start - limit; excess > 0 {
		c.turns = append(c.turns[:start], c.turns[start+excess:]...)
	}
}
