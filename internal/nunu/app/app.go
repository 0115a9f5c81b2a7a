// Package app wires Nunu's subsystems and implements the inbound pipeline:
// message received → echo/self filter → listen filters → remember → trigger
// → rate gate → compose (locally or via the completion provider) → dispatch.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/nunu/common/version"
	"github.com/bdobrica/nunu/internal/nunu/channel"
	"github.com/bdobrica/nunu/internal/nunu/compose"
	"github.com/bdobrica/nunu/internal/nunu/conversation"
	"github.com/bdobrica/nunu/internal/nunu/llm"
	"github.com/bdobrica/nunu/internal/nunu/memory"
	"github.com/bdobrica/nunu/internal/nunu/outbound"
	"github.com/bdobrica/nunu/internal/nunu/persona"
	"github.com/bdobrica/nunu/internal/nunu/ratelimit"
	"github.com/bdobrica/nunu/internal/nunu/store"
	"github.com/bdobrica/nunu/internal/nunu/trigger"
)

// App is the main Nunu application.
type App struct {
	cfg Config
	now func() time.Time

	memory     *memory.Store
	detector   *trigger.Detector
	limiter    *ratelimit.Limiter
	senderLim  *ratelimit.Limiter // nil when PerSenderCooldown is off
	gateMu     sync.Mutex
	personas   *persona.Holder
	composer   *compose.Composer
	conv       *conversation.Context
	dispatcher *outbound.Dispatcher
	db         *store.Store // nil when the turn log is disabled
	ownsDB     bool

	llmEnabled bool

	// runCtx outlives individual inbound callbacks; background completions
	// derive from it and are cancelled by Close.
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup // in-flight completions
	bg        sync.WaitGroup // sweep loop
	watcher   *persona.Watcher
	closeOnce sync.Once
}

// Option customises New, mostly for tests.
type Option func(*options)

type options struct {
	provider llm.Provider
	rng      compose.Rand
	now      func() time.Time
	db       *store.Store
}

// WithProvider injects the completion provider instead of building the
// OpenAI client from Config.LLM.
func WithProvider(p llm.Provider) Option { return func(o *options) { o.provider = p } }

// WithRand pins the composer's random source.
func WithRand(r compose.Rand) Option { return func(o *options) { o.rng = r } }

// WithClock replaces time.Now for the memory and rate gates.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithStore uses an already open turn log. The caller keeps ownership.
func WithStore(s *store.Store) Option { return func(o *options) { o.db = s } }

// New creates and initialises all subsystems writing to sink. It does not
// start the persona watcher; call Start for that.
func New(cfg Config, sink channel.Sink, opts ...Option) (*App, error) {
	if sink == nil {
		return nil, errors.New("app: nil sink")
	}
	cfg.normalize()

	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	personas, err := persona.NewHolder(cfg.PersonaFile)
	if err != nil && !errors.Is(err, persona.ErrNoSource) {
		slog.Warn("persona unavailable; continuing with defaults", "err", err)
	}

	provider := o.provider
	if provider == nil && cfg.LLM.Enabled {
		provider = llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
	}

	a := &App{
		cfg:      cfg,
		now:      o.now,
		memory:   memory.NewStore(memory.WithCapacity(cfg.MemoryCapacity), memory.WithClock(o.now)),
		detector: trigger.New(trigger.Config{AllowedChannels: cfg.AllowedChannels, Callsign: cfg.Callsign, Anywhere: cfg.Triggers}),
		limiter: ratelimit.New(ratelimit.Config{
			Cooldown:     cfg.Cooldown,
			MaxPerMinute: cfg.MaxRepliesPerMinute,
			Scope:        cfg.RateScope,
		}),
		personas: personas,
		composer: compose.New(o.rng, compose.WithRecapItems(cfg.RecallK)),
		conv: conversation.New(provider, conversation.Config{
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			MaxTokens:       cfg.LLM.MaxTokens,
			MaxHistoryPairs: cfg.LLM.MaxHistory,
		}),
		dispatcher: outbound.New(sink, outbound.Config{
			Kind:           cfg.ReplyChannel,
			TellTarget:     cfg.TellTarget,
			DisplayName:    cfg.SelfName,
			MaxChunk:       cfg.ChunkLen,
			Broadcast:      cfg.Broadcast,
			BroadcastDelay: cfg.BroadcastDelay,
			EchoTTL:        cfg.EchoTTL,
		}, outbound.WithClock(o.now)),
		db:         o.db,
		llmEnabled: cfg.LLM.Enabled && provider != nil,
	}
	if cfg.PerSenderCooldown > 0 {
		a.senderLim = ratelimit.New(ratelimit.Config{Cooldown: cfg.PerSenderCooldown, Scope: ratelimit.ScopeSender})
	}
	if a.db == nil && cfg.DBPath != "" {
		db, err := store.New(cfg.DBPath)
		if err != nil {
			a.dispatcher.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.db, a.ownsDB = db, true
	}
	a.runCtx, a.cancelRun = context.WithCancel(context.Background())

	a.conv.EnsureSystem(a.systemPrompt(personas.Current()))
	a.recordPersona()
	return a, nil
}

// Start launches background work: the persona watcher (when auto-reload is
// on and a persona file is set) and the per-sender limiter sweep.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.PersonaAutoReload && a.cfg.PersonaFile != "" {
		w, err := a.personas.Watch(ctx, a.cfg.PersonaDebounce, func(p *persona.Profile, err error) {
			a.applyPersona(p)
		})
		if err != nil {
			slog.Warn("persona auto-reload disabled", "err", err)
		} else {
			a.watcher = w
		}
	}
	if a.senderLim != nil {
		a.bg.Add(1)
		go a.sweepLoop(ctx)
	}
	slog.Info("Nunu started",
		"version", version.Version,
		"persona", a.personas.Current().Name,
		"llm", a.llmEnabled,
		"reply_channel", a.cfg.ReplyChannel,
	)
	return nil
}

func (a *App) sweepLoop(ctx context.Context) {
	defer a.bg.Done()
	t := time.NewTicker(ratelimit.Window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.runCtx.Done():
			return
		case <-t.C:
			if n := a.senderLim.Sweep(a.now()); n > 0 {
				slog.Debug("sender cooldown sweep", "removed", n)
			}
		}
	}
}

// Close cancels in-flight completions, stops background goroutines and
// closes the turn log if New opened it.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.cancelRun()
		if a.watcher != nil {
			if err := a.watcher.Close(); err != nil {
				slog.Warn("close persona watcher", "err", err)
			}
		}
		a.wg.Wait()
		a.bg.Wait()
		a.dispatcher.Close()
		if a.ownsDB {
			a.db.Close()
		}
	})
}

// Wait blocks until every background completion has finished.
func (a *App) Wait() { a.wg.Wait() }

// ReloadPersona re-reads the persona file and refreshes the system prompt.
// A malformed file leaves the defaults in place and returns the warning.
func (a *App) ReloadPersona() (*persona.Profile, error) {
	p, err := a.personas.Reload()
	a.applyPersona(p)
	return p, err
}

func (a *App) applyPersona(p *persona.Profile) {
	a.conv.SetSystem(a.systemPrompt(p))
	a.recordPersona()
}

func (a *App) recordPersona() {
	if a.db == nil {
		return
	}
	p, hash := a.personas.Snapshot()
	if hash == "" {
		return
	}
	if err := a.db.SaveAppliedPersona(hash, p.Name); err != nil {
		slog.Warn("could not record applied persona", "err", err)
	}
}

func (a *App) systemPrompt(p *persona.Profile) string {
	return p.EffectivePrompt(a.cfg.LLM.SystemPrompt, a.cfg.LLM.PersonaOnTop)
}

// Persona returns the live persona snapshot.
func (a *App) Persona() *persona.Profile { return a.personas.Current() }

// Transcript returns the k most recent remembered messages.
func (a *App) Transcript(k int) []memory.Item { return a.memory.Recent(k) }

// History returns the conversation history sent to the completion provider.
func (a *App) History() []llm.Message { return a.conv.History() }

// ResetConversation clears the completion history, keeping the system turn.
func (a *App) ResetConversation() {
	a.conv.Reset(a.systemPrompt(a.personas.Current()))
}

// SetProvider swaps the completion provider. A nil provider disables
// delegation and replies come from the local decision table.
func (a *App) SetProvider(p llm.Provider) {
	a.conv.SetProvider(p)
	a.gateMu.Lock()
	a.llmEnabled = p != nil
	a.gateMu.Unlock()
}

func (a *App) useLLM() bool {
	a.gateMu.Lock()
	defer a.gateMu.Unlock()
	return a.llmEnabled
}
