// Package outbound delivers replies: it splits them into bounded chunks,
// remembers what it sent so echoes of its own output can be ignored, prints
// each chunk on the reply channel and optionally mirrors it as a paced
// slash command.
package outbound

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/bdobrica/nunu/internal/nunu/channel"
)

// Defaults.
const (
	DefaultMaxChunk       = 440
	DefaultBroadcastDelay = 350 * time.Millisecond
	DefaultEchoTTL        = 3 * time.Second
	DefaultQueueSize      = 64
)

// Config configures a Dispatcher.
type Config struct {
	// Kind is the reply channel; it selects the broadcast command prefix.
	Kind        channel.Kind
	TellTarget  string
	DisplayName string

	// MaxChunk is the maximum chunk length in runes.
	MaxChunk int

	// Broadcast mirrors every chunk as "<prefix> <chunk>" through the
	// sink's Broadcast, spaced by BroadcastDelay.
	Broadcast      bool
	BroadcastDelay time.Duration

	// EchoTTL is how long a sent chunk is recognised as our own echo.
	EchoTTL time.Duration

	// QueueSize bounds pending broadcasts; further chunks are dropped.
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.Kind == "" {
		c.Kind = channel.KindParty
	}
	if c.MaxChunk <= 0 {
		c.MaxChunk = DefaultMaxChunk
	}
	if c.BroadcastDelay <= 0 {
		c.BroadcastDelay = DefaultBroadcastDelay
	}
	if c.EchoTTL <= 0 {
		c.EchoTTL = DefaultEchoTTL
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// Dispatcher is safe for concurrent use. Close stops the broadcast worker.
type Dispatcher struct {
	cfg  Config
	sink channel.Sink
	now  func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time // chunk -> expiry

	queue   chan broadcast
	limiter *rate.Limiter

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// broadcast is one queued mirror of a printed chunk.
type broadcast struct {
	cmd   string
	chunk string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the clock used for echo expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New returns a Dispatcher writing to sink. When cfg.Broadcast is set a
// background worker is started; call Close to stop it.
func New(sink channel.Sink, cfg Config, opts ...Option) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		now:  time.Now,
		sent: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(d)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	if cfg.Broadcast {
		d.queue = make(chan broadcast, cfg.QueueSize)
		d.limiter = rate.NewLimiter(rate.Every(cfg.BroadcastDelay), 1)
		d.wg.Add(1)
		go d.broadcastLoop(ctx)
	}
	d.wg.Add(1)
	go d.sweepLoop(ctx)
	return d
}

// Close stops the background goroutines. Pending broadcasts are dropped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
	})
}

// Send chunks text and delivers each chunk in order. It returns the number
// of chunks printed; on a print error the remaining chunks are not sent.
func (d *Dispatcher) Send(ctx context.Context, text string) (int, error) {
	chunks := Chunk(strings.TrimSpace(text), d.cfg.MaxChunk)
	prefix := d.cfg.Kind.CommandPrefix(d.cfg.TellTarget)
	for i, chunk := range chunks {
		d.remember(chunk)
		if err := d.sink.Print(ctx, channel.Outbound{
			Kind:        d.cfg.Kind,
			DisplayName: d.cfg.DisplayName,
			Text:        chunk,
		}); err != nil {
			return i, err
		}
		if d.queue != nil {
			d.enqueue(broadcast{cmd: prefix + " " + chunk, chunk: chunk})
		}
	}
	return len(chunks), nil
}

// Notice prints a short status line (busy, error) on the reply channel
// without broadcasting it.
func (d *Dispatcher) Notice(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	d.remember(text)
	return d.sink.Print(ctx, channel.Outbound{
		Kind:        d.cfg.Kind,
		DisplayName: d.cfg.DisplayName,
		Text:        text,
	})
}

// IsEcho reports whether text is one of our own chunks sent within the
// echo TTL. Expired entries found along the way are dropped.
func (d *Dispatcher) IsEcho(text string) bool {
	key := strings.TrimSpace(text)
	if key == "" {
		return false
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.sent[key]
	if !ok {
		return false
	}
	if !now.Before(exp) {
		delete(d.sent, key)
		return false
	}
	return true
}

// Sweep removes every expired entry and returns how many were removed.
func (d *Dispatcher) Sweep() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for k, exp := range d.sent {
		if !now.Before(exp) {
			delete(d.sent, k)
			n++
		}
	}
	return n
}

// Pending returns the number of remembered chunks, expired or not.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *Dispatcher) remember(chunk string) {
	key := strings.TrimSpace(chunk)
	if key == "" {
		return
	}
	d.mu.Lock()
	d.sent[key] = d.now().Add(d.cfg.EchoTTL)
	d.mu.Unlock()
}

func (d *Dispatcher) enqueue(b broadcast) {
	select {
	case d.queue <- b:
	default:
		slog.Warn("broadcast queue full; dropping chunk", "len", utf8.RuneCountInString(b.cmd))
	}
}

func (d *Dispatcher) broadcastLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			// The host echoes the mirrored line when it goes out, which
			// can be well after the chunk was printed.
			d.remember(b.chunk)
			if err := d.sink.Broadcast(ctx, b.cmd); err != nil {
				slog.Warn("broadcast failed", "err", err)
			}
		}
	}
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	t := time.NewTicker(d.cfg.EchoTTL)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.Sweep()
		}
	}
}

// Chunk splits s into pieces of at most limit runes. It never splits a rune
// and returns nil for an empty string.
func Chunk(s string, limit int) []string {
	if s == "" {
		return nil
	}
	if limit <= 0 {
		return []string{s}
	}
	var out []string
	for s != "" {
		i, n := 0, 0
		for i < len(s) && n < limit {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
			n++
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	return out
}
