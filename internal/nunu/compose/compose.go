// Package compose assembles Nunu's replies: an opener, a core answer, a
// short recap of recalled memories and a closing flourish, with the
// persona's vocabulary table applied once to the finished text.
package compose

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bdobrica/nunu/internal/nunu/memory"
	"github.com/bdobrica/nunu/internal/nunu/persona"
)

// Rand is the random source used for every pick. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// Canned lines of the local decision table.
const (
	LineGratitude = "Gratitude received; the strings hum warmer for it."
	LineWhere     = "Follow the aetheryte's glow. When lost, open your map and seek the nearest crystal; every road in Eorzea bends back to one."
	LineHelp      = "Ask me of lore, of roads, of songs. Call my name first, then your question, and I'll pluck an answer from the strings."
	LineOpen      = "Speak on, and I'll weave it into song."
)

const (
	// DefaultRecapItems is how many recalled memories the recap shows.
	DefaultRecapItems = 3
	recapTextRunes    = 80
	recapSeparator    = " | "
	defaultSpeaker    = "friend"
)

var (
	greetingWords  = []string{"hi", "hello", "hey", "greetings", "well met"}
	farewellWords  = []string{"bye", "farewell", "see you", "good night", "goodnight"}
	gratitudeWords = []string{"thank", "thx", "cheers", "grateful"}
)

// Request carries one composition's inputs.
type Request struct {
	Speaker string
	Query   string
	Matched string
	Persona *persona.Profile

	// Memories are the recalled items, most relevant first.
	Memories []memory.Item

	// Core, when non-empty, replaces the local decision table. It carries the
	// completion provider's answer.
	Core string
}

// Composer builds replies. It is safe for concurrent use; the random source
// is guarded by a mutex.
type Composer struct {
	mu  sync.Mutex
	rng Rand

	recapItems int
}

// Option configures a Composer.
type Option func(*Composer)

// WithRecapItems sets how many memories the recap shows. Zero disables it.
func WithRecapItems(n int) Option {
	return func(c *Composer) {
		if n >= 0 {
			c.recapItems = n
		}
	}
}

// New returns a Composer drawing from rng. A nil rng uses a time-seeded PCG.
func New(rng Rand, opts ...Option) *Composer {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	c := &Composer{rng: rng, recapItems: DefaultRecapItems}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewSeeded returns a Composer with a deterministic PCG source.
func NewSeeded(seed uint64, opts ...Option) *Composer {
	return New(rand.New(rand.NewPCG(seed, seed)), opts...)
}

// Compose assembles the full reply for req.
func (c *Composer) Compose(req Request) string {
	p := req.Persona
	if p == nil {
		p = persona.Default()
	}
	speaker := strings.TrimSpace(req.Speaker)
	if speaker == "" {
		speaker = defaultSpeaker
	}
	query := strings.TrimSpace(req.Query)

	c.mu.Lock()
	defer c.mu.Unlock()

	parts := make([]string, 0, 4)
	parts = append(parts, c.opening(p, speaker, query))

	core := strings.TrimSpace(req.Core)
	if core == "" {
		core = c.core(p, query)
	}
	parts = append(parts, core)

	if recap := Recap(req.Memories, c.recapItems); recap != "" {
		parts = append(parts, recap)
	}
	parts = append(parts, c.pick(p.Catchphrases, persona.DefaultWhisper))
	if punch := strings.TrimSpace(p.Punch); punch != "" {
		parts = append(parts, punch)
	}

	text := Substitute(strings.Join(parts, " "), p.Substitutions)
	return strings.TrimSpace(text)
}

// Core returns the local decision-table answer for query.
func (c *Composer) Core(p *persona.Profile, query string) string {
	if p == nil {
		p = persona.Default()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.core(p, strings.TrimSpace(query))
}

func (c *Composer) opening(p *persona.Profile, speaker, query string) string {
	if query == "" || IsGreeting(query) {
		return c.pick(p.Greetings, persona.DefaultGreeting)
	}
	opener := c.pick(p.Openers, persona.DefaultOpener)
	return strings.ReplaceAll(opener, persona.SpeakerPlaceholder, speaker)
}

// core is the decision table, checked in order.
func (c *Composer) core(p *persona.Profile, query string) string {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, farewellWords):
		return c.pick(p.Farewells, persona.DefaultFarewell)
	case containsAny(q, gratitudeWords):
		return LineGratitude
	case strings.Contains(q, "where"):
		return LineWhere
	case strings.Contains(q, "help"):
		return LineHelp
	default:
		return LineOpen
	}
}

func (c *Composer) pick(lines []string, fallback string) string {
	switch len(lines) {
	case 0:
		return fallback
	case 1:
		return lines[0]
	}
	return lines[c.rng.IntN(len(lines))]
}

// IsGreeting reports whether query begins with a greeting word. "hiking"
// is not a greeting; "hi!" and "well met, friend" are.
func IsGreeting(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, w := range greetingWords {
		if !strings.HasPrefix(q, w) {
			continue
		}
		rest := q[len(w):]
		if rest == "" {
			return true
		}
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Recap renders up to n memories as "[id] text" joined by " | ", prefixed
// with "Echoes:". It returns "" when there is nothing to show.
func Recap(items []memory.Item, n int) string {
	if n <= 0 || len(items) == 0 {
		return ""
	}
	if len(items) > n {
		items = items[:n]
	}
	entries := make([]string, 0, len(items))
	for _, it := range items {
		entries = append(entries, fmt.Sprintf("[%d] %s", it.ID, truncateRunes(it.Text, recapTextRunes)))
	}
	return "Echoes: " + strings.Join(entries, recapSeparator)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}
