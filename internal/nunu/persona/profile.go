// Package persona defines the persona snapshot that shapes every reply:
// its name, tone, greeting and farewell lines, trigger vocabulary and the
// vocabulary substitution table.
//
// A Profile is immutable once published. Reloads build a fresh Profile and
// swap it into a Holder; nothing mutates a Profile in place.
package persona

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Defaults applied to any field a persona document leaves out.
const (
	DefaultName     = "Nunu"
	DefaultGreeting = "Hello!"
	DefaultFarewell = "Till sea swallows all."
	DefaultStyle    = "cheerful, lore-friendly, elegant"
	DefaultWhisper  = "Every note is a tether... every soul, a string."
	DefaultOpener   = "WAH! {speaker}, the voidbound strings pluck at fate."
)

// SpeakerPlaceholder is replaced with the sender's name in openers.
const SpeakerPlaceholder = "{speaker}"

// Substitution is one (find, replace) rule of the vocabulary table. Find is
// matched case-insensitively.
type Substitution struct {
	Find    string `yaml:"find" json:"find"`
	Replace string `yaml:"replace" json:"replace"`
}

// DefaultSubstitutions is the thematic vocabulary used when a persona
// document does not carry its own table. Leading and trailing spaces in Find
// are significant (" ai " only matches the standalone word).
func DefaultSubstitutions() []Substitution {
	return []Substitution{
		{" ai ", " arcane mindstone "},
		{"internet", "aethernet"},
		{"wifi", "linkpearl"},
		{"computer", "magitek console"},
		{"server", "aetheric relay"},
		{"upload", "attune"},
		{"download", "draw down"},
		{"debug", "unravel"},
		{"bug", "gremlin"},
		{"nymeia", "Nymeia"},
		{"oschon", "Oschon"},
	}
}

// Profile is one persona snapshot.
type Profile struct {
	Name         string            `yaml:"name" json:"name"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Style        string            `yaml:"style,omitempty" json:"style,omitempty"`
	Traits       map[string]string `yaml:"traits,omitempty" json:"traits,omitempty"`
	Triggers     []string          `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Greetings    []string          `yaml:"greetings,omitempty" json:"greetings,omitempty"`
	Farewells    []string          `yaml:"farewells,omitempty" json:"farewells,omitempty"`
	Catchphrases []string          `yaml:"catchphrases,omitempty" json:"catchphrases,omitempty"`

	// Openers are used when the message is not a greeting. "{speaker}" is
	// replaced with the sender's name.
	Openers []string `yaml:"openers,omitempty" json:"openers,omitempty"`

	// Punch is an optional closing word appended after the flourish,
	// e.g. "WAH!". Empty leaves the flourish last.
	Punch string `yaml:"punch,omitempty" json:"punch,omitempty"`

	Substitutions []Substitution `yaml:"substitutions,omitempty" json:"substitutions,omitempty"`

	// SystemPrompt, when set, replaces the generated persona rendering in
	// the completion system prompt.
	SystemPrompt string `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
}

// Default returns the all-defaults profile.
func Default() *Profile {
	p := &Profile{}
	p.applyDefaults(true)
	return p
}

// applyDefaults fills every empty field. withSubs controls whether a nil
// substitution table is replaced by DefaultSubstitutions.
func (p *Profile) applyDefaults(withSubs bool) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = DefaultName
	}
	if strings.TrimSpace(p.Style) == "" {
		p.Style = DefaultStyle
	}
	p.Greetings = cleanList(p.Greetings)
	if len(p.Greetings) == 0 {
		p.Greetings = []string{DefaultGreeting}
	}
	p.Farewells = cleanList(p.Farewells)
	if len(p.Farewells) == 0 {
		p.Farewells = []string{DefaultFarewell}
	}
	p.Catchphrases = cleanList(p.Catchphrases)
	if len(p.Catchphrases) == 0 {
		p.Catchphrases = []string{DefaultWhisper}
	}
	p.Openers = cleanList(p.Openers)
	if len(p.Openers) == 0 {
		p.Openers = []string{DefaultOpener}
	}
	p.Triggers = normalizeTriggers(p.Triggers)
	if p.Traits == nil {
		p.Traits = map[string]string{}
	}
	if p.Substitutions == nil && withSubs {
		p.Substitutions = DefaultSubstitutions()
	}
	p.Substitutions = slices.DeleteFunc(p.Substitutions, func(s Substitution) bool {
		return s.Find == ""
	})
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeTriggers lower-cases, trims and de-duplicates trigger tokens,
// keeping first-seen order.
func normalizeTriggers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// HasTrigger reports whether token is one of the persona's triggers,
// ignoring case.
func (p *Profile) HasTrigger(token string) bool {
	return slices.Contains(p.Triggers, strings.ToLower(strings.TrimSpace(token)))
}

// Whisper returns the closing line used when no random pick is wanted: the
// first catchphrase.
func (p *Profile) Whisper() string {
	if len(p.Catchphrases) == 0 {
		return DefaultWhisper
	}
	return p.Catchphrases[0]
}

// Render produces the persona block placed into the completion system
// prompt. An explicit SystemPrompt wins over the generated text.
func (p *Profile) Render() string {
	if s := strings.TrimSpace(p.SystemPrompt); s != "" {
		return s
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", p.Name)
	if d := strings.TrimSpace(p.Description); d != "" {
		b.WriteString(" ")
		b.WriteString(d)
	}
	fmt.Fprintf(&b, "\nStyle: %s.", p.Style)
	if len(p.Traits) > 0 {
		keys := make([]string, 0, len(p.Traits))
		for k := range p.Traits {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nTraits:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, p.Traits[k])
		}
	}
	return b.String()
}

// EffectivePrompt combines base with the persona rendering. With onTop the
// persona block comes first; either part may be empty.
func (p *Profile) EffectivePrompt(base string, onTop bool) string {
	base = strings.TrimSpace(base)
	persona := ""
	if p != nil {
		persona = p.Render()
	}
	switch {
	case persona == "":
		return base
	case base == "":
		return persona
	case onTop:
		return persona + "\n\n" + base
	default:
		return base + "\n\n" + persona
	}
}
