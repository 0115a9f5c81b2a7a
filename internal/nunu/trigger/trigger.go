// Package trigger decides whether an inbound chat line is addressed to Nunu
// and, if so, what is being asked.
package trigger

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bdobrica/nunu/internal/nunu/channel"
)

// Config holds the listener's trigger settings.
type Config struct {
	// AllowedChannels lists the channel kinds Nunu listens on. Messages on
	// any other channel never trigger.
	AllowedChannels []channel.Kind
	// Callsign must open the message (case-insensitive), e.g. "!nunu".
	Callsign string
	// Anywhere tokens trigger when found anywhere in the message.
	Anywhere []string
}

// Result is the outcome of Detect.
type Result struct {
	Triggered bool
	// Matched is the callsign or token that fired.
	Matched string
	// Speaker is who is talking to Nunu.
	Speaker string
	// Query is the message with a leading callsign removed.
	Query string
}

// Detector applies a Config to inbound messages. It is stateless and safe for
// concurrent use.
type Detector struct {
	allowed  map[channel.Kind]struct{}
	callsign string
	anywhere []string
	forms    []string
}

// New builds a Detector from cfg.
func New(cfg Config) *Detector {
	d := &Detector{
		allowed:  make(map[channel.Kind]struct{}, len(cfg.AllowedChannels)),
		callsign: strings.TrimSpace(cfg.Callsign),
	}
	for _, k := range cfg.AllowedChannels {
		d.allowed[k] = struct{}{}
	}
	for _, tok := range cfg.Anywhere {
		if tok = strings.TrimSpace(tok); tok != "" {
			d.anywhere = append(d.anywhere, tok)
		}
	}
	d.forms = callsignForms(d.callsign)
	return d
}

// callsignForms expands "!nunu" to the spellings people actually type at the
// start of a line: "!nunu", "nunu", "@nunu".
func callsignForms(callsign string) []string {
	if callsign == "" {
		return nil
	}
	bare := strings.TrimLeft(callsign, "!@/#")
	forms := []string{callsign}
	if bare != "" && bare != callsign {
		forms = append(forms, bare)
	}
	if bare != "" {
		for _, p := range []string{"!", "@"} {
			if f := p + bare; f != callsign {
				forms = append(forms, f)
			}
		}
	}
	return forms
}

// Allowed reports whether Nunu listens on kind.
func (d *Detector) Allowed(kind channel.Kind) bool {
	_, ok := d.allowed[kind]
	return ok
}

// Detect decides whether msg should get a reply. personaTriggers is the
// active persona's trigger vocabulary; it is passed per call because the
// persona can be reloaded at any time.
func (d *Detector) Detect(msg channel.Inbound, personaTriggers []string) Result {
	if !d.Allowed(msg.Kind) {
		return Result{}
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Result{}
	}
	lower := strings.ToLower(text)

	matched := ""
	switch {
	case d.callsign != "" && strings.HasPrefix(lower, strings.ToLower(d.callsign)):
		matched = d.callsign
	default:
		if tok, ok := containsAny(lower, d.anywhere); ok {
			matched = tok
		} else if tok, ok := containsAny(lower, personaTriggers); ok {
			matched = tok
		}
	}
	if matched == "" {
		return Result{}
	}

	return Result{
		Triggered: true,
		Matched:   matched,
		Speaker:   msg.Sender,
		Query:     d.stripCallsign(text, personaTriggers),
	}
}

// stripCallsign removes a leading callsign token ("nunu," / "!nunu:") from
// text. Anything else is returned unchanged.
func (d *Detector) stripCallsign(text string, personaTriggers []string) string {
	first, rest := text, ""
	if idx := strings.IndexFunc(text, unicode.IsSpace); idx >= 0 {
		_, size := utf8.DecodeRuneInString(text[idx:])
		first, rest = text[:idx], text[idx+size:]
	}
	token := strings.TrimRight(first, ",:")
	if token == "" {
		return text
	}
	for _, f := range d.forms {
		if strings.EqualFold(token, f) {
			return strings.TrimSpace(rest)
		}
	}
	for _, f := range personaTriggers {
		if strings.EqualFold(token, strings.TrimSpace(f)) {
			return strings.TrimSpace(rest)
		}
	}
	return text
}

func containsAny(lower string, tokens []string) (string, bool) {
	for _, tok := range tokens {
		t := strings.TrimSpace(tok)
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			return t, true
		}
	}
	return "", false
}
