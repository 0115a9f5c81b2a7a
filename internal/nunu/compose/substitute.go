package compose

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bdobrica/nunu/internal/nunu/persona"
)

type span struct {
	start, end int
	repl       string
}

// Substitute applies the vocabulary table to text in a single pass.
//
// Every rule is matched case-insensitively against the original text, in
// table order. A match claims its span; later rules never match inside a
// claimed span, and replacement text is never re-scanned. A leading or
// trailing space in a rule's Find acts as a word boundary: it must be
// whitespace (or the start/end of text) but is not consumed, so " ai ai "
// replaces both words. The boundary space is likewise dropped from Replace.
func Substitute(text string, subs []persona.Substitution) string {
	if text == "" || len(subs) == 0 {
		return text
	}

	var spans []span
	for _, s := range subs {
		core, lead, trail := splitBoundary(s.Find)
		if core == "" {
			continue
		}
		repl := s.Replace
		if lead {
			repl = strings.TrimPrefix(repl, " ")
		}
		if trail {
			repl = strings.TrimSuffix(repl, " ")
		}
		spans = matchRule(text, core, lead, trail, repl, spans)
	}
	if len(spans) == 0 {
		return text
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, sp := range spans {
		b.WriteString(text[pos:sp.start])
		b.WriteString(sp.repl)
		pos = sp.end
	}
	b.WriteString(text[pos:])
	return b.String()
}

func splitBoundary(find string) (core string, lead, trail bool) {
	lead = strings.HasPrefix(find, " ")
	trail = strings.HasSuffix(find, " ")
	return strings.TrimSpace(find), lead, trail
}

func matchRule(text, core string, lead, trail bool, repl string, spans []span) []span {
	n := len(core)
	for i := 0; i+n <= len(text); {
		if !utf8.RuneStart(text[i]) || !strings.EqualFold(text[i:i+n], core) ||
			(lead && !spaceBefore(text, i)) || (trail && !spaceAfter(text, i+n)) ||
			claimed(spans, i, i+n) {
			i++
			continue
		}
		spans = append(spans, span{start: i, end: i + n, repl: repl})
		i += n
	}
	return spans
}

func spaceBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(r)
}

func spaceAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(r)
}

func claimed(spans []span, start, end int) bool {
	for _, sp := range spans {
		if start < sp.end && sp.start < end {
			return true
		}
	}
	return false
}
