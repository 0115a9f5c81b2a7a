// Package memory keeps a bounded log of what was said near Nunu and answers
// "what do I remember about X" with cheap keyword scoring.
//
// The corpus is small (Capacity items) and every Recall scans it linearly;
// there is no index.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of items a Store keeps before evicting the
// oldest.
const DefaultCapacity = 500

// Item is one remembered message. Items are never mutated after creation.
type Item struct {
	ID        int
	Sender    string
	Text      string
	Timestamp time.Time
}

// Store is the bounded, append-only memory log. All methods serialise on a
// single mutex; none of them block on I/O.
type Store struct {
	mu       sync.Mutex
	capacity int
	items    []Item // insertion order
	lastID   int
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity overrides DefaultCapacity. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{capacity: DefaultCapacity, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Remember stores text (trimmed) from sender and returns the new item. It
// returns false and stores nothing when text is blank.
func (s *Store) Remember(sender, text string) (Item, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// lastID rather than the largest surviving id: an item stamped older
	// than everything else can be evicted on insert, and its id must not be
	// handed out again.
	s.lastID++
	item := Item{ID: s.lastID, Sender: sender, Text: text, Timestamp: s.now()}
	s.items = append(s.items, item)

	if over := len(s.items) - s.capacity; over > 0 {
		s.evictOldest(over)
	}
	return item, true
}

// evictOldest drops the n items with the oldest timestamps; among equal
// timestamps the earliest inserted goes first.
func (s *Store) evictOldest(n int) {
	order := make([]int, len(s.items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.items[order[a]].Timestamp.Before(s.items[order[b]].Timestamp)
	})
	drop := make(map[int]struct{}, n)
	for _, idx := range order[:n] {
		drop[idx] = struct{}{}
	}
	kept := s.items[:0]
	for i, it := range s.items {
		if _, gone := drop[i]; !gone {
			kept = append(kept, it)
		}
	}
	// Clear the tail so evicted strings can be collected.
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = Item{}
	}
	s.items = kept
}

// Recall returns up to k items relevant to query, best first.
//
// Each item scores one point per distinct query token found (case-insensitive
// substring) in its text. Items scoring zero are dropped; the rest are ordered
// by score, then recency. A blank query, or a query nothing matches, yields
// the k most recent items instead.
func (s *Store) Recall(query string, k int) []Item {
	if k <= 0 {
		return nil
	}
	tokens := Tokenize(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tokens) == 0 {
		return s.recentLocked(k)
	}

	type scored struct {
		item  Item
		score int
	}
	var hits []scored
	for i := len(s.items) - 1; i >= 0; i-- {
		it := s.items[i]
		if sc := score(tokens, it.Text); sc > 0 {
			hits = append(hits, scored{item: it, score: sc})
		}
	}
	if len(hits) == 0 {
		return s.recentLocked(k)
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].item.Timestamp.After(hits[b].item.Timestamp)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Item, len(hits))
	for i, h := range hits {
		out[i] = h.item
	}
	return out
}

// Recent returns the k most recent items, newest first.
func (s *Store) Recent(k int) []Item {
	if k <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentLocked(k)
}

// Len reports how many items are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) recentLocked(k int) []Item {
	out := make([]Item, 0, min(k, len(s.items)))
	// Newest-inserted first so equal timestamps keep reverse insertion order.
	for i := len(s.items) - 1; i >= 0; i-- {
		out = append(out, s.items[i])
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Timestamp.After(out[b].Timestamp)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

const separators = " \t\r\n.,!?:;/\\-_()[]{}\""

// Tokenize splits s on whitespace and common punctuation, lower-cases the
// pieces and drops empty and repeated tokens.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(separators, r)
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

func score(tokens []string, text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range tokens {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return hits
}
