package cache

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"
)

var ErrInvalidWindows = errors.New("stale window must be longer than fresh window")

const (
	DefaultFreshWindow = 15 * time.Minute
	DefaultStaleWindow = 60 * time.Minute
)

// Source records which kind of candidate origin produced an entry.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// State is the freshness class of an entry, computed at read time.
type State int

const (
	Fresh State = iota
	StaleUsable
	Expired
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case StaleUsable:
		return "stale-usable"
	default:
		return "expired"
	}
}

type Entry struct {
	Key       string
	Payload   json.RawMessage
	Header    http.Header
	FetchedAt time.Time
	Source    Source
	Origin    string
}

type Windows struct {
	Fresh time.Duration
	Stale time.Duration
}

func (w Windows) Validate() error {
	if w.Fresh < 0 || w.Stale <= w.Fresh {
		return ErrInvalidWindows
	}
	return nil
}

type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// Store is an in-memory entry map. Every write replaces the whole entry.
type Store struct {
	windows Windows
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(w Windows, opts ...Option) (*Store, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		windows: w,
		now:     time.Now,
		entries: map[string]Entry{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Windows() Windows { return s.windows }

func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entries[key]
	return ent, ok
}

func (s *Store) Set(key string, payload json.RawMessage, header http.Header, source Source, origin string) Entry {
	ent := Entry{
		Key:     key,
		Payload: append(json.RawMessage(nil), payload...),
		Header:  header.Clone(),
		Source:  source,
		Origin:  origin,
	}
	s.mu.Lock()
	ent.FetchedAt = s.now()
	s.entries[key] = ent
	s.mu.Unlock()
	return ent
}

// Clear removes every entry when tag is empty, otherwise only entries whose
// category equals tag. It returns the number of removed entries.
func (s *Store) Clear(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tag == "" {
		n := len(s.entries)
		s.entries = map[string]Entry{}
		return n
	}
	n := 0
	for k := range s.entries {
		if MatchesTag(k, tag) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *Store) Classify(ent Entry) State {
	return s.windows.Classify(s.now().Sub(ent.FetchedAt))
}

func (w Windows) Classify(age time.Duration) State {
	switch {
	case age < w.Fresh:
		return Fresh
	case age < w.Stale:
		return StaleUsable
	default:
		return Expired
	}
}

// Age reports how old ent is according to the store clock.
func (s *Store) Age(ent Entry) time.Duration {
	return s.now().Sub(ent.FetchedAt)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return Stats{Size: len(keys), Keys: keys}
}
