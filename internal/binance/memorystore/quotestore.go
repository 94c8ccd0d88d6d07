package memorystore

import (
	"sync/atomic"
)

// QuoteStore is a single-slot holder for the latest Quote. One writer (the
// feed) replaces the slot atomically; any number of readers see either the
// previous or the new Quote, never a mix.
type QuoteStore struct {
	latest  atomic.Pointer[Quote]
	updates atomic.Uint64
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{}
}

// Set replaces the current quote.
func (s *QuoteStore) Set(q Quote) {
	s.latest.Store(&q)
	s.updates.Add(1)
}

// Latest returns the current quote, or false if none was stored yet.
func (s *QuoteStore) Latest() (Quote, bool) {
	q := s.latest.Load()
	if q == nil {
		return Quote{}, false
	}
	return *q, true
}

// Updates returns how many quotes have been stored since creation.
func (s *QuoteStore) Updates() uint64 {
	return s.updates.Load()
}
