package memory

import (
	"context"
	"errors"
	"sync"

	"fapitrader/pkg/storage"
)

var ErrClosed = errors.New("memory journal closed")

// Store keeps journal entries in process memory.
type Store struct {
	mu      sync.RWMutex
	orders  []storage.OrderEntry
	cancels []storage.CancelEntry
	closed  bool
}

func New() *Store {
	return &Store{}
}

func (s *Store) RecordOrder(_ context.Context, entry storage.OrderEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.orders = append(s.orders, entry)
	return nil
}

func (s *Store) RecordCancel(_ context.Context, entry storage.CancelEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cancels = append(s.cancels, entry)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Orders returns a copy of the recorded orders in submission order.
func (s *Store) Orders() []storage.OrderEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.OrderEntry, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *Store) Cancels() []storage.CancelEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.CancelEntry, len(s.cancels))
	copy(out, s.cancels)
	return out
}
