package memorystore

import (
	"sync/atomic"

	"fapitrader/pkg/binance"
)

// FilterStore holds the trading rules currently in force for the symbol.
type FilterStore struct {
	current atomic.Pointer[binance.SymbolFilters]
}

func NewFilterStore(initial binance.SymbolFilters) *FilterStore {
	s := &FilterStore{}
	s.Set(initial)
	return s
}

func (s *FilterStore) Set(f binance.SymbolFilters) {
	s.current.Store(&f)
}

func (s *FilterStore) Filters() binance.SymbolFilters {
	return *s.current.Load()
}
