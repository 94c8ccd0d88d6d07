package snapshot

import (
	"context"
	"fmt"
	"time"

	"fapitrader/internal/binance/memorystore"
	"fapitrader/logger"
	"fapitrader/pkg/binance"

	"go.uber.org/zap"
)

// FilterFetcher reads a symbol's trading rules. *binance.RESTClient implements it.
type FilterFetcher interface {
	GetSymbolFilters(ctx context.Context, symbol string) (*binance.SymbolFilters, error)
}

type FilterLoader struct {
	Symbol     string
	RestClient FilterFetcher
	Fallback   binance.SymbolFilters // fills rules the exchange did not report
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Load fetches the symbol's filters. Any rule missing from the response is
// taken from Fallback.
func (l *FilterLoader) Load(ctx context.Context) (binance.SymbolFilters, error) {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	fetched, err := l.RestClient.GetSymbolFilters(ctx, l.Symbol)
	if err != nil {
		return binance.SymbolFilters{}, fmt.Errorf("load filters for %s: %w", l.Symbol, err)
	}

	f := *fetched
	f.Symbol = l.Symbol
	if !f.TickSize.IsPositive() {
		f.TickSize = l.Fallback.TickSize
	}
	if !f.StepSize.IsPositive() {
		f.StepSize = l.Fallback.StepSize
	}
	if !f.MinQty.IsPositive() {
		f.MinQty = l.Fallback.MinQty
	}
	if !f.MinNotional.IsPositive() {
		f.MinNotional = l.Fallback.MinNotional
	}
	return f, nil
}

// Refresh loads the filters into store. On failure the store keeps what it
// had, which is Fallback until the first successful load.
func (l *FilterLoader) Refresh(ctx context.Context, store *memorystore.FilterStore) {
	f, err := l.Load(ctx)
	if err != nil {
		current := store.Filters()
		l.Logger.Warn("failed to load exchange filters, keeping current",
			logger.Status(logger.MarkWarn),
			zap.Stringer("tick_size", current.TickSize),
			zap.Stringer("step_size", current.StepSize),
			zap.Stringer("min_notional", current.MinNotional),
			zap.Error(err),
		)
		return
	}
	store.Set(f)
	l.Logger.Info("loaded exchange filters",
		logger.Status(logger.MarkOK),
		zap.String("symbol", f.Symbol),
		zap.Stringer("tick_size", f.TickSize),
		zap.Stringer("step_size", f.StepSize),
		zap.Stringer("min_qty", f.MinQty),
		zap.Stringer("min_notional", f.MinNotional),
	)
}
