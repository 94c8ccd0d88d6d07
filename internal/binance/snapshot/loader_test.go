package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"fapitrader/internal/binance/memorystore"
	"fapitrader/pkg/binance"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type stubFetcher struct {
	filters *binance.SymbolFilters
	err     error
	calls   int
}

func (s *stubFetcher) GetSymbolFilters(ctx context.Context, symbol string) (*binance.SymbolFilters, error) {
	s.calls++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected a deadline")
	}
	return s.filters, s.err
}

var fallback = binance.SymbolFilters{
	Symbol:      "BTCUSDT",
	TickSize:    decimal.RequireFromString("0.1"),
	StepSize:    decimal.RequireFromString("0.001"),
	MinQty:      decimal.RequireFromString("0.001"),
	MinNotional: decimal.RequireFromString("100"),
}

// go test -v --run TestLoadFillsMissingRules
func TestLoadFillsMissingRules(t *testing.T) {
	fetcher := &stubFetcher{filters: &binance.SymbolFilters{
		TickSize: decimal.RequireFromString("0.01"),
		StepSize: decimal.RequireFromString("0.001"),
	}}
	l := &FilterLoader{Symbol: "BTCUSDT", RestClient: fetcher, Fallback: fallback, Timeout: time.Second, Logger: zaptest.NewLogger(t)}

	f, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !f.TickSize.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("exchange tick size must win, got %s", f.TickSize)
	}
	if !f.MinNotional.Equal(fallback.MinNotional) || !f.MinQty.Equal(fallback.MinQty) {
		t.Errorf("missing rules not filled from fallback: %+v", f)
	}
}

// go test -v --run TestRefresh
func TestRefresh(t *testing.T) {
	store := memorystore.NewFilterStore(fallback)
	fetcher := &stubFetcher{err: errors.New("exchangeInfo: 503")}
	l := &FilterLoader{Symbol: "BTCUSDT", RestClient: fetcher, Fallback: fallback, Timeout: time.Second, Logger: zaptest.NewLogger(t)}

	l.Refresh(context.Background(), store)
	if !store.Filters().TickSize.Equal(fallback.TickSize) {
		t.Fatalf("failed refresh must keep fallback, got %+v", store.Filters())
	}

	fetcher.err = nil
	fetcher.filters = &binance.SymbolFilters{
		TickSize:    decimal.RequireFromString("0.01"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("50"),
	}
	l.Refresh(context.Background(), store)
	got := store.Filters()
	if !got.TickSize.Equal(decimal.RequireFromString("0.01")) || !got.MinNotional.Equal(decimal.RequireFromString("50")) {
		t.Errorf("refresh not applied: %+v", got)
	}

	fetcher.err = errors.New("timeout")
	l.Refresh(context.Background(), store)
	if !store.Filters().MinNotional.Equal(decimal.RequireFromString("50")) {
		t.Errorf("failed refresh must keep last loaded filters, got %+v", store.Filters())
	}
	if fetcher.calls != 3 {
		t.Errorf("expected 3 fetches, got %d", fetcher.calls)
	}
}
