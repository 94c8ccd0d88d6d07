package trading

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fapitrader/internal/binance/memorystore"
	"fapitrader/pkg/binance"
	"fapitrader/pkg/storage"
	"fapitrader/pkg/storage/memory"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type fakeClient struct {
	mu         sync.Mutex
	orders     []binance.OrderRequest
	submitErrs []error // consumed one per SubmitOrder call
	cancels    int
	cancelErr  error
	panicOn    bool
}

func (c *fakeClient) SubmitOrder(_ context.Context, order binance.OrderRequest) (*binance.OrderAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicOn {
		panic("boom")
	}
	c.orders = append(c.orders, order)
	if len(c.submitErrs) > 0 {
		err := c.submitErrs[0]
		c.submitErrs = c.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &binance.OrderAck{OrderID: int64(len(c.orders)), ClientOrderID: order.ClientOrderID, Status: "NEW"}, nil
}

func (c *fakeClient) CancelAll(_ context.Context, _ string) (*binance.CancelAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels++
	if c.cancelErr != nil {
		return nil, c.cancelErr
	}
	return &binance.CancelAck{Code: 200, Msg: "The operation of cancel all open order is done."}, nil
}

func (c *fakeClient) snapshot() ([]binance.OrderRequest, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]binance.OrderRequest(nil), c.orders...), c.cancels
}

var testFilters = binance.SymbolFilters{
	Symbol:      "BTCUSDT",
	TickSize:    centTick,
	StepSize:    decimal.RequireFromString("0.001"),
	MinQty:      decimal.RequireFromString("0.001"),
	MinNotional: decimal.Zero,
}

func testPool() []decimal.Decimal {
	return []decimal.Decimal{
		decimal.RequireFromString("0.004"),
		decimal.RequireFromString("0.005"),
		decimal.RequireFromString("0.006"),
		decimal.RequireFromString("0.007"),
	}
}

func testConfig() Config {
	return Config{
		Symbol:          "BTCUSDT",
		Quantities:      testPool(),
		BuyRatio:        buyRatio,
		SellRatio:       sellRatio,
		TimeInForce:     binance.TimeInForceGTC,
		CancelThreshold: 5,
		RequestTimeout:  time.Second,
	}
}

func quoteStore() *memorystore.QuoteStore {
	s := memorystore.NewQuoteStore()
	s.Set(memorystore.Quote{
		Symbol:  "BTCUSDT",
		BestBid: decimal.RequireFromString("43250.12"),
		BestAsk: decimal.RequireFromString("43251.34"),
	})
	return s
}

func newTestLoop(t *testing.T, cfg Config, client OrderClient, quotes QuoteSource, filters binance.SymbolFilters) (*Loop, *memory.Store) {
	t.Helper()
	journal := memory.New()
	var seq atomic.Int64
	l := NewLoop(cfg, client, quotes, memorystore.NewFilterStore(filters), journal, zaptest.NewLogger(t),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithIDGenerator(func() string { return fmt.Sprintf("test-%d", seq.Add(1)) }),
	)
	return l, journal
}

// go test -v --run TestCycleSkipsWithoutQuote
func TestCycleSkipsWithoutQuote(t *testing.T) {
	client := &fakeClient{}
	l, _ := newTestLoop(t, testConfig(), client, memorystore.NewQuoteStore(), testFilters)

	for i := 0; i < 10; i++ {
		l.RunCycle(context.Background())
	}
	if orders, _ := client.snapshot(); len(orders) != 0 {
		t.Fatalf("expected no orders without a quote, got %d", len(orders))
	}
	if l.Submissions() != 0 {
		t.Errorf("expected counter 0, got %d", l.Submissions())
	}
}

// go test -v --run TestCyclePricesOffMid
func TestCyclePricesOffMid(t *testing.T) {
	cfg := testConfig()
	cfg.CancelThreshold = 1000
	client := &fakeClient{}
	l, _ := newTestLoop(t, cfg, client, quoteStore(), testFilters)

	const cycles = 60
	for i := 0; i < cycles; i++ {
		l.RunCycle(context.Background())
		if l.Submissions() != i+1 {
			t.Fatalf("counter must grow by one per submission: got %d after %d", l.Submissions(), i+1)
		}
	}

	orders, _ := client.snapshot()
	if len(orders) != cycles {
		t.Fatalf("expected %d orders, got %d", cycles, len(orders))
	}

	wantBuy := decimal.RequireFromString("41088.19")
	wantSell := decimal.RequireFromString("45413.27")
	sides := map[binance.Side]int{}
	ids := map[string]bool{}
	for _, o := range orders {
		sides[o.Side]++
		if ids[o.ClientOrderID] {
			t.Errorf("client order id %s reused", o.ClientOrderID)
		}
		ids[o.ClientOrderID] = true

		inPool := false
		for _, q := range testPool() {
			inPool = inPool || q.Equal(o.Quantity)
		}
		if !inPool {
			t.Errorf("quantity %s not drawn from the pool", o.Quantity)
		}

		switch o.Side {
		case binance.SideBuy:
			if !o.Price.Equal(wantBuy) {
				t.Errorf("BUY price %s, want %s", o.Price, wantBuy)
			}
		case binance.SideSell:
			if !o.Price.Equal(wantSell) {
				t.Errorf("SELL price %s, want %s", o.Price, wantSell)
			}
		default:
			t.Errorf("unexpected side %q", o.Side)
		}
		if o.Type != binance.OrderTypeLimit || o.TimeInForce != binance.TimeInForceGTC || o.Symbol != "BTCUSDT" {
			t.Errorf("unexpected order %+v", o)
		}
	}
	if sides[binance.SideBuy] == 0 || sides[binance.SideSell] == 0 {
		t.Errorf("expected both sides over %d cycles, got %v", cycles, sides)
	}
}

// go test -v --run TestMassCancelAfterThreshold
func TestMassCancelAfterThreshold(t *testing.T) {
	for _, cancelErr := range []error{nil, &binance.RequestError{Op: "CancelAll", StatusCode: 503, Body: "unavailable"}} {
		t.Run(fmt.Sprintf("cancel error %v", cancelErr != nil), func(t *testing.T) {
			client := &fakeClient{cancelErr: cancelErr}
			l, journal := newTestLoop(t, testConfig(), client, quoteStore(), testFilters)

			for i := 0; i < 4; i++ {
				l.RunCycle(context.Background())
			}
			if _, cancels := client.snapshot(); cancels != 0 || l.Submissions() != 4 {
				t.Fatalf("premature cancel: cancels=%d counter=%d", cancels, l.Submissions())
			}

			l.RunCycle(context.Background())
			if _, cancels := client.snapshot(); cancels != 1 {
				t.Fatalf("expected one cancel-all after the 5th submission, got %d", cancels)
			}
			if l.Submissions() != 0 {
				t.Fatalf("counter must reset to 0 after cancel-all, got %d", l.Submissions())
			}

			for i := 0; i < 5; i++ {
				l.RunCycle(context.Background())
			}
			if _, cancels := client.snapshot(); cancels != 2 {
				t.Errorf("expected second cancel-all after 10 submissions, got %d", cancels)
			}

			if got := len(journal.Orders()); got != 10 {
				t.Errorf("expected 10 journaled orders, got %d", got)
			}
			recorded := journal.Cancels()
			if len(recorded) != 2 || recorded[0].Submissions != 5 {
				t.Fatalf("unexpected journaled cancels %+v", recorded)
			}
			if (recorded[0].Error != "") != (cancelErr != nil) {
				t.Errorf("cancel outcome not journaled: %+v", recorded[0])
			}
		})
	}
}

// go test -v --run TestNotionalRemediation
func TestNotionalRemediation(t *testing.T) {
	notionalErr := &binance.RequestError{
		Op:         "SubmitOrder",
		StatusCode: 400,
		Code:       binance.CodeMinNotional,
		Msg:        "Order's notional must be no smaller than 100 (unless you choose reduce only).",
	}

	cfg := testConfig()
	cfg.Quantities = []decimal.Decimal{decimal.RequireFromString("0.001")}
	cfg.BuyRatio = decimal.RequireFromString("0.95")

	t.Run("resubmits once with enough notional", func(t *testing.T) {
		client := &fakeClient{submitErrs: []error{notionalErr}}
		l, journal := newTestLoop(t, cfg, client, quoteStore(), testFilters)

		l.RunCycle(context.Background())
		orders, _ := client.snapshot()
		if len(orders) != 2 {
			t.Fatalf("expected original and one resubmission, got %d", len(orders))
		}
		first, second := orders[0], orders[1]
		if first.ClientOrderID == second.ClientOrderID {
			t.Error("resubmission must carry a new client order id")
		}
		if !second.Price.Equal(first.Price) || second.Side != first.Side {
			t.Errorf("resubmission changed price or side: %+v -> %+v", first, second)
		}
		if second.Notional().LessThan(decimal.NewFromInt(100)) {
			t.Errorf("adjusted notional %s below minimum", second.Notional())
		}
		if !second.Quantity.Mod(testFilters.StepSize).IsZero() {
			t.Errorf("adjusted quantity %s not a step multiple", second.Quantity)
		}
		if l.Submissions() != 1 {
			t.Errorf("remediation counts as one submission, got %d", l.Submissions())
		}

		entries := journal.Orders()
		if len(entries) != 2 || entries[0].ErrorCode != binance.CodeMinNotional || !entries[1].Adjusted || !entries[1].Accepted() {
			t.Errorf("unexpected journal %+v", entries)
		}
	})

	t.Run("second rejection is not retried", func(t *testing.T) {
		client := &fakeClient{submitErrs: []error{notionalErr, notionalErr}}
		l, _ := newTestLoop(t, cfg, client, quoteStore(), testFilters)

		l.RunCycle(context.Background())
		if orders, _ := client.snapshot(); len(orders) != 2 {
			t.Fatalf("expected exactly two submissions, got %d", len(orders))
		}
	})

	t.Run("filter minimum wins over message", func(t *testing.T) {
		client := &fakeClient{submitErrs: []error{notionalErr}}
		filters := testFilters
		filters.MinNotional = decimal.NewFromInt(200)
		l, _ := newTestLoop(t, cfg, client, quoteStore(), filters)

		l.RunCycle(context.Background())
		orders, _ := client.snapshot()
		if len(orders) != 2 || orders[1].Notional().LessThan(decimal.NewFromInt(200)) {
			t.Fatalf("unexpected resubmission %+v", orders)
		}
	})

	t.Run("other rejections are not resubmitted", func(t *testing.T) {
		client := &fakeClient{submitErrs: []error{&binance.RequestError{
			Op: "SubmitOrder", StatusCode: 400, Code: -2019, Msg: "Margin is insufficient.",
		}}}
		l, _ := newTestLoop(t, cfg, client, quoteStore(), testFilters)

		l.RunCycle(context.Background())
		if orders, _ := client.snapshot(); len(orders) != 1 {
			t.Fatalf("expected a single submission, got %d", len(orders))
		}
		if l.Submissions() != 1 {
			t.Errorf("rejected submission still counts, got %d", l.Submissions())
		}
	})
}

// go test -v --run TestCycleRecoversPanic
func TestCycleRecoversPanic(t *testing.T) {
	client := &fakeClient{panicOn: true}
	l, _ := newTestLoop(t, testConfig(), client, quoteStore(), testFilters)

	l.RunCycle(context.Background())

	client.mu.Lock()
	client.panicOn = false
	client.mu.Unlock()
	l.RunCycle(context.Background())
	if orders, _ := client.snapshot(); len(orders) != 1 {
		t.Errorf("loop must keep trading after a panic, got %d orders", len(orders))
	}
}

// go test -v --run TestMassCancelSentOnShutdown
func TestMassCancelSentOnShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.CancelThreshold = 1
	cfg.SettleDelay = time.Hour
	client := &fakeClient{}
	l, _ := newTestLoop(t, cfg, client, quoteStore(), testFilters)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		l.RunCycle(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not cut the settle wait short")
	}

	if orders, cancels := client.snapshot(); len(orders) != 1 || cancels != 1 {
		t.Errorf("expected in-flight order and due cancel to complete, got %d orders %d cancels", len(orders), cancels)
	}
}

// go test -v --run TestRunStopsOnShutdown
func TestRunStopsOnShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.MinInterval = time.Millisecond
	cfg.MaxInterval = 2 * time.Millisecond
	client := &fakeClient{}
	l, _ := newTestLoop(t, cfg, client, quoteStore(), testFilters)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if orders, _ := client.snapshot(); len(orders) >= 12 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("loop did not trade")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not stop")
	}
	if _, cancels := client.snapshot(); cancels < 2 {
		t.Errorf("expected periodic mass-cancels, got %d", cancels)
	}
}

// go test -v --run TestPlanRejectsBelowMinQty
func TestPlanRejectsBelowMinQty(t *testing.T) {
	cfg := testConfig()
	cfg.Quantities = []decimal.Decimal{decimal.RequireFromString("0.0004")}
	client := &fakeClient{}
	l, _ := newTestLoop(t, cfg, client, quoteStore(), testFilters)

	q, _ := quoteStore().Latest()
	if _, err := l.plan(q, testFilters); !errors.Is(err, ErrUnpriceable) {
		t.Fatalf("expected ErrUnpriceable, got %v", err)
	}
	l.RunCycle(context.Background())
	if orders, _ := client.snapshot(); len(orders) != 0 || l.Submissions() != 0 {
		t.Errorf("unpriceable cycle must not submit")
	}
}

// stallingClient holds every call until its request deadline passes.
type stallingClient struct{}

func (stallingClient) SubmitOrder(ctx context.Context, _ binance.OrderRequest) (*binance.OrderAck, error) {
	<-ctx.Done()
	return nil, &binance.RequestError{Op: "SubmitOrder", Err: ctx.Err()}
}

func (stallingClient) CancelAll(ctx context.Context, _ string) (*binance.CancelAck, error) {
	<-ctx.Done()
	return nil, &binance.RequestError{Op: "CancelAll", Err: ctx.Err()}
}

// ctxJournal records whether each write arrived with a live context.
type ctxJournal struct {
	mu      sync.Mutex
	ctxErrs []error
}

func (j *ctxJournal) RecordOrder(ctx context.Context, _ storage.OrderEntry) error {
	return j.note(ctx)
}

func (j *ctxJournal) RecordCancel(ctx context.Context, _ storage.CancelEntry) error {
	return j.note(ctx)
}

func (j *ctxJournal) Close() error { return nil }

func (j *ctxJournal) note(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ctxErrs = append(j.ctxErrs, ctx.Err())
	return ctx.Err()
}

// go test -v --run TestJournalOutlivesRequestTimeout
func TestJournalOutlivesRequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CancelThreshold = 1
	cfg.RequestTimeout = 20 * time.Millisecond
	journal := &ctxJournal{}
	l := NewLoop(cfg, stallingClient{}, quoteStore(), memorystore.NewFilterStore(testFilters), journal, zaptest.NewLogger(t),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	)

	l.RunCycle(context.Background())

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.ctxErrs) != 2 {
		t.Fatalf("expected an order and a cancel journaled, got %d writes", len(journal.ctxErrs))
	}
	for i, err := range journal.ctxErrs {
		if err != nil {
			t.Errorf("journal write %d got an expired context: %v", i, err)
		}
	}
	if l.Submissions() != 0 {
		t.Errorf("counter not reset after timed out cancel: %d", l.Submissions())
	}
}
