package trading

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"fapitrader/internal/binance/memorystore"
	"fapitrader/logger"
	"fapitrader/pkg/binance"
	"fapitrader/pkg/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderClient is the signed REST surface the loop trades through.
// *binance.RESTClient implements it.
type OrderClient interface {
	SubmitOrder(ctx context.Context, order binance.OrderRequest) (*binance.OrderAck, error)
	CancelAll(ctx context.Context, symbol string) (*binance.CancelAck, error)
}

type QuoteSource interface {
	Latest() (memorystore.Quote, bool)
}

type FilterSource interface {
	Filters() binance.SymbolFilters
}

type Config struct {
	Symbol          string
	Quantities      []decimal.Decimal
	BuyRatio        decimal.Decimal
	SellRatio       decimal.Decimal
	TimeInForce     binance.TimeInForce
	CancelThreshold int
	SettleDelay     time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
	RequestTimeout  time.Duration // bounds each REST call; shutdown does not cut it short
}

type Option func(*Loop)

// journalTimeout bounds each journal write independently of the REST call
// it records.
const journalTimeout = 5 * time.Second

// WithRand replaces the source for interval, side and size draws.
func WithRand(r *rand.Rand) Option {
	return func(l *Loop) { l.rng = r }
}

// WithIDGenerator replaces the client order ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(l *Loop) { l.newID = gen }
}

// Loop places randomized passive limit orders off the latest mid and
// mass-cancels every CancelThreshold submissions.
type Loop struct {
	cfg     Config
	client  OrderClient
	quotes  QuoteSource
	filters FilterSource
	journal storage.Journal
	logger  *zap.Logger

	rng         *rand.Rand
	newID       func() string
	now         func() time.Time
	submissions atomic.Int64
}

func NewLoop(cfg Config, client OrderClient, quotes QuoteSource, filters FilterSource,
	journal storage.Journal, log *zap.Logger, opts ...Option) *Loop {
	if journal == nil {
		journal = storage.Nop{}
	}
	l := &Loop{
		cfg:     cfg,
		client:  client,
		quotes:  quotes,
		filters: filters,
		journal: journal,
		logger:  log.Named("trading"),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submissions is the number of orders attempted since the last mass-cancel.
func (l *Loop) Submissions() int {
	return int(l.submissions.Load())
}

// Run cycles until ctx is cancelled. A failing cycle never stops the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("trading loop started",
		logger.Status(logger.MarkOK),
		zap.String("symbol", l.cfg.Symbol),
		zap.Int("cancel_threshold", l.cfg.CancelThreshold),
	)
	for {
		if !sleep(ctx, l.nextInterval()) {
			l.logger.Info("trading loop stopped",
				logger.Status(logger.MarkStop),
				zap.Int("pending_submissions", l.Submissions()),
			)
			return nil
		}
		l.RunCycle(ctx)
	}
}

// RunCycle performs one trading step: price, submit, and mass-cancel when due.
func (l *Loop) RunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("trading cycle panicked",
				logger.Status(logger.MarkFail),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	// Latest mid
	q, ok := l.quotes.Latest()
	if !ok {
		l.logger.Info("no quote yet, skipping cycle", logger.Status(logger.MarkWait))
		return
	}

	// Side, size and price
	filters := l.filters.Filters()
	order, err := l.plan(q, filters)
	if err != nil {
		l.logger.Warn("cannot price order, skipping cycle",
			logger.Status(logger.MarkWarn),
			zap.Stringer("mid", q.Mid()),
			zap.Error(err),
		)
		return
	}

	// Submit
	reqCtx, cancel := l.requestContext(ctx)
	defer cancel()
	l.submit(reqCtx, order, filters, q.Mid())

	// Count the attempt and mass-cancel when due
	n := l.submissions.Add(1)
	if n >= int64(l.cfg.CancelThreshold) {
		l.massCancel(ctx, int(n))
	}
}

// plan builds the next order from a quote: uniform side, uniform size from
// the pool, passive price off mid.
func (l *Loop) plan(q memorystore.Quote, f binance.SymbolFilters) (binance.OrderRequest, error) {
	side := binance.SideBuy
	if l.rng.IntN(2) == 1 {
		side = binance.SideSell
	}

	if len(l.cfg.Quantities) == 0 {
		return binance.OrderRequest{}, errors.New("trading: empty quantity pool")
	}
	qty := FloorToStep(l.cfg.Quantities[l.rng.IntN(len(l.cfg.Quantities))], f.StepSize)
	if !qty.IsPositive() {
		return binance.OrderRequest{}, fmt.Errorf("%w: quantity below step %s", ErrUnpriceable, f.StepSize)
	}
	if f.MinQty.IsPositive() && qty.LessThan(f.MinQty) {
		return binance.OrderRequest{}, fmt.Errorf("%w: quantity %s below minimum %s", ErrUnpriceable, qty, f.MinQty)
	}

	price, err := LimitPrice(side, q.Mid(), l.cfg.BuyRatio, l.cfg.SellRatio, f.TickSize)
	if err != nil {
		return binance.OrderRequest{}, err
	}

	return binance.OrderRequest{
		ClientOrderID: l.newID(),
		Symbol:        l.cfg.Symbol,
		Side:          side,
		Type:          binance.OrderTypeLimit,
		TimeInForce:   l.cfg.TimeInForce,
		Quantity:      qty,
		Price:         price,
	}, nil
}

// submit sends the order and, on a minimum-notional rejection, resubmits it
// exactly once with the smallest sufficient quantity.
func (l *Loop) submit(ctx context.Context, order binance.OrderRequest, f binance.SymbolFilters, mid decimal.Decimal) {
	l.logger.Info("placing order",
		logger.Status(logger.MarkOrder),
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("side", string(order.Side)),
		zap.Stringer("mid", mid),
		zap.Stringer("price", order.Price),
		zap.Stringer("quantity", order.Quantity),
	)

	ack, err := l.client.SubmitOrder(ctx, order)
	l.record(ctx, order, ack, err, false)
	if err == nil {
		return
	}

	var reqErr *binance.RequestError
	if !errors.As(err, &reqErr) || !reqErr.IsNotionalTooSmall() {
		return
	}

	minNotional := f.MinNotional
	if fromMsg, ok := reqErr.MinNotionalFromMessage(); ok && fromMsg.GreaterThan(minNotional) {
		minNotional = fromMsg
	}
	if !minNotional.IsPositive() {
		l.logger.Warn("minimum notional unknown, not resubmitting",
			logger.Status(logger.MarkWarn),
			zap.String("client_order_id", order.ClientOrderID),
		)
		return
	}

	adjusted := order.WithQuantity(RequiredQuantity(order.Price, minNotional, f.StepSize, order.Quantity), l.newID())
	l.logger.Info("resubmitting with minimum notional quantity",
		logger.Status(logger.MarkRetry),
		zap.String("client_order_id", adjusted.ClientOrderID),
		zap.String("replaces", order.ClientOrderID),
		zap.Stringer("min_notional", minNotional),
		zap.Stringer("quantity", adjusted.Quantity),
		zap.Stringer("notional", adjusted.Notional()),
	)
	ack, err = l.client.SubmitOrder(ctx, adjusted)
	l.record(ctx, adjusted, ack, err, true)
}

func (l *Loop) record(ctx context.Context, order binance.OrderRequest, ack *binance.OrderAck, err error, adjusted bool) {
	entry := storage.OrderEntry{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Quantity:      order.Quantity,
		Price:         order.Price,
		Adjusted:      adjusted,
		SubmittedAt:   l.now(),
	}

	if err != nil {
		entry.Error = err.Error()
		var reqErr *binance.RequestError
		if errors.As(err, &reqErr) {
			entry.ErrorCode = reqErr.Code
		}
		l.logger.Warn("order rejected",
			logger.Status(logger.MarkFail),
			zap.String("client_order_id", order.ClientOrderID),
			zap.Int("code", entry.ErrorCode),
			zap.Error(err),
		)
	} else if ack != nil {
		entry.OrderID = ack.OrderID
		entry.Status = ack.Status
		l.logger.Info("order accepted",
			logger.Status(logger.MarkOK),
			zap.String("client_order_id", order.ClientOrderID),
			zap.Int64("order_id", ack.OrderID),
			zap.String("order_status", ack.Status),
		)
	}

	jctx, cancel := journalContext(ctx)
	defer cancel()
	if jerr := l.journal.RecordOrder(jctx, entry); jerr != nil {
		l.logger.Warn("journal order failed", logger.Status(logger.MarkWarn), zap.Error(jerr))
	}
}

// massCancel waits for in-flight orders to settle, cancels everything open
// on the symbol and resets the counter whatever the outcome. Shutdown cuts
// the settle wait short but the cancel is still sent.
func (l *Loop) massCancel(ctx context.Context, submissions int) {
	l.logger.Info("cancel threshold reached, settling",
		logger.Status(logger.MarkWait),
		zap.Int("submissions", submissions),
		zap.Duration("settle_delay", l.cfg.SettleDelay),
	)
	sleep(ctx, l.cfg.SettleDelay)

	reqCtx, cancel := l.requestContext(ctx)
	defer cancel()

	ack, err := l.client.CancelAll(reqCtx, l.cfg.Symbol)
	l.submissions.Store(0)

	entry := storage.CancelEntry{
		Symbol:      l.cfg.Symbol,
		Submissions: submissions,
		RequestedAt: l.now(),
	}
	if err != nil {
		entry.Error = err.Error()
		var reqErr *binance.RequestError
		if errors.As(err, &reqErr) {
			entry.Code = reqErr.Code
		}
		l.logger.Error("mass-cancel failed",
			logger.Status(logger.MarkFail),
			zap.String("symbol", l.cfg.Symbol),
			zap.Error(err),
		)
	} else {
		entry.Code, entry.Msg = ack.Code, ack.Msg
		l.logger.Info("mass-cancel done",
			logger.Status(logger.MarkCancel),
			zap.String("symbol", l.cfg.Symbol),
			zap.Int("code", ack.Code),
			zap.String("msg", ack.Msg),
		)
	}

	jctx, jcancel := journalContext(ctx)
	defer jcancel()
	if jerr := l.journal.RecordCancel(jctx, entry); jerr != nil {
		l.logger.Warn("journal cancel failed", logger.Status(logger.MarkWarn), zap.Error(jerr))
	}
}

func (l *Loop) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if l.cfg.RequestTimeout > 0 {
		return context.WithTimeout(base, l.cfg.RequestTimeout)
	}
	return context.WithCancel(base)
}

func journalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
}

func (l *Loop) nextInterval() time.Duration {
	span := l.cfg.MaxInterval - l.cfg.MinInterval
	if span <= 0 {
		return l.cfg.MinInterval
	}
	return l.cfg.MinInterval + time.Duration(l.rng.Int64N(int64(span)+1))
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
