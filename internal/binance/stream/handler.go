package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"fapitrader/internal/binance/memorystore"
	"fapitrader/logger"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrNotQuote marks control frames (subscription acks) that carry no quote.
	ErrNotQuote = errors.New("frame carries no quote")
	// ErrSubscription is returned by the handler when the exchange rejects
	// the subscription; the session cannot deliver quotes and must end.
	ErrSubscription = errors.New("subscription rejected")
)

// Handler turns stream frames into Quotes for one symbol.
type Handler struct {
	symbol  string
	store   *memorystore.QuoteStore
	logger  *zap.Logger
	now     func() time.Time
	dropped atomic.Uint64
}

func NewHandler(symbol string, store *memorystore.QuoteStore, log *zap.Logger) *Handler {
	return &Handler{
		symbol: strings.ToUpper(symbol),
		store:  store,
		logger: log.Named("stream"),
		now:    time.Now,
	}
}

// Dropped returns how many frames were discarded as malformed or foreign.
func (h *Handler) Dropped() uint64 {
	return h.dropped.Load()
}

// Handle stores the quote carried by msg. Malformed frames are logged and
// dropped without ending the session.
func (h *Handler) Handle(msg []byte) error {
	q, err := ParseQuote(msg, h.now())
	switch {
	case errors.Is(err, ErrSubscription):
		h.logger.Error("subscription rejected", logger.Status(logger.MarkFail), zap.ByteString("msg", msg))
		return err
	case errors.Is(err, ErrNotQuote):
		h.logger.Debug("control frame", zap.ByteString("msg", msg))
		return nil
	case err != nil:
		h.dropped.Add(1)
		h.logger.Warn("dropping malformed message", logger.Status(logger.MarkWarn),
			zap.ByteString("msg", msg), zap.Error(err))
		return nil
	}

	if h.symbol != "" && q.Symbol != "" && q.Symbol != h.symbol {
		h.dropped.Add(1)
		h.logger.Warn("dropping quote for unexpected symbol", logger.Status(logger.MarkWarn),
			zap.String("symbol", q.Symbol))
		return nil
	}

	h.store.Set(q)
	h.logger.Debug("quote",
		logger.Status(logger.MarkQuote),
		zap.String("symbol", q.Symbol),
		zap.Stringer("bid", q.BestBid),
		zap.Stringer("ask", q.BestAsk),
	)
	return nil
}

// ParseQuote extracts a Quote from a raw or combined-stream bookTicker frame.
func ParseQuote(msg []byte, now time.Time) (memorystore.Quote, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return memorystore.Quote{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Error != nil {
		return memorystore.Quote{}, fmt.Errorf("%w: code %d: %s", ErrSubscription, env.Error.Code, env.Error.Msg)
	}
	if env.ID != nil && len(env.Data) == 0 {
		return memorystore.Quote{}, ErrNotQuote
	}

	payload := msg
	if len(env.Data) > 0 {
		payload = env.Data
	}

	var bt bookTicker
	if err := json.Unmarshal(payload, &bt); err != nil {
		return memorystore.Quote{}, fmt.Errorf("decode bookTicker: %w", err)
	}

	bid, err := bt.price(keyBidPrice)
	if err != nil {
		return memorystore.Quote{}, err
	}
	ask, err := bt.price(keyAskPrice)
	if err != nil {
		return memorystore.Quote{}, err
	}

	q := memorystore.Quote{
		BestBid:    bid,
		BestAsk:    ask,
		BidQty:     bt.optionalDecimal(keyBidQty),
		AskQty:     bt.optionalDecimal(keyAskQty),
		ObservedAt: now,
	}
	if raw, ok := bt[keySymbol]; ok {
		_ = json.Unmarshal(raw, &q.Symbol)
	}
	if raw, ok := bt[keyEventTime]; ok {
		var ms int64
		if json.Unmarshal(raw, &ms) == nil && ms > 0 {
			q.EventTime = time.UnixMilli(ms).UTC()
		}
	}
	return q, nil
}

func (bt bookTicker) price(key string) (decimal.Decimal, error) {
	raw, ok := bt[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("missing field %q", key)
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("field %q: non-positive price %s", key, d)
	}
	return d, nil
}

func (bt bookTicker) optionalDecimal(key string) decimal.Decimal {
	var d decimal.Decimal
	if raw, ok := bt[key]; ok {
		_ = json.Unmarshal(raw, &d)
	}
	return d
}
