package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fapitrader/config"
	"fapitrader/internal/binance/feed"
	"fapitrader/internal/binance/memorystore"
	"fapitrader/internal/binance/snapshot"
	"fapitrader/internal/binance/stream"
	"fapitrader/internal/binance/symbolmeta"
	"fapitrader/internal/binance/trading"
	"fapitrader/logger"
	"fapitrader/pkg/binance"
	"fapitrader/pkg/storage"
	"fapitrader/pkg/storage/postgres"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run wires the market data feed, the trading loop and the filter refresh
// for one symbol and blocks until ctx is cancelled (nil) or the feed gives
// up (feed.ErrRetriesExhausted).
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	tif := binance.TimeInForce(cfg.Trading.TimeInForce)
	if !tif.IsValid() {
		return fmt.Errorf("invalid config: trading.time_in_force %q must be GTC or GTX", cfg.Trading.TimeInForce)
	}
	pool, _ := cfg.Trading.QuantityPool()
	buyRatio, sellRatio, _ := cfg.Trading.Ratios()
	parsed, _ := cfg.Trading.Filters.Parse()

	symbol := binance.SymbolToExchange(cfg.Trading.Symbol)
	fallback := binance.SymbolFilters{
		Symbol:      symbol,
		TickSize:    parsed.TickSize,
		StepSize:    parsed.StepSize,
		MinQty:      parsed.MinQty,
		MinNotional: parsed.MinNotional,
	}

	journal := openJournal(cfg.Postgres, log)
	defer func() {
		if err := journal.Close(); err != nil {
			log.Warn("failed to close journal", logger.Status(logger.MarkWarn), zap.Error(err))
		}
	}()

	rest := binance.NewRESTClient(binance.RESTOptions{
		BaseURL:        cfg.Binance.REST.BaseURL,
		Timeout:        cfg.Binance.REST.Timeout,
		RecvWindow:     cfg.Binance.REST.RecvWindow,
		MaxAttempts:    cfg.Binance.REST.MaxAttempts,
		RetryBaseDelay: cfg.Binance.REST.RetryBaseDelay,
		RetryMaxDelay:  cfg.Binance.REST.RetryMaxDelay,
	}, cfg.Binance.APIKey, cfg.Binance.APISecret, log)

	quotes := memorystore.NewQuoteStore()
	filters := memorystore.NewFilterStore(fallback)

	handler := stream.NewHandler(symbol, quotes, log)
	ws := binance.NewWSClient(cfg.Binance.WS.URL, []string{binance.BookTickerStream(symbol)}, binance.WSOptions{
		PingInterval:     cfg.Binance.WS.PingInterval,
		PingTimeout:      cfg.Binance.WS.PingTimeout,
		HandshakeTimeout: cfg.Binance.WS.HandshakeTimeout,
	}, log)
	ws.SetMessageHandler(handler.Handle)

	marketFeed := feed.New(feed.Config{
		MaxRetries:     cfg.Binance.WS.MaxRetries,
		RetryBaseDelay: cfg.Binance.WS.RetryBaseDelay,
		RetryMaxDelay:  cfg.Binance.WS.RetryMaxDelay,
	}, ws, quotes, log)

	loader := &snapshot.FilterLoader{
		Symbol:     symbol,
		RestClient: rest,
		Fallback:   fallback,
		Timeout:    cfg.Binance.REST.Timeout,
		Logger:     log.Named("filters"),
	}
	scheduler := &symbolmeta.MidnightScheduler{
		Load: func(ctx context.Context) { loader.Refresh(ctx, filters) },
	}

	loop := trading.NewLoop(trading.Config{
		Symbol:          symbol,
		Quantities:      pool,
		BuyRatio:        buyRatio,
		SellRatio:       sellRatio,
		TimeInForce:     tif,
		CancelThreshold: cfg.Trading.CancelThreshold,
		SettleDelay:     cfg.Trading.SettleDelay,
		MinInterval:     cfg.Trading.MinInterval,
		MaxInterval:     cfg.Trading.MaxInterval,
		RequestTimeout:  cfg.Trading.RequestTimeout,
	}, rest, quotes, filters, journal, log)

	log.Info("starting trader",
		logger.Status(logger.MarkConnect),
		zap.String("symbol", symbol),
		zap.String("ws_url", cfg.Binance.WS.URL),
		zap.String("rest_url", cfg.Binance.REST.BaseURL),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return marketFeed.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		return heartbeat(gctx, cfg.Binance.WS.HeartbeatInterval, marketFeed, quotes, handler, loop, log)
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, feed.ErrRetriesExhausted) {
			log.Error("market data lost, stopping trader", logger.Status(logger.MarkFatal), zap.Error(err))
		}
		return err
	}
	log.Info("trader stopped", logger.Status(logger.MarkStop))
	return nil
}

// openJournal returns the postgres journal when enabled. A journal that
// cannot be opened is logged and replaced by a no-op one.
func openJournal(cfg config.PostgresConfig, log *zap.Logger) storage.Journal {
	if !cfg.Enabled {
		return storage.Nop{}
	}
	client, err := postgres.InitializeJournal(cfg)
	if err != nil {
		log.Warn("order journal unavailable, continuing without it",
			logger.Status(logger.MarkWarn),
			zap.String("host", cfg.Host),
			zap.String("dbname", cfg.DBName),
			zap.Error(err),
		)
		return storage.Nop{}
	}
	log.Info("order journal ready", logger.Status(logger.MarkOK), zap.String("dbname", cfg.DBName))
	return client
}

func heartbeat(ctx context.Context, interval time.Duration, f *feed.Feed, quotes *memorystore.QuoteStore,
	handler *stream.Handler, loop *trading.Loop, log *zap.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		fields := []zap.Field{
			zap.Stringer("feed_state", f.State()),
			zap.Uint64("quotes", quotes.Updates()),
			zap.Uint64("dropped", handler.Dropped()),
			zap.Int("submissions", loop.Submissions()),
		}
		q, ok := quotes.Latest()
		if !ok {
			log.Info("heartbeat: waiting for first quote", append(fields, logger.Status(logger.MarkWait))...)
			continue
		}
		log.Info("heartbeat",
			append(fields,
				logger.Status(logger.MarkQuote),
				zap.Stringer("bid", q.BestBid),
				zap.Stringer("ask", q.BestAsk),
				zap.Stringer("mid", q.Mid()),
				zap.Duration("quote_age", time.Since(q.ObservedAt)),
			)...,
		)
	}
}
