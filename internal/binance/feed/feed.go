package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"fapitrader/internal/binance/memorystore"
	"fapitrader/logger"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned by Run when the stream failed MaxRetries
// times in a row.
var ErrRetriesExhausted = errors.New("feed: reconnect retries exhausted")

type Config struct {
	MaxRetries     int // consecutive failures before giving up; values below 1 mean 1
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Session is one stream connection lifetime. *binance.WSClient implements it.
type Session interface {
	Run(ctx context.Context, onConnected func()) error
}

// Feed keeps the latest quote flowing into a QuoteStore, reconnecting with
// capped exponential backoff when a session ends.
type Feed struct {
	cfg     Config
	session Session
	store   *memorystore.QuoteStore
	logger  *zap.Logger
	state   atomic.Int32
}

func New(cfg Config, session Session, store *memorystore.QuoteStore, log *zap.Logger) *Feed {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Feed{
		cfg:     cfg,
		session: session,
		store:   store,
		logger:  log.Named("feed"),
	}
}

func (f *Feed) State() ConnectionState {
	return ConnectionState(f.state.Load())
}

// Run blocks until ctx is cancelled (returns nil) or retries are exhausted
// (returns ErrRetriesExhausted). The failure counter resets after any
// session that delivered at least one quote.
func (f *Feed) Run(ctx context.Context) error {
	defer f.setState(StateClosed, nil)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.RetryBaseDelay
	bo.MaxInterval = f.cfg.RetryMaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		f.setState(StateConnecting, nil)
		before := f.store.Updates()
		err := f.session.Run(ctx, func() { f.setState(StateConnected, nil) })
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("session ended")
		}

		if f.store.Updates() > before {
			failures = 0
			bo.Reset()
		}
		failures++
		f.setState(StateReconnecting, err)

		if failures >= f.cfg.MaxRetries {
			f.logger.Error("giving up on market stream",
				logger.Status(logger.MarkFatal),
				zap.Int("failures", failures),
				zap.Error(err),
			)
			return fmt.Errorf("%w after %d consecutive failures: %v", ErrRetriesExhausted, failures, err)
		}

		delay := bo.NextBackOff()
		f.logger.Warn("reconnecting",
			logger.Status(logger.MarkRetry),
			zap.Int("retry", failures),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (f *Feed) setState(s ConnectionState, cause error) {
	f.state.Store(int32(s))

	fields := []zap.Field{zap.Stringer("state", s)}
	switch s {
	case StateConnecting:
		f.logger.Info("connecting to market stream", append(fields, logger.Status(logger.MarkConnect))...)
	case StateConnected:
		f.logger.Info("market stream connected", append(fields, logger.Status(logger.MarkOK))...)
	case StateReconnecting:
		f.logger.Warn("market stream lost", append(fields, logger.Status(logger.MarkFail), zap.Error(cause))...)
	case StateClosed:
		f.logger.Info("market stream closed", append(fields, logger.Status(logger.MarkStop))...)
	}
}
