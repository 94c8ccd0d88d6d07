package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"fapitrader/logger"

	"github.com/c-pro/rolling"
	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxLoggedBody = 512

// RESTOptions configures the REST client and its retry policy.
type RESTOptions struct {
	BaseURL        string
	Timeout        time.Duration // per attempt
	RecvWindow     time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// RESTClient sends signed requests to the futures REST API. Transient
// failures are retried with capped exponential backoff; exchange
// rejections are returned as *RequestError on the first attempt.
type RESTClient struct {
	baseURL    string
	apiKey     string
	signer     *Signer
	opts       RESTOptions
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	latencyMu sync.Mutex
	latency   *rolling.Window
}

func NewRESTClient(opts RESTOptions, apiKey, apiSecret string, log *zap.Logger) *RESTClient {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BaseURL == "" {
		opts.BaseURL = TestnetRESTURL
	}
	return &RESTClient{
		baseURL:    opts.BaseURL,
		apiKey:     apiKey,
		signer:     NewSigner(apiSecret, opts.RecvWindow),
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     log.Named("rest"),
		now:        time.Now,
		latency:    rolling.NewWindow(100, 5*time.Minute),
	}
}

// SubmitOrder places a new order. The client order ID is kept across
// retries so the exchange rejects a duplicate if an earlier attempt landed.
func (c *RESTClient) SubmitOrder(ctx context.Context, order OrderRequest) (*OrderAck, error) {
	var ack OrderAck
	if err := c.do(ctx, "SubmitOrder", http.MethodPost, pathOrder, order.Values(), true, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// CancelAll cancels every open order on the symbol.
func (c *RESTClient) CancelAll(ctx context.Context, symbol string) (*CancelAck, error) {
	params := url.Values{}
	params.Set("symbol", SymbolToExchange(symbol))

	var ack CancelAck
	if err := c.do(ctx, "CancelAll", http.MethodDelete, pathAllOpenOrder, params, true, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// GetSymbolFilters reads the price/lot/notional filters of a symbol from the
// public exchange info endpoint.
func (c *RESTClient) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	var info exchangeInfoResponse
	if err := c.do(ctx, "GetSymbolFilters", http.MethodGet, pathExchangeInfo, nil, false, &info); err != nil {
		return nil, err
	}

	want := SymbolToExchange(symbol)
	for _, s := range info.Symbols {
		if s.Symbol != want {
			continue
		}

		out := &SymbolFilters{Symbol: want}
		for _, f := range s.Filters {
			var err error
			switch f.FilterType {
			case "PRICE_FILTER":
				out.TickSize, err = parseDecimal(f.TickSize)
			case "LOT_SIZE":
				if out.StepSize, err = parseDecimal(f.StepSize); err == nil {
					out.MinQty, err = parseDecimal(f.MinQty)
				}
			case "MIN_NOTIONAL":
				out.MinNotional, err = parseDecimal(f.Notional)
			}
			if err != nil {
				return nil, fmt.Errorf("binance.GetSymbolFilters failed to parse %s: %w", f.FilterType, err)
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("binance.GetSymbolFilters: symbol %s not listed", want)
}

func (c *RESTClient) do(ctx context.Context, op, method, path string, params url.Values, signed bool, out any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryBaseDelay
	bo.MaxInterval = c.opts.RetryMaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := c.attempt(ctx, op, method, path, params, signed, out, attempt)
		if err == nil {
			return struct{}{}, nil
		}

		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Transient() {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("retrying request",
				logger.Status(logger.MarkRetry),
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("next_in", next),
				zap.Error(err),
			)
		}),
	)
	return err
}

// attempt performs one signed round trip and logs what was sent and received.
func (c *RESTClient) attempt(ctx context.Context, op, method, path string, params url.Values,
	signed bool, out any, attempt int) error {
	// Sign with a fresh timestamp per attempt
	query := params.Encode()
	rawQuery := query
	if signed {
		rawQuery = c.signer.Sign(params, c.now())
	}

	// Build request
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("binance.%s failed to create request: %w", op, err)
	}
	req.URL.RawQuery = rawQuery
	if signed {
		req.Header.Add(headerAPIKey, c.apiKey)
	}

	fields := []zap.Field{
		zap.String("op", op),
		zap.Int("attempt", attempt),
		zap.String("method", method),
		zap.String("path", path),
		zap.String("params", query),
	}

	// Execute the HTTP request
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(started)
	fields = append(fields, c.observeLatency(elapsed)...)
	if err != nil {
		c.logger.Warn("request failed", append(fields, logger.Status(logger.MarkFail), zap.Error(err))...)
		return &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("reading response failed", append(fields, logger.Status(logger.MarkFail), zap.Error(err))...)
		return &RequestError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	fields = append(fields, zap.Int("http_status", resp.StatusCode), zap.String("response", truncate(b)))

	// Check HTTP status code
	if resp.StatusCode != http.StatusOK {
		reqErr := &RequestError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
		var apiErr apiError
		if json.Unmarshal(b, &apiErr) == nil {
			reqErr.Code, reqErr.Msg = apiErr.Code, apiErr.Msg
		}
		c.logger.Warn("request rejected", append(fields, logger.Status(logger.MarkFail))...)
		return reqErr
	}

	c.logger.Info("request succeeded", append(fields, logger.Status(logger.MarkOK))...)

	// Decode body
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return fmt.Errorf("binance.%s failed to unmarshal response: %w", op, err)
		}
	}
	return nil
}

func (c *RESTClient) observeLatency(d time.Duration) []zap.Field {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()

	c.latency.Add(float64(d.Microseconds()) / 1000)
	return []zap.Field{
		zap.Duration("latency", d),
		zap.Float64("latency_avg_ms", c.latency.Avg()),
		zap.Float64("latency_max_ms", c.latency.Max()),
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func truncate(b []byte) string {
	if len(b) <= maxLoggedBody {
		return string(b)
	}
	return string(b[:maxLoggedBody]) + "...(truncated)"
}
