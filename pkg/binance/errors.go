package binance

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// RequestError describes a failed REST call. Either Err is set (the request
// never produced a response) or StatusCode is set with the exchange's body.
type RequestError struct {
	Op         string
	StatusCode int
	Code       int
	Msg        string
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("binance.%s: %v", e.Op, e.Err)
	}
	if e.Code != 0 {
		return fmt.Sprintf("binance.%s returned HTTP %d (code %d): %s", e.Op, e.StatusCode, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance.%s returned HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same request may succeed:
// transport failures, 5xx responses, rate limiting and a timestamp outside
// recvWindow (every attempt is signed with a fresh timestamp).
func (e *RequestError) Transient() bool {
	if e.Err != nil {
		return true
	}
	if e.Code == CodeTimestampWindow {
		return true
	}
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsNotionalTooSmall reports whether the order was rejected for a notional
// value below the symbol minimum.
func (e *RequestError) IsNotionalTooSmall() bool {
	if e.Code == CodeMinNotional {
		return true
	}
	return e.Code == CodeFilterFailure && strings.Contains(strings.ToUpper(e.Msg), "NOTIONAL")
}

var minNotionalRe = regexp.MustCompile(`no smaller than ([0-9]+(?:\.[0-9]+)?)`)

// MinNotionalFromMessage extracts the minimum notional from a rejection
// message such as "Order's notional must be no smaller than 100".
func (e *RequestError) MinNotionalFromMessage() (decimal.Decimal, bool) {
	m := minNotionalRe.FindStringSubmatch(e.Msg)
	if len(m) != 2 {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(m[1])
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

// IsNotionalTooSmall is a convenience wrapper over errors.As.
func IsNotionalTooSmall(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.IsNotionalTooSmall()
}
