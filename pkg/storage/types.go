package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEntry is one order submission as sent and as answered.
type OrderEntry struct {
	ClientOrderID string
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	Price         decimal.Decimal

	// Set when the exchange accepted the order.
	OrderID int64
	Status  string

	// Set when the submission failed.
	ErrorCode int
	Error     string

	Adjusted    bool // resubmission after a minimum-notional rejection
	SubmittedAt time.Time
}

func (e OrderEntry) Accepted() bool {
	return e.Error == ""
}

// CancelEntry is one cancel-all attempt.
type CancelEntry struct {
	Symbol      string
	Submissions int
	Code        int
	Msg         string
	Error       string
	RequestedAt time.Time
}
