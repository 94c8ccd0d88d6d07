package memorystore

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the best bid/ask of a symbol at one instant. A Quote is never
// modified after it is stored; each stream message supersedes the last.
type Quote struct {
	Symbol     string          `json:"symbol"`
	BestBid    decimal.Decimal `json:"bestBid"`
	BestAsk    decimal.Decimal `json:"bestAsk"`
	BidQty     decimal.Decimal `json:"bidQty"`
	AskQty     decimal.Decimal `json:"askQty"`
	EventTime  time.Time       `json:"eventTime"`  // exchange event time, zero if absent
	ObservedAt time.Time       `json:"observedAt"` // local receipt time
}

// Mid returns (bestBid + bestAsk) / 2.
func (q Quote) Mid() decimal.Decimal {
	return q.BestBid.Add(q.BestAsk).Div(decimal.NewFromInt(2))
}
