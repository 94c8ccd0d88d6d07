package binance

import (
	"net/url"

	"github.com/shopspring/decimal"
)

// OrderRequest is a single limit order to submit. It is built once per
// submission and never mutated; use WithQuantity to derive a new request.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Quantity      decimal.Decimal // expected to be rounded to the symbol's step size
	Price         decimal.Decimal // expected to be rounded to the symbol's tick size
}

// WithQuantity returns a copy of the request with a new quantity and client order ID.
func (r OrderRequest) WithQuantity(qty decimal.Decimal, clientOrderID string) OrderRequest {
	r.Quantity = qty
	r.ClientOrderID = clientOrderID
	return r
}

// Notional is quantity × price.
func (r OrderRequest) Notional() decimal.Decimal {
	return r.Quantity.Mul(r.Price)
}

// Values renders the request parameters, excluding timestamp and signature.
func (r OrderRequest) Values() url.Values {
	values := url.Values{}
	values.Add("symbol", SymbolToExchange(r.Symbol))
	values.Add("side", string(r.Side))
	values.Add("type", string(r.Type))
	if r.TimeInForce != "" {
		values.Add("timeInForce", string(r.TimeInForce))
	}
	if r.Quantity.IsPositive() {
		values.Add("quantity", r.Quantity.String())
	}
	if r.Price.IsPositive() {
		values.Add("price", r.Price.String())
	}
	if r.ClientOrderID != "" {
		values.Add("newClientOrderId", r.ClientOrderID)
	}
	return values
}

// OrderAck is the exchange's acknowledgement of a new order.
type OrderAck struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	UpdateTime    int64  `json:"updateTime"`
}

// CancelAck is the response of the cancel-all endpoint.
type CancelAck struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// apiError is the exchange's structured error body.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// SymbolFilters holds the trading rules the client must respect for a symbol.
type SymbolFilters struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
			Notional   string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}
