package binance

import "strings"

// Default USDⓈ-M futures testnet endpoints.
const (
	TestnetRESTURL = "https://testnet.binancefuture.com"
	TestnetWSURL   = "wss://stream.binancefuture.com/ws"
)

const (
	pathOrder        = "/fapi/v1/order"
	pathAllOpenOrder = "/fapi/v1/allOpenOrders"
	pathExchangeInfo = "/fapi/v1/exchangeInfo"

	headerAPIKey = "X-MBX-APIKEY"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// IsValid reports whether the side is one the exchange accepts.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

type OrderType string

const OrderTypeLimit OrderType = "LIMIT"

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceGTX TimeInForce = "GTX" // post only
)

// IsValid reports whether the time in force is one the client submits.
func (t TimeInForce) IsValid() bool {
	return t == TimeInForceGTC || t == TimeInForceGTX
}

// Exchange error codes the client reacts to.
const (
	CodeMinNotional     = -4164 // futures: order's notional must be no smaller than X
	CodeFilterFailure   = -1013 // generic filter failure, e.g. "Filter failure: MIN_NOTIONAL"
	CodeTimestampWindow = -1021
)

// BookTickerStream returns the stream name for a symbol's best bid/ask channel.
func BookTickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@bookTicker"
}

// SymbolToExchange normalizes a symbol to the upper-case form used by the REST API.
func SymbolToExchange(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
