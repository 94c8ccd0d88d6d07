package stream

import (
	"github.com/goccy/go-json"
)

// envelope covers every frame shape the market stream sends: combined
// stream wrappers, subscription acks/errors and raw bookTicker payloads.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`

	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// bookTicker fields are decoded by exact key: "b"/"B" and "a"/"A" differ
// only in case, which struct-tag matching would conflate.
//
//	{"e":"bookTicker","u":400900217,"E":1568014460893,"T":1568014460891,"s":"BNBUSDT",
//	 "b":"25.35190000","B":"31.21000000","a":"25.36520000","A":"40.66000000"}
type bookTicker map[string]json.RawMessage

const (
	keySymbol    = "s"
	keyEventTime = "E"
	keyBidPrice  = "b"
	keyBidQty    = "B"
	keyAskPrice  = "a"
	keyAskQty    = "A"
)
