package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Signer signs private endpoint requests:
// https://developers.binance.com/docs/derivatives/usds-margined-futures/general-info#signed-trade-and-user_data-endpoint-security
type Signer struct {
	secret     []byte
	recvWindow time.Duration
}

func NewSigner(secret string, recvWindow time.Duration) *Signer {
	return &Signer{
		secret:     []byte(secret),
		recvWindow: recvWindow,
	}
}

// Sign appends recvWindow and timestamp to params and returns the encoded
// query string with the signature as its last parameter.
func (s *Signer) Sign(params url.Values, ts time.Time) string {
	signed := url.Values{}
	for k, v := range params {
		signed[k] = append([]string(nil), v...)
	}
	if s.recvWindow > 0 {
		signed.Set("recvWindow", strconv.FormatInt(s.recvWindow.Milliseconds(), 10))
	}
	signed.Set("timestamp", strconv.FormatInt(ts.UnixMilli(), 10))

	query := signed.Encode()
	return query + "&signature=" + s.signature(query)
}

func (s *Signer) signature(payload string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
