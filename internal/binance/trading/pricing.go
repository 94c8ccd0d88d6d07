package trading

import (
	"errors"
	"fmt"

	"fapitrader/pkg/binance"

	"github.com/shopspring/decimal"
)

// ErrUnpriceable is returned when a price or quantity cannot be expressed
// as a strictly positive multiple of the exchange increment.
var ErrUnpriceable = errors.New("trading: value rounds to zero")

// LimitPrice prices an order passively off mid: BUY at mid×buyRatio floored
// to tick, SELL at mid×sellRatio ceiled to tick. With buyRatio < 1 < sellRatio
// this keeps BUY < mid < SELL after rounding.
func LimitPrice(side binance.Side, mid, buyRatio, sellRatio, tick decimal.Decimal) (decimal.Decimal, error) {
	if !side.IsValid() {
		return decimal.Zero, fmt.Errorf("trading: unknown side %q", side)
	}
	var price decimal.Decimal
	switch side {
	case binance.SideBuy:
		price = FloorToStep(mid.Mul(buyRatio), tick)
	case binance.SideSell:
		price = CeilToStep(mid.Mul(sellRatio), tick)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s price from mid %s", ErrUnpriceable, side, mid)
	}
	return price, nil
}

// FloorToStep rounds v down to a multiple of step. A zero step leaves v unchanged.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// CeilToStep rounds v up to a multiple of step. A zero step leaves v unchanged.
func CeilToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}

// RequiredQuantity returns the smallest step multiple whose notional at price
// reaches minNotional, and always more than current.
func RequiredQuantity(price, minNotional, step, current decimal.Decimal) decimal.Decimal {
	raw := minNotional.Div(price)
	qty := CeilToStep(raw, step)
	if !step.IsPositive() {
		qty = raw.RoundUp(8)
	}
	if qty.LessThanOrEqual(current) {
		if step.IsPositive() {
			return current.Add(step)
		}
		return current.Mul(decimal.NewFromInt(2))
	}
	return qty
}
