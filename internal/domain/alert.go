package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Alert directions
const (
	DirectionIncreased = "increased"
	DirectionDecreased = "decreased"
)

// SignificantChangePct is the percent move against the previously observed
// price that triggers an alert. The comparison baseline is the last locally
// observed price for the symbol, not the server-reported 24h change.
var SignificantChangePct = decimal.NewFromInt(5)

// PriceAlert is emitted when a tracked symbol moves significantly between
// two consecutive observations.
type PriceAlert struct {
	Symbol    string          `json:"symbol"`
	Direction string          `json:"direction"` // "increased" or "decreased"
	Magnitude decimal.Decimal `json:"magnitude"` // Absolute percent change
	Price     decimal.Decimal `json:"price"`
	PrevPrice decimal.Decimal `json:"prev_price"`
	At        time.Time       `json:"at"`
}

// SignificantChange compares the current price against the previous observed
// price and returns an alert when the move is at or above the threshold.
// A zero previous price yields no alert: the first observation only sets
// the baseline.
func SignificantChange(symbol string, prev, curr decimal.Decimal, at time.Time) (PriceAlert, bool) {
	if prev.IsZero() || curr.Equal(prev) {
		return PriceAlert{}, false
	}

	pct := curr.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
	if pct.Abs().LessThan(SignificantChangePct) {
		return PriceAlert{}, false
	}

	direction := DirectionIncreased
	if pct.IsNegative() {
		direction = DirectionDecreased
	}

	return PriceAlert{
		Symbol:    symbol,
		Direction: direction,
		Magnitude: pct.Abs(),
		Price:     curr,
		PrevPrice: prev,
		At:        at,
	}, true
}
