package arbitrage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal is a spread that crossed the threshold, with the prices it was computed from.
type Signal struct {
	Pair       string
	Direction  Direction
	Spread     decimal.Decimal
	DexPrice   decimal.Decimal
	CexPrice   decimal.Decimal
	ObservedAt time.Time
}

// Spread returns (cex - dex) / dex. dex must be positive.
func Spread(dex, cex decimal.Decimal) decimal.Decimal {
	return cex.Sub(dex).Div(dex)
}

// Evaluate compares the two quotes against threshold. A nil quote means the
// venue was unavailable this cycle. The threshold is compared against the
// magnitude of the spread; the direction is buy where cheap, sell where dear.
func Evaluate(dex, cex *Quote, threshold decimal.Decimal) (Signal, bool) {
	if dex == nil || cex == nil {
		return Signal{}, false
	}
	if !dex.Price.IsPositive() || !cex.Price.IsPositive() {
		return Signal{}, false
	}

	spread := Spread(dex.Price, cex.Price)
	if spread.Abs().LessThan(threshold) {
		return Signal{}, false
	}

	direction := BuyCexSellDex
	if dex.Price.LessThan(cex.Price) {
		direction = BuyDexSellCex
	}

	observed := dex.ObservedAt
	if cex.ObservedAt.After(observed) {
		observed = cex.ObservedAt
	}

	return Signal{
		Pair:       dex.Pair,
		Direction:  direction,
		Spread:     spread,
		DexPrice:   dex.Price,
		CexPrice:   cex.Price,
		ObservedAt: observed,
	}, true
}
