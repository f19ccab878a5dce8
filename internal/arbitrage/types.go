// Package arbitrage holds the domain of the DEX/CEX spread watcher: quotes,
// the spread evaluation, trade plans and the outcomes of executing them.
package arbitrage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies where a quote came from or a leg settles.
type Venue string

const (
	VenueDEX Venue = "pancakeswap"
	VenueCEX Venue = "blofin"
)

// Quote is a single price observation for the pair on one venue.
// Price is in quote currency per base unit.
type Quote struct {
	Venue      Venue
	Pair       string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// QuoteSource fetches the current price of a pair from one venue.
// Any failure is returned as a *QuoteError; callers treat it as "unavailable".
type QuoteSource interface {
	Venue() Venue
	Quote(ctx context.Context, pair string) (Quote, error)
}

// Direction is the way both legs of a trade plan are oriented.
type Direction string

const (
	BuyDexSellCex Direction = "BUY_DEX_SELL_CEX"
	BuyCexSellDex Direction = "BUY_CEX_SELL_DEX"
)

// String returns a human-readable description of the direction.
func (d Direction) String() string {
	switch d {
	case BuyDexSellCex:
		return "buy on PancakeSwap, sell on Blofin"
	case BuyCexSellDex:
		return "buy on Blofin, sell on PancakeSwap"
	default:
		return "unknown"
	}
}

// Side is the base-asset side of a leg.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// LegKind identifies which executor settles a leg.
type LegKind string

const (
	LegDEXSwap  LegKind = "DEX-swap"
	LegCEXOrder LegKind = "CEX-order"
)

// Venue returns the venue a leg of this kind settles on.
func (k LegKind) Venue() Venue {
	if k == LegDEXSwap {
		return VenueDEX
	}
	return VenueCEX
}

// LegStatus is the settlement result of one leg.
type LegStatus string

const (
	LegFilled  LegStatus = "filled"
	LegFailed  LegStatus = "failed"
	LegSkipped LegStatus = "skipped"
)

// Leg is one side of a trade plan. All amounts derive from ReferencePrice,
// the price captured when the signal was produced.
type Leg struct {
	Kind           LegKind
	Side           Side
	Quantity       decimal.Decimal // base units
	ReferencePrice decimal.Decimal
	QuoteAmount    decimal.Decimal // Quantity * ReferencePrice
	// MinOut is the least acceptable output: base units for a buy,
	// quote units for a sell.
	MinOut decimal.Decimal
}

// TradePlan is the immutable two-leg plan produced for one signal.
type TradePlan struct {
	ID          string
	Pair        string
	Direction   Direction
	Quantity    decimal.Decimal
	DexPrice    decimal.Decimal
	CexPrice    decimal.Decimal
	Spread      decimal.Decimal
	Slippage    decimal.Decimal
	Buy         Leg
	Sell        Leg
	GeneratedAt time.Time
}

// Legs returns the legs in execution order: buy before sell.
func (p TradePlan) Legs() []Leg {
	return []Leg{p.Buy, p.Sell}
}

// LegOutcome is the settlement report for one leg.
type LegOutcome struct {
	Kind           LegKind
	Side           Side
	Status         LegStatus
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Reference      string // transaction hash or order id
	Err            error
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Filled builds a filled outcome for leg.
func Filled(leg Leg, filled decimal.Decimal, ref string, started, finished time.Time) LegOutcome {
	return LegOutcome{
		Kind:           leg.Kind,
		Side:           leg.Side,
		Status:         LegFilled,
		Quantity:       leg.Quantity,
		FilledQuantity: filled,
		Reference:      ref,
		StartedAt:      started,
		FinishedAt:     finished,
	}
}

// Failed builds a failed outcome for leg. ref may be empty.
func Failed(leg Leg, ref string, err error, started, finished time.Time) LegOutcome {
	return LegOutcome{
		Kind:           leg.Kind,
		Side:           leg.Side,
		Status:         LegFailed,
		Quantity:       leg.Quantity,
		FilledQuantity: decimal.Zero,
		Reference:      ref,
		Err:            err,
		StartedAt:      started,
		FinishedAt:     finished,
	}
}

// Skipped builds a dry-run outcome for leg.
func Skipped(leg Leg, at time.Time) LegOutcome {
	return LegOutcome{
		Kind:           leg.Kind,
		Side:           leg.Side,
		Status:         LegSkipped,
		Quantity:       leg.Quantity,
		FilledQuantity: decimal.Zero,
		StartedAt:      at,
		FinishedAt:     at,
	}
}

// SwapExecutor settles the on-chain leg. It never panics on ordinary failures;
// reverts and timeouts come back as a Failed outcome.
type SwapExecutor interface {
	Swap(ctx context.Context, leg Leg) LegOutcome
}

// OrderExecutor settles the centralized-exchange leg.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, leg Leg) LegOutcome
}
