package arbitrage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errBadPlanInput = errors.New("invalid plan input")

// Plan turns a signal into a two-leg trade plan of fixed base quantity.
//
// Both legs are priced from the reference prices captured in the signal.
// The buy leg must return at least quantity*(1-slippage) base units for
// QuoteAmount; the sell leg must return at least QuoteAmount*(1-slippage)
// quote units. There is no balance check on either venue.
func Plan(sig Signal, quantity, slippage decimal.Decimal, now time.Time) (TradePlan, error) {
	if !quantity.IsPositive() {
		return TradePlan{}, fmt.Errorf("%w: quantity %s", errBadPlanInput, quantity)
	}
	if slippage.IsNegative() || slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return TradePlan{}, fmt.Errorf("%w: slippage %s", errBadPlanInput, slippage)
	}

	keep := decimal.NewFromInt(1).Sub(slippage)

	dexBuy := buyLeg(LegDEXSwap, quantity, sig.DexPrice, keep)
	dexSell := sellLeg(LegDEXSwap, quantity, sig.DexPrice, keep)
	cexBuy := buyLeg(LegCEXOrder, quantity, sig.CexPrice, keep)
	cexSell := sellLeg(LegCEXOrder, quantity, sig.CexPrice, keep)

	plan := TradePlan{
		ID:          uuid.NewString(),
		Pair:        sig.Pair,
		Direction:   sig.Direction,
		Quantity:    quantity,
		DexPrice:    sig.DexPrice,
		CexPrice:    sig.CexPrice,
		Spread:      sig.Spread,
		Slippage:    slippage,
		GeneratedAt: now,
	}

	switch sig.Direction {
	case BuyDexSellCex:
		plan.Buy, plan.Sell = dexBuy, cexSell
	case BuyCexSellDex:
		plan.Buy, plan.Sell = cexBuy, dexSell
	default:
		return TradePlan{}, fmt.Errorf("%w: direction %q", errBadPlanInput, sig.Direction)
	}
	return plan, nil
}

func buyLeg(kind LegKind, qty, price, keep decimal.Decimal) Leg {
	return Leg{
		Kind:           kind,
		Side:           SideBuy,
		Quantity:       qty,
		ReferencePrice: price,
		QuoteAmount:    qty.Mul(price),
		MinOut:         qty.Mul(keep),
	}
}

func sellLeg(kind LegKind, qty, price, keep decimal.Decimal) Leg {
	quoteAmount := qty.Mul(price)
	return Leg{
		Kind:           kind,
		Side:           SideSell,
		Quantity:       qty,
		ReferencePrice: price,
		QuoteAmount:    quoteAmount,
		MinOut:         quoteAmount.Mul(keep),
	}
}
