package arbitrage

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleStatus summarises how far a cycle got.
type CycleStatus string

const (
	CycleNoQuote  CycleStatus = "no_quote"
	CycleNoSignal CycleStatus = "no_signal"
	CycleExecuted CycleStatus = "executed"
	CycleError    CycleStatus = "error"
)

// CycleResult is the record of one scheduler tick.
type CycleResult struct {
	ID         string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	DexQuote   *Quote
	CexQuote   *Quote
	Signal     *Signal
	Plan       *TradePlan
	Outcomes   []LegOutcome
	Err        error
}

// Status reports the furthest stage the cycle reached.
func (r *CycleResult) Status() CycleStatus {
	switch {
	case r.Err != nil:
		return CycleError
	case r.Plan != nil:
		return CycleExecuted
	case r.DexQuote == nil || r.CexQuote == nil:
		return CycleNoQuote
	default:
		return CycleNoSignal
	}
}

// Spread returns the spread observed in this cycle, if both quotes were available.
func (r *CycleResult) Spread() (decimal.Decimal, bool) {
	if r.DexQuote == nil || r.CexQuote == nil || !r.DexQuote.Price.IsPositive() {
		return decimal.Zero, false
	}
	return Spread(r.DexQuote.Price, r.CexQuote.Price), true
}

// Outcome returns the outcome recorded for the given leg kind.
func (r *CycleResult) Outcome(kind LegKind) (LegOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			return o, true
		}
	}
	return LegOutcome{}, false
}

// Unbalanced reports whether exactly one leg settled, leaving an open
// position on one venue. No compensation is attempted.
func (r *CycleResult) Unbalanced() bool {
	filled := 0
	for _, o := range r.Outcomes {
		if o.Status == LegFilled {
			filled++
		}
	}
	return len(r.Outcomes) == 2 && filled == 1
}

// FullyFilled reports whether both legs settled.
func (r *CycleResult) FullyFilled() bool {
	if len(r.Outcomes) != 2 {
		return false
	}
	for _, o := range r.Outcomes {
		if o.Status != LegFilled {
			return false
		}
	}
	return true
}
