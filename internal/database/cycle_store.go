package database

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pancake-blofin-arb/internal/arbitrage"
	"pancake-blofin-arb/internal/models"
)

// CycleStore records executed cycles and reads them back for reporting.
type CycleStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCycleStore creates a CycleStore backed by db.
func NewCycleStore(db *gorm.DB, logger *zap.Logger) *CycleStore {
	return &CycleStore{db: db, logger: logger.Named("cycle-store")}
}

// Record persists a cycle together with its leg outcomes. Cycles that never
// produced a plan are not stored.
func (s *CycleStore) Record(ctx context.Context, result *arbitrage.CycleResult) error {
	if result == nil || result.Plan == nil {
		return nil
	}
	cycle := toModel(result)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&cycle).Error
	})
	if err != nil {
		return fmt.Errorf("record cycle %s: %w", result.ID, err)
	}

	s.logger.Debug("Cycle recorded", zap.String("cycle_id", cycle.CycleID), zap.Int("trades", len(cycle.Trades)))
	return nil
}

// Recent returns the latest cycles with their trades, newest first.
func (s *CycleStore) Recent(ctx context.Context, limit int) ([]models.Cycle, error) {
	if limit <= 0 {
		limit = 50
	}
	var cycles []models.Cycle
	err := s.db.WithContext(ctx).
		Preload("Trades", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Order("started_at desc").
		Limit(limit).
		Find(&cycles).Error
	if err != nil {
		return nil, fmt.Errorf("load recent cycles: %w", err)
	}
	return cycles, nil
}

// Get returns one cycle by its identifier. A missing cycle wraps gorm.ErrRecordNotFound.
func (s *CycleStore) Get(ctx context.Context, cycleID string) (*models.Cycle, error) {
	var cycle models.Cycle
	err := s.db.WithContext(ctx).Preload("Trades").Where("cycle_id = ?", cycleID).First(&cycle).Error
	if err != nil {
		return nil, fmt.Errorf("load cycle %s: %w", cycleID, err)
	}
	return &cycle, nil
}

// Statistics aggregates recorded cycles.
type Statistics struct {
	TotalCycles   int64  `json:"total_cycles"`
	Simulated     int64  `json:"simulated"`
	Live          int64  `json:"live"`
	FullyFilled   int64  `json:"fully_filled"`
	Unbalanced    int64  `json:"unbalanced"`
	Failed        int64  `json:"failed"`
	AverageSpread string `json:"average_spread"`
	MaxSpread     string `json:"max_spread"`
}

// Statistics aggregates cycles started at or after since. A zero since covers all history.
func (s *CycleStore) Statistics(ctx context.Context, since time.Time) (Statistics, error) {
	var cycles []models.Cycle
	q := s.db.WithContext(ctx).Model(&models.Cycle{})
	if !since.IsZero() {
		q = q.Where("started_at >= ?", since.UTC())
	}
	if err := q.Find(&cycles).Error; err != nil {
		return Statistics{}, fmt.Errorf("load cycles for statistics: %w", err)
	}

	stats := Statistics{AverageSpread: "0", MaxSpread: "0"}
	sum, maxSpread := decimal.Zero, decimal.Zero
	for _, c := range cycles {
		stats.TotalCycles++
		if c.IsSimulation {
			stats.Simulated++
		} else {
			stats.Live++
			switch {
			case c.FullyFilled:
				stats.FullyFilled++
			case c.Unbalanced:
				stats.Unbalanced++
			default:
				stats.Failed++
			}
		}

		spread := c.Spread.Abs()
		sum = sum.Add(spread)
		if spread.GreaterThan(maxSpread) {
			maxSpread = spread
		}
	}

	if stats.TotalCycles > 0 {
		stats.AverageSpread = sum.Div(decimal.NewFromInt(stats.TotalCycles)).StringFixed(6)
		stats.MaxSpread = maxSpread.StringFixed(6)
	}
	return stats, nil
}

func toModel(r *arbitrage.CycleResult) models.Cycle {
	plan := r.Plan
	cycle := models.Cycle{
		CycleID:      r.ID,
		Pair:         plan.Pair,
		Direction:    string(plan.Direction),
		Status:       string(r.Status()),
		DexPrice:     plan.DexPrice,
		CexPrice:     plan.CexPrice,
		Spread:       plan.Spread,
		Quantity:     plan.Quantity,
		Slippage:     plan.Slippage,
		IsSimulation: r.DryRun,
		FullyFilled:  r.FullyFilled(),
		Unbalanced:   r.Unbalanced(),
		StartedAt:    r.StartedAt.UTC(),
		FinishedAt:   r.FinishedAt.UTC(),
	}
	if r.Err != nil {
		cycle.Error = r.Err.Error()
	}

	for _, o := range r.Outcomes {
		leg := plan.Buy
		if plan.Sell.Kind == o.Kind {
			leg = plan.Sell
		}
		trade := models.Trade{
			CycleID:        r.ID,
			Venue:          string(o.Kind.Venue()),
			Kind:           string(o.Kind),
			Symbol:         plan.Pair,
			Type:           sideLabel(o.Side),
			Status:         string(o.Status),
			Price:          leg.ReferencePrice,
			Quantity:       o.Quantity,
			FilledQuantity: o.FilledQuantity,
			QuoteQuantity:  leg.QuoteAmount,
			MinOut:         leg.MinOut,
			Reference:      o.Reference,
			Timestamp:      o.FinishedAt.UnixMilli(),
			IsSimulation:   r.DryRun,
		}
		if o.Err != nil {
			trade.Error = o.Err.Error()
		}
		cycle.Trades = append(cycle.Trades, trade)
	}
	return cycle
}

func sideLabel(s arbitrage.Side) string {
	if s == arbitrage.SideBuy {
		return "BUY"
	}
	return "SELL"
}
