package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pancake-blofin-arb/internal/arbitrage"
	"pancake-blofin-arb/internal/config"
)

const recordTimeout = 5 * time.Second

// Recorder receives every finished cycle. Implementations decide what to keep.
type Recorder interface {
	Record(ctx context.Context, result *arbitrage.CycleResult) error
}

// Deps are the collaborators of the engine. Executors may be nil in dry-run mode.
type Deps struct {
	Dex       arbitrage.QuoteSource
	Cex       arbitrage.QuoteSource
	Swapper   arbitrage.SwapExecutor
	Orderer   arbitrage.OrderExecutor
	Recorders []Recorder
}

// Engine runs the quote, evaluate, plan and execute cycle on a fixed interval.
type Engine struct {
	logger    *zap.Logger
	cfg       *config.Config
	dex       arbitrage.QuoteSource
	cex       arbitrage.QuoteSource
	swapper   arbitrage.SwapExecutor
	orderer   arbitrage.OrderExecutor
	recorders []Recorder

	threshold decimal.Decimal
	quantity  decimal.Decimal
	slippage  decimal.Decimal

	now       func() time.Time
	StartTime time.Time

	cycles     atomic.Uint64
	signals    atomic.Uint64
	unbalanced atomic.Uint64

	mu   sync.RWMutex
	last *arbitrage.CycleResult
}

// NewEngine creates a new arbitrage engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Dex == nil || deps.Cex == nil {
		return nil, errors.New("both quote sources are required")
	}
	if !cfg.Trading.DryRun && (deps.Swapper == nil || deps.Orderer == nil) {
		return nil, errors.New("live mode requires both executors")
	}

	return &Engine{
		logger:    logger,
		cfg:       cfg,
		dex:       deps.Dex,
		cex:       deps.Cex,
		swapper:   deps.Swapper,
		orderer:   deps.Orderer,
		recorders: deps.Recorders,
		threshold: decimal.NewFromFloat(cfg.Trading.Threshold),
		quantity:  decimal.NewFromFloat(cfg.Trading.Quantity),
		slippage:  decimal.NewFromFloat(cfg.Trading.Slippage),
		now:       time.Now,
		StartTime: time.Now(),
	}, nil
}

// Run executes one cycle immediately and then one per tick until ctx is done.
// Cycles never overlap: a tick that fires while a cycle is running is dropped.
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg.Trading.TickInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting arbitrage loop",
		zap.String("mode", e.cfg.Mode()),
		zap.String("pair", e.cfg.Trading.Pair),
		zap.Duration("interval", interval),
		zap.String("threshold", e.threshold.String()),
		zap.String("quantity", e.quantity.String()),
		zap.String("slippage", e.slippage.String()),
	)

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping arbitrage loop...")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Cycle aborted", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	e.RunCycle(ctx)
}

// RunCycle performs one full cycle and returns its record.
func (e *Engine) RunCycle(ctx context.Context) *arbitrage.CycleResult {
	result := &arbitrage.CycleResult{
		ID:        uuid.NewString(),
		DryRun:    e.cfg.Trading.DryRun,
		StartedAt: e.now(),
	}

	e.run(ctx, result)
	result.FinishedAt = e.now()

	e.finish(ctx, result)
	return result
}

func (e *Engine) run(ctx context.Context, result *arbitrage.CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("cycle panic: %v", r)
			e.logger.Error("Cycle panicked", zap.String("cycle_id", result.ID), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	result.DexQuote, result.CexQuote = e.fetchQuotes(ctx)
	if result.DexQuote == nil || result.CexQuote == nil {
		return
	}

	sig, ok := arbitrage.Evaluate(result.DexQuote, result.CexQuote, e.threshold)
	if !ok {
		return
	}
	result.Signal = &sig
	e.signals.Add(1)

	plan, err := arbitrage.Plan(sig, e.quantity, e.slippage, e.now())
	if err != nil {
		result.Err = fmt.Errorf("plan: %w", err)
		return
	}
	result.Plan = &plan

	for _, leg := range plan.Legs() {
		result.Outcomes = append(result.Outcomes, e.executeLeg(ctx, leg))
	}
}

// fetchQuotes queries both venues concurrently, each under its own timeout.
// A venue that fails yields a nil quote.
func (e *Engine) fetchQuotes(ctx context.Context) (dex, cex *arbitrage.Quote) {
	var g errgroup.Group
	g.Go(e.fetch(ctx, e.dex, &dex))
	g.Go(e.fetch(ctx, e.cex, &cex))
	_ = g.Wait()
	return dex, cex
}

func (e *Engine) fetch(ctx context.Context, src arbitrage.QuoteSource, dst **arbitrage.Quote) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &arbitrage.QuoteError{Venue: src.Venue(), Op: "quote", Err: fmt.Errorf("panic: %v", r)}
				e.logger.Error("Quote source panicked", zap.String("venue", string(src.Venue())), zap.Any("panic", r))
			}
		}()

		qctx, cancel := context.WithTimeout(ctx, e.cfg.Trading.QuoteTimeout)
		defer cancel()

		q, err := src.Quote(qctx, e.cfg.Trading.Pair)
		if err != nil {
			e.logger.Warn("Quote unavailable", zap.String("venue", string(src.Venue())), zap.Error(err))
			return err
		}
		*dst = &q
		return nil
	}
}

// executeLeg settles one leg. Dry-run legs are skipped without touching a venue.
func (e *Engine) executeLeg(ctx context.Context, leg arbitrage.Leg) (out arbitrage.LegOutcome) {
	started := e.now()
	if e.cfg.Trading.DryRun {
		e.logger.Warn("Dry run enabled. No real trade will be executed.",
			zap.String("leg", string(leg.Kind)),
			zap.String("side", string(leg.Side)),
			zap.String("quantity", leg.Quantity.String()),
			zap.String("reference_price", leg.ReferencePrice.String()),
		)
		return arbitrage.Skipped(leg, started)
	}

	defer func() {
		if r := recover(); r != nil {
			out = arbitrage.Failed(leg, "", fmt.Errorf("%s panicked: %v", leg.Kind, r), started, e.now())
		}
	}()

	switch leg.Kind {
	case arbitrage.LegDEXSwap:
		return e.swapper.Swap(ctx, leg)
	case arbitrage.LegCEXOrder:
		octx, cancel := context.WithTimeout(ctx, e.cfg.Trading.OrderTimeout)
		defer cancel()
		return e.orderer.PlaceOrder(octx, leg)
	default:
		return arbitrage.Failed(leg, "", fmt.Errorf("unknown leg kind %q", leg.Kind), started, e.now())
	}
}

func (e *Engine) finish(ctx context.Context, result *arbitrage.CycleResult) {
	e.cycles.Add(1)
	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	e.logSummary(result)

	if result.Plan == nil {
		return
	}
	// Recording happens even when ctx is already cancelled by shutdown.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	for _, r := range e.recorders {
		if err := r.Record(rctx, result); err != nil {
			e.logger.Error("Failed to record cycle", zap.String("cycle_id", result.ID), zap.Error(err))
		}
	}
}

func (e *Engine) logSummary(result *arbitrage.CycleResult) {
	fields := []zap.Field{
		zap.String("cycle_id", result.ID),
		zap.String("mode", e.cfg.Mode()),
		zap.String("pair", e.cfg.Trading.Pair),
		zap.String("decision", decision(result)),
		zap.Duration("took", result.FinishedAt.Sub(result.StartedAt)),
	}
	if result.DexQuote != nil {
		fields = append(fields, zap.String("dex_price", result.DexQuote.Price.String()))
	}
	if result.CexQuote != nil {
		fields = append(fields, zap.String("cex_price", result.CexQuote.Price.String()))
	}
	if spread, ok := result.Spread(); ok {
		fields = append(fields, zap.String("spread_pct", spread.Shift(2).StringFixed(4)))
	}
	for _, o := range result.Outcomes {
		prefix := string(o.Kind.Venue())
		fields = append(fields, zap.String(prefix+"_status", string(o.Status)))
		if o.Reference != "" {
			fields = append(fields, zap.String(prefix+"_ref", o.Reference))
		}
		if o.Err != nil {
			fields = append(fields, zap.NamedError(prefix+"_error", o.Err))
		}
	}

	switch {
	case result.Err != nil:
		e.logger.Error("Cycle failed", append(fields, zap.Error(result.Err))...)
	case result.Unbalanced():
		e.unbalanced.Add(1)
		e.logger.Error("Unbalanced cycle: exactly one leg settled, position left open", fields...)
	case result.Plan != nil:
		e.logger.Info("Cycle executed", fields...)
	default:
		e.logger.Info("Cycle complete", fields...)
	}
}

func decision(result *arbitrage.CycleResult) string {
	switch result.Status() {
	case arbitrage.CycleNoQuote:
		return "quote unavailable"
	case arbitrage.CycleNoSignal:
		return "below threshold"
	case arbitrage.CycleError:
		return "error"
	default:
		return result.Plan.Direction.String()
	}
}

// LastCycle returns the most recently finished cycle, or nil before the first one.
func (e *Engine) LastCycle() *arbitrage.CycleResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Counters returns the number of cycles run, signals seen, and unbalanced cycles.
func (e *Engine) Counters() (cycles, signals, unbalanced uint64) {
	return e.cycles.Load(), e.signals.Load(), e.unbalanced.Load()
}
