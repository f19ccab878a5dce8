package trader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pancake-blofin-arb/internal/arbitrage"
	"pancake-blofin-arb/internal/config"
)

// MockQuoteSource is a mock implementation of arbitrage.QuoteSource.
type MockQuoteSource struct {
	mock.Mock
	venue arbitrage.Venue
}

func (m *MockQuoteSource) Venue() arbitrage.Venue { return m.venue }

func (m *MockQuoteSource) Quote(ctx context.Context, pair string) (arbitrage.Quote, error) {
	args := m.Called(ctx, pair)
	q, _ := args.Get(0).(arbitrage.Quote)
	return q, args.Error(1)
}

// MockSwapExecutor is a mock implementation of arbitrage.SwapExecutor.
type MockSwapExecutor struct {
	mock.Mock
}

func (m *MockSwapExecutor) Swap(ctx context.Context, leg arbitrage.Leg) arbitrage.LegOutcome {
	args := m.Called(ctx, leg)
	return args.Get(0).(arbitrage.LegOutcome)
}

// MockOrderExecutor is a mock implementation of arbitrage.OrderExecutor.
type MockOrderExecutor struct {
	mock.Mock
}

func (m *MockOrderExecutor) PlaceOrder(ctx context.Context, leg arbitrage.Leg) arbitrage.LegOutcome {
	args := m.Called(ctx, leg)
	return args.Get(0).(arbitrage.LegOutcome)
}

// funcSource serves quotes from fn, numbering calls from zero.
type funcSource struct {
	venue arbitrage.Venue
	calls atomic.Int32
	fn    func(n int32) (arbitrage.Quote, error)
}

func (f *funcSource) Venue() arbitrage.Venue { return f.venue }

func (f *funcSource) Quote(ctx context.Context, pair string) (arbitrage.Quote, error) {
	return f.fn(f.calls.Add(1) - 1)
}

type recorderFunc func(ctx context.Context, r *arbitrage.CycleResult) error

func (f recorderFunc) Record(ctx context.Context, r *arbitrage.CycleResult) error { return f(ctx, r) }

// collector keeps every recorded cycle.
type collector struct {
	mu      sync.Mutex
	results []*arbitrage.CycleResult
}

func (c *collector) Record(ctx context.Context, r *arbitrage.CycleResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func testConfig(dryRun bool) *config.Config {
	return &config.Config{Trading: config.Trading{
		Pair:         "BNB/USDT",
		Quantity:     0.1,
		Threshold:    0.005,
		Slippage:     0.005,
		DryRun:       dryRun,
		TickInterval: 10 * time.Millisecond,
		QuoteTimeout: 100 * time.Millisecond,
		OrderTimeout: 100 * time.Millisecond,
	}}
}

func quote(venue arbitrage.Venue, price string) arbitrage.Quote {
	return arbitrage.Quote{Venue: venue, Pair: "BNB/USDT", Price: decimal.RequireFromString(price), ObservedAt: time.Now()}
}

func quoteSources(dexPrice, cexPrice string) (*MockQuoteSource, *MockQuoteSource) {
	dex := &MockQuoteSource{venue: arbitrage.VenueDEX}
	dex.On("Quote", mock.Anything, "BNB/USDT").Return(quote(arbitrage.VenueDEX, dexPrice), nil)
	cex := &MockQuoteSource{venue: arbitrage.VenueCEX}
	cex.On("Quote", mock.Anything, "BNB/USDT").Return(quote(arbitrage.VenueCEX, cexPrice), nil)
	return dex, cex
}

func filled(leg arbitrage.Leg) arbitrage.LegOutcome {
	now := time.Now()
	return arbitrage.Filled(leg, leg.Quantity, "ref", now, now)
}

func TestNewEngine(t *testing.T) {
	dex, cex := quoteSources("100", "100")

	t.Run("LiveRequiresExecutors", func(t *testing.T) {
		_, err := NewEngine(zap.NewNop(), testConfig(false), Deps{Dex: dex, Cex: cex})
		assert.Error(t, err)
	})

	t.Run("DryRunWithoutExecutors", func(t *testing.T) {
		_, err := NewEngine(zap.NewNop(), testConfig(true), Deps{Dex: dex, Cex: cex})
		assert.NoError(t, err)
	})

	t.Run("MissingSource", func(t *testing.T) {
		_, err := NewEngine(zap.NewNop(), testConfig(true), Deps{Dex: dex})
		assert.Error(t, err)
	})
}

func TestEngine_RunCycle_DryRun(t *testing.T) {
	// Arrange
	dex, cex := quoteSources("100", "100.6")
	swapper, orderer := new(MockSwapExecutor), new(MockOrderExecutor)
	rec := &collector{}
	engine, err := NewEngine(zap.NewNop(), testConfig(true), Deps{
		Dex: dex, Cex: cex, Swapper: swapper, Orderer: orderer, Recorders: []Recorder{rec},
	})
	require.NoError(t, err)

	// Act
	result := engine.RunCycle(context.Background())

	// Assert
	assert.Equal(t, arbitrage.CycleExecuted, result.Status())
	assert.True(t, result.DryRun)
	require.NotNil(t, result.Plan)
	assert.Equal(t, arbitrage.BuyDexSellCex, result.Plan.Direction)
	require.Len(t, result.Outcomes, 2)
	for _, o := range result.Outcomes {
		assert.Equal(t, arbitrage.LegSkipped, o.Status)
	}
	assert.Equal(t, arbitrage.LegDEXSwap, result.Outcomes[0].Kind)
	assert.Equal(t, arbitrage.LegCEXOrder, result.Outcomes[1].Kind)
	swapper.AssertNotCalled(t, "Swap", mock.Anything, mock.Anything)
	orderer.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
	assert.Equal(t, 1, rec.len())
}

func TestEngine_RunCycle_NoSignal(t *testing.T) {
	tests := []struct {
		name     string
		dex, cex string
		signal   bool
	}{
		{name: "BelowThreshold", dex: "100", cex: "100.4", signal: false},
		{name: "AtThreshold", dex: "100", cex: "100.5", signal: true},
		{name: "InverseBelowThreshold", dex: "100.4", cex: "100", signal: false},
		{name: "Equal", dex: "612.3", cex: "612.3", signal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dex, cex := quoteSources(tt.dex, tt.cex)
			rec := &collector{}
			engine, err := NewEngine(zap.NewNop(), testConfig(true), Deps{Dex: dex, Cex: cex, Recorders: []Recorder{rec}})
			require.NoError(t, err)

			result := engine.RunCycle(context.Background())

			assert.Equal(t, tt.signal, result.Signal != nil)
			if !tt.signal {
				assert.Equal(t, arbitrage.CycleNoSignal, result.Status())
				assert.Nil(t, result.Plan)
				assert.Empty(t, result.Outcomes)
				assert.Zero(t, rec.len())
			}
		})
	}
}

func TestEngine_RunCycle_QuoteUnavailable(t *testing.T) {
	dex := &MockQuoteSource{venue: arbitrage.VenueDEX}
	dex.On("Quote", mock.Anything, "BNB/USDT").
		Return(nil, &arbitrage.QuoteError{Venue: arbitrage.VenueDEX, Op: "fetch pairs", Err: errors.New("503")})
	cex := &MockQuoteSource{venue: arbitrage.VenueCEX}
	cex.On("Quote", mock.Anything, "BNB/USDT").Return(quote(arbitrage.VenueCEX, "700"), nil)
	swapper, orderer := new(MockSwapExecutor), new(MockOrderExecutor)

	engine, err := NewEngine(zap.NewNop(), testConfig(false), Deps{Dex: dex, Cex: cex, Swapper: swapper, Orderer: orderer})
	require.NoError(t, err)

	result := engine.RunCycle(context.Background())

	assert.Equal(t, arbitrage.CycleNoQuote, result.Status())
	assert.Nil(t, result.DexQuote)
	require.NotNil(t, result.CexQuote)
	assert.Nil(t, result.Plan)
	assert.NoError(t, result.Err)
	cex.AssertExpectations(t)
	swapper.AssertNotCalled(t, "Swap", mock.Anything, mock.Anything)
}

func TestEngine_RunCycle_QuoteTimeout(t *testing.T) {
	cfg := testConfig(true)
	cfg.Trading.QuoteTimeout = 20 * time.Millisecond
	var sawDeadline atomic.Bool
	slowSrc := &MockQuoteSource{venue: arbitrage.VenueDEX}
	slowSrc.On("Quote", mock.Anything, "BNB/USDT").Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		<-ctx.Done()
	}).Return(nil, context.DeadlineExceeded)
	_, cex := quoteSources("1", "1")

	engine, err := NewEngine(zap.NewNop(), cfg, Deps{Dex: slowSrc, Cex: cex})
	require.NoError(t, err)

	start := time.Now()
	result := engine.RunCycle(context.Background())

	assert.True(t, sawDeadline.Load())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, arbitrage.CycleNoQuote, result.Status())
}

func TestEngine_RunCycle_Live(t *testing.T) {
	t.Run("BothLegsFilled", func(t *testing.T) {
		// Arrange
		dex, cex := quoteSources("100", "100.6")
		swapper, orderer := new(MockSwapExecutor), new(MockOrderExecutor)
		var order []string
		swapper.On("Swap", mock.Anything, mock.MatchedBy(func(l arbitrage.Leg) bool {
			return l.Side == arbitrage.SideBuy && l.ReferencePrice.Equal(decimal.NewFromInt(100))
		})).Run(func(mock.Arguments) { order = append(order, "dex") }).
			Return(filled(legAt(arbitrage.LegDEXSwap, arbitrage.SideBuy, "100")))
		orderer.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(l arbitrage.Leg) bool {
			return l.Side == arbitrage.SideSell && l.ReferencePrice.Equal(decimal.RequireFromString("100.6"))
		})).Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, ok := ctx.Deadline()
			assert.True(t, ok, "order must run under a deadline")
			order = append(order, "cex")
		}).Return(filled(legAt(arbitrage.LegCEXOrder, arbitrage.SideSell, "100.6")))

		engine, err := NewEngine(zap.NewNop(), testConfig(false), Deps{Dex: dex, Cex: cex, Swapper: swapper, Orderer: orderer})
		require.NoError(t, err)

		// Act
		result := engine.RunCycle(context.Background())

		// Assert
		assert.Equal(t, []string{"dex", "cex"}, order)
		assert.True(t, result.FullyFilled())
		assert.False(t, result.Unbalanced())
		swapper.AssertExpectations(t)
		orderer.AssertExpectations(t)
	})

	t.Run("FailedBuyStillSells", func(t *testing.T) {
		dex, cex := quoteSources("100.6", "100")
		swapper, orderer := new(MockSwapExecutor), new(MockOrderExecutor)
		now := time.Now()
		orderer.On("PlaceOrder", mock.Anything, mock.Anything).
			Return(arbitrage.Failed(legAt(arbitrage.LegCEXOrder, arbitrage.SideBuy, "100"), "", arbitrage.ErrOrderRejected, now, now))
		swapper.On("Swap", mock.Anything, mock.Anything).
			Return(arbitrage.Filled(legAt(arbitrage.LegDEXSwap, arbitrage.SideSell, "100.6"), decimal.RequireFromString("0.1"), "0xhash", now, now))

		engine, err := NewEngine(zap.NewNop(), testConfig(false), Deps{Dex: dex, Cex: cex, Swapper: swapper, Orderer: orderer})
		require.NoError(t, err)

		result := engine.RunCycle(context.Background())

		require.NotNil(t, result.Plan)
		assert.Equal(t, arbitrage.BuyCexSellDex, result.Plan.Direction)
		swapper.AssertNumberOfCalls(t, "Swap", 1)
		assert.True(t, result.Unbalanced())
		_, _, unbalanced := engine.Counters()
		assert.Equal(t, uint64(1), unbalanced)
	})

	t.Run("PanickingExecutor", func(t *testing.T) {
		dex, cex := quoteSources("100", "101")
		swapper, orderer := new(MockSwapExecutor), new(MockOrderExecutor)
		swapper.On("Swap", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("nonce too low") })
		orderer.On("PlaceOrder", mock.Anything, mock.Anything).Return(filled(legAt(arbitrage.LegCEXOrder, arbitrage.SideSell, "101")))

		engine, err := NewEngine(zap.NewNop(), testConfig(false), Deps{Dex: dex, Cex: cex, Swapper: swapper, Orderer: orderer})
		require.NoError(t, err)

		result := engine.RunCycle(context.Background())

		require.Len(t, result.Outcomes, 2)
		assert.Equal(t, arbitrage.LegFailed, result.Outcomes[0].Status)
		assert.ErrorContains(t, result.Outcomes[0].Err, "nonce too low")
		assert.Equal(t, arbitrage.LegFilled, result.Outcomes[1].Status)
		assert.NoError(t, result.Err)
	})
}

func legAt(kind arbitrage.LegKind, side arbitrage.Side, price string) arbitrage.Leg {
	return arbitrage.Leg{Kind: kind, Side: side, Quantity: decimal.RequireFromString("0.1"), ReferencePrice: decimal.RequireFromString(price)}
}

func TestEngine_RunCycle_RecorderError(t *testing.T) {
	dex, cex := quoteSources("100", "101")
	calls := 0
	failing := recorderFunc(func(ctx context.Context, r *arbitrage.CycleResult) error {
		calls++
		return errors.New("disk full")
	})
	rec := &collector{}

	engine, err := NewEngine(zap.NewNop(), testConfig(true), Deps{Dex: dex, Cex: cex, Recorders: []Recorder{failing, rec}})
	require.NoError(t, err)

	result := engine.RunCycle(context.Background())

	assert.Equal(t, arbitrage.CycleExecuted, result.Status())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, rec.len())
}

func TestEngine_Run(t *testing.T) {
	t.Run("SurvivesPanickingQuote", func(t *testing.T) {
		// Arrange
		dex := &funcSource{venue: arbitrage.VenueDEX, fn: func(n int32) (arbitrage.Quote, error) {
			if n == 0 {
				panic("decoder blew up")
			}
			return quote(arbitrage.VenueDEX, "100"), nil
		}}
		_, cex := quoteSources("100", "101")
		engine, err := NewEngine(zap.NewNop(), testConfig(true), Deps{Dex: dex, Cex: cex})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		// Act
		engine.Run(ctx)

		// Assert
		cycles, signals, _ := engine.Counters()
		assert.GreaterOrEqual(t, cycles, uint64(2))
		assert.GreaterOrEqual(t, signals, uint64(1))
		require.NotNil(t, engine.LastCycle())
		assert.Equal(t, arbitrage.CycleExecuted, engine.LastCycle().Status())
	})

	t.Run("SurvivesPanickingRecorder", func(t *testing.T) {
		dex, cex := quoteSources("100", "101")
		boom := recorderFunc(func(ctx context.Context, r *arbitrage.CycleResult) error { panic("closed pool") })
		engine, err := NewEngine(zap.NewNop(), testConfig(true), Deps{Dex: dex, Cex: cex, Recorders: []Recorder{boom}})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		engine.Run(ctx)

		cycles, _, _ := engine.Counters()
		assert.GreaterOrEqual(t, cycles, uint64(2))
	})
}
