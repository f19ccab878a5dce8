package blofin

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pancake-blofin-arb/internal/arbitrage"
)

// TickerSource reads the CEX price from the ticker endpoint.
type TickerSource struct {
	client RestClientInterface
	symbol string
	now    func() time.Time
}

var _ arbitrage.QuoteSource = (*TickerSource)(nil)

// NewTickerSource creates a quote source for symbol.
func NewTickerSource(client RestClientInterface, symbol string) *TickerSource {
	return &TickerSource{client: client, symbol: symbol, now: time.Now}
}

func (s *TickerSource) Venue() arbitrage.Venue { return arbitrage.VenueCEX }

// Quote returns the last traded price of the configured symbol.
func (s *TickerSource) Quote(ctx context.Context, pair string) (arbitrage.Quote, error) {
	ticker, err := s.client.GetTicker(ctx, s.symbol)
	if err != nil {
		return arbitrage.Quote{}, &arbitrage.QuoteError{Venue: arbitrage.VenueCEX, Op: "ticker", Err: err}
	}

	price, err := decimal.NewFromString(ticker.LastPrice)
	if err != nil || !price.IsPositive() {
		return arbitrage.Quote{}, &arbitrage.QuoteError{
			Venue: arbitrage.VenueCEX,
			Op:    "ticker",
			Err:   fmt.Errorf("%w: %q", arbitrage.ErrInvalidPrice, ticker.LastPrice),
		}
	}

	return arbitrage.Quote{
		Venue:      arbitrage.VenueCEX,
		Pair:       pair,
		Price:      price,
		ObservedAt: s.now(),
	}, nil
}
