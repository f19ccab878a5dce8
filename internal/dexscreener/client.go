// Package dexscreener reads on-chain pool prices from the DexScreener
// market-data aggregator.
package dexscreener

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pancake-blofin-arb/internal/arbitrage"
	"pancake-blofin-arb/internal/config"
)

const pairsPath = "/latest/dex/pairs/{chainId}/{pairId}"

// The pairs endpoint allows 300 requests per minute.
const requestsPerSecond = 5

// Token is a token descriptor inside a pair entry.
type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// Liquidity is the pooled value of a pair entry.
type Liquidity struct {
	USD float64 `json:"usd"`
}

// Pair is one entry of the pairs response.
type Pair struct {
	ChainID     string     `json:"chainId"`
	DexID       string     `json:"dexId"`
	PairAddress string     `json:"pairAddress"`
	BaseToken   Token      `json:"baseToken"`
	QuoteToken  Token      `json:"quoteToken"`
	PriceUSD    string     `json:"priceUsd"`
	Liquidity   *Liquidity `json:"liquidity"`
}

// PairsResponse is the body of the pairs endpoint.
type PairsResponse struct {
	Pairs []Pair `json:"pairs"`
	Pair  *Pair  `json:"pair"`
}

// Source is the DEX quote source.
type Source struct {
	client     *resty.Client
	limiter    *rate.Limiter
	chainID    string
	pairID     string
	baseSymbol string
	logger     *zap.Logger
	now        func() time.Time
}

var _ arbitrage.QuoteSource = (*Source)(nil)

// NewSource creates a DexScreener quote source.
func NewSource(cfg *config.DexScreener, logger *zap.Logger) *Source {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Source{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		chainID:    cfg.ChainID,
		pairID:     cfg.PairID,
		baseSymbol: cfg.BaseSymbol,
		logger:     logger.Named("dexscreener"),
		now:        time.Now,
	}
}

func (s *Source) Venue() arbitrage.Venue { return arbitrage.VenueDEX }

// Quote fetches the pair list and returns the USD price of the entry whose
// base token matches the configured symbol.
func (s *Source) Quote(ctx context.Context, pair string) (arbitrage.Quote, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return arbitrage.Quote{}, &arbitrage.QuoteError{Venue: arbitrage.VenueDEX, Op: "rate limit", Err: err}
	}

	var body PairsResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"chainId": s.chainID, "pairId": s.pairID}).
		SetResult(&body).
		Get(pairsPath)
	if err != nil {
		return arbitrage.Quote{}, &arbitrage.QuoteError{Venue: arbitrage.VenueDEX, Op: "fetch pairs", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return arbitrage.Quote{}, &arbitrage.QuoteError{
			Venue: arbitrage.VenueDEX,
			Op:    "fetch pairs",
			Err:   fmt.Errorf("status %s: %s", resp.Status(), resp.String()),
		}
	}

	entries := body.Pairs
	if body.Pair != nil {
		entries = append(entries, *body.Pair)
	}

	selected, err := SelectPair(entries, s.baseSymbol)
	if err != nil {
		return arbitrage.Quote{}, &arbitrage.QuoteError{Venue: arbitrage.VenueDEX, Op: "select pair", Err: err}
	}

	price, err := decimal.NewFromString(selected.PriceUSD)
	if err != nil || !price.IsPositive() {
		return arbitrage.Quote{}, &arbitrage.QuoteError{
			Venue: arbitrage.VenueDEX,
			Op:    "parse price",
			Err:   fmt.Errorf("%w: %q", arbitrage.ErrInvalidPrice, selected.PriceUSD),
		}
	}

	s.logger.Debug("DEX quote",
		zap.String("pair_address", selected.PairAddress),
		zap.String("dex", selected.DexID),
		zap.String("price", price.String()),
	)

	return arbitrage.Quote{
		Venue:      arbitrage.VenueDEX,
		Pair:       pair,
		Price:      price,
		ObservedAt: s.now(),
	}, nil
}

// SelectPair picks the entry whose base token symbol equals symbol.
// Several matches resolve to the deepest pool; a tie at the top is ambiguous.
func SelectPair(entries []Pair, symbol string) (Pair, error) {
	var matches []Pair
	for _, p := range entries {
		if strings.EqualFold(p.BaseToken.Symbol, symbol) {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return Pair{}, fmt.Errorf("%w: base symbol %s among %d entries", arbitrage.ErrNoMatchingPair, symbol, len(entries))
	case 1:
		return matches[0], nil
	}

	best, tie := 0, false
	for i := 1; i < len(matches); i++ {
		cur, top := liquidityOf(matches[i]), liquidityOf(matches[best])
		switch {
		case cur > top:
			best, tie = i, false
		case cur == top:
			tie = true
		}
	}
	if tie {
		return Pair{}, fmt.Errorf("%w: %d entries for %s with equal liquidity", arbitrage.ErrAmbiguousPair, len(matches), symbol)
	}
	return matches[best], nil
}

func liquidityOf(p Pair) float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}
