package blofin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pancake-blofin-arb/internal/arbitrage"
)

// OrderExecutor settles the centralized leg of a trade plan with a market order.
type OrderExecutor struct {
	client RestClientInterface
	symbol string
	logger *zap.Logger
	now    func() time.Time
}

var _ arbitrage.OrderExecutor = (*OrderExecutor)(nil)

// NewOrderExecutor creates an executor placing market orders on symbol.
func NewOrderExecutor(client RestClientInterface, symbol string, logger *zap.Logger) *OrderExecutor {
	return &OrderExecutor{
		client: client,
		symbol: symbol,
		logger: logger.Named("blofin-executor"),
		now:    time.Now,
	}
}

// PlaceOrder submits a market order for leg and maps the venue's answer to an outcome.
// Auth and clock-skew rejections surface as *arbitrage.AuthError inside a Failed outcome.
func (e *OrderExecutor) PlaceOrder(ctx context.Context, leg arbitrage.Leg) arbitrage.LegOutcome {
	started := e.now()
	l := e.logger.With(
		zap.String("symbol", e.symbol),
		zap.String("side", string(leg.Side)),
		zap.String("quantity", leg.Quantity.String()),
	)

	side := OrderSideBuy
	if leg.Side == arbitrage.SideSell {
		side = OrderSideSell
	}

	resp, err := e.client.PlaceOrder(ctx, OrderRequest{
		Symbol:   e.symbol,
		Side:     side,
		Type:     OrderTypeMarket,
		Quantity: leg.Quantity.String(),
	})
	if err != nil {
		l.Error("[Blofin] order failed", zap.Error(err))
		return arbitrage.Failed(leg, "", err, started, e.now())
	}

	orderID := string(resp.OrderID)
	if orderID == "" {
		err := fmt.Errorf("%w: response carried no order id", arbitrage.ErrOrderRejected)
		l.Error("[Blofin] order failed", zap.Error(err))
		return arbitrage.Failed(leg, "", err, started, e.now())
	}

	if isTerminalFailure(resp.Status) {
		err := fmt.Errorf("%w: order %s is %s", arbitrage.ErrOrderRejected, orderID, resp.Status)
		l.Error("[Blofin] order not filled", zap.String("order_id", orderID), zap.Error(err))
		return arbitrage.Failed(leg, orderID, err, started, e.now())
	}

	// An absent size means the accepted market order filled as requested.
	filled := leg.Quantity
	if resp.FilledQuantity != "" {
		q, perr := decimal.NewFromString(resp.FilledQuantity)
		switch {
		case perr != nil:
			l.Warn("[Blofin] unparsable filled quantity", zap.String("filled", resp.FilledQuantity), zap.Error(perr))
		case !q.IsPositive():
			err := fmt.Errorf("%w: order %s reported filled quantity %s", arbitrage.ErrOrderRejected, orderID, resp.FilledQuantity)
			l.Error("[Blofin] order not filled", zap.String("order_id", orderID), zap.String("status", resp.Status), zap.Error(err))
			return arbitrage.Failed(leg, orderID, err, started, e.now())
		default:
			filled = q
		}
	}

	l.Info("[Blofin] order filled",
		zap.String("order_id", orderID),
		zap.String("status", resp.Status),
		zap.String("filled", filled.String()),
	)
	return arbitrage.Filled(leg, filled, orderID, started, e.now())
}

// isTerminalFailure reports whether status means the order will never fill.
func isTerminalFailure(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "canceled", "cancelled", "rejected", "failed":
		return true
	}
	return false
}
