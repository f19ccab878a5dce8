// Package notify publishes cycle outcomes to Redis Pub/Sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pancake-blofin-arb/internal/arbitrage"
	"pancake-blofin-arb/internal/config"
)

// Publisher is the part of a Redis client used to emit events.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

var _ Publisher = (*redis.Client)(nil)

// NewRedisClient creates a client from cfg and checks the connection.
func NewRedisClient(ctx context.Context, cfg *config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// LegEvent is the published form of a leg outcome.
type LegEvent struct {
	Kind           string `json:"kind"`
	Venue          string `json:"venue"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	Quantity       string `json:"quantity"`
	FilledQuantity string `json:"filled_quantity"`
	Reference      string `json:"reference,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CycleEvent is the message published for every cycle that produced a plan.
type CycleEvent struct {
	CycleID    string     `json:"cycle_id"`
	Pair       string     `json:"pair"`
	Mode       string     `json:"mode"`
	Direction  string     `json:"direction"`
	DexPrice   string     `json:"dex_price"`
	CexPrice   string     `json:"cex_price"`
	Spread     string     `json:"spread"`
	Status     string     `json:"status"`
	Unbalanced bool       `json:"unbalanced"`
	Legs       []LegEvent `json:"legs"`
	Timestamp  int64      `json:"timestamp"`
}

// NewCycleEvent converts a cycle result into its published form.
func NewCycleEvent(r *arbitrage.CycleResult) CycleEvent {
	mode := "live"
	if r.DryRun {
		mode = "dry_run"
	}
	ev := CycleEvent{
		CycleID:    r.ID,
		Mode:       mode,
		Status:     string(r.Status()),
		Unbalanced: r.Unbalanced(),
		Timestamp:  r.FinishedAt.UnixMilli(),
	}
	if p := r.Plan; p != nil {
		ev.Pair = p.Pair
		ev.Direction = string(p.Direction)
		ev.DexPrice = p.DexPrice.String()
		ev.CexPrice = p.CexPrice.String()
		ev.Spread = p.Spread.String()
	}
	for _, o := range r.Outcomes {
		le := LegEvent{
			Kind:           string(o.Kind),
			Venue:          string(o.Kind.Venue()),
			Side:           string(o.Side),
			Status:         string(o.Status),
			Quantity:       o.Quantity.String(),
			FilledQuantity: o.FilledQuantity.String(),
			Reference:      o.Reference,
		}
		if o.Err != nil {
			le.Error = o.Err.Error()
		}
		ev.Legs = append(ev.Legs, le)
	}
	return ev
}

// RedisPublisher emits a CycleEvent on a Pub/Sub channel.
type RedisPublisher struct {
	client  Publisher
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client Publisher, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger.Named("notify"),
	}
}

// Record publishes the cycle. Cycles without a plan are not published.
func (p *RedisPublisher) Record(ctx context.Context, result *arbitrage.CycleResult) error {
	if result == nil || result.Plan == nil {
		return nil
	}

	payload, err := json.Marshal(NewCycleEvent(result))
	if err != nil {
		return fmt.Errorf("encode cycle event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", p.channel, err)
	}
	p.logger.Debug("Cycle published", zap.String("channel", p.channel), zap.Int64("receivers", receivers))
	return nil
}
