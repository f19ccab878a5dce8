package blofin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pancake-blofin-arb/internal/arbitrage"
	"pancake-blofin-arb/internal/config"
)

const (
	tickerPath     = "/api/v1/market/ticker"
	orderPath      = "/api/v1/order/place"
	serverTimePath = "/api/v1/public/time"

	OrderTypeMarket = "market"
	OrderSideBuy    = "buy"
	OrderSideSell   = "sell"

	headerAPIKey    = "X-BLOFIN-APIKEY"
	headerSignature = "X-BLOFIN-SIGNATURE"
	headerTimestamp = "X-BLOFIN-TIMESTAMP"

	codeOK = "0"
)

// ErrAPI is wrapped by every non-success answer that is not an auth failure.
var ErrAPI = errors.New("blofin api error")

// RestClientInterface defines the interface for the Blofin REST API client.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error)
}

// RestClient is a client for the Blofin REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
	backoff   func(attempt int) time.Duration
	now       func() time.Time
	offsetMs  atomic.Int64 // server time minus local time
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Blofin REST API client.
func NewRestClient(cfg *config.Blofin, logger *zap.Logger) *RestClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger.Named("blofin"),
		limiter:   limiter,
		backoff:   exponentialBackoff,
		now:       time.Now,
	}
}

// exponentialBackoff waits 1s, 2s, 4s...
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// sign creates the hex HMAC-SHA256 signature of timestamp+method+path+body.
func (c *RestClient) sign(timestamp, method, path, body string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(timestamp + method + path + body))
	return hex.EncodeToString(h.Sum(nil))
}

// timestamp returns the signing timestamp in milliseconds, corrected by the
// last measured server clock offset.
func (c *RestClient) timestamp() string {
	return strconv.FormatInt(c.now().UnixMilli()+c.offsetMs.Load(), 10)
}

// envelope is the common response wrapper of the Blofin API.
type envelope struct {
	Code json.Number     `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// GetServerTime fetches the current server time in milliseconds.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	var payload struct {
		ServerTime json.Number `json:"serverTime"`
	}

	resp, err := c.doRequest(ctx, http.MethodGet, serverTimePath, c.client.R(), true)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}
	if err := c.decode(resp, &payload); err != nil {
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}
	ts, err := payload.ServerTime.Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to parse server time %q: %w", payload.ServerTime, err)
	}
	return ts, nil
}

// SyncTime measures the offset between the venue clock and the local clock
// so signatures carry a server-aligned timestamp.
func (c *RestClient) SyncTime(ctx context.Context) error {
	before := c.now()
	serverMs, err := c.GetServerTime(ctx)
	if err != nil {
		return err
	}
	after := c.now()

	mid := before.Add(after.Sub(before) / 2)
	offset := serverMs - mid.UnixMilli()
	c.offsetMs.Store(offset)

	c.logger.Info("Synchronized clock with Blofin", zap.Int64("offset_ms", offset))
	return nil
}

// Connect checks that the API answers and, when syncTime is set, aligns the
// signing clock with it. A failure is logged and the client keeps signing
// with the local clock; it reports whether the API was reached.
func (c *RestClient) Connect(ctx context.Context, syncTime bool) bool {
	var err error
	if syncTime {
		err = c.SyncTime(ctx)
	} else {
		_, err = c.GetServerTime(ctx)
	}
	if err != nil {
		c.logger.Warn("Blofin API not reachable at startup, continuing with local clock",
			zap.Int64("offset_ms", c.offsetMs.Load()),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Ticker represents the last trade price of a symbol.
type Ticker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

// GetTicker fetches the latest ticker for symbol.
func (c *RestClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	req := c.client.R().SetQueryParam("symbol", symbol)

	resp, err := c.doRequest(ctx, http.MethodGet, tickerPath, req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker %s: %w", symbol, err)
	}

	// The venue has answered with both a single object and a one-element list.
	var list []Ticker
	if err := c.decode(resp, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("failed to get ticker %s: empty ticker list", symbol)
		}
		return &list[0], nil
	}
	var ticker Ticker
	if err := c.decode(resp, &ticker); err != nil {
		return nil, fmt.Errorf("failed to get ticker %s: %w", symbol, err)
	}
	return &ticker, nil
}

// OrderRequest is the body of a new order.
type OrderRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
}

// OrderResponse represents the data returned for a placed order.
type OrderResponse struct {
	OrderID        flexString `json:"orderId"`
	Status         string     `json:"status"`
	FilledQuantity string     `json:"filledQuantity"`
	AveragePrice   string     `json:"avgPrice"`
}

// PlaceOrder submits a signed order. Orders are never retried so a lost
// response cannot turn into a duplicate order.
func (c *RestClient) PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	ts := c.timestamp()
	signature := c.sign(ts, http.MethodPost, orderPath, string(body))

	req := c.client.R().
		SetHeader(headerAPIKey, c.apiKey).
		SetHeader(headerSignature, signature).
		SetHeader(headerTimestamp, ts).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	resp, err := c.doRequest(ctx, http.MethodPost, orderPath, req, false)
	if err != nil {
		c.logger.Error("Failed to place order",
			zap.Error(err),
			zap.String("symbol", order.Symbol),
			zap.String("side", order.Side),
		)
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	var result OrderResponse
	if err := c.decode(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	c.logger.Info("Order accepted", zap.String("order_id", string(result.OrderID)), zap.String("status", result.Status))
	return &result, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// Only idempotent requests are retried.
func (c *RestClient) doRequest(ctx context.Context, method, path string, req *resty.Request, idempotent bool) (*resty.Response, error) {
	maxRetries := 3
	if !idempotent {
		maxRetries = 1
	}
	req.SetContext(ctx)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err := req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			lastErr = fmt.Errorf("status %s: %s", resp.Status(), resp.String())

			if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
				return nil, c.authError(resp)
			}
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, perr := strconv.Atoi(resp.Header().Get("Retry-After")); perr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			} else if isAuthResponse(resp) {
				// Signature and clock-skew rejections also arrive as plain 400s.
				return nil, c.authError(resp)
			}
		} else { // Network or other client-side errors
			lastErr = err
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with %w", lastErr)
		}
		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			retryAfter = c.backoff(i)
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, lastErr)
}

// decode unwraps the response envelope into out. A non-success code becomes
// an *arbitrage.AuthError for credential or clock problems, ErrAPI otherwise.
func (c *RestClient) decode(resp *resty.Response, out any) error {
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrAPI, err)
	}
	if code := env.Code.String(); code != "" && code != codeOK {
		if isAuthMessage(env.Msg) {
			return &arbitrage.AuthError{Venue: arbitrage.VenueCEX, Status: resp.StatusCode(), Code: code, Msg: env.Msg}
		}
		return fmt.Errorf("%w: code %s: %s", ErrAPI, code, env.Msg)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: empty data", ErrAPI)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: unexpected data: %v", ErrAPI, err)
	}
	return nil
}

func (c *RestClient) authError(resp *resty.Response) error {
	var env envelope
	_ = json.Unmarshal(resp.Body(), &env)
	msg := env.Msg
	if msg == "" {
		msg = resp.String()
	}
	return &arbitrage.AuthError{Venue: arbitrage.VenueCEX, Status: resp.StatusCode(), Code: env.Code.String(), Msg: msg}
}

func isAuthResponse(resp *resty.Response) bool {
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err == nil && env.Msg != "" {
		return isAuthMessage(env.Msg)
	}
	return isAuthMessage(resp.String())
}

func isAuthMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, needle := range []string{"signature", "timestamp", "api key", "apikey", "unauthorized"} {
		if strings.Contains(m, needle) {
			return true
		}
	}
	return false
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*f = flexString(b)
	return nil
}
