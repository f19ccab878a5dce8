package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pancake-blofin-arb/internal/arbitrage"
)

// APIServer provides an HTTP interface for the arbitrage engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(engine *Engine, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		logger: logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *APIServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// LegStatus is the reported state of one leg of the last cycle.
type LegStatus struct {
	Kind      string `json:"kind"`
	Side      string `json:"side"`
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CycleStatus summarises the last cycle.
type CycleStatus struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	StartedAt  string      `json:"started_at"`
	DexPrice   string      `json:"dex_price,omitempty"`
	CexPrice   string      `json:"cex_price,omitempty"`
	SpreadPct  string      `json:"spread_pct,omitempty"`
	Direction  string      `json:"direction,omitempty"`
	Unbalanced bool        `json:"unbalanced"`
	Legs       []LegStatus `json:"legs,omitempty"`
}

// Status is the body of the /status endpoint.
type Status struct {
	Mode       string       `json:"mode"`
	Pair       string       `json:"pair"`
	StartTime  string       `json:"start_time"`
	Uptime     string       `json:"uptime"`
	Cycles     uint64       `json:"cycles"`
	Signals    uint64       `json:"signals"`
	Unbalanced uint64       `json:"unbalanced"`
	LastCycle  *CycleStatus `json:"last_cycle,omitempty"`
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	cycles, signals, unbalanced := s.engine.Counters()
	status := Status{
		Mode:       s.engine.cfg.Mode(),
		Pair:       s.engine.cfg.Trading.Pair,
		StartTime:  s.engine.StartTime.Format(time.RFC3339),
		Uptime:     time.Since(s.engine.StartTime).Truncate(time.Second).String(),
		Cycles:     cycles,
		Signals:    signals,
		Unbalanced: unbalanced,
		LastCycle:  summarize(s.engine.LastCycle()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func summarize(r *arbitrage.CycleResult) *CycleStatus {
	if r == nil {
		return nil
	}
	cs := &CycleStatus{
		ID:         r.ID,
		Status:     string(r.Status()),
		StartedAt:  r.StartedAt.Format(time.RFC3339),
		Unbalanced: r.Unbalanced(),
	}
	if r.DexQuote != nil {
		cs.DexPrice = r.DexQuote.Price.String()
	}
	if r.CexQuote != nil {
		cs.CexPrice = r.CexQuote.Price.String()
	}
	if spread, ok := r.Spread(); ok {
		cs.SpreadPct = spread.Shift(2).StringFixed(4)
	}
	if r.Plan != nil {
		cs.Direction = string(r.Plan.Direction)
	}
	for _, o := range r.Outcomes {
		ls := LegStatus{Kind: string(o.Kind), Side: string(o.Side), Status: string(o.Status), Reference: o.Reference}
		if o.Err != nil {
			ls.Error = o.Err.Error()
		}
		cs.Legs = append(cs.Legs, ls)
	}
	return cs
}
