// Package trade provides the HTTP handlers and business logic for
// executing trades and querying positions, portfolios, and history.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockdraft/portfolio-engine/internal/auth"
	"github.com/stockdraft/portfolio-engine/internal/metrics"
	"github.com/stockdraft/portfolio-engine/internal/model"
	"github.com/stockdraft/portfolio-engine/internal/portfolio"
	"github.com/stockdraft/portfolio-engine/internal/position"
	"github.com/stockdraft/portfolio-engine/internal/snapshot"
	"github.com/stockdraft/portfolio-engine/internal/store"
	"github.com/stockdraft/portfolio-engine/internal/symbol"
)

// Service handles trade execution and portfolio reads. Per-key
// serialization happens inside the store (row locks in Postgres,
// striped mutexes in memory), so handlers stay lock-free.
type Service struct {
	store store.Store
	agg   *portfolio.Aggregator
	job   *snapshot.Job
	wsHub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, agg *portfolio.Aggregator, job *snapshot.Job, hub *WSHub) *Service {
	return &Service{
		store: st,
		agg:   agg,
		job:   job,
		wsHub: hub,
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /api/v1/trade.
type TradeRequest struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"` // "BUY" or "SELL"
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt string          `json:"executed_at,omitempty"` // RFC3339; empty = now
}

// TradeResponse is the JSON body returned from POST /api/v1/trade.
type TradeResponse struct {
	Success   bool                    `json:"success"`
	TradeID   string                  `json:"trade_id"`
	Position  *model.Position         `json:"position"`
	Portfolio *model.PortfolioSummary `json:"portfolio"`
}

// dataResponse is the envelope for read endpoints.
type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// --- HTTP Handlers ---

// ExecuteTrade handles POST /api/v1/trade
// Appends the ledger entry and updates the weighted-average-cost
// position atomically, then returns the refreshed portfolio summary.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_payload").Inc()
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID := auth.UserID(r.Context())
	if userID == "" {
		writeError(w, "missing authenticated user", http.StatusUnauthorized)
		return
	}

	// --- Input validation ---
	sym, err := symbol.Normalize(req.Symbol)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_payload").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := position.Validate(req.Side, req.Quantity, req.Price); err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_payload").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	executedAt := time.Now().UTC()
	if req.ExecutedAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExecutedAt)
		if err != nil {
			metrics.TradeRejections.WithLabelValues("invalid_payload").Inc()
			writeError(w, "executed_at must be RFC3339", http.StatusBadRequest)
			return
		}
		executedAt = t.UTC()
	}

	ctx := r.Context()

	tx := &model.Transaction{
		ID:         uuid.New().String(),
		UserID:     userID,
		Symbol:     sym,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      req.Price,
		ExecutedAt: executedAt,
	}

	pos, err := s.store.ApplyTrade(ctx, tx)
	if err != nil {
		switch {
		case errors.Is(err, position.ErrInsufficientShares):
			metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, store.ErrStorage):
			metrics.TradeRejections.WithLabelValues("storage").Inc()
			slog.Error("trade failed", "user", userID, "symbol", sym, "err", err)
			writeError(w, "failed to record trade", http.StatusInternalServerError)
		default:
			metrics.TradeRejections.WithLabelValues("invalid_payload").Inc()
			writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	summary, err := s.agg.Summarize(ctx, userID)
	if err != nil {
		// The trade is committed; report the summary failure as such.
		slog.Error("summary after trade failed", "user", userID, "err", err)
		writeError(w, "trade recorded but summary failed", http.StatusInternalServerError)
		return
	}

	metrics.TradesTotal.WithLabelValues(req.Side).Inc()
	metrics.TradeLatency.WithLabelValues(req.Side).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", tx.ID,
		"user", userID,
		"symbol", sym,
		"side", req.Side,
		"qty", req.Quantity.String(),
		"price", req.Price.String(),
		"position_qty", pos.Quantity.String(),
		"avg_cost", pos.AverageCost.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade_executed",
			UserID:    userID,
			Symbol:    sym,
			Side:      req.Side,
			Quantity:  req.Quantity.String(),
			Price:     req.Price.String(),
			Portfolio: summary,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TradeResponse{
		Success:   true,
		TradeID:   tx.ID,
		Position:  pos,
		Portfolio: summary,
	})
}

// GetPortfolio handles GET /api/v1/portfolio
// Returns the authenticated user's aggregated summary at live prices.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	summary, err := s.agg.Summarize(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to build portfolio summary", http.StatusInternalServerError)
		return
	}

	writeData(w, summary)
}

// GetPositions handles GET /api/v1/positions
// Returns the authenticated user's open positions.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	positions, err := s.store.ListOpenPositions(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeData(w, positions)
}

// GetTransactions handles GET /api/v1/transactions
// Returns the user's full ledger, oldest first.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	txs, err := s.store.ListTransactions(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}

	writeData(w, txs)
}

// GetHistory handles GET /api/v1/history
// Returns daily snapshot rows for charting, oldest first.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	snaps, err := s.store.ListSnapshots(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.HistorySnapshot{}
	}

	writeData(w, snaps)
}

// RunSnapshot handles POST /api/v1/jobs/snapshot
// External-scheduler trigger for the daily snapshot. Optional ?date=
// (YYYY-MM-DD) overrides the default of the previous UTC day.
func (s *Service) RunSnapshot(w http.ResponseWriter, r *http.Request) {
	asOf := snapshot.Yesterday(time.Now().UTC())
	if raw := r.URL.Query().Get("date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asOf = t.UTC()
	}

	start := time.Now()
	res, err := s.job.RunDaily(r.Context(), asOf)
	if err != nil {
		writeError(w, "snapshot run failed", http.StatusInternalServerError)
		return
	}
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotUsers.Set(float64(res.Processed))

	writeData(w, res)
}

// RecomputePrices handles POST /api/v1/jobs/recompute-prices
// Rebuilds every active user's summary at live prices and pushes the
// results to WebSocket subscribers.
func (s *Service) RecomputePrices(w http.ResponseWriter, r *http.Request) {
	res, err := s.job.RecomputePrices(r.Context())
	if err != nil {
		writeError(w, "recompute run failed", http.StatusInternalServerError)
		return
	}

	writeData(w, res)
}

// writeData writes a JSON success envelope.
func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dataResponse{Success: true, Data: data})
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
