package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockdraft/portfolio-engine/internal/auth"
	"github.com/stockdraft/portfolio-engine/internal/model"
	"github.com/stockdraft/portfolio-engine/internal/portfolio"
	"github.com/stockdraft/portfolio-engine/internal/pricefeed"
	"github.com/stockdraft/portfolio-engine/internal/snapshot"
	"github.com/stockdraft/portfolio-engine/internal/store"
	"github.com/stockdraft/portfolio-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store, a static price
// feed, and a chi router with the auth middleware mounted.
func newTestEnv(t *testing.T, quotes ...model.Quote) (*store.MemoryStore, *pricefeed.StaticFeed, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	feed := pricefeed.NewStaticFeed(quotes...)
	agg := portfolio.NewAggregator(ms, feed)
	job := snapshot.NewJob(ms, feed, nil)
	svc := trade.NewService(ms, agg, job, nil)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/api/v1/trade", svc.ExecuteTrade)
		r.Get("/api/v1/portfolio", svc.GetPortfolio)
		r.Get("/api/v1/positions", svc.GetPositions)
		r.Get("/api/v1/transactions", svc.GetTransactions)
		r.Get("/api/v1/history", svc.GetHistory)
	})
	r.Post("/api/v1/jobs/snapshot", svc.RunSnapshot)
	r.Post("/api/v1/jobs/recompute-prices", svc.RecomputePrices)

	return ms, feed, r
}

func doTrade(t *testing.T, router chi.Router, userID string, req trade.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/trade", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	if userID != "" {
		httpReq.Header.Set(auth.UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func doGet(t *testing.T, router chi.Router, userID, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if userID != "" {
		req.Header.Set(auth.UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Trade execution tests ---

func TestExecuteTrade_FirstBuy(t *testing.T) {
	ms, _, router := newTestEnv(t, model.Quote{
		Symbol: "AMZN", CurrentPrice: d(120), PrevClose: d(110),
	})

	w := doTrade(t, router, "user1", trade.TradeRequest{
		Symbol:   "AMZN",
		Side:     "BUY",
		Quantity: d(10),
		Price:    d(100),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Success {
		t.Error("expected success=true")
	}
	if resp.TradeID == "" {
		t.Error("expected non-empty trade_id")
	}
	if !resp.Position.Quantity.Equal(d(10)) {
		t.Errorf("expected quantity=10, got %s", resp.Position.Quantity)
	}
	if !resp.Position.AverageCost.Equal(d(100)) {
		t.Errorf("expected average_cost=100, got %s", resp.Position.AverageCost)
	}
	if resp.Portfolio == nil {
		t.Fatal("expected portfolio in trade response")
	}
	// 10 shares at the live price 120.
	if !resp.Portfolio.TotalWorth.Equal(d(1200)) {
		t.Errorf("expected total_worth=1200, got %s", resp.Portfolio.TotalWorth)
	}

	txs, err := ms.ListTransactions(context.Background(), "user1")
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(txs))
	}
	if txs[0].Side != model.SideBuy || !txs[0].Quantity.Equal(d(10)) {
		t.Errorf("unexpected ledger row: %+v", txs[0])
	}
	if txs[0].ExecutedAt.IsZero() {
		t.Error("expected non-zero executed_at")
	}
}

func TestExecuteTrade_BuyAveragesCost(t *testing.T) {
	_, _, router := newTestEnv(t)

	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(10), Price: d(100),
	})
	w := doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(5), Price: d(110),
	})

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// (10*100 + 5*110) / 15
	want := d(1550).Div(d(15))
	if !resp.Position.AverageCost.Equal(want) {
		t.Errorf("expected average_cost=%s, got %s", want, resp.Position.AverageCost)
	}
	if !resp.Position.Quantity.Equal(d(15)) {
		t.Errorf("expected quantity=15, got %s", resp.Position.Quantity)
	}
}

func TestExecuteTrade_SellKeepsAverageCost(t *testing.T) {
	_, _, router := newTestEnv(t)

	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(10), Price: d(100),
	})
	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(5), Price: d(110),
	})
	w := doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "SELL", Quantity: d(8), Price: d(120),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Position.Quantity.Equal(d(7)) {
		t.Errorf("expected quantity=7, got %s", resp.Position.Quantity)
	}
	want := d(1550).Div(d(15))
	if !resp.Position.AverageCost.Equal(want) {
		t.Errorf("sell must not move average cost: want %s, got %s", want, resp.Position.AverageCost)
	}
}

func TestExecuteTrade_SellToZeroResetsCost(t *testing.T) {
	_, _, router := newTestEnv(t)

	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(7), Price: d(100),
	})
	w := doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "SELL", Quantity: d(7), Price: d(130),
	})

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Position.Quantity.IsZero() {
		t.Errorf("expected quantity=0, got %s", resp.Position.Quantity)
	}
	if !resp.Position.AverageCost.IsZero() {
		t.Errorf("expected average_cost reset to 0, got %s", resp.Position.AverageCost)
	}
}

func TestExecuteTrade_OversellRejectedWithoutSideEffects(t *testing.T) {
	ms, _, router := newTestEnv(t)

	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(5), Price: d(100),
	})
	before, _ := ms.GetPosition(context.Background(), "user1", "AMZN")

	w := doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "SELL", Quantity: d(6), Price: d(100),
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["success"] != false {
		t.Errorf("expected success=false, got %v", body["success"])
	}

	after, _ := ms.GetPosition(context.Background(), "user1", "AMZN")
	if !after.Quantity.Equal(before.Quantity) || !after.AverageCost.Equal(before.AverageCost) {
		t.Errorf("rejected sell must leave position untouched: before=%+v after=%+v", before, after)
	}

	txs, _ := ms.ListTransactions(context.Background(), "user1")
	if len(txs) != 1 {
		t.Errorf("rejected sell must not reach the ledger, got %d rows", len(txs))
	}
}

func TestExecuteTrade_ValidationFailures(t *testing.T) {
	_, _, router := newTestEnv(t)

	cases := []struct {
		name string
		req  trade.TradeRequest
	}{
		{"invalid side", trade.TradeRequest{Symbol: "AMZN", Side: "HOLD", Quantity: d(1), Price: d(10)}},
		{"zero quantity", trade.TradeRequest{Symbol: "AMZN", Side: "BUY", Quantity: decimal.Zero, Price: d(10)}},
		{"negative quantity", trade.TradeRequest{Symbol: "AMZN", Side: "BUY", Quantity: d(-1), Price: d(10)}},
		{"negative price", trade.TradeRequest{Symbol: "AMZN", Side: "BUY", Quantity: d(1), Price: d(-10)}},
		{"empty symbol", trade.TradeRequest{Symbol: "", Side: "BUY", Quantity: d(1), Price: d(10)}},
		{"malformed symbol", trade.TradeRequest{Symbol: "AM ZN!", Side: "BUY", Quantity: d(1), Price: d(10)}},
		{"bad executed_at", trade.TradeRequest{Symbol: "AMZN", Side: "BUY", Quantity: d(1), Price: d(10), ExecutedAt: "yesterday"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doTrade(t, router, "user1", tc.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestExecuteTrade_LowercaseSymbolNormalized(t *testing.T) {
	ms, _, router := newTestEnv(t)

	w := doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "amzn", Side: "BUY", Quantity: d(1), Price: d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	pos, err := ms.GetPosition(context.Background(), "user1", "AMZN")
	if err != nil {
		t.Fatalf("failed to get position: %v", err)
	}
	if !pos.Quantity.Equal(d(1)) {
		t.Errorf("expected position under normalized symbol, got qty %s", pos.Quantity)
	}
}

func TestExecuteTrade_MissingUserHeader(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doTrade(t, router, "", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(1), Price: d(10),
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

// --- Read endpoint tests ---

func TestGetPortfolio_WithPositions(t *testing.T) {
	_, _, router := newTestEnv(t, model.Quote{
		Symbol: "AMZN", CurrentPrice: d(120), PrevClose: d(110),
	})

	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(10), Price: d(100),
	})

	w := doGet(t, router, "user1", "/api/v1/portfolio")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool                   `json:"success"`
		Data    model.PortfolioSummary `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Success {
		t.Error("expected success=true")
	}
	if resp.Data.UserID != "user1" {
		t.Errorf("expected user_id=user1, got %s", resp.Data.UserID)
	}
	if !resp.Data.TotalWorth.Equal(d(1200)) {
		t.Errorf("expected total_worth=1200, got %s", resp.Data.TotalWorth)
	}
	if !resp.Data.TotalInvested.Equal(d(1000)) {
		t.Errorf("expected total_invested=1000, got %s", resp.Data.TotalInvested)
	}
	if resp.Data.PositionCount != 1 {
		t.Errorf("expected position_count=1, got %d", resp.Data.PositionCount)
	}
}

func TestGetPositions_EmptyIsArray(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doGet(t, router, "nobody", "/api/v1/positions")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Success bool             `json:"success"`
		Data    []model.Position `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Data == nil {
		t.Error("expected empty array, got null")
	}
}

func TestGetTransactions_OldestFirst(t *testing.T) {
	_, _, router := newTestEnv(t)

	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(10), Price: d(100),
		ExecutedAt: "2024-03-10T10:00:00Z",
	})
	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "SELL", Quantity: d(3), Price: d(110),
		ExecutedAt: "2024-03-11T10:00:00Z",
	})

	w := doGet(t, router, "user1", "/api/v1/transactions")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Success bool                `json:"success"`
		Data    []model.Transaction `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(resp.Data))
	}
	if resp.Data[0].Side != model.SideBuy || resp.Data[1].Side != model.SideSell {
		t.Errorf("expected oldest first, got %s then %s", resp.Data[0].Side, resp.Data[1].Side)
	}
}

// --- Job trigger tests ---

func TestRunSnapshot_WritesHistory(t *testing.T) {
	_, _, router := newTestEnv(t, model.Quote{
		Symbol: "AMZN", CurrentPrice: d(130), PrevClose: d(110),
	})

	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(10), Price: d(100),
	})

	req := httptest.NewRequest("POST", "/api/v1/jobs/snapshot?date=2024-03-14", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool            `json:"success"`
		Data    snapshot.Result `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.Processed != 1 {
		t.Errorf("expected 1 user processed, got %d", resp.Data.Processed)
	}

	hw := doGet(t, router, "user1", "/api/v1/history")
	var hresp struct {
		Success bool                    `json:"success"`
		Data    []model.HistorySnapshot `json:"data"`
	}
	json.Unmarshal(hw.Body.Bytes(), &hresp)

	if len(hresp.Data) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(hresp.Data))
	}
	// Valued at prev_close 110.
	if !hresp.Data[0].TotalWorth.Equal(d(1100)) {
		t.Errorf("expected total_worth=1100, got %s", hresp.Data[0].TotalWorth)
	}
}

func TestRunSnapshot_BadDate(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/jobs/snapshot?date=14-03-2024", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRecomputePrices_Trigger(t *testing.T) {
	_, _, router := newTestEnv(t, model.Quote{
		Symbol: "AMZN", CurrentPrice: d(120), PrevClose: d(110),
	})

	doTrade(t, router, "user1", trade.TradeRequest{
		Symbol: "AMZN", Side: "BUY", Quantity: d(10), Price: d(100),
	})

	req := httptest.NewRequest("POST", "/api/v1/jobs/recompute-prices", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool            `json:"success"`
		Data    snapshot.Result `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.Processed != 1 {
		t.Errorf("expected 1 user processed, got %d", resp.Data.Processed)
	}
}
