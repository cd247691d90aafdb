// Package snapshot implements the daily batch jobs: freezing per-user
// portfolio metrics into immutable history rows, and re-publishing
// price-dependent summaries for all active users.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockdraft/portfolio-engine/internal/model"
	"github.com/stockdraft/portfolio-engine/internal/portfolio"
	"github.com/stockdraft/portfolio-engine/internal/position"
	"github.com/stockdraft/portfolio-engine/internal/pricefeed"
	"github.com/stockdraft/portfolio-engine/internal/store"
)

// Publisher receives recomputed summaries from RecomputePrices. The trade
// package's WebSocket hub implements it; nil disables publishing.
type Publisher interface {
	PublishSummary(userID string, sum *model.PortfolioSummary)
}

// UserError records one user's failure without aborting the batch.
type UserError struct {
	UserID string `json:"user_id"`
	Err    string `json:"error"`
}

// Result reports one batch run. A run with per-user errors still counts as
// completed; callers inspect Errors to decide whether to alert.
type Result struct {
	Date      time.Time   `json:"date,omitempty"`
	Processed int         `json:"processed"`
	Skipped   int         `json:"skipped"`
	Errors    []UserError `json:"errors,omitempty"`
}

// Job runs the daily batch work against the store and price feed.
type Job struct {
	store store.Store
	feed  pricefeed.Feed
	agg   *portfolio.Aggregator
	pub   Publisher
}

// NewJob creates a snapshot job. pub may be nil.
func NewJob(st store.Store, feed pricefeed.Feed, pub Publisher) *Job {
	return &Job{
		store: st,
		feed:  feed,
		agg:   portfolio.NewAggregator(st, feed),
		pub:   pub,
	}
}

// Yesterday returns the default snapshot date: the prior UTC day, since
// prev_close prices describe the previous session's close.
func Yesterday(now time.Time) time.Time {
	return truncateDay(now.UTC().AddDate(0, 0, -1))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RunDaily freezes one history row per user with open positions, valued at
// prev_close, keyed by (user, asOf date). Safe to run more than once per
// day: the upsert overwrites rather than duplicates. One user's failure is
// recorded and the run continues with the rest.
func (j *Job) RunDaily(ctx context.Context, asOf time.Time) (*Result, error) {
	day := truncateDay(asOf)
	res := &Result{Date: day}

	open, err := j.store.ListAllOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	if len(open) == 0 {
		slog.Info("snapshot: no open positions", "date", day.Format("2006-01-02"))
		return res, nil
	}

	quotes, err := j.feed.Quotes(ctx, uniqueSymbols(open))
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}

	type totals struct {
		worth    decimal.Decimal
		invested decimal.Decimal
	}
	byUser := make(map[string]*totals)
	var order []string

	for _, p := range open {
		tt, ok := byUser[p.UserID]
		if !ok {
			tt = &totals{}
			byUser[p.UserID] = tt
			order = append(order, p.UserID)
		}

		// Value at the prior close; fall back to cost for unpriced symbols.
		closing := p.AverageCost
		if q, ok := quotes[p.Symbol]; ok {
			closing = q.PrevClose
		}
		tt.worth = tt.worth.Add(p.Quantity.Mul(closing))
		tt.invested = tt.invested.Add(p.Invested())
	}

	for _, userID := range order {
		tt := byUser[userID]
		snap := &model.HistorySnapshot{
			UserID:        userID,
			SnapshotDate:  day,
			TotalWorth:    position.RoundMoney(tt.worth),
			TotalInvested: position.RoundMoney(tt.invested),
			UnrealizedPnL: position.RoundMoney(tt.worth.Sub(tt.invested)),
		}
		if err := j.store.UpsertSnapshot(ctx, snap); err != nil {
			slog.Error("snapshot: upsert failed", "user", userID, "err", err)
			res.Errors = append(res.Errors, UserError{UserID: userID, Err: err.Error()})
			continue
		}
		res.Processed++
	}

	slog.Info("snapshot: run complete",
		"date", day.Format("2006-01-02"),
		"users", res.Processed,
		"errors", len(res.Errors),
	)
	return res, nil
}

// RecomputePrices re-reads current prices for every symbol referenced by an
// open position and republishes each affected user's summary. Summaries are
// derived state, so this is a refresh, not a correction; failures are
// isolated per user like RunDaily.
func (j *Job) RecomputePrices(ctx context.Context) (*Result, error) {
	res := &Result{}

	open, err := j.store.ListAllOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	seen := make(map[string]bool)
	for _, p := range open {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true

		sum, err := j.agg.Summarize(ctx, p.UserID)
		if err != nil {
			slog.Error("recompute: summarize failed", "user", p.UserID, "err", err)
			res.Errors = append(res.Errors, UserError{UserID: p.UserID, Err: err.Error()})
			continue
		}
		if j.pub != nil {
			j.pub.PublishSummary(p.UserID, sum)
		}
		res.Processed++
	}

	slog.Info("recompute: run complete", "users", res.Processed, "errors", len(res.Errors))
	return res, nil
}

func uniqueSymbols(positions []model.Position) []string {
	seen := make(map[string]bool, len(positions))
	var out []string
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}
