// Package portfolio derives per-user summary metrics from current positions
// and the price feed. The summary is a computed view: Position rows stay the
// single source of truth and the numbers here are always recomputable.
package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stockdraft/portfolio-engine/internal/model"
	"github.com/stockdraft/portfolio-engine/internal/position"
	"github.com/stockdraft/portfolio-engine/internal/pricefeed"
	"github.com/stockdraft/portfolio-engine/internal/store"
)

// Aggregator computes portfolio summaries.
type Aggregator struct {
	store store.Store
	feed  pricefeed.Feed
}

// NewAggregator creates an aggregator over the given store and feed.
func NewAggregator(st store.Store, feed pricefeed.Feed) *Aggregator {
	return &Aggregator{store: st, feed: feed}
}

// Summarize values the user's open positions against the feed.
// A symbol without a quote is valued at its average cost (worth equals
// invested, zero contribution to P/L) instead of failing the whole read.
// Monetary results are rounded to six decimal places.
func (a *Aggregator) Summarize(ctx context.Context, userID string) (*model.PortfolioSummary, error) {
	open, err := a.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	tickers := make([]string, 0, len(open))
	for _, p := range open {
		tickers = append(tickers, p.Symbol)
	}

	quotes, err := a.feed.Quotes(ctx, tickers)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}

	totalWorth := decimal.Zero
	totalInvested := decimal.Zero
	yesterdayWorth := decimal.Zero

	for _, p := range open {
		currentPrice := p.AverageCost
		prevClose := currentPrice
		if q, ok := quotes[p.Symbol]; ok {
			currentPrice = q.CurrentPrice
			prevClose = q.PrevClose
		}

		totalWorth = totalWorth.Add(p.Quantity.Mul(currentPrice))
		yesterdayWorth = yesterdayWorth.Add(p.Quantity.Mul(prevClose))
		totalInvested = totalInvested.Add(p.Invested())
	}

	unrealized := totalWorth.Sub(totalInvested)

	totalChangePct := decimal.Zero
	if totalInvested.IsPositive() {
		totalChangePct = unrealized.Div(totalInvested)
	}
	lastChangePct := decimal.Zero
	if yesterdayWorth.IsPositive() {
		lastChangePct = totalWorth.Sub(yesterdayWorth).Div(yesterdayWorth)
	}

	return &model.PortfolioSummary{
		UserID:         userID,
		Tickers:        tickers,
		TotalWorth:     position.RoundMoney(totalWorth),
		TotalInvested:  position.RoundMoney(totalInvested),
		UnrealizedPnL:  position.RoundMoney(unrealized),
		TotalChangePct: position.RoundMoney(totalChangePct),
		LastChangePct:  position.RoundMoney(lastChangePct),
		PositionCount:  len(open),
	}, nil
}
