// Package model defines the core domain types shared across the portfolio
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Transaction is an immutable record of an executed trade. Once created,
// these are never modified or deleted; the collection per user, ordered by
// ExecutedAt, is the audit trail behind that user's positions.
type Transaction struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       string          `json:"side" db:"side"` // "BUY" or "SELL"
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// Position is the current holding of one symbol by one user, unique per
// (user_id, symbol). AverageCost is the weighted average acquisition price
// of the shares currently held; it is 0 whenever Quantity is 0. Closed
// positions keep their zeroed row but are excluded from open-position views.
type Position struct {
	UserID      string          `json:"user_id" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost" db:"average_cost"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Open reports whether the position still holds shares.
func (p Position) Open() bool {
	return p.Quantity.IsPositive()
}

// Invested returns the capital currently tied up in the position.
func (p Position) Invested() decimal.Decimal {
	return p.Quantity.Mul(p.AverageCost)
}

// PortfolioSummary aggregates a user's open positions against live prices.
// It is derived — Position rows remain the source of truth and the summary
// is always recomputable from them.
type PortfolioSummary struct {
	UserID         string          `json:"user_id"`
	Tickers        []string        `json:"tickers"`
	TotalWorth     decimal.Decimal `json:"total_worth"`
	TotalInvested  decimal.Decimal `json:"total_invested"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	TotalChangePct decimal.Decimal `json:"total_change_pct"`
	LastChangePct  decimal.Decimal `json:"last_change_pct"`
	PositionCount  int             `json:"position_count"`
}

// HistorySnapshot is one frozen day of a user's portfolio metrics, unique
// per (user_id, snapshot_date). Re-running the snapshot job for a date
// overwrites the row rather than appending a duplicate.
type HistorySnapshot struct {
	UserID        string          `json:"user_id" db:"user_id"`
	SnapshotDate  time.Time       `json:"snapshot_date" db:"snapshot_date"` // UTC, date precision
	TotalWorth    decimal.Decimal `json:"total_worth" db:"total_worth"`
	TotalInvested decimal.Decimal `json:"total_invested" db:"total_invested"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
}

// Quote is one symbol's pricing data from the price feed: the live price
// and the prior session's close.
type Quote struct {
	Symbol       string          `json:"symbol" db:"symbol"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	PrevClose    decimal.Decimal `json:"prev_close" db:"prev_close"`
}
