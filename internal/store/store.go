// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/stockdraft/portfolio-engine/internal/model"
)

// ErrStorage wraps unexpected persistence failures. Callers are guaranteed
// that a failed ApplyTrade committed nothing.
var ErrStorage = errors.New("store: storage failure")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Trading ---

	// ApplyTrade atomically executes one trade: it locks the (user, symbol)
	// position row, validates and recomputes it with average-cost
	// accounting, appends the immutable transaction, and replaces the
	// position — all or nothing. Concurrent trades on the same
	// (user, symbol) are serialized; other keys proceed in parallel.
	// The transaction's ID and ExecutedAt must already be assigned.
	ApplyTrade(ctx context.Context, tx *model.Transaction) (*model.Position, error)

	// --- Position queries ---

	// GetPosition returns the current position for (user, symbol), or a
	// zeroed position when the user never traded the symbol.
	GetPosition(ctx context.Context, userID, sym string) (*model.Position, error)

	// ListOpenPositions returns the user's positions with quantity > 0.
	ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error)

	// ListAllOpenPositions returns every open position across all users,
	// for the daily snapshot job.
	ListAllOpenPositions(ctx context.Context) ([]model.Position, error)

	// --- Immutable ledger ---

	// ListTransactions returns the user's trades, oldest first.
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- History snapshots ---

	// UpsertSnapshot writes one history row keyed by (user_id,
	// snapshot_date); re-writing the same key overwrites the row.
	UpsertSnapshot(ctx context.Context, snap *model.HistorySnapshot) error

	// ListSnapshots returns the user's history rows, oldest first.
	ListSnapshots(ctx context.Context, userID string) ([]model.HistorySnapshot, error)
}
