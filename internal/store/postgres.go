package store

import (
	"context"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockdraft/portfolio-engine/internal/model"
	"github.com/stockdraft/portfolio-engine/internal/position"
)

// NewPool creates a pgx pool with the shopspring decimal codec registered,
// so NUMERIC columns scan directly into decimal.Decimal.
func NewPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ApplyTrade runs the read-check-write sequence inside one database
// transaction holding a row lock on the (user, symbol) position, so
// concurrent trades on the same key serialize and never lose an update.
// The ledger insert commits in the same transaction: the trade either
// fully happens or leaves no trace.
func (s *PostgresStore) ApplyTrade(ctx context.Context, tx *model.Transaction) (*model.Position, error) {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer dbtx.Rollback(ctx)

	// Materialize the row first so a first buy has something to lock;
	// rolled back with everything else if the trade fails.
	_, err = dbtx.Exec(ctx,
		`INSERT INTO positions (user_id, symbol, quantity, average_cost, updated_at)
		 VALUES ($1, $2, 0, 0, $3)
		 ON CONFLICT (user_id, symbol) DO NOTHING`,
		tx.UserID, tx.Symbol, tx.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: ensure position row: %v", ErrStorage, err)
	}

	cur := model.Position{UserID: tx.UserID, Symbol: tx.Symbol}
	err = dbtx.QueryRow(ctx,
		`SELECT quantity, average_cost FROM positions
		 WHERE user_id = $1 AND symbol = $2
		 FOR UPDATE`,
		tx.UserID, tx.Symbol).
		Scan(&cur.Quantity, &cur.AverageCost)
	if err != nil {
		return nil, fmt.Errorf("%w: lock position: %v", ErrStorage, err)
	}

	next, err := position.Apply(cur, tx.Side, tx.Quantity, tx.Price, tx.ExecutedAt)
	if err != nil {
		return nil, err
	}

	_, err = dbtx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, symbol, side, quantity, price, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, tx.UserID, tx.Symbol, tx.Side, tx.Quantity, tx.Price, tx.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: append transaction: %v", ErrStorage, err)
	}

	_, err = dbtx.Exec(ctx,
		`UPDATE positions
		 SET quantity = $3, average_cost = $4, updated_at = $5
		 WHERE user_id = $1 AND symbol = $2`,
		tx.UserID, tx.Symbol, next.Quantity, next.AverageCost, next.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: update position: %v", ErrStorage, err)
	}

	if err := dbtx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return &next, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, sym string) (*model.Position, error) {
	p := model.Position{UserID: userID, Symbol: sym}
	err := s.pool.QueryRow(ctx,
		`SELECT quantity, average_cost, updated_at FROM positions
		 WHERE user_id = $1 AND symbol = $2`,
		userID, sym).
		Scan(&p.Quantity, &p.AverageCost, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Never traded: a zeroed position.
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, sym, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, symbol, quantity, average_cost, updated_at
		 FROM positions
		 WHERE user_id = $1 AND quantity > 0
		 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListAllOpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, symbol, quantity, average_cost, updated_at
		 FROM positions
		 WHERE quantity > 0
		 ORDER BY user_id, symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, side, quantity, price, executed_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY executed_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Transaction
	for rows.Next() {
		var e model.Transaction
		if err := rows.Scan(&e.ID, &e.UserID, &e.Symbol, &e.Side,
			&e.Quantity, &e.Price, &e.ExecutedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *model.HistorySnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO investment_history (user_id, snapshot_date, total_worth, total_invested, unrealized_pnl)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, snapshot_date) DO UPDATE
		 SET total_worth = EXCLUDED.total_worth,
		     total_invested = EXCLUDED.total_invested,
		     unrealized_pnl = EXCLUDED.unrealized_pnl`,
		snap.UserID, snap.SnapshotDate, snap.TotalWorth, snap.TotalInvested, snap.UnrealizedPnL)
	if err != nil {
		return fmt.Errorf("%w: upsert snapshot: %v", ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, userID string) ([]model.HistorySnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, snapshot_date, total_worth, total_invested, unrealized_pnl
		 FROM investment_history
		 WHERE user_id = $1
		 ORDER BY snapshot_date`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.HistorySnapshot
	for rows.Next() {
		var snap model.HistorySnapshot
		if err := rows.Scan(&snap.UserID, &snap.SnapshotDate,
			&snap.TotalWorth, &snap.TotalInvested, &snap.UnrealizedPnL); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Quantity,
			&p.AverageCost, &p.UpdatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
