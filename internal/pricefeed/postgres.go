package pricefeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockdraft/portfolio-engine/internal/model"
)

// TableFeed reads quotes from the symbols table, which an external market
// data ingester keeps fresh. NULL prices are treated as missing quotes.
type TableFeed struct {
	pool *pgxpool.Pool
}

// NewTableFeed creates a symbols-table-backed feed.
func NewTableFeed(pool *pgxpool.Pool) *TableFeed {
	return &TableFeed{pool: pool}
}

func (f *TableFeed) Quote(ctx context.Context, sym string) (*model.Quote, error) {
	var current, prev *decimal.Decimal
	err := f.pool.QueryRow(ctx,
		`SELECT current_price, prev_close FROM symbols WHERE symbol = $1`, sym).
		Scan(&current, &prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", sym, err)
	}
	if current == nil {
		return nil, ErrQuoteNotFound
	}

	q := model.Quote{Symbol: sym, CurrentPrice: *current}
	if prev != nil {
		q.PrevClose = *prev
	} else {
		// No close yet (e.g. freshly listed): fall back to the live price.
		q.PrevClose = *current
	}
	return &q, nil
}

func (f *TableFeed) Quotes(ctx context.Context, syms []string) (map[string]model.Quote, error) {
	if len(syms) == 0 {
		return map[string]model.Quote{}, nil
	}

	rows, err := f.pool.Query(ctx,
		`SELECT symbol, current_price, prev_close FROM symbols
		 WHERE symbol = ANY($1) AND current_price IS NOT NULL`, syms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.Quote, len(syms))
	for rows.Next() {
		var sym string
		var current decimal.Decimal
		var prev *decimal.Decimal
		if err := rows.Scan(&sym, &current, &prev); err != nil {
			return nil, err
		}
		q := model.Quote{Symbol: sym, CurrentPrice: current, PrevClose: current}
		if prev != nil {
			q.PrevClose = *prev
		}
		out[sym] = q
	}
	return out, rows.Err()
}
