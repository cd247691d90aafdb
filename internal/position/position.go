// Package position implements incremental weighted-average-cost accounting
// for per-user per-symbol holdings.
//
// A buy folds its cost into the running average:
//
//	newAvg = (avg*qty + price*deltaQty) / (qty + deltaQty)
//
// A sell reduces quantity only — the cost basis of the remaining shares is
// unchanged — and resets the average to zero when the position closes.
// Each trade is O(1); the transaction ledger is never replayed.
//
// All monetary values use shopspring/decimal — never float64 for money.
package position

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockdraft/portfolio-engine/internal/model"
)

var (
	// ErrInvalidSide is returned when the side is neither BUY nor SELL.
	ErrInvalidSide = errors.New("position: side must be BUY or SELL")

	// ErrInvalidQuantity is returned when the trade quantity is not positive.
	ErrInvalidQuantity = errors.New("position: quantity must be positive")

	// ErrInvalidPrice is returned when the trade price is negative.
	ErrInvalidPrice = errors.New("position: price must not be negative")

	// ErrInsufficientShares is returned when a sell requests more shares
	// than the position currently holds. The position is left untouched.
	ErrInsufficientShares = errors.New("position: insufficient shares to sell")
)

// MoneyScale is the number of decimal places monetary aggregates are
// rounded to before being persisted or returned to callers.
const MoneyScale int32 = 6

// Validate checks trade inputs without touching any state. It is the
// single payload gate: every violation is rejected before any write.
func Validate(side string, quantity, price decimal.Decimal) error {
	if side != model.SideBuy && side != model.SideSell {
		return ErrInvalidSide
	}
	if !quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

// Apply computes the position that results from executing one trade against
// pos. It never mutates its input; on error the returned position equals
// the input. Quantity and AverageCost invariants:
//
//   - Quantity never goes negative (oversells fail with ErrInsufficientShares).
//   - AverageCost changes only on buys, per the weighted-average formula.
//   - AverageCost is forced to zero when Quantity reaches zero.
func Apply(pos model.Position, side string, quantity, price decimal.Decimal, at time.Time) (model.Position, error) {
	if err := Validate(side, quantity, price); err != nil {
		return pos, err
	}

	next := pos
	switch side {
	case model.SideBuy:
		newQty := pos.Quantity.Add(quantity)
		newCost := pos.AverageCost.Mul(pos.Quantity).Add(price.Mul(quantity))
		next.Quantity = newQty
		if newQty.IsPositive() {
			next.AverageCost = newCost.Div(newQty)
		} else {
			next.AverageCost = decimal.Zero
		}

	case model.SideSell:
		if quantity.GreaterThan(pos.Quantity) {
			return pos, ErrInsufficientShares
		}
		next.Quantity = pos.Quantity.Sub(quantity)
		if next.Quantity.IsZero() {
			// Closed out: no shares, no cost basis.
			next.AverageCost = decimal.Zero
		}
	}

	next.UpdatedAt = at.UTC()
	return next, nil
}

// RoundMoney rounds a monetary value to MoneyScale decimal places.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyScale)
}
