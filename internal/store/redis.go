package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockdraft/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: open positions and history snapshots.
// Writes go to the primary store and invalidate the affected user's keys.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (delegate, then invalidate) ---

func (s *CachedStore) ApplyTrade(ctx context.Context, tx *model.Transaction) (*model.Position, error) {
	pos, err := s.primary.ApplyTrade(ctx, tx)
	if err != nil {
		return nil, err
	}
	// Stale reads would report pre-trade holdings; drop the user's keys.
	s.rdb.Del(ctx, openPositionsKey(tx.UserID))
	return pos, nil
}

func (s *CachedStore) UpsertSnapshot(ctx context.Context, snap *model.HistorySnapshot) error {
	if err := s.primary.UpsertSnapshot(ctx, snap); err != nil {
		return err
	}
	s.rdb.Del(ctx, historyKey(snap.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, openPositionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, openPositionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) ListSnapshots(ctx context.Context, userID string) ([]model.HistorySnapshot, error) {
	data, err := s.rdb.Get(ctx, historyKey(userID)).Bytes()
	if err == nil {
		var snaps []model.HistorySnapshot
		if json.Unmarshal(data, &snaps) == nil {
			return snaps, nil
		}
	}

	snaps, err := s.primary.ListSnapshots(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snaps); err == nil {
		s.rdb.Set(ctx, historyKey(userID), data, s.ttl)
	}
	return snaps, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPosition(ctx context.Context, userID, sym string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, sym)
}

func (s *CachedStore) ListAllOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.primary.ListAllOpenPositions(ctx)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID)
}

// --- Cache keys ---

func openPositionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
func historyKey(uid string) string       { return fmt.Sprintf("history:%s", uid) }
