package store

import (
	"context"
	"sort"
	"sync"

	"github.com/stockdraft/portfolio-engine/internal/model"
	"github.com/stockdraft/portfolio-engine/internal/position"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*model.Position      // key: userID|symbol
	ledger    []model.Transaction             // append-only, insertion order
	snapshots map[string]model.HistorySnapshot // key: userID|date

	// Per-(user,symbol) locks serialize the read-check-write sequence of
	// ApplyTrade. Trades on different keys never contend here.
	keyMu sync.Mutex
	keys  map[string]*sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*model.Position),
		snapshots: make(map[string]model.HistorySnapshot),
		keys:      make(map[string]*sync.Mutex),
	}
}

func posKey(userID, sym string) string { return userID + "|" + sym }

func snapKey(userID string, s *model.HistorySnapshot) string {
	return userID + "|" + s.SnapshotDate.UTC().Format("2006-01-02")
}

// lockKey returns the mutex serializing one (user, symbol) pair.
func (s *MemoryStore) lockKey(key string) *sync.Mutex {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	mu, ok := s.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		s.keys[key] = mu
	}
	return mu
}

func (s *MemoryStore) ApplyTrade(_ context.Context, tx *model.Transaction) (*model.Position, error) {
	key := posKey(tx.UserID, tx.Symbol)
	mu := s.lockKey(key)
	mu.Lock()
	defer mu.Unlock()

	s.mu.RLock()
	cur := model.Position{UserID: tx.UserID, Symbol: tx.Symbol}
	if p, ok := s.positions[key]; ok {
		cur = *p
	}
	s.mu.RUnlock()

	next, err := position.Apply(cur, tx.Side, tx.Quantity, tx.Price, tx.ExecutedAt)
	if err != nil {
		return nil, err
	}

	// Ledger append and position replacement commit together.
	s.mu.Lock()
	s.ledger = append(s.ledger, *tx)
	updated := next
	s.positions[key] = &updated
	s.mu.Unlock()

	out := next
	return &out, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, sym string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[posKey(userID, sym)]; ok {
		out := *p
		return &out, nil
	}
	return &model.Position{UserID: userID, Symbol: sym}, nil
}

func (s *MemoryStore) ListOpenPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID && p.Open() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) ListAllOpenPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.Open() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for _, e := range s.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutedAt.Before(out[j].ExecutedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpsertSnapshot(_ context.Context, snap *model.HistorySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapKey(snap.UserID, snap)] = *snap
	return nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, userID string) ([]model.HistorySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.HistorySnapshot
	for _, snap := range s.snapshots {
		if snap.UserID == userID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SnapshotDate.Before(out[j].SnapshotDate)
	})
	return out, nil
}
