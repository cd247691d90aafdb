// Package pricefeed abstracts the market data collaborator that supplies
// the current price and prior close per symbol. The engine only ever reads
// from it; ingestion is someone else's job.
package pricefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/stockdraft/portfolio-engine/internal/model"
)

// ErrQuoteNotFound is returned when the feed has no data for a symbol.
// Callers fall back to the position's average cost so unpriced symbols
// still value instead of erroring.
var ErrQuoteNotFound = errors.New("pricefeed: no quote for symbol")

// Feed supplies pricing data per symbol.
type Feed interface {
	// Quote returns pricing for one symbol, or ErrQuoteNotFound.
	Quote(ctx context.Context, sym string) (*model.Quote, error)

	// Quotes returns pricing for the given symbols. Unknown symbols are
	// simply absent from the result, not an error.
	Quotes(ctx context.Context, syms []string) (map[string]model.Quote, error)
}

// StaticFeed is a deterministic in-memory feed for tests and development.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
}

// NewStaticFeed creates a feed seeded with the given quotes.
func NewStaticFeed(quotes ...model.Quote) *StaticFeed {
	f := &StaticFeed{quotes: make(map[string]model.Quote)}
	for _, q := range quotes {
		f.quotes[q.Symbol] = q
	}
	return f
}

// Set adds or replaces one symbol's quote.
func (f *StaticFeed) Set(q model.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[q.Symbol] = q
}

// Delete removes a symbol's quote, simulating a feed gap.
func (f *StaticFeed) Delete(sym string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.quotes, sym)
}

func (f *StaticFeed) Quote(_ context.Context, sym string) (*model.Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[sym]
	if !ok {
		return nil, ErrQuoteNotFound
	}
	out := q
	return &out, nil
}

func (f *StaticFeed) Quotes(_ context.Context, syms []string) (map[string]model.Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]model.Quote, len(syms))
	for _, sym := range syms {
		if q, ok := f.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}
