package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockdraft/portfolio-engine/internal/model"
)

// CachedFeed wraps another Feed with a short-TTL Redis cache, keeping quote
// fan-out from hammering the symbols table during portfolio reads.
type CachedFeed struct {
	primary Feed
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedFeed creates a cached wrapper around a primary feed.
func NewCachedFeed(primary Feed, rdb *redis.Client, ttl time.Duration) *CachedFeed {
	return &CachedFeed{primary: primary, rdb: rdb, ttl: ttl}
}

func quoteKey(sym string) string { return fmt.Sprintf("quote:%s", sym) }

func (f *CachedFeed) Quote(ctx context.Context, sym string) (*model.Quote, error) {
	data, err := f.rdb.Get(ctx, quoteKey(sym)).Bytes()
	if err == nil {
		var q model.Quote
		if json.Unmarshal(data, &q) == nil {
			return &q, nil
		}
	}

	q, err := f.primary.Quote(ctx, sym)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(q); err == nil {
		f.rdb.Set(ctx, quoteKey(sym), data, f.ttl)
	}
	return q, nil
}

func (f *CachedFeed) Quotes(ctx context.Context, syms []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(syms))
	var misses []string

	for _, sym := range syms {
		data, err := f.rdb.Get(ctx, quoteKey(sym)).Bytes()
		if err != nil {
			misses = append(misses, sym)
			continue
		}
		var q model.Quote
		if json.Unmarshal(data, &q) != nil {
			misses = append(misses, sym)
			continue
		}
		out[sym] = q
	}

	if len(misses) > 0 {
		fetched, err := f.primary.Quotes(ctx, misses)
		if err != nil {
			return nil, err
		}
		for sym, q := range fetched {
			out[sym] = q
			if data, err := json.Marshal(q); err == nil {
				f.rdb.Set(ctx, quoteKey(sym), data, f.ttl)
			}
		}
	}
	return out, nil
}
