package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/stockdraft/portfolio-engine/internal/auth"
	"github.com/stockdraft/portfolio-engine/internal/config"
	"github.com/stockdraft/portfolio-engine/internal/metrics"
	"github.com/stockdraft/portfolio-engine/internal/portfolio"
	"github.com/stockdraft/portfolio-engine/internal/pricefeed"
	"github.com/stockdraft/portfolio-engine/internal/ratelimit"
	"github.com/stockdraft/portfolio-engine/internal/snapshot"
	"github.com/stockdraft/portfolio-engine/internal/store"
	"github.com/stockdraft/portfolio-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store and price feed ---
	var st store.Store
	var feed pricefeed.Feed
	var cleanup []func()

	if cfg.Database.PostgresURL != "" {
		pool, err := store.NewPool(context.Background(), cfg.Database.PostgresURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		feed = pricefeed.NewTableFeed(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Database.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Database.RedisAddr,
				Password: cfg.Database.RedisPassword,
				DB:       cfg.Database.RedisDB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Cache.TTL)
			feed = pricefeed.NewCachedFeed(feed, rdb, cfg.Cache.TTL)
			slog.Info("Redis cache enabled", "addr", cfg.Database.RedisAddr)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
		feed = pricefeed.NewStaticFeed()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	agg := portfolio.NewAggregator(st, feed)
	job := snapshot.NewJob(st, feed, wsHub)
	tradeSvc := trade.NewService(st, agg, job, wsHub)
	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+auth.UserIDHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time portfolio updates.
		r.Get("/ws", wsHub.HandleWS)

		// Batch job triggers for external schedulers.
		r.Post("/jobs/snapshot", tradeSvc.RunSnapshot)
		r.Post("/jobs/recompute-prices", tradeSvc.RecomputePrices)

		// User-scoped endpoints require the gateway-verified user id.
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Use(limiter.Middleware)

			r.Post("/trade", tradeSvc.ExecuteTrade)
			r.Get("/portfolio", tradeSvc.GetPortfolio)
			r.Get("/positions", tradeSvc.GetPositions)
			r.Get("/transactions", tradeSvc.GetTransactions)
			r.Get("/history", tradeSvc.GetHistory)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "addr", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}
