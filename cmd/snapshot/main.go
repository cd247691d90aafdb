// Package main runs the daily portfolio snapshot once and exits. Meant
// to be invoked by an external scheduler (cron, k8s CronJob).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/stockdraft/portfolio-engine/internal/config"
	"github.com/stockdraft/portfolio-engine/internal/pricefeed"
	"github.com/stockdraft/portfolio-engine/internal/snapshot"
	"github.com/stockdraft/portfolio-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	dateFlag := flag.String("date", "", "Snapshot date (YYYY-MM-DD); default is the previous UTC day")
	timeout := flag.Duration("timeout", 5*time.Minute, "Run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if cfg.Database.PostgresURL == "" {
		slog.Error("DATABASE_URL must be set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.Database.PostgresURL)
	if err != nil {
		slog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgresStore(pool)
	feed := pricefeed.NewTableFeed(pool)
	job := snapshot.NewJob(st, feed, nil)

	asOf := snapshot.Yesterday(time.Now().UTC())
	if *dateFlag != "" {
		t, err := time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			slog.Error("invalid -date, want YYYY-MM-DD", "date", *dateFlag)
			os.Exit(1)
		}
		asOf = t.UTC()
	}

	res, err := job.RunDaily(ctx, asOf)
	if err != nil {
		slog.Error("snapshot run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("snapshot finished",
		"date", res.Date,
		"processed", res.Processed,
		"errors", len(res.Errors),
	)
	if len(res.Errors) > 0 {
		os.Exit(2)
	}
}
