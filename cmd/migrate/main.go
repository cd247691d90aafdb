// Package main provides a CLI tool for running database migrations.
package main

import (
	"flag"
	"log"

	"github.com/stockdraft/portfolio-engine/internal/config"
	"github.com/stockdraft/portfolio-engine/internal/store"
)

func main() {
	action := flag.String("action", "up", "Migration action: up, down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.PostgresURL == "" {
		log.Fatal("DATABASE_URL must be set")
	}

	switch *action {
	case "up":
		log.Println("Running migrations...")
		if err := store.RunMigrations(cfg.Database.PostgresURL, cfg.Database.MigrationsPath); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	case "down":
		log.Println("Rolling back last migration...")
		if err := store.RollbackMigrations(cfg.Database.PostgresURL, cfg.Database.MigrationsPath); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rollback completed successfully")
	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}
