// Package main applies the embedded PostgreSQL and ClickHouse schema
// migrations and exits.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"custody-ledger/internal/config"
	"custody-ledger/internal/storage/migrations"
	"custody-ledger/internal/storage/postgres"
)

func main() {
	config.LoadEnvFile()
	cfg := config.Load()

	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (optional)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall migration timeout")

	flag.Parse()

	logger := log.New(os.Stdout, "[migrate] ", log.LstdFlags|log.Lshortfile)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := postgres.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		logger.Fatalf("Postgres migrations failed: %v", err)
	}
	if len(applied) == 0 {
		logger.Println("Postgres schema up to date")
	}
	for _, v := range applied {
		logger.Printf("Applied postgres migration %s", v)
	}

	if *clickhouseDSN == "" {
		logger.Println("No ClickHouse DSN, skipping history schema")
		return
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("ClickHouse migrations failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		logger.Printf("Close clickhouse: %v", err)
	}
	logger.Println("ClickHouse schema up to date")
}
