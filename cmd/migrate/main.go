// Command migrate manages the escrow engine's database schema via goose.
//
// Usage:
//
//	go run ./cmd/migrate up               # Apply pending migrations
//	go run ./cmd/migrate status           # Show applied vs pending
//	go run ./cmd/migrate down             # Roll back one migration
//	go run ./cmd/migrate version          # Print current schema version
//
// The target database comes from DATABASE_URL. The escrow_transactions
// table is append-only in production; down migrations exist for local
// development only.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command> [args]")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required (the escrow engine only migrates PostgreSQL)")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("open escrow database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("connect to escrow database: %v", err)
	}

	command := os.Args[1]
	args := os.Args[2:]

	if err := goose.RunContext(context.Background(), command, db, migrationsDir, args...); err != nil {
		log.Fatalf("goose %s: %v", command, err)
	}
}
