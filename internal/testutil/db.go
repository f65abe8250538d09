package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/xxxsen/mrag/internal/config"
	"github.com/xxxsen/mrag/internal/db"
)

// OpenTestDB opens the postgres test database and empties the tables. The
// test is skipped unless TEST_DB_HOST is set.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DatabaseConfig{
		Driver:   config.DriverPostgres,
		Host:     host,
		Port:     5432,
		User:     "mrag",
		Password: "mrag_pass",
		DBName:   "mrag_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn, config.DriverPostgres); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if _, err := conn.Exec("TRUNCATE document_chunks, documents, embedding_cache RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}

// OpenSQLite creates a migrated database file in a temp dir.
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "mrag.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.ApplyMigrations(conn, config.DriverSQLite); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
