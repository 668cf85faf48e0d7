package quizstudio

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a sqlite-backed snapshot store: one row per collection key
type DB struct {
	db *sql.DB
}

// OpenDB opens a new database connection and makes sure the schema exists
func OpenDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	store := &DB{db: db}
	if err := store.CreateTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.db.Close()
}

// CreateTables creates the necessary tables if they don't exist
func (db *DB) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}

// Get returns the snapshot stored under key
func (db *DB) Get(key string) ([]byte, bool, error) {
	var value string
	err := db.db.QueryRow("SELECT value FROM collections WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get collection %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// Put replaces the snapshot stored under key. The previous snapshot stays in place
// if the transaction does not commit.
func (db *DB) Put(key string, value []byte) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO collections (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to write collection %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit collection %s: %w", key, err)
	}
	return nil
}
