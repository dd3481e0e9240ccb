// Package store persists aggregated sensor readings as timestamped blobs in
// SQLite. The table layout is shared with earlier gateway builds so existing
// databases can be read as-is.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// TimestampLayout is the format of the TIMESTAMP column written by Append.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrInvalidLimit is returned by Latest for a non-positive row count.
var ErrInvalidLimit = errors.New("store: limit must be positive")

// Entry is one archived aggregated reading.
type Entry struct {
	ID        int64
	Timestamp string
	Blob      []byte
}

// SQLiteStore is an append-only archive of aggregated reading blobs.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// WAL mode lets the reader run while the collector appends.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	s := New(db)
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database. The schema is not created.
func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sensor_readings_aggregated (
			ID        INTEGER PRIMARY KEY AUTOINCREMENT,
			TIMESTAMP TEXT NOT NULL,
			DATA      BLOB
		)
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append stores blob under ts and returns the new row id.
func (s *SQLiteStore) Append(ctx context.Context, ts time.Time, blob []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sensor_readings_aggregated (TIMESTAMP, DATA) VALUES (?, ?)",
		ts.UTC().Format(TimestampLayout), blob,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert aggregated reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: last insert id: %w", err)
	}
	return id, nil
}

// Latest returns up to limit entries, most recent first.
func (s *SQLiteStore) Latest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT ID, TIMESTAMP, DATA FROM sensor_readings_aggregated ORDER BY ID DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query latest: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Blob); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate rows: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
