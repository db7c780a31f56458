package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLAdapter implements Adapter on an embedded SQLite database. A single
// file backs every namespaced log; rows are never updated in place, only
// appended and deleted, matching the append-only contract.
type SQLAdapter struct {
	mu sync.Mutex
	db *sql.DB
}

func OpenSQL(path string) (*SQLAdapter, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		log_key TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_log_key ON records(log_key)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &SQLAdapter{db: db}, nil
}

func (s *SQLAdapter) Append(ctx context.Context, key string, payload []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO records(log_key, payload) VALUES (?, ?)`, key, payload)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	return uint64(id), nil
}

func (s *SQLAdapter) ReadAll(ctx context.Context, key string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM records WHERE log_key = ? ORDER BY id ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("read_all: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, fmt.Errorf("read_all scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLAdapter) Delete(ctx context.Context, key string, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE log_key = ? AND id = ?`, key, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (s *SQLAdapter) Close() error {
	return s.db.Close()
}
