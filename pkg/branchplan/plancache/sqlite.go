package plancache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists plans to SQLite so they survive restarts.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	ttl    time.Duration
	closed bool
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteTTL hides entries older than ttl from Load and List. Zero
// disables expiry. Expired rows are removed by Prune.
func WithSQLiteTTL(ttl time.Duration) SQLiteOption {
	return func(s *SQLiteStore) { s.ttl = ttl }
}

// NewSQLiteStore opens (or creates) a plan store at path.
// The path should be a file path (e.g., "./plans.db") or ":memory:" for testing.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS plans (
			graph_id TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (graph_id, cache_key)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	s := &SQLiteStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// cutoff returns the oldest creation time still visible, in unix nanos.
func (s *SQLiteStore) cutoff() int64 {
	if s.ttl <= 0 {
		return 0
	}
	return time.Now().Add(-s.ttl).UnixNano()
}

// Save implements Store.
func (s *SQLiteStore) Save(graphID, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO plans (graph_id, cache_key, sequence, created_at, data)
		VALUES (
			?, ?,
			COALESCE((SELECT MAX(sequence) FROM plans WHERE graph_id = ?), 0) + 1,
			?, ?
		)
		ON CONFLICT(graph_id, cache_key) DO UPDATE SET
			sequence = (SELECT MAX(sequence) FROM plans WHERE graph_id = excluded.graph_id) + 1,
			created_at = excluded.created_at,
			data = excluded.data
	`, graphID, key, graphID, time.Now().UnixNano(), data)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(graphID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(`
		SELECT data FROM plans
		WHERE graph_id = ? AND cache_key = ? AND created_at >= ?
	`, graphID, key, s.cutoff()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *SQLiteStore) List(graphID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT cache_key, sequence, created_at, LENGTH(data)
		FROM plans
		WHERE graph_id = ? AND created_at >= ?
		ORDER BY sequence
	`, graphID, s.cutoff())
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info    Info
			created int64
		)
		if err := rows.Scan(&info.Key, &info.Sequence, &created, &info.Size); err != nil {
			return nil, fmt.Errorf("scan plan info: %w", err)
		}
		info.GraphID = graphID
		info.Timestamp = time.Unix(0, created).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return infos, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(graphID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM plans WHERE graph_id = ? AND cache_key = ?`, graphID, key); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}

// DeleteGraph implements Store.
func (s *SQLiteStore) DeleteGraph(graphID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM plans WHERE graph_id = ?`, graphID); err != nil {
		return fmt.Errorf("delete graph plans: %w", err)
	}
	return nil
}

// Prune deletes expired rows and returns how many were removed.
// Without a TTL it removes nothing.
func (s *SQLiteStore) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	if s.ttl <= 0 {
		return 0, nil
	}

	res, err := s.db.Exec(`DELETE FROM plans WHERE created_at < ?`, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("prune plans: %w", err)
	}
	return res.RowsAffected()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
