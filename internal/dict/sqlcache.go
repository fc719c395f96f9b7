package dict

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLCache is a writable sqlite-backed key/value table, used as the verify
// daemon's persistent map (spec §6 "persistent-map reference"). dict.SQL
// (this package's proxy-facing backend) is deliberately read-only, matching
// proxymap's "no writable table semantics" non-goal (spec.md §1); the
// verify cache needs the opposite — durable Put/Del — so this is a sibling
// backend rather than a mode flag on SQL, built on the same modernc.org/
// sqlite driver.
type SQLCache struct {
	db *sql.DB
}

// OpenSQLCache opens (creating if necessary) a single-table sqlite
// database at dsn for use as a verify persistent map.
func OpenSQLCache(dsn string) (*SQLCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dict: open sqlite cache %s: %w", dsn, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS verify_cache (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("dict: create verify_cache table: %w", err)
	}
	return &SQLCache{db: db}, nil
}

// Get implements Dict.
func (s *SQLCache) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM verify_cache WHERE key = ?`, key).Scan(&value)
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("dict: sqlite cache query: %w", err)
	}
}

// Put implements Dict. A write is atomic per the underlying sqlite
// transaction; a crash mid-statement cannot leave a partially written
// entry (spec §8 "a worker that exits mid-request never leaves a partial
// entry in the backing file").
func (s *SQLCache) Put(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO verify_cache(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("dict: sqlite cache put: %w", err)
	}
	return nil
}

// Del implements Dict.
func (s *SQLCache) Del(key string) error {
	if _, err := s.db.Exec(`DELETE FROM verify_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("dict: sqlite cache delete: %w", err)
	}
	return nil
}

// Changed always reports false: the verify daemon is solitary per
// listener (spec §5 MAIL_SERVER_SOLITARY), so no other worker can mutate
// this store out from under it.
func (s *SQLCache) Changed() bool { return false }

// Flags implements Dict.
func (s *SQLCache) Flags() Flag { return 0 }

// Close releases the underlying connection.
func (s *SQLCache) Close() error { return s.db.Close() }
