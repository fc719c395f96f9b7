package dict

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQL looks up values in a single "lookup(key, value)" table through
// database/sql, standing in for the spec's "network database" backend
// class — the original daemons support mysql:/pgsql:/ldap:-style
// references proxying connections that would otherwise be opened once per
// client process (spec §1, "consolidate the number of open lookup
// tables"). modernc.org/sqlite is used here as a pure-Go, cgo-free driver
// so the table itself can be a plain file, requiring no separate database
// server to exercise this code path.
type SQL struct {
	db        *sql.DB
	query     string
	closeable bool
}

// OpenSQL opens dsn (a sqlite DSN, e.g. "file:/etc/postfix/virtual.db")
// and prepares lookups against the given table's "key"/"value" columns.
func OpenSQL(dsn, table string) (*SQL, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dict: open sqlite %s: %w", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dict: connect sqlite %s: %w", dsn, err)
	}
	return &SQL{
		db:        db,
		query:     fmt.Sprintf("SELECT value FROM %s WHERE key = ?", table),
		closeable: true,
	}, nil
}

// Get implements Dict. A missing row is reported as ok=false, err=nil; any
// other database error is a transient backend error (mapped by proxyd to
// PROXY_STAT_RETRY, per spec §4.1).
func (s *SQL) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(s.query, key).Scan(&value)
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("dict: sqlite query: %w", err)
	}
}

// Put is rejected: proxy map handles are read-only (spec §4.1).
func (s *SQL) Put(string, string) error {
	return errors.New("dict: sqlite-backed table is read-only")
}

// Del is rejected for the same reason as Put.
func (s *SQL) Del(string) error {
	return errors.New("dict: sqlite-backed table is read-only")
}

// Changed always reports false: a network database's mutation cannot be
// observed the way a local file's can, and the original daemons make the
// same simplification (dict_changed() only tracks local files).
func (s *SQL) Changed() bool { return false }

// Flags implements Dict.
func (s *SQL) Flags() Flag { return FlagParanoid }

// Close releases the underlying connection pool.
func (s *SQL) Close() error {
	if !s.closeable {
		return nil
	}
	return s.db.Close()
}
