package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the daemon's replay log: a SQLite copy of the rooms, users,
// messages and cursors the session has seen, kept for chatkitctl queries.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the replay log in WAL mode.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Stats are row counts for status output.
type Stats struct {
	Rooms    int64
	Users    int64
	Messages int64
}

// Stats counts the live rows of each table.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM rooms WHERE deleted = 0),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM messages)`).Scan(&s.Rooms, &s.Users, &s.Messages)
	return s, err
}

// SetSyncState records a bookkeeping value.
func (db *DB) SetSyncState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// SyncState reads a bookkeeping value; missing keys return "".
func (db *DB) SyncState(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}
