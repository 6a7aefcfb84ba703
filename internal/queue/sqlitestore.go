package queue

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the queue snapshot in a local sqlite file and keeps
// an audit table of permanently failed operations. It implements Store and
// DropRecorder.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: wal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshot (
			id       INTEGER PRIMARY KEY CHECK (id = 1),
			payload  BLOB NOT NULL,
			saved_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dropped_ops (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			op_id       TEXT NOT NULL,
			kind        TEXT NOT NULL,
			name        TEXT NOT NULL,
			priority    INTEGER NOT NULL,
			retry_count INTEGER NOT NULL,
			reason      TEXT NOT NULL,
			dropped_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dropped_at ON dropped_ops(dropped_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:30], err)
		}
	}
	return nil
}

// Save upserts the single snapshot row.
func (s *SQLiteStore) Save(data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshot (id, payload, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("queue: save snapshot: %w", err)
	}
	return nil
}

// Load returns the last saved snapshot, or (nil, nil) when none exists.
func (s *SQLiteStore) Load() ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT payload FROM snapshot WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: load snapshot: %w", err)
	}
	return data, nil
}

// RecordDrop appends a permanently failed operation to the audit table.
func (s *SQLiteStore) RecordDrop(op *Operation, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO dropped_ops (op_id, kind, name, priority, retry_count, reason, dropped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.Kind), op.Name, op.Priority, op.RetryCount, reason, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("queue: record drop: %w", err)
	}
	return nil
}

// DroppedCount reports audit rows newer than since. A zero since counts all.
func (s *SQLiteStore) DroppedCount(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM dropped_ops WHERE dropped_at >= ?`, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: count dropped: %w", err)
	}
	return n, nil
}

// PruneDropped deletes audit rows older than the cutoff and reports how
// many were removed.
func (s *SQLiteStore) PruneDropped(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM dropped_ops WHERE dropped_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("queue: prune dropped: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Compact reclaims space released by pruning.
func (s *SQLiteStore) Compact() error {
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("queue: vacuum: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
