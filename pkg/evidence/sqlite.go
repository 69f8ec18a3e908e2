package evidence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists query records in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteStore creates (or opens) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	store := &SQLiteStore{db: db, path: path}
	if err := store.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init %s: %w", path, err)
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS queries (
		query_id TEXT PRIMARY KEY,
		received_at INTEGER,
		text TEXT,
		intent TEXT,
		confidence REAL,
		chosen_backend TEXT,
		routing_reason TEXT,
		model_used TEXT,
		state TEXT,
		error_kind TEXT,
		succeeded INTEGER,
		token_count INTEGER,
		elapsed_ms INTEGER,
		detail TEXT
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_queries_received_at ON queries(received_at)`)
	return err
}

// Write inserts or replaces a record. The full record is kept as JSON in the
// detail column; the other columns exist for ad-hoc SQL.
func (s *SQLiteStore) Write(record QueryRecord) error {
	if record.QueryID == "" {
		return fmt.Errorf("query ID is required")
	}
	detail, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT OR REPLACE INTO queries
		(query_id, received_at, text, intent, confidence, chosen_backend, routing_reason,
		 model_used, state, error_kind, succeeded, token_count, elapsed_ms, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.QueryID,
		record.ReceivedAt.UnixNano(),
		record.Text,
		record.Intent,
		record.Confidence,
		record.ChosenBackend,
		record.Reason,
		record.ModelUsed,
		record.State,
		record.ErrorKind,
		boolToInt(record.Succeeded),
		record.TokenCount,
		record.ElapsedMillis,
		string(detail),
	)
	return err
}

// Recent returns up to limit records, newest first by receive time in
// nanoseconds. limit <= 0 returns all.
func (s *SQLiteStore) Recent(limit int) ([]QueryRecord, error) {
	query := "SELECT detail FROM queries ORDER BY received_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []QueryRecord
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, err
		}
		var rec QueryRecord
		if err := json.Unmarshal([]byte(detail), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM queries").Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
