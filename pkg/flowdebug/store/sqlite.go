package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// timeLayout is fixed-width so updated_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteArchive persists session snapshots to SQLite.
// It is suitable for a single debugger process.
type SQLiteArchive struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteArchive opens (or creates) the archive at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS debug_sessions (
			session_id TEXT PRIMARY KEY,
			flow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_debug_sessions_flow
		ON debug_sessions(flow_name, updated_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteArchive{db: db}, nil
}

// Save implements Archive.
func (s *SQLiteArchive) Save(rec Record) error {
	if rec.SessionID == "" {
		return ErrMissingSessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrArchiveClosed
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	data := rec.Data
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.Exec(`
		INSERT INTO debug_sessions (session_id, flow_name, status, updated_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			flow_name = excluded.flow_name,
			status = excluded.status,
			updated_at = excluded.updated_at,
			data = excluded.data
	`, rec.SessionID, rec.FlowName, rec.Status, updated.UTC().Format(timeLayout), data)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load implements Archive.
func (s *SQLiteArchive) Load(sessionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrArchiveClosed
	}

	rec := Record{SessionID: sessionID}
	var updated string
	err := s.db.QueryRow(`
		SELECT flow_name, status, updated_at, data
		FROM debug_sessions
		WHERE session_id = ?
	`, sessionID).Scan(&rec.FlowName, &rec.Status, &updated, &rec.Data)

	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load session: %w", err)
	}
	rec.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return rec, nil
}

// List implements Archive.
func (s *SQLiteArchive) List(flowName string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrArchiveClosed
	}

	rows, err := s.db.Query(`
		SELECT session_id, flow_name, status, updated_at, LENGTH(data)
		FROM debug_sessions
		WHERE ? = '' OR flow_name = ?
		ORDER BY updated_at, session_id
	`, flowName, flowName)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var updated string
		if err := rows.Scan(&info.SessionID, &info.FlowName, &info.Status, &updated, &info.Size); err != nil {
			return nil, fmt.Errorf("scan session info: %w", err)
		}
		info.UpdatedAt, _ = time.Parse(timeLayout, updated)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return infos, nil
}

// Delete implements Archive.
func (s *SQLiteArchive) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrArchiveClosed
	}

	if _, err := s.db.Exec(`DELETE FROM debug_sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close implements Archive.
func (s *SQLiteArchive) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
