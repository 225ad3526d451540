// Package store keeps debug sessions: a bounded live-session cache and an
// archive for snapshots of sessions that finished or were evicted.
package store

import (
	"errors"
	"time"
)

// Archive persists serialized session snapshots.
// Implementations must be safe for concurrent use.
type Archive interface {
	// Save stores a snapshot, replacing any earlier one for the session.
	Save(rec Record) error

	// Load retrieves a snapshot.
	// Returns ErrNotFound if the session was never archived.
	Load(sessionID string) (Record, error)

	// List returns metadata for archived sessions, oldest update first.
	// An empty flowName lists every flow.
	List(flowName string) ([]Info, error)

	// Delete removes a snapshot. Returns nil if it doesn't exist.
	Delete(sessionID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Record is one archived session snapshot.
type Record struct {
	SessionID string
	FlowName  string
	Status    string
	UpdatedAt time.Time
	Data      []byte
}

// Info provides metadata without loading the snapshot.
type Info struct {
	SessionID string
	FlowName  string
	Status    string
	UpdatedAt time.Time
	Size      int64
}

var (
	// ErrNotFound indicates a session snapshot doesn't exist.
	ErrNotFound = errors.New("session not archived")

	// ErrArchiveClosed indicates the archive has been closed.
	ErrArchiveClosed = errors.New("session archive closed")

	// ErrMissingSessionID indicates a record was saved without an id.
	ErrMissingSessionID = errors.New("session id required")
)
