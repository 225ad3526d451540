package store

import (
	"sort"
	"sync"
	"time"
)

// MemoryArchive keeps snapshots in memory. Data is lost when the process exits.
type MemoryArchive struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		records: make(map[string]Record),
	}
}

// Save implements Archive.
func (m *MemoryArchive) Save(rec Record) error {
	if rec.SessionID == "" {
		return ErrMissingSessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrArchiveClosed
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	// Copy data to avoid retaining caller's slice
	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	rec.Data = data

	m.records[rec.SessionID] = rec
	return nil
}

// Load implements Archive.
func (m *MemoryArchive) Load(sessionID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrArchiveClosed
	}

	rec, ok := m.records[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}

	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	rec.Data = data
	return rec, nil
}

// List implements Archive.
func (m *MemoryArchive) List(flowName string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrArchiveClosed
	}

	infos := make([]Info, 0, len(m.records))
	for _, rec := range m.records {
		if flowName != "" && rec.FlowName != flowName {
			continue
		}
		infos = append(infos, Info{
			SessionID: rec.SessionID,
			FlowName:  rec.FlowName,
			Status:    rec.Status,
			UpdatedAt: rec.UpdatedAt,
			Size:      int64(len(rec.Data)),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].SessionID < infos[j].SessionID
		}
		return infos[i].UpdatedAt.Before(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Delete implements Archive.
func (m *MemoryArchive) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrArchiveClosed
	}
	delete(m.records, sessionID)
	return nil
}

// Close implements Archive.
func (m *MemoryArchive) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	return nil
}

// Len returns the number of archived sessions.
func (m *MemoryArchive) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
