package coordinate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// RecordStore is the persistence boundary for coordination state. Any
// durable key-value or relational store can satisfy it. Within one run the
// record has a single writer, so implementations need no cross-run
// transaction support beyond atomic per-record writes.
type RecordStore interface {
	// Save persists the record, overwriting any prior version.
	Save(ctx context.Context, record *CoordinationRecord) error

	// Load retrieves a record by coordination ID.
	Load(ctx context.Context, id CoordinationID) (*CoordinationRecord, error)

	// ListNonTerminal returns every record whose status is not terminal.
	// Recovery scans this after a process restart.
	ListNonTerminal(ctx context.Context) ([]*CoordinationRecord, error)

	// Delete removes a record.
	Delete(ctx context.Context, id CoordinationID) error
}

// CoordinationRecord is the durable, versioned record of a run's progress
// and the only source of truth for crash recovery.
type CoordinationRecord struct {
	ID       CoordinationID `json:"id"`
	Name     string         `json:"name"`
	Strategy Strategy       `json:"strategy"`
	Status   Status         `json:"status"`

	// StepIndex is the index of the next saga step to run, or the current
	// two-phase-commit phase (0 before prepare, 1 after prepare, 2 after
	// the decision phase).
	StepIndex int `json:"step_index"`

	// Version increments on every save, so stale writers are detectable.
	Version int `json:"version"`

	// Completed records finished units in completion order, with their
	// outputs for use by dependents after a resume.
	Completed []CompletedUnit `json:"completed,omitempty"`

	Cause  string          `json:"cause,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompletedUnit records one successfully executed unit of work.
type CompletedUnit struct {
	Name        string          `json:"name"`
	Output      json.RawMessage `json:"output,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// CompletedNames returns the names of completed units in completion order.
func (r *CoordinationRecord) CompletedNames() []string {
	names := make([]string, len(r.Completed))
	for i, c := range r.Completed {
		names[i] = c.Name
	}
	return names
}

// MemoryStore is an in-memory RecordStore for tests and for callers that do
// not need durability.
type MemoryStore struct {
	records *xsync.MapOf[CoordinationID, *CoordinationRecord]
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: xsync.NewMapOf[CoordinationID, *CoordinationRecord](),
	}
}

// Save stores a copy of the record in memory.
func (m *MemoryStore) Save(ctx context.Context, record *CoordinationRecord) error {
	cp := copyRecord(record)
	cp.Version++
	cp.UpdatedAt = time.Now()
	m.records.Store(cp.ID, cp)
	record.Version = cp.Version
	return nil
}

// Load retrieves a copy of the record from memory.
func (m *MemoryStore) Load(ctx context.Context, id CoordinationID) (*CoordinationRecord, error) {
	record, ok := m.records.Load(id)
	if !ok {
		return nil, fmt.Errorf("coordination %s not found", id)
	}
	return copyRecord(record), nil
}

// ListNonTerminal returns copies of all records with a non-terminal status.
func (m *MemoryStore) ListNonTerminal(ctx context.Context) ([]*CoordinationRecord, error) {
	var out []*CoordinationRecord
	m.records.Range(func(_ CoordinationID, record *CoordinationRecord) bool {
		if !record.Status.Terminal() {
			out = append(out, copyRecord(record))
		}
		return true
	})
	return out, nil
}

// copyRecord copies a record including the completed-unit backing array, so
// in-place rewrites by a running executor never reach a stored or loaded
// copy.
func copyRecord(record *CoordinationRecord) *CoordinationRecord {
	cp := *record
	if record.Completed != nil {
		cp.Completed = append([]CompletedUnit(nil), record.Completed...)
	}
	return &cp
}

// Delete removes the record from memory.
func (m *MemoryStore) Delete(ctx context.Context, id CoordinationID) error {
	m.records.Delete(id)
	return nil
}
