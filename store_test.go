package coordinate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeContract(t *testing.T, store RecordStore) {
	t.Helper()
	ctx := context.Background()

	record := &CoordinationRecord{
		ID:        NewCoordinationID(),
		Name:      "order",
		Strategy:  StrategySaga,
		Status:    StatusRunning,
		StepIndex: 2,
		Completed: []CompletedUnit{
			{Name: "reserve", Output: json.RawMessage(`{"hold_id":"h-1"}`), CompletedAt: time.Now().UTC()},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, record))
	assert.Equal(t, 1, record.Version)

	loaded, err := store.Load(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, loaded.ID)
	assert.Equal(t, "order", loaded.Name)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Equal(t, 2, loaded.StepIndex)
	require.Len(t, loaded.Completed, 1)
	assert.Equal(t, "reserve", loaded.Completed[0].Name)
	assert.JSONEq(t, `{"hold_id":"h-1"}`, string(loaded.Completed[0].Output))

	// Versions move forward on every save.
	require.NoError(t, store.Save(ctx, record))
	loaded, err = store.Load(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)

	// Non-terminal scan sees the running record but not terminal ones.
	terminal := &CoordinationRecord{ID: NewCoordinationID(), Name: "done", Strategy: StrategySaga, Status: StatusCompleted}
	require.NoError(t, store.Save(ctx, terminal))

	open, err := store.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, record.ID, open[0].ID)

	// Terminal transition drops the record from the scan.
	record.Status = StatusCompleted
	require.NoError(t, store.Save(ctx, record))
	open, err = store.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	require.NoError(t, store.Delete(ctx, record.ID))
	_, err = store.Load(ctx, record.ID)
	require.Error(t, err)

	// Deleting twice is fine for file and redis stores, and memory.
	require.NoError(t, store.Delete(ctx, record.ID))
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestFileStoreContract(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	storeContract(t, store)
}

func TestRedisStoreContract(t *testing.T) {
	storeContract(t, NewRedisStore(newTestRedis(t)))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	record := &CoordinationRecord{ID: NewCoordinationID(), Name: "order", Strategy: StrategySaga, Status: StatusRunning}
	require.NoError(t, store.Save(ctx, record))

	// A fresh store over the same directory sees the same records, which
	// is what recovery after a process restart relies on.
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	open, err := reopened.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, record.ID, open[0].ID)
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &CoordinationRecord{
		ID:        NewCoordinationID(),
		Name:      "order",
		Strategy:  StrategySaga,
		Status:    StatusRunning,
		Completed: []CompletedUnit{{Name: "reserve"}},
	}
	require.NoError(t, store.Save(ctx, record))

	loaded, err := store.Load(ctx, record.ID)
	require.NoError(t, err)
	loaded.Status = StatusFailed
	loaded.Completed[0].Name = "tampered"

	again, err := store.Load(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, again.Status, "callers must not mutate stored state through loaded copies")
	assert.Equal(t, []string{"reserve"}, again.CompletedNames())
}

// A running executor rewrites its completed list in place between saves;
// copies handed out earlier must not see those rewrites.
func TestMemoryStoreCompletedListDoesNotAlias(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &CoordinationRecord{
		ID:        NewCoordinationID(),
		Name:      "transfer",
		Strategy:  StrategyTwoPhaseCommit,
		Status:    StatusRunning,
		Completed: []CompletedUnit{{Name: "accounts"}, {Name: "ledger"}},
	}
	require.NoError(t, store.Save(ctx, record))

	loaded, err := store.Load(ctx, record.ID)
	require.NoError(t, err)

	record.Completed = record.Completed[:0]
	record.Completed = append(record.Completed, CompletedUnit{Name: "audit"})

	assert.Equal(t, []string{"accounts", "ledger"}, loaded.CompletedNames(),
		"in-place rewrites by the writer must not reach an earlier copy")

	stored, err := store.Load(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "ledger"}, stored.CompletedNames())
}
