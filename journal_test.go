package coordinate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalLegalLifecycle(t *testing.T) {
	j := NewJournal(NewCoordinationID())

	require.NoError(t, j.Record("reserve", EventStarted))
	require.NoError(t, j.Record("reserve", EventSucceeded))
	require.NoError(t, j.Record("charge", EventStarted))
	require.NoError(t, j.Record("charge", EventFailed))
	assert.True(t, j.Unwinding())

	require.NoError(t, j.Record("reserve", EventCompensateStarted))
	require.NoError(t, j.Record("reserve", EventCompensateFinished))

	events := j.Events()
	require.Len(t, events, 6)
	assert.Equal(t, "reserve started", events[0].String())
	assert.Equal(t, "charge failed", events[3].String())
}

func TestJournalRejectsIllegalTransitions(t *testing.T) {
	j := NewJournal(NewCoordinationID())

	// Succeeding before starting.
	require.Error(t, j.Record("unit", EventSucceeded))

	// Compensating a unit that never completed.
	require.NoError(t, j.Record("unit", EventStarted))
	require.NoError(t, j.Record("unit", EventFailed))
	require.Error(t, j.Record("unit", EventCompensateStarted),
		"a failed unit never completed, so it must not be compensated")

	// Double compensation.
	j2 := NewJournal(NewCoordinationID())
	require.NoError(t, j2.Record("unit", EventStarted))
	require.NoError(t, j2.Record("unit", EventSucceeded))
	require.NoError(t, j2.Record("unit", EventCompensateStarted))
	require.NoError(t, j2.Record("unit", EventCompensateFinished))
	require.Error(t, j2.Record("unit", EventCompensateStarted))
}

func TestRecoverJournalReplaysEvents(t *testing.T) {
	id := NewCoordinationID()
	source := NewJournal(id)
	require.NoError(t, source.Record("a", EventStarted))
	require.NoError(t, source.Record("a", EventSucceeded))
	require.NoError(t, source.Record("b", EventStarted))
	require.NoError(t, source.Record("b", EventFailed))

	recovered, err := RecoverJournal(id, source.Events())
	require.NoError(t, err)
	assert.True(t, recovered.Unwinding())
	assert.Len(t, recovered.Events(), 4)
}

func TestRecoverJournalRejectsForeignEvents(t *testing.T) {
	other := NewJournal(NewCoordinationID())
	require.NoError(t, other.Record("a", EventStarted))

	_, err := RecoverJournal(NewCoordinationID(), other.Events())
	require.Error(t, err)
}

func TestEventTypeStrings(t *testing.T) {
	assert.Equal(t, "started", EventStarted.String())
	assert.Equal(t, "compensate_failed", EventCompensateFailed.String())
}
