package coordinate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.RegisterSaga("order", func() []Step { return nil }))
	assert.Error(t, registry.RegisterSaga("order", func() []Step { return nil }))

	require.NoError(t, registry.RegisterTransaction("transfer", func() []Participant { return nil }))
	assert.Error(t, registry.RegisterTransaction("transfer", func() []Participant { return nil }))

	require.NoError(t, registry.RegisterOrchestration("pipeline", func() map[TaskID]Task { return nil }))
	assert.Error(t, registry.RegisterOrchestration("pipeline", func() map[TaskID]Task { return nil }))
}

func TestRegistryProvidersReturnFreshState(t *testing.T) {
	registry := NewRegistry()
	calls := 0
	require.NoError(t, registry.RegisterSaga("order", func() []Step {
		calls++
		return []Step{NewStep("only", NoOp(), nil)}
	}))

	first, err := registry.Saga("order")
	require.NoError(t, err)
	second, err := registry.Saga("order")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NotSame(t, &first[0], &second[0])

	_, err = registry.Saga("missing")
	assert.Error(t, err)
	_, err = registry.Transaction("missing")
	assert.Error(t, err)
	_, err = registry.Orchestration("missing")
	assert.Error(t, err)
}
