package coordinate

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry holds named coordination definitions so that a record loaded
// from storage can be re-bound to its callables. The concrete unit values
// cannot be persisted; a definition name in the record is the only handle
// recovery has to reconstruct a run, so anything that should survive a
// restart must be registered here. The registry is an explicit dependency
// of the Supervisor, never a process-wide singleton.
type Registry struct {
	sagas          *xsync.MapOf[string, func() []Step]
	transactions   *xsync.MapOf[string, func() []Participant]
	orchestrations *xsync.MapOf[string, func() map[TaskID]Task]
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{
		sagas:          xsync.NewMapOf[string, func() []Step](),
		transactions:   xsync.NewMapOf[string, func() []Participant](),
		orchestrations: xsync.NewMapOf[string, func() map[TaskID]Task](),
	}
}

// RegisterSaga registers a saga definition. The provider is invoked once
// per run so every run gets fresh step state.
func (r *Registry) RegisterSaga(name string, provider func() []Step) error {
	if _, ok := r.sagas.Load(name); ok {
		return fmt.Errorf("saga %q already registered", name)
	}
	r.sagas.Store(name, provider)
	return nil
}

// RegisterTransaction registers a two-phase-commit definition.
func (r *Registry) RegisterTransaction(name string, provider func() []Participant) error {
	if _, ok := r.transactions.Load(name); ok {
		return fmt.Errorf("transaction %q already registered", name)
	}
	r.transactions.Store(name, provider)
	return nil
}

// RegisterOrchestration registers a task-graph definition.
func (r *Registry) RegisterOrchestration(name string, provider func() map[TaskID]Task) error {
	if _, ok := r.orchestrations.Load(name); ok {
		return fmt.Errorf("orchestration %q already registered", name)
	}
	r.orchestrations.Store(name, provider)
	return nil
}

// Saga returns a fresh step list for the named saga definition.
func (r *Registry) Saga(name string) ([]Step, error) {
	provider, ok := r.sagas.Load(name)
	if !ok {
		return nil, fmt.Errorf("saga %q not registered", name)
	}
	return provider(), nil
}

// Transaction returns a fresh participant list for the named definition.
func (r *Registry) Transaction(name string) ([]Participant, error) {
	provider, ok := r.transactions.Load(name)
	if !ok {
		return nil, fmt.Errorf("transaction %q not registered", name)
	}
	return provider(), nil
}

// Orchestration returns a fresh task set for the named definition.
func (r *Registry) Orchestration(name string) (map[TaskID]Task, error) {
	provider, ok := r.orchestrations.Load(name)
	if !ok {
		return nil, fmt.Errorf("orchestration %q not registered", name)
	}
	return provider(), nil
}
