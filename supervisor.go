package coordinate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultLockTTL = 30 * time.Second

// Request describes one coordination run. Exactly one of Steps,
// Participants or Tasks matches the strategy; when the workload field is
// nil the definition registered under Name is used instead, which is also
// the form recovery relies on.
type Request struct {
	Name     string
	Strategy Strategy

	Steps        []Step
	Participants []Participant
	Tasks        map[TaskID]Task

	// Resource, when set, serializes this run against every other run
	// naming the same resource via the lock backend. Contention returns a
	// LockError immediately; retry policy belongs to the caller.
	Resource string
}

// Supervisor is the stable entry point of the engine. It persists a record
// for every run, dispatches to the strategy's component, emits one
// terminal event per run, and recovers non-terminal records after a
// restart.
type Supervisor struct {
	registry *Registry
	store    RecordStore
	locks    LockBackend
	obs      Observer
	log      zerolog.Logger

	callTimeout time.Duration
	lockTTL     time.Duration
	holderID    string
}

// New creates a Supervisor. The registry is an explicit dependency so
// definitions have a clear owner; there are no process-wide singletons.
func New(registry *Registry, opts ...Option) *Supervisor {
	s := &Supervisor{
		registry: registry,
		store:    NewMemoryStore(),
		locks:    NewMemoryLock(),
		obs:      NopObserver{},
		log:      zerolog.Nop(),
		lockTTL:  defaultLockTTL,
		holderID: "supervisor-" + uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Coordinate runs one coordination to a terminal status. Participant
// failures surface in the outcome; the returned error is reserved for
// configuration, persistence and lock errors.
func (s *Supervisor) Coordinate(ctx context.Context, req Request) (*Outcome, error) {
	if req.Name == "" {
		return nil, ConfigurationFailed("coordination request has no name")
	}
	switch req.Strategy {
	case StrategySaga, StrategyTwoPhaseCommit, StrategyOrchestration:
	default:
		return nil, ConfigurationFailed("unknown strategy %q", req.Strategy)
	}

	if req.Resource != "" {
		acquired, err := s.locks.TryAcquire(ctx, req.Resource, s.holderID, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("lock backend failed for %q: %w", req.Resource, err)
		}
		if !acquired {
			return nil, LockContended(req.Resource)
		}
		defer func() {
			if err := s.locks.Release(context.WithoutCancel(ctx), req.Resource, s.holderID); err != nil {
				s.log.Warn().Err(err).Str("resource", req.Resource).Msg("lock release failed")
			}
		}()
	}

	record := &CoordinationRecord{
		ID:        NewCoordinationID(),
		Name:      req.Name,
		Strategy:  req.Strategy,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, PersistenceFailed(err)
	}

	outcome, err := s.dispatch(ctx, record, &req)
	if err != nil && outcome == nil {
		// Rejected before execution started; the record must still reach a
		// terminal status so recovery does not pick it up.
		record.Status = StatusFailed
		record.Cause = err.Error()
		if saveErr := s.store.Save(ctx, record); saveErr != nil {
			s.log.Error().Err(saveErr).Stringer("coordination_id", record.ID).Msg("failed to finalize rejected record")
		}
		return nil, err
	}
	s.finish(outcome)
	return outcome, err
}

// Recover scans for non-terminal records and resumes or safely finalizes
// each one. Sagas and orchestrations resume from their last durably
// recorded position, assuming idempotent unit actions. A two-phase commit
// caught mid-flight is finalized as StatusIndeterminate: votes are not
// durable, so neither re-preparing nor deciding is safe.
func (s *Supervisor) Recover(ctx context.Context) ([]*Outcome, error) {
	records, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return nil, PersistenceFailed(err)
	}

	var outcomes []*Outcome
	for _, record := range records {
		outcome, err := s.recoverOne(ctx, record)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Supervisor) recoverOne(ctx context.Context, record *CoordinationRecord) (*Outcome, error) {
	s.log.Info().
		Stringer("coordination_id", record.ID).
		Str("name", record.Name).
		Str("strategy", string(record.Strategy)).
		Msg("recovering non-terminal coordination")

	switch record.Strategy {
	case StrategySaga:
		steps, err := s.registry.Saga(record.Name)
		if err != nil {
			return s.failSafe(ctx, record, err)
		}
		outcome, err := NewSagaExecutor(record, s.store, steps, s.log).Execute(ctx)
		s.finish(outcome)
		return outcome, err

	case StrategyOrchestration:
		tasks, err := s.registry.Orchestration(record.Name)
		if err != nil {
			return s.failSafe(ctx, record, err)
		}
		outcome, err := NewOrchestrator(record, s.store, tasks, s.log).Execute(ctx)
		s.finish(outcome)
		return outcome, err

	case StrategyTwoPhaseCommit:
		if record.Status == StatusPending {
			// Never reached the prepare round; safe to start over.
			participants, err := s.registry.Transaction(record.Name)
			if err != nil {
				return s.failSafe(ctx, record, err)
			}
			outcome, err := NewTwoPhaseCoordinator(record, s.store, participants, s.callTimeout, s.log).Execute(ctx)
			s.finish(outcome)
			return outcome, err
		}
		return s.failSafe(ctx, record, fmt.Errorf("two-phase commit interrupted mid-protocol, votes are not durable"))

	default:
		return s.failSafe(ctx, record, fmt.Errorf("unknown strategy %q in stored record", record.Strategy))
	}
}

// failSafe finalizes an unresumable record as StatusIndeterminate.
func (s *Supervisor) failSafe(ctx context.Context, record *CoordinationRecord, cause error) (*Outcome, error) {
	record.Status = StatusIndeterminate
	record.Cause = cause.Error()
	if err := s.store.Save(ctx, record); err != nil {
		return nil, PersistenceFailed(err)
	}
	outcome := &Outcome{
		ID:         record.ID,
		Name:       record.Name,
		Strategy:   record.Strategy,
		Status:     StatusIndeterminate,
		Cause:      cause,
		StartedAt:  record.CreatedAt,
		FinishedAt: time.Now(),
	}
	s.finish(outcome)
	return outcome, nil
}

func (s *Supervisor) dispatch(ctx context.Context, record *CoordinationRecord, req *Request) (*Outcome, error) {
	switch req.Strategy {
	case StrategySaga:
		steps := req.Steps
		if steps == nil {
			var err error
			if steps, err = s.registry.Saga(req.Name); err != nil {
				return nil, ConfigurationFailed("%v", err)
			}
		}
		return NewSagaExecutor(record, s.store, steps, s.log).Execute(ctx)

	case StrategyTwoPhaseCommit:
		participants := req.Participants
		if participants == nil {
			var err error
			if participants, err = s.registry.Transaction(req.Name); err != nil {
				return nil, ConfigurationFailed("%v", err)
			}
		}
		return NewTwoPhaseCoordinator(record, s.store, participants, s.callTimeout, s.log).Execute(ctx)

	default:
		tasks := req.Tasks
		if tasks == nil {
			var err error
			if tasks, err = s.registry.Orchestration(req.Name); err != nil {
				return nil, ConfigurationFailed("%v", err)
			}
		}
		return NewOrchestrator(record, s.store, tasks, s.log).Execute(ctx)
	}
}

// finish emits the single terminal event and duration metric for a run.
func (s *Supervisor) finish(outcome *Outcome) {
	if outcome == nil {
		return
	}
	payload := map[string]any{
		"name":     outcome.Name,
		"strategy": string(outcome.Strategy),
	}
	if outcome.Cause != nil {
		payload["cause"] = outcome.Cause.Error()
	}
	s.obs.RecordEvent(outcome.ID, string(outcome.Status), payload)
	s.obs.RecordMetric(MetricRunDuration, outcome.FinishedAt.Sub(outcome.StartedAt).Seconds(), map[string]string{
		"strategy": string(outcome.Strategy),
		"status":   string(outcome.Status),
	})
}
