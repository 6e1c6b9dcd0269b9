package coordinate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// SagaExecutor runs an ordered list of steps, unwinding completed steps in
// reverse order when any step fails. Ordering is caller-specified and
// preserved exactly; compensation correctness depends on it. Execution is
// strictly sequential by design.
type SagaExecutor struct {
	steps   []Step
	record  *CoordinationRecord
	store   RecordStore
	journal *Journal
	log     zerolog.Logger

	results map[string]Result
}

// NewSagaExecutor creates an executor bound to its record and store. If the
// record already carries completed steps (a resumed run), those steps are
// restored as completed so a later failure still unwinds them.
func NewSagaExecutor(record *CoordinationRecord, store RecordStore, steps []Step, log zerolog.Logger) *SagaExecutor {
	e := &SagaExecutor{
		steps:   steps,
		record:  record,
		store:   store,
		journal: NewJournal(record.ID),
		log:     log.With().Stringer("coordination_id", record.ID).Str("strategy", string(StrategySaga)).Logger(),
		results: make(map[string]Result),
	}

	completed := make(map[string]bool, len(record.Completed))
	for _, c := range record.Completed {
		completed[c.Name] = true
	}
	for i := range e.steps {
		if completed[e.steps[i].Name] {
			e.steps[i].status = StepCompleted
			// Replay the durably recorded progress so the journal accepts a
			// later compensation of this step.
			e.mustJournal(e.steps[i].Name, EventStarted)
			e.mustJournal(e.steps[i].Name, EventSucceeded)
		}
	}
	return e
}

// Execute runs the saga to a terminal status. Participant failures are
// converted into compensation and a terminal outcome; only configuration
// and persistence errors are returned as errors.
func (e *SagaExecutor) Execute(ctx context.Context) (*Outcome, error) {
	if len(e.steps) == 0 {
		return nil, ConfigurationFailed("saga %q has no steps", e.record.Name)
	}
	seen := make(map[string]bool, len(e.steps))
	for _, step := range e.steps {
		if step.Name == "" {
			return nil, ConfigurationFailed("saga %q has an unnamed step", e.record.Name)
		}
		if seen[step.Name] {
			return nil, ConfigurationFailed("saga %q has duplicate step %q", e.record.Name, step.Name)
		}
		seen[step.Name] = true
	}

	if e.record.Status == StatusCompensating {
		// A crash landed mid-unwind; resume the unwind, never the forward
		// path. The failed step's action is not retried at this layer.
		cause := errors.New("compensation interrupted")
		if e.record.Cause != "" {
			cause = errors.New(e.record.Cause)
		}
		return e.unwind(ctx, cause)
	}

	for i := e.record.StepIndex; i < len(e.steps); i++ {
		step := &e.steps[i]
		if step.status == StepCompleted {
			// Already durably recorded by a previous process; a resumed
			// run must not re-run it.
			continue
		}

		// The step index is made durable before the action runs, so a
		// crash always resumes from the last recorded position.
		e.record.Status = StatusRunning
		e.record.StepIndex = i
		if err := e.store.Save(ctx, e.record); err != nil {
			return e.abandon(err)
		}

		if ctx.Err() != nil {
			e.log.Warn().Err(ctx.Err()).Str("step", step.Name).Msg("saga cancelled, unwinding")
			return e.unwind(ctx, ParticipantFailed(step.Name, ctx.Err()))
		}

		e.mustJournal(step.Name, EventStarted)
		start := time.Now()
		result, err := step.Action.Execute(ctx)
		result.StartTime = start
		result.EndTime = time.Now()

		if err != nil {
			step.status = StepFailed
			e.mustJournal(step.Name, EventFailed)
			e.log.Warn().Err(err).Str("step", step.Name).Msg("saga step failed")
			return e.unwind(ctx, ParticipantFailed(step.Name, err))
		}

		step.status = StepCompleted
		e.mustJournal(step.Name, EventSucceeded)
		e.results[step.Name] = result
		e.record.Completed = append(e.record.Completed, completedUnit(step.Name, result, e.log))
		if err := e.store.Save(ctx, e.record); err != nil {
			return e.abandon(err)
		}
	}

	e.record.Status = StatusCompleted
	e.record.StepIndex = len(e.steps)
	if err := e.store.Save(ctx, e.record); err != nil {
		return e.abandon(err)
	}
	return e.outcome(StatusCompleted, nil), nil
}

// unwind compensates every completed step in strict reverse order. A
// compensation failure is logged and recorded but never stops the loop or
// escalates; there is no further remediation path, so it is a terminal
// reporting event only.
func (e *SagaExecutor) unwind(ctx context.Context, cause error) (*Outcome, error) {
	// Compensations and their state writes must still run after the run's
	// context is cancelled; a cancelled run unwinds cleanly.
	ctx = context.WithoutCancel(ctx)

	e.record.Status = StatusCompensating
	e.record.Cause = cause.Error()
	if err := e.store.Save(ctx, e.record); err != nil {
		return e.abandon(err)
	}

	var compErr *multierror.Error
	for i := len(e.steps) - 1; i >= 0; i-- {
		step := &e.steps[i]
		if step.status != StepCompleted {
			continue
		}
		e.mustJournal(step.Name, EventCompensateStarted)
		if _, err := step.Compensation.Execute(ctx); err != nil {
			e.mustJournal(step.Name, EventCompensateFailed)
			e.log.Error().Err(err).Str("step", step.Name).Msg("compensation failed")
			compErr = multierror.Append(compErr, ParticipantFailed(step.Name, err))
			continue
		}
		step.status = StepCompensated
		e.mustJournal(step.Name, EventCompensateFinished)

		// Compensation progress is durable step by step, so a crash here
		// resumes the unwind without repeating this compensation.
		e.dropCompleted(step.Name)
		if err := e.store.Save(ctx, e.record); err != nil {
			return e.abandon(err)
		}
	}

	terminal := StatusFailed
	if compErr.ErrorOrNil() != nil {
		terminal = StatusCompensationIncomplete
		cause = multierror.Append(compErr, cause)
	}
	e.record.Status = terminal
	e.record.Cause = cause.Error()
	if err := e.store.Save(ctx, e.record); err != nil {
		return e.abandon(err)
	}
	return e.outcome(terminal, cause), nil
}

// dropCompleted removes a compensated step from the record's completed
// list.
func (e *SagaExecutor) dropCompleted(name string) {
	for i, c := range e.record.Completed {
		if c.Name == name {
			e.record.Completed = append(e.record.Completed[:i], e.record.Completed[i+1:]...)
			return
		}
	}
}

// abandon reports a run whose durable state can no longer be trusted.
// No attempt is made to keep writing; the in-memory progress is discarded.
func (e *SagaExecutor) abandon(storeErr error) (*Outcome, error) {
	err := PersistenceFailed(storeErr)
	e.log.Error().Err(storeErr).Msg("abandoning saga, state store write failed")
	return e.outcome(StatusIndeterminate, err), err
}

func (e *SagaExecutor) outcome(status Status, cause error) *Outcome {
	return &Outcome{
		ID:         e.record.ID,
		Name:       e.record.Name,
		Strategy:   StrategySaga,
		Status:     status,
		Cause:      cause,
		Results:    e.results,
		StartedAt:  e.record.CreatedAt,
		FinishedAt: time.Now(),
	}
}

// Journal returns the event journal for the run.
func (e *SagaExecutor) Journal() *Journal {
	return e.journal
}

// mustJournal records an event that is legal by construction; a rejection
// here means executor-internal ordering is broken, which is worth a loud
// log but never a panic.
func (e *SagaExecutor) mustJournal(unit string, eventType EventType) {
	if err := e.journal.Record(unit, eventType); err != nil {
		e.log.Error().Err(err).Str("unit", unit).Msg("journal rejected event")
	}
}

func completedUnit(name string, result Result, log zerolog.Logger) CompletedUnit {
	cu := CompletedUnit{Name: name, CompletedAt: result.EndTime}
	if result.Output != nil {
		data, err := json.Marshal(result.Output)
		if err != nil {
			log.Warn().Err(err).Str("unit", name).Msg("unit output not serializable, omitting from record")
		} else {
			cu.Output = data
		}
	}
	return cu
}
