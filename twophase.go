package coordinate

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Two-phase-commit phases, persisted in the record's StepIndex.
const (
	phaseInit = iota
	phasePrepared
	phaseDecided
)

// TwoPhaseCoordinator drives an atomic commit across participants: a
// parallel prepare vote round, then a parallel commit if and only if every
// vote was Yes, otherwise a parallel abort of the Yes voters.
type TwoPhaseCoordinator struct {
	participants []Participant
	record       *CoordinationRecord
	store        RecordStore
	journal      *Journal
	log          zerolog.Logger

	// callTimeout bounds each individual prepare/commit/abort call.
	// Zero means no bound beyond the run's own context.
	callTimeout time.Duration

	mu    sync.Mutex
	votes map[string]VoteStatus
}

// NewTwoPhaseCoordinator creates a coordinator bound to its record and
// store.
func NewTwoPhaseCoordinator(record *CoordinationRecord, store RecordStore, participants []Participant, callTimeout time.Duration, log zerolog.Logger) *TwoPhaseCoordinator {
	votes := make(map[string]VoteStatus, len(participants))
	for _, p := range participants {
		votes[p.ID()] = VoteUnknown
	}
	return &TwoPhaseCoordinator{
		participants: participants,
		record:       record,
		store:        store,
		journal:      NewJournal(record.ID),
		log:          log.With().Stringer("coordination_id", record.ID).Str("strategy", string(StrategyTwoPhaseCommit)).Logger(),
		callTimeout:  callTimeout,
		votes:        votes,
	}
}

// Execute runs both phases to a terminal status. The transaction committed
// iff the outcome status is StatusCompleted; a commit failure on an
// individual participant after a unanimous Yes surfaces as
// StatusPartiallyCommitted, since already-committed participants cannot be
// rolled back.
func (c *TwoPhaseCoordinator) Execute(ctx context.Context) (*Outcome, error) {
	if len(c.participants) == 0 {
		return nil, ConfigurationFailed("transaction %q has no participants", c.record.Name)
	}
	seen := make(map[string]bool, len(c.participants))
	for _, p := range c.participants {
		if p.ID() == "" {
			return nil, ConfigurationFailed("transaction %q has a participant with empty ID", c.record.Name)
		}
		if seen[p.ID()] {
			return nil, ConfigurationFailed("transaction %q has duplicate participant %q", c.record.Name, p.ID())
		}
		seen[p.ID()] = true
	}

	c.record.Status = StatusRunning
	c.record.StepIndex = phaseInit
	if err := c.store.Save(ctx, c.record); err != nil {
		return c.abandon(err)
	}

	if ctx.Err() != nil {
		// Nothing prepared yet, nothing to undo.
		return c.finalize(ctx, StatusAborted, ParticipantFailed(c.record.Name, ctx.Err()))
	}

	voteErrs := c.prepareAll(ctx)

	c.record.StepIndex = phasePrepared
	if err := c.store.Save(ctx, c.record); err != nil {
		return c.abandon(err)
	}

	if len(voteErrs) > 0 {
		abortErr := c.abortPrepared(ctx)
		cause := multierror.Append(nil, voteErrs...)
		if abortErr != nil {
			cause = multierror.Append(cause, abortErr)
		}
		return c.finalize(ctx, StatusAborted, cause.ErrorOrNil())
	}

	commitErr := c.commitAll(ctx)
	if commitErr != nil {
		return c.finalize(ctx, StatusPartiallyCommitted, commitErr)
	}
	return c.finalize(ctx, StatusCompleted, nil)
}

// prepareAll fans the prepare vote out to every participant in parallel.
// An error from prepare is a No vote, never a run-level failure.
func (c *TwoPhaseCoordinator) prepareAll(ctx context.Context) []error {
	var (
		mu       sync.Mutex
		voteErrs []error
	)
	var g errgroup.Group
	for _, p := range c.participants {
		p := p
		g.Go(func() error {
			c.mustJournal(p.ID()+"/prepare", EventStarted)
			err := c.call(ctx, p.Prepare)
			if err != nil {
				c.setVote(p.ID(), VoteFailed)
				c.mustJournal(p.ID()+"/prepare", EventFailed)
				c.log.Warn().Err(err).Str("participant", p.ID()).Msg("participant voted no")
				mu.Lock()
				voteErrs = append(voteErrs, ParticipantFailed(p.ID(), err))
				mu.Unlock()
				return nil
			}
			c.setVote(p.ID(), VotePrepared)
			c.mustJournal(p.ID()+"/prepare", EventSucceeded)
			return nil
		})
	}
	_ = g.Wait()
	return voteErrs
}

// commitAll commits every participant in parallel after a unanimous Yes.
// Individual failures are collected, not rolled back.
func (c *TwoPhaseCoordinator) commitAll(ctx context.Context) error {
	var (
		mu     sync.Mutex
		merged *multierror.Error
	)
	var g errgroup.Group
	for _, p := range c.participants {
		p := p
		g.Go(func() error {
			c.mustJournal(p.ID()+"/commit", EventStarted)
			if err := c.call(ctx, p.Commit); err != nil {
				c.mustJournal(p.ID()+"/commit", EventFailed)
				c.log.Error().Err(err).Str("participant", p.ID()).Msg("commit failed after unanimous yes")
				mu.Lock()
				merged = multierror.Append(merged, ParticipantFailed(p.ID(), err))
				mu.Unlock()
				return nil
			}
			c.setVote(p.ID(), VoteCommitted)
			c.mustJournal(p.ID()+"/commit", EventSucceeded)
			return nil
		})
	}
	_ = g.Wait()
	return merged.ErrorOrNil()
}

// abortPrepared aborts only the participants that voted Yes. No-voters
// self-aborted when their prepare failed.
func (c *TwoPhaseCoordinator) abortPrepared(ctx context.Context) error {
	var (
		mu     sync.Mutex
		merged *multierror.Error
	)
	var g errgroup.Group
	for _, p := range c.participants {
		if c.vote(p.ID()) != VotePrepared {
			continue
		}
		p := p
		g.Go(func() error {
			c.mustJournal(p.ID()+"/abort", EventStarted)
			if err := c.call(ctx, p.Abort); err != nil {
				c.mustJournal(p.ID()+"/abort", EventFailed)
				c.log.Error().Err(err).Str("participant", p.ID()).Msg("abort failed")
				mu.Lock()
				merged = multierror.Append(merged, ParticipantFailed(p.ID(), err))
				mu.Unlock()
				return nil
			}
			c.setVote(p.ID(), VoteAborted)
			c.mustJournal(p.ID()+"/abort", EventSucceeded)
			return nil
		})
	}
	_ = g.Wait()
	return merged.ErrorOrNil()
}

// call invokes one participant phase with the configured per-call bound.
// In-flight calls are never interrupted mid-call; the bound applies via
// the context the participant observes.
func (c *TwoPhaseCoordinator) call(ctx context.Context, fn func(context.Context) error) error {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (c *TwoPhaseCoordinator) finalize(ctx context.Context, status Status, cause error) (*Outcome, error) {
	c.record.Status = status
	c.record.StepIndex = phaseDecided
	if cause != nil {
		c.record.Cause = cause.Error()
	}
	c.appendCommitted()
	if err := c.store.Save(ctx, c.record); err != nil {
		return c.abandon(err)
	}
	return c.outcome(status, cause), nil
}

func (c *TwoPhaseCoordinator) abandon(storeErr error) (*Outcome, error) {
	err := PersistenceFailed(storeErr)
	c.log.Error().Err(storeErr).Msg("abandoning transaction, state store write failed")
	return c.outcome(StatusIndeterminate, err), err
}

func (c *TwoPhaseCoordinator) outcome(status Status, cause error) *Outcome {
	results := make(map[string]Result, len(c.participants))
	c.mu.Lock()
	for id, vote := range c.votes {
		results[id] = Result{Output: vote}
	}
	c.mu.Unlock()
	return &Outcome{
		ID:         c.record.ID,
		Name:       c.record.Name,
		Strategy:   StrategyTwoPhaseCommit,
		Status:     status,
		Cause:      cause,
		Results:    results,
		StartedAt:  c.record.CreatedAt,
		FinishedAt: time.Now(),
	}
}

// Votes returns a snapshot of each participant's vote status.
func (c *TwoPhaseCoordinator) Votes() map[string]VoteStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]VoteStatus, len(c.votes))
	for id, v := range c.votes {
		out[id] = v
	}
	return out
}

// Journal returns the event journal for the run.
func (c *TwoPhaseCoordinator) Journal() *Journal {
	return c.journal
}

func (c *TwoPhaseCoordinator) appendCommitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record.Completed = c.record.Completed[:0]
	now := time.Now()
	for _, p := range c.participants {
		if c.votes[p.ID()] == VoteCommitted {
			c.record.Completed = append(c.record.Completed, CompletedUnit{Name: p.ID(), CompletedAt: now})
		}
	}
}

func (c *TwoPhaseCoordinator) mustJournal(unit string, eventType EventType) {
	if err := c.journal.Record(unit, eventType); err != nil {
		c.log.Error().Err(err).Str("unit", unit).Msg("journal rejected event")
	}
}

func (c *TwoPhaseCoordinator) vote(id string) VoteStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.votes[id]
}

func (c *TwoPhaseCoordinator) setVote(id string, v VoteStatus) {
	c.mu.Lock()
	c.votes[id] = v
	c.mu.Unlock()
}
