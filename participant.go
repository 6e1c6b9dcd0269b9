package coordinate

import "context"

// VoteStatus tracks a participant's progress through the two-phase-commit
// protocol.
type VoteStatus string

const (
	VoteUnknown   VoteStatus = "unknown"
	VotePrepared  VoteStatus = "prepared"
	VoteFailed    VoteStatus = "failed"
	VoteCommitted VoteStatus = "committed"
	VoteAborted   VoteStatus = "aborted"
)

// Participant is one party in a two-phase commit. Prepare is the vote: a
// nil return is a Yes vote, any error a No vote. Commit and Abort are the
// second-phase calls; a participant that voted No is never sent either (it
// self-aborted when Prepare failed).
type Participant interface {
	ID() string
	Prepare(ctx context.Context) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// ParticipantFuncs adapts three plain functions to the Participant
// interface. Nil functions succeed immediately.
type ParticipantFuncs struct {
	ParticipantID string
	PrepareFn     func(ctx context.Context) error
	CommitFn      func(ctx context.Context) error
	AbortFn       func(ctx context.Context) error
}

// ID implements the Participant interface.
func (p *ParticipantFuncs) ID() string {
	return p.ParticipantID
}

// Prepare implements the Participant interface.
func (p *ParticipantFuncs) Prepare(ctx context.Context) error {
	if p.PrepareFn == nil {
		return nil
	}
	return p.PrepareFn(ctx)
}

// Commit implements the Participant interface.
func (p *ParticipantFuncs) Commit(ctx context.Context) error {
	if p.CommitFn == nil {
		return nil
	}
	return p.CommitFn(ctx)
}

// Abort implements the Participant interface.
func (p *ParticipantFuncs) Abort(ctx context.Context) error {
	if p.AbortFn == nil {
		return nil
	}
	return p.AbortFn(ctx)
}
