package coordinate

import (
	"time"

	"github.com/google/uuid"
)

// CoordinationID uniquely identifies one coordination run.
type CoordinationID struct {
	UUID uuid.UUID
}

// NewCoordinationID generates a fresh random CoordinationID.
func NewCoordinationID() CoordinationID {
	return CoordinationID{UUID: uuid.New()}
}

// ParseCoordinationID parses the string form produced by String.
func ParseCoordinationID(s string) (CoordinationID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CoordinationID{}, err
	}
	return CoordinationID{UUID: id}, nil
}

// String returns the string representation of the CoordinationID.
func (id CoordinationID) String() string {
	return id.UUID.String()
}

// MarshalText implements encoding.TextMarshaler.
func (id CoordinationID) MarshalText() ([]byte, error) {
	return []byte(id.UUID.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *CoordinationID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	id.UUID = parsed
	return nil
}

// Strategy selects which coordination component drives a run.
type Strategy string

const (
	StrategySaga           Strategy = "saga"
	StrategyTwoPhaseCommit Strategy = "two_phase_commit"
	StrategyOrchestration  Strategy = "orchestration"
)

// Status is the lifecycle status of a coordination run.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompensating Status = "compensating"

	// Terminal statuses. PartiallyCommitted and CompensationIncomplete are
	// kept distinct from Failed so operators can drive manual remediation.
	StatusCompleted              Status = "completed"
	StatusFailed                 Status = "failed"
	StatusAborted                Status = "aborted"
	StatusPartiallyCommitted     Status = "partially_committed"
	StatusCompensationIncomplete Status = "compensation_incomplete"

	// Indeterminate marks a run whose durable state could no longer be
	// trusted (a persistence failure mid-run, or an unresumable record
	// found during recovery). No success or failure claim is made.
	StatusIndeterminate Status = "indeterminate"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted,
		StatusPartiallyCommitted, StatusCompensationIncomplete, StatusIndeterminate:
		return true
	}
	return false
}

// Outcome is the caller-visible terminal result of a coordination run.
type Outcome struct {
	ID       CoordinationID
	Name     string
	Strategy Strategy
	Status   Status

	// Cause carries the structured reason for a non-completed status.
	Cause error

	// Results holds per-unit outputs keyed by step name, participant ID or
	// task ID, depending on the strategy.
	Results map[string]Result

	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the run reached StatusCompleted.
func (o *Outcome) Succeeded() bool {
	return o.Status == StatusCompleted
}
