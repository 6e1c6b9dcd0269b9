package coordinate

import (
	"fmt"
	"sync"
	"time"
)

// EventType defines the per-unit events recorded over a coordination run.
type EventType int

const (
	EventStarted EventType = iota
	EventSucceeded
	EventFailed
	EventCompensateStarted
	EventCompensateFinished
	EventCompensateFailed
)

// String returns the string representation of the EventType.
func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventCompensateStarted:
		return "compensate_started"
	case EventCompensateFinished:
		return "compensate_finished"
	case EventCompensateFailed:
		return "compensate_failed"
	default:
		return fmt.Sprintf("unknown EventType: %d", int(e))
	}
}

// Event is one entry in a coordination journal.
type Event struct {
	CoordinationID CoordinationID
	Unit           string
	Type           EventType
	At             time.Time
}

// String implements the fmt.Stringer interface for Event.
func (e *Event) String() string {
	return fmt.Sprintf("%s %s", e.Unit, e.Type)
}

// unitProgress is the replay status of one unit derived from its events.
type unitProgress int

const (
	progressNeverStarted unitProgress = iota
	progressStarted
	progressSucceeded
	progressFailed
	progressCompensateStarted
	progressCompensateFinished
	progressCompensateFailed
)

// next returns the progress after recording the given event, rejecting
// transitions the protocol never produces.
func (p unitProgress) next(eventType EventType) (unitProgress, error) {
	switch p {
	case progressNeverStarted:
		if eventType == EventStarted {
			return progressStarted, nil
		}
	case progressStarted:
		switch eventType {
		case EventSucceeded:
			return progressSucceeded, nil
		case EventFailed:
			return progressFailed, nil
		}
	case progressSucceeded:
		if eventType == EventCompensateStarted {
			return progressCompensateStarted, nil
		}
	case progressCompensateStarted:
		switch eventType {
		case EventCompensateFinished:
			return progressCompensateFinished, nil
		case EventCompensateFailed:
			return progressCompensateFailed, nil
		}
	}
	return p, fmt.Errorf("illegal event %s for current unit progress %d", eventType, p)
}

// Journal is the append-only event log for one coordination run. It
// enforces the legal transition order per unit, so a corrupted or
// out-of-order event stream is caught at record time rather than surfacing
// as undefined recovery behavior.
type Journal struct {
	mu        sync.Mutex
	id        CoordinationID
	unwinding bool
	events    []*Event
	progress  map[string]unitProgress
}

// NewJournal creates an empty journal for the given run.
func NewJournal(id CoordinationID) *Journal {
	return &Journal{
		id:       id,
		events:   make([]*Event, 0),
		progress: make(map[string]unitProgress),
	}
}

// RecoverJournal rebuilds a journal by replaying events, validating every
// transition.
func RecoverJournal(id CoordinationID, events []*Event) (*Journal, error) {
	j := NewJournal(id)
	for _, event := range events {
		if event.CoordinationID != id {
			return nil, fmt.Errorf(
				"event in journal for different coordination (%s) than requested (%s)",
				event.CoordinationID, id,
			)
		}
		if err := j.Record(event.Unit, event.Type); err != nil {
			return nil, fmt.Errorf("error recovering journal: %w", err)
		}
	}
	return j, nil
}

// Record appends an event for the named unit.
func (j *Journal) Record(unit string, eventType EventType) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	current, ok := j.progress[unit]
	if !ok {
		current = progressNeverStarted
	}
	next, err := current.next(eventType)
	if err != nil {
		return err
	}

	switch next {
	case progressFailed, progressCompensateStarted:
		j.unwinding = true
	}

	j.progress[unit] = next
	j.events = append(j.events, &Event{
		CoordinationID: j.id,
		Unit:           unit,
		Type:           eventType,
		At:             time.Now(),
	})
	return nil
}

// Unwinding reports whether any unit has failed or begun compensating.
func (j *Journal) Unwinding() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.unwinding
}

// Events returns a copy of the recorded events in order.
func (j *Journal) Events() []*Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*Event, len(j.events))
	copy(out, j.events)
	return out
}
