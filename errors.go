package coordinate

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates an invalid coordination request, such as a
// cyclic task graph or an empty step list. It is always rejected before any
// unit of work runs.
type ConfigurationError struct {
	error
}

// ConfigurationFailed wraps an error in a ConfigurationError.
func ConfigurationFailed(format string, args ...any) error {
	return &ConfigurationError{fmt.Errorf(format, args...)}
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ParticipantError indicates that a user-supplied unit (action, prepare,
// commit, abort or compensation) reported failure. Participant errors drive
// compensation and abort logic; they are converted into state transitions
// and never surface from the top-level Execute call.
type ParticipantError struct {
	Unit string
	error
}

// ParticipantFailed wraps a unit failure in a ParticipantError.
func ParticipantFailed(unit string, err error) error {
	return &ParticipantError{Unit: unit, error: fmt.Errorf("unit %s failed: %w", unit, err)}
}

// IsParticipantError reports whether err is a ParticipantError.
func IsParticipantError(err error) bool {
	var pe *ParticipantError
	return errors.As(err, &pe)
}

// PersistenceError indicates a state-store write failed. Durability can no
// longer be guaranteed, so the owning run is abandoned and reported as
// StatusIndeterminate.
type PersistenceError struct {
	error
}

// PersistenceFailed wraps a store error in a PersistenceError.
func PersistenceFailed(err error) error {
	return &PersistenceError{fmt.Errorf("state store write failed: %w", err)}
}

// IsPersistenceError reports whether err is a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// LockError indicates the requested resource lock is already held. This is
// expected contention; caller policy decides between retry and immediate
// failure.
type LockError struct {
	Resource string
	error
}

// LockContended constructs a LockError for a held resource.
func LockContended(resource string) error {
	return &LockError{Resource: resource, error: fmt.Errorf("resource %q is locked", resource)}
}

// IsLockError reports whether err is a LockError.
func IsLockError(err error) bool {
	var le *LockError
	return errors.As(err, &le)
}
