package coordinate

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// Result is the payload a unit of work returns on success.
type Result struct {
	Output   any      `json:"output,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// Timing is stamped by the engine after the unit returns, overwriting
	// any values the unit set itself.
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// Unit is a single opaque unit of work: a saga action or compensation, a
// two-phase-commit phase call, or an orchestrated task body. The engine
// treats units as asynchronous-capable callables that either succeed with a
// Result or fail with an error. Wrappers such as Retry and Logged can be
// layered uniformly over any Unit.
type Unit interface {
	Execute(ctx context.Context) (Result, error)
}

// UnitFunc adapts an ordinary function to the Unit interface.
type UnitFunc func(ctx context.Context) (Result, error)

// Execute implements the Unit interface for UnitFunc.
func (f UnitFunc) Execute(ctx context.Context) (Result, error) {
	return f(ctx)
}

// NoOp returns a unit that succeeds immediately with an empty result. It is
// the conventional compensation for steps with no external effect.
func NoOp() Unit {
	return UnitFunc(func(context.Context) (Result, error) {
		return Result{}, nil
	})
}

// Retry wraps a unit with bounded retries. Retry lives at the unit layer on
// purpose: the saga executor never re-runs a failed action itself, so any
// retry policy must be carried inside the unit.
func Retry(u Unit, attempts uint, delay time.Duration) Unit {
	return UnitFunc(func(ctx context.Context) (Result, error) {
		var result Result
		err := retry.Do(
			func() error {
				var err error
				result, err = u.Execute(ctx)
				return err
			},
			retry.Context(ctx),
			retry.Attempts(attempts),
			retry.Delay(delay),
			retry.LastErrorOnly(true),
		)
		return result, err
	})
}

// Logged wraps a unit so that every invocation logs its outcome and
// duration under the given unit name.
func Logged(u Unit, name string, log zerolog.Logger) Unit {
	return UnitFunc(func(ctx context.Context) (Result, error) {
		start := time.Now()
		result, err := u.Execute(ctx)
		evt := log.Debug()
		if err != nil {
			evt = log.Warn().Err(err)
		}
		evt.Str("unit", name).Dur("elapsed", time.Since(start)).Msg("unit executed")
		return result, err
	})
}
