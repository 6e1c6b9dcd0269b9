package coordinate

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithStore sets the record store. The default is an in-memory store,
// which gives no durability across restarts.
func WithStore(store RecordStore) Option {
	return func(s *Supervisor) {
		s.store = store
	}
}

// WithLockBackend sets the distributed lock backend used for
// resource-guarded runs.
func WithLockBackend(locks LockBackend) Option {
	return func(s *Supervisor) {
		s.locks = locks
	}
}

// WithObserver sets the observability sink.
func WithObserver(obs Observer) Option {
	return func(s *Supervisor) {
		s.obs = obs
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Supervisor) {
		s.log = log
	}
}

// WithCallTimeout bounds each individual two-phase-commit participant
// call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.callTimeout = d
	}
}

// WithLockTTL sets the TTL claimed for resource-guarded runs. Runs longer
// than the TTL must renew through the lock backend.
func WithLockTTL(d time.Duration) Option {
	return func(s *Supervisor) {
		s.lockTTL = d
	}
}
