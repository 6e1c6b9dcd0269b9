package coordinate

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// LockToken is the live claim on a named resource. Exactly one non-expired
// token exists per resource at a time. Expiry trades strict mutual
// exclusion for deadlock freedom: a crashed holder's resource becomes
// reclaimable once the TTL elapses.
type LockToken struct {
	Resource  string    `json:"resource"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LockBackend is the mutual-exclusion boundary. Any system offering atomic
// compare-and-set with expiry can implement it.
type LockBackend interface {
	// TryAcquire atomically claims the resource for holder with the given
	// TTL. It returns false (and no error) if a different holder has a
	// non-expired claim.
	TryAcquire(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error)

	// Release drops the holder's claim. Releasing a resource held by
	// someone else (or not at all) is a no-op: after expiry another holder
	// may legitimately have taken over.
	Release(ctx context.Context, resource, holder string) error

	// Renew extends the holder's claim before it expires. It returns false
	// if the claim is gone or owned by another holder. Callers with long
	// critical sections renew ahead of the TTL.
	Renew(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error)
}

// MemoryLock is an in-process LockBackend with check-and-set semantics.
type MemoryLock struct {
	tokens *xsync.MapOf[string, LockToken]
	clock  func() time.Time
}

// NewMemoryLock creates an in-memory lock backend.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		tokens: xsync.NewMapOf[string, LockToken](),
		clock:  time.Now,
	}
}

// TryAcquire implements the LockBackend interface. The check-and-set runs
// inside a single Compute call, so concurrent acquirers serialize on the
// map entry.
func (m *MemoryLock) TryAcquire(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	now := m.clock()
	acquired := false
	m.tokens.Compute(resource, func(old LockToken, loaded bool) (LockToken, bool) {
		if loaded && old.ExpiresAt.After(now) && old.Holder != holder {
			return old, false // held by someone else, keep as is
		}
		acquired = true
		return LockToken{Resource: resource, Holder: holder, ExpiresAt: now.Add(ttl)}, false
	})
	return acquired, nil
}

// Release implements the LockBackend interface.
func (m *MemoryLock) Release(ctx context.Context, resource, holder string) error {
	m.tokens.Compute(resource, func(old LockToken, loaded bool) (LockToken, bool) {
		if !loaded || old.Holder != holder {
			return old, !loaded // not ours, leave untouched
		}
		return LockToken{}, true // delete
	})
	return nil
}

// Renew implements the LockBackend interface.
func (m *MemoryLock) Renew(ctx context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	now := m.clock()
	renewed := false
	m.tokens.Compute(resource, func(old LockToken, loaded bool) (LockToken, bool) {
		if !loaded || old.Holder != holder || !old.ExpiresAt.After(now) {
			return old, !loaded
		}
		renewed = true
		old.ExpiresAt = now.Add(ttl)
		return old, false
	})
	return renewed, nil
}

// Holder returns the current non-expired holder of the resource, if any.
func (m *MemoryLock) Holder(resource string) (string, bool) {
	token, ok := m.tokens.Load(resource)
	if !ok || !token.ExpiresAt.After(m.clock()) {
		return "", false
	}
	return token.Holder, true
}
