package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/core"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/observability"
)

// DefaultWindow is the quota window used when none is configured.
const DefaultWindow = 60 * time.Second

// ErrEmptyPool is returned when a rotator is built without credentials.
var ErrEmptyPool = errors.New("credential pool is empty")

// Rotator hands out credentials round-robin while enforcing a per-credential
// request quota inside a fixed window. When every credential is exhausted,
// Acquire sleeps until the soonest window expires and scans again.
//
// A limit <= 0 leaves every credential permanently exhausted: Acquire then
// sleeps a full window per pass and never returns. Configuration validation
// warns about this; the rotator does not guard against it.
type Rotator struct {
	mu     sync.Mutex
	pool   []core.Credential
	usage  []core.UsageWindow
	cursor int

	limit  int
	window time.Duration

	clock func() time.Time
	sleep func(time.Duration)
}

// RotatorOption configures a Rotator.
type RotatorOption func(*Rotator)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) RotatorOption {
	return func(r *Rotator) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithSleeper overrides how Acquire suspends while the pool is exhausted.
func WithSleeper(sleep func(time.Duration)) RotatorOption {
	return func(r *Rotator) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRotator builds a rotator over an ordered, non-empty list of distinct credentials.
func NewRotator(credentials []string, limit int, window time.Duration, opts ...RotatorOption) (*Rotator, error) {
	if len(credentials) == 0 {
		return nil, ErrEmptyPool
	}
	if window <= 0 {
		window = DefaultWindow
	}

	r := &Rotator{
		limit:  limit,
		window: window,
		clock:  func() time.Time { return time.Now().UTC() },
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}

	seen := make(map[string]int, len(credentials))
	r.pool = make([]core.Credential, 0, len(credentials))
	for i, value := range credentials {
		if value == "" {
			return nil, fmt.Errorf("credential %d is empty", i)
		}
		if prev, ok := seen[value]; ok {
			return nil, fmt.Errorf("credential %d duplicates credential %d", i, prev)
		}
		seen[value] = i
		r.pool = append(r.pool, core.Credential(value))
	}

	start := r.clock()
	r.usage = make([]core.UsageWindow, len(r.pool))
	for i := range r.usage {
		r.usage[i].WindowStart = start
	}

	return r, nil
}

// Acquire returns a credential with spare quota, blocking while none is available.
// It never fails and has no timeout; callers wanting a deadline must abandon the call.
func (r *Rotator) Acquire() core.Credential {
	for {
		credential, wait, ok := r.tryAcquire()
		if ok {
			metrics.RecordCredentialGrant(credential.ID())
			return credential
		}

		metrics.RecordPoolExhausted(wait)
		if observability.ServerLogger != nil {
			observability.ServerLogger.Debug("Credential pool exhausted, waiting for window reset",
				zap.Int("pool_size", len(r.pool)),
				zap.Int("limit", r.limit),
				zap.Duration("wait", wait))
		}

		r.sleep(wait)
	}
}

// tryAcquire performs one full pass under the lock. When no credential has
// quota left it returns the shortest wait until a window expires.
func (r *Rotator) tryAcquire() (core.Credential, time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.pool)
	for i := 0; i < n; i++ {
		idx := r.cursor
		usage := &r.usage[idx]

		now := r.clock()
		if usage.Expired(now, r.window) {
			usage.Reset(now)
		}

		r.cursor = (r.cursor + 1) % n

		if usage.Count < r.limit {
			usage.Count++
			return r.pool[idx], 0, true
		}
	}

	now := r.clock()
	minWait := r.usage[0].RemainingWait(now, r.window)
	for _, usage := range r.usage[1:] {
		if wait := usage.RemainingWait(now, r.window); wait < minWait {
			minWait = wait
		}
	}

	return "", minWait, false
}

// Snapshot reports per-credential usage without mutating any window.
func (r *Rotator) Snapshot() []core.CredentialStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	statuses := make([]core.CredentialStatus, 0, len(r.pool))
	for i, credential := range r.pool {
		usage := r.usage[i]
		count := usage.Count
		resetIn := usage.RemainingWait(now, r.window)
		if usage.Expired(now, r.window) {
			count = 0
			resetIn = 0
		}

		remaining := r.limit - count
		if remaining < 0 {
			remaining = 0
		}

		statuses = append(statuses, core.CredentialStatus{
			Index:       i,
			ID:          credential.ID(),
			Masked:      credential.Masked(),
			Count:       count,
			Limit:       r.limit,
			Remaining:   remaining,
			WindowStart: usage.WindowStart,
			ResetIn:     resetIn,
			Exhausted:   remaining == 0,
		})
	}

	return statuses
}

// Size returns the number of credentials in the pool.
func (r *Rotator) Size() int {
	return len(r.pool)
}

// Limit returns the per-credential request quota.
func (r *Rotator) Limit() int {
	return r.limit
}

// Window returns the quota window duration.
func (r *Rotator) Window() time.Duration {
	return r.window
}
