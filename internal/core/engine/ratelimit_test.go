package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/core"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep records the wait and moves the clock forward by it.
func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestRotator(t *testing.T, clock *fakeClock, keys []string, limit int, window time.Duration) *Rotator {
	t.Helper()
	r, err := NewRotator(keys, limit, window, WithClock(clock.Now), WithSleeper(clock.Sleep))
	require.NoError(t, err)
	return r
}

func statusFor(t *testing.T, r *Rotator, index int) core.CredentialStatus {
	t.Helper()
	statuses := r.Snapshot()
	require.Greater(t, len(statuses), index)
	return statuses[index]
}

func TestRotatorRoundRobinFairness(t *testing.T) {
	clock := newFakeClock()
	r := newTestRotator(t, clock, []string{"key-a", "key-b", "key-c"}, 1, time.Minute)

	require.Equal(t, core.Credential("key-a"), r.Acquire())
	require.Equal(t, core.Credential("key-b"), r.Acquire())
	require.Equal(t, core.Credential("key-c"), r.Acquire())
	require.Empty(t, clock.Sleeps())
}

func TestRotatorExampleScenario(t *testing.T) {
	clock := newFakeClock()
	r := newTestRotator(t, clock, []string{"A", "B"}, 2, 60*time.Second)

	require.Equal(t, core.Credential("A"), r.Acquire())
	require.Equal(t, core.Credential("B"), r.Acquire())
	require.Equal(t, core.Credential("A"), r.Acquire())
	require.Equal(t, core.Credential("B"), r.Acquire())

	require.Equal(t, 2, statusFor(t, r, 0).Count)
	require.Equal(t, 2, statusFor(t, r, 1).Count)

	clock.Advance(10 * time.Second)

	require.Equal(t, core.Credential("A"), r.Acquire())
	require.Equal(t, []time.Duration{50 * time.Second}, clock.Sleeps())
	require.Equal(t, 1, statusFor(t, r, 0).Count)
}

func TestRotatorQuotaEnforcementSingleCredential(t *testing.T) {
	clock := newFakeClock()
	r := newTestRotator(t, clock, []string{"solo"}, 3, 30*time.Second)

	for i := 0; i < 3; i++ {
		require.Equal(t, core.Credential("solo"), r.Acquire())
	}
	require.Empty(t, clock.Sleeps())

	clock.Advance(12 * time.Second)
	before := clock.Now()

	require.Equal(t, core.Credential("solo"), r.Acquire())
	require.Equal(t, []time.Duration{18 * time.Second}, clock.Sleeps())

	status := statusFor(t, r, 0)
	require.Equal(t, 1, status.Count)
	require.Equal(t, before.Add(18*time.Second), status.WindowStart)
}

func TestRotatorWindowExpiryResetsCount(t *testing.T) {
	clock := newFakeClock()
	r := newTestRotator(t, clock, []string{"solo"}, 2, time.Minute)

	r.Acquire()
	r.Acquire()
	require.True(t, statusFor(t, r, 0).Exhausted)

	clock.Advance(time.Minute)

	require.Equal(t, core.Credential("solo"), r.Acquire())
	require.Empty(t, clock.Sleeps())
	require.Equal(t, 1, statusFor(t, r, 0).Count)
}

func TestRotatorWaitsForSoonestWindow(t *testing.T) {
	clock := newFakeClock()
	r := newTestRotator(t, clock, []string{"A", "B"}, 1, 60*time.Second)

	// Stagger the windows: A restarts at +60s, B at +70s.
	clock.Advance(60 * time.Second)
	require.Equal(t, core.Credential("A"), r.Acquire())
	clock.Advance(10 * time.Second)
	require.Equal(t, core.Credential("B"), r.Acquire())

	clock.Advance(10 * time.Second)
	require.Equal(t, core.Credential("A"), r.Acquire())
	require.Equal(t, []time.Duration{40 * time.Second}, clock.Sleeps())
}

func TestRotatorSkipsExhaustedCredentialAndAdvancesCursor(t *testing.T) {
	clock := newFakeClock()
	r := newTestRotator(t, clock, []string{"A", "B", "C"}, 2, time.Minute)

	// A, B, C, A, B, C exhausts all three.
	for i := 0; i < 6; i++ {
		r.Acquire()
	}

	// Only B gets a fresh window.
	r.mu.Lock()
	r.usage[1].WindowStart = clock.Now().Add(-time.Minute)
	r.mu.Unlock()

	require.Equal(t, core.Credential("B"), r.Acquire())
	require.Empty(t, clock.Sleeps())

	// The cursor moved past B, so the next pass starts at C.
	r.mu.Lock()
	cursor := r.cursor
	r.mu.Unlock()
	require.Equal(t, 2, cursor)
}

func TestRotatorNoOvershootUnderConcurrency(t *testing.T) {
	const (
		limit   = 4
		callers = 12
	)

	clock := newFakeClock()
	release := make(chan struct{})
	var waiting atomic.Int64

	sleeper := func(d time.Duration) {
		waiting.Add(1)
		<-release
		clock.Advance(d)
	}

	r, err := NewRotator([]string{"shared"}, limit, time.Minute, WithClock(clock.Now), WithSleeper(sleeper))
	require.NoError(t, err)

	var grants atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, core.Credential("shared"), r.Acquire())
			grants.Add(1)
		}()
	}

	require.Eventually(t, func() bool {
		return grants.Load()+waiting.Load() == callers
	}, 2*time.Second, 5*time.Millisecond)

	require.EqualValues(t, limit, grants.Load())
	require.EqualValues(t, callers-limit, waiting.Load())
	require.LessOrEqual(t, statusFor(t, r, 0).Count, limit)

	close(release)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiting callers never acquired a credential")
	}

	require.EqualValues(t, callers, grants.Load())
	require.LessOrEqual(t, statusFor(t, r, 0).Count, limit)
}

func TestRotatorSleepDoesNotHoldLock(t *testing.T) {
	clock := newFakeClock()
	sleeping := make(chan struct{})
	release := make(chan struct{})

	sleeper := func(d time.Duration) {
		close(sleeping)
		<-release
		clock.Advance(d)
	}

	r, err := NewRotator([]string{"A"}, 1, time.Minute, WithClock(clock.Now), WithSleeper(sleeper))
	require.NoError(t, err)
	r.Acquire()

	go r.Acquire()
	<-sleeping

	// Snapshot takes the same lock; it must not block behind the sleeper.
	snapshotDone := make(chan struct{})
	go func() {
		_ = r.Snapshot()
		close(snapshotDone)
	}()

	select {
	case <-snapshotDone:
	case <-time.After(time.Second):
		t.Fatal("lock held across sleep")
	}
	close(release)
}

type stopSleeping struct{}

func TestRotatorNonPositiveLimitWaitsFullWindow(t *testing.T) {
	clock := newFakeClock()
	var waits []time.Duration

	sleeper := func(d time.Duration) {
		waits = append(waits, d)
		clock.Advance(d)
		if len(waits) == 3 {
			panic(stopSleeping{})
		}
	}

	r, err := NewRotator([]string{"A", "B"}, 0, 45*time.Second, WithClock(clock.Now), WithSleeper(sleeper))
	require.NoError(t, err)

	func() {
		defer func() {
			require.Equal(t, stopSleeping{}, recover())
		}()
		r.Acquire()
	}()

	// The first pass sees the construction window; later passes reset it and wait a full window.
	require.Equal(t, []time.Duration{45 * time.Second, 45 * time.Second, 45 * time.Second}, waits)
}

func TestNewRotatorValidation(t *testing.T) {
	_, err := NewRotator(nil, 1, time.Minute)
	require.ErrorIs(t, err, ErrEmptyPool)

	_, err = NewRotator([]string{"a", "b", "a"}, 1, time.Minute)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicates")

	_, err = NewRotator([]string{"a", ""}, 1, time.Minute)
	require.Error(t, err)

	r, err := NewRotator([]string{"a"}, 5, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultWindow, r.Window())
	require.Equal(t, 5, r.Limit())
	require.Equal(t, 1, r.Size())
}

func TestRotatorSnapshotDoesNotResetWindows(t *testing.T) {
	clock := newFakeClock()
	r := newTestRotator(t, clock, []string{"secret-token-value"}, 2, time.Minute)

	r.Acquire()
	r.Acquire()
	clock.Advance(2 * time.Minute)

	status := statusFor(t, r, 0)
	require.Equal(t, 0, status.Count)
	require.Equal(t, 2, status.Remaining)
	require.False(t, status.Exhausted)
	require.Equal(t, core.Credential("secret-token-value").ID(), status.ID)
	require.NotContains(t, status.Masked, "token")

	r.mu.Lock()
	require.Equal(t, 2, r.usage[0].Count)
	r.mu.Unlock()
}
