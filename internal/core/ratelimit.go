package core

import "time"

// UsageWindow captures per-credential quota usage inside a fixed window.
type UsageWindow struct {
	Count       int
	WindowStart time.Time
}

// Expired reports whether the window has run its full duration at now.
func (u UsageWindow) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(u.WindowStart) >= window
}

// Reset starts a fresh window at now.
func (u *UsageWindow) Reset(now time.Time) {
	u.Count = 0
	u.WindowStart = now
}

// RemainingWait returns how long until the window expires, never negative.
func (u UsageWindow) RemainingWait(now time.Time, window time.Duration) time.Duration {
	wait := window - now.Sub(u.WindowStart)
	if wait < 0 {
		return 0
	}
	return wait
}
