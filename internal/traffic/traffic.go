// Package traffic keeps sliding-window counts of decision request outcomes for
// health reporting and window gauges.
package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// retention bounds how far back outcomes are kept, regardless of the window asked for.
const retention = 5 * time.Minute

var defaultTracker = NewTracker(clockwork.NewRealClock())

// RecordSuccess records a request that produced a decision or a result.
func RecordSuccess() { defaultTracker.RecordSuccess() }

// RecordError records a request that failed because data or lookups were unavailable.
func RecordError() { defaultTracker.RecordError() }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.RecordDenied() }

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.DenialCount(window) }

// ErrorRate returns (errorCount, totalCount) within the window. Denials are excluded.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

type outcome uint8

const (
	success outcome = iota
	failure
	denied
)

type event struct {
	at   time.Time
	kind outcome
}

// Tracker maintains a time-ordered log of outcomes, pruned to the retention period.
type Tracker struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	events []event
}

// NewTracker returns a Tracker reading time from clock.
func NewTracker(clock clockwork.Clock) *Tracker {
	return &Tracker{clock: clock}
}

func (t *Tracker) RecordSuccess() { t.record(success) }
func (t *Tracker) RecordError()   { t.record(failure) }
func (t *Tracker) RecordDenied()  { t.record(denied) }

func (t *Tracker) record(kind outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.events = append(t.events, event{at: now, kind: kind})
	t.pruneLocked(now)
}

// RequestCount returns all outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	var n int
	t.each(window, func(outcome) { n++ })
	return n
}

// DenialCount returns rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	var n int
	t.each(window, func(k outcome) {
		if k == denied {
			n++
		}
	})
	return n
}

// ErrorRate returns (errorCount, totalCount) within the window; totalCount counts
// successes and errors only.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.each(window, func(k outcome) {
		switch k {
		case failure:
			errors++
			total++
		case success:
			total++
		}
	})
	return errors, total
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// each calls fn for every outcome not older than window, newest first.
func (t *Tracker) each(window time.Duration, fn func(outcome)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	for i := len(t.events) - 1; i >= 0 && !t.events[i].at.Before(cutoff); i-- {
		fn(t.events[i].kind)
	}
}

// pruneLocked drops events older than the retention period. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for i < len(t.events) && t.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
