package timectrl

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyWindow is returned when a window does not end after it starts.
var ErrEmptyWindow = errors.New("window end must be after start")

// SimClock exposes simulated time as an offset from the start of a run.
// Engines implement it so applications and tracers can stamp events without
// depending on a concrete scheduler.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Duration
}

// Window is a half-open activity interval [Start, End) in simulated time.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Validate checks End > Start and Start >= 0.
func (w Window) Validate() error {
	if w.Start < 0 {
		return fmt.Errorf("%w: start %v is negative", ErrEmptyWindow, w.Start)
	}
	if w.End <= w.Start {
		return fmt.Errorf("%w: [%v, %v)", ErrEmptyWindow, w.Start, w.End)
	}
	return nil
}

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Duration) bool {
	return t >= w.Start && t < w.End
}

// Overlaps reports whether the two half-open windows share any instant.
func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && o.Start < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("[%v, %v)", w.Start, w.End)
}

// Series returns count timestamps start, start+interval, ...
func Series(start, interval time.Duration, count int) []time.Duration {
	if count <= 0 {
		return nil
	}
	out := make([]time.Duration, count)
	for i := range out {
		out[i] = start + time.Duration(i)*interval
	}
	return out
}

// Seconds converts a simulated offset to float seconds, the unit used by
// event-list schedulers.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// FromSeconds converts float seconds back to a Duration, rounded to the
// nearest nanosecond.
func FromSeconds(s float64) time.Duration {
	return time.Duration(s*float64(time.Second) + 0.5)
}
