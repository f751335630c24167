package desim

import (
	"time"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"

	"github.com/pedrobellotti/nstestes/timectrl"
)

// clock adapts the evt event list to closures on simulated time.
type clock struct {
	mgr       *evtm.EventManager
	processed uint64
	halted    bool
}

func newClock() *clock {
	return &clock{mgr: evtm.New()}
}

// runClosure is the single evt handler; the closure rides as the event
// context.
func runClosure(_ *evtm.EventManager, context any, _ any) any {
	entry := context.(*scheduled)
	if entry.clk.halted {
		return nil
	}
	entry.clk.processed++
	entry.fn()
	return nil
}

type scheduled struct {
	clk *clock
	fn  func()
}

// after runs fn d from now.
func (c *clock) after(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	c.mgr.Schedule(&scheduled{clk: c, fn: fn}, nil, runClosure, vrtime.SecondsToTime(timectrl.Seconds(d)))
}

// at runs fn at absolute simulated time t, or now if t has passed.
func (c *clock) at(t time.Duration, fn func()) {
	c.after(t-c.Now(), fn)
}

// Now implements timectrl.SimClock.
func (c *clock) Now() time.Duration {
	return timectrl.FromSeconds(c.mgr.CurrentSeconds())
}

// run dispatches events in time order until stop.
func (c *clock) run(stop time.Duration) {
	c.mgr.Run(timectrl.Seconds(stop))
}
