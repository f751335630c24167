package timectrl

import (
	"errors"
	"testing"
	"time"
)

func TestWindowIsHalfOpen(t *testing.T) {
	w := Window{Start: time.Second, End: 10 * time.Second}
	if err := w.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !w.Contains(time.Second) {
		t.Fatalf("window should contain its start")
	}
	if w.Contains(10 * time.Second) {
		t.Fatalf("window should not contain its end")
	}
	if !w.Contains(10*time.Second - time.Nanosecond) {
		t.Fatalf("window should contain the instant before its end")
	}
}

func TestWindowValidate(t *testing.T) {
	cases := []Window{
		{Start: 2 * time.Second, End: 2 * time.Second},
		{Start: 3 * time.Second, End: time.Second},
		{Start: -time.Second, End: time.Second},
	}
	for _, w := range cases {
		if err := w.Validate(); !errors.Is(err, ErrEmptyWindow) {
			t.Errorf("Validate(%v) = %v, want ErrEmptyWindow", w, err)
		}
	}
}

func TestWindowOverlap(t *testing.T) {
	a := Window{Start: 1 * time.Second, End: 5 * time.Second}
	b := Window{Start: 5 * time.Second, End: 9 * time.Second}
	if a.Overlaps(b) {
		t.Fatalf("adjacent half-open windows must not overlap")
	}
	c := Window{Start: 4 * time.Second, End: 6 * time.Second}
	if !a.Overlaps(c) || !c.Overlaps(b) {
		t.Fatalf("%v should overlap both %v and %v", c, a, b)
	}
}

func TestSeriesSpacing(t *testing.T) {
	ts := Series(2*time.Second, time.Second, 4)
	if len(ts) != 4 {
		t.Fatalf("len = %d, want 4", len(ts))
	}
	for i := 1; i < len(ts); i++ {
		if ts[i]-ts[i-1] != time.Second {
			t.Fatalf("spacing at %d = %v, want 1s", i, ts[i]-ts[i-1])
		}
	}
	if Series(0, time.Second, 0) != nil {
		t.Fatalf("Series with count 0 should be nil")
	}
}

func TestSecondsRoundTrip(t *testing.T) {
	d := 6560 * time.Nanosecond
	if got := FromSeconds(Seconds(d)); got != d {
		t.Fatalf("FromSeconds(Seconds(%v)) = %v", d, got)
	}
}
