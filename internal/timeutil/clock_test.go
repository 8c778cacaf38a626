package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
	if d := clock.Since(before.Add(-time.Second)); d < time.Second {
		t.Errorf("Since() = %v, expected >= 1s", d)
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start, 0)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}
	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
	later := start.Add(time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestMockClockStep(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start, time.Millisecond)

	first, second := c.Now(), c.Now()
	if !first.Equal(start) {
		t.Errorf("first reading = %v, want %v", first, start)
	}
	if d := second.Sub(first); d != time.Millisecond {
		t.Errorf("step = %v, want 1ms", d)
	}
	if d := c.Since(start); d != 2*time.Millisecond {
		t.Errorf("Since() = %v, want 2ms (Since must not step)", d)
	}
}
