package main

import (
	"math"
	"testing"
	"time"
)

var rotaryT0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestTrackSteps_Basic tests basic step accumulation.
func TestTrackSteps_Basic(t *testing.T) {
	var s RotaryState
	var count int

	s, count = trackSteps(s, Clockwise, 1, rotaryT0, 200)
	if count != 1 {
		t.Errorf("expected count=1, got %d", count)
	}

	s, count = trackSteps(s, Clockwise, 1, rotaryT0.Add(10*time.Millisecond), 200)
	if count != 2 {
		t.Errorf("expected count=2, got %d", count)
	}

	_, count = trackSteps(s, Clockwise, 2, rotaryT0.Add(20*time.Millisecond), 200)
	if count != 4 {
		t.Errorf("expected count=4 after a two-step poll, got %d", count)
	}
}

// TestTrackSteps_DirectionChange tests that opposite steps do not count
// toward the current direction.
func TestTrackSteps_DirectionChange(t *testing.T) {
	var s RotaryState
	var count int

	s, count = trackSteps(s, Clockwise, 3, rotaryT0, 200)
	if count != 3 {
		t.Errorf("expected 3 cw steps, got %d", count)
	}

	s, count = trackSteps(s, CounterClockwise, 1, rotaryT0.Add(10*time.Millisecond), 200)
	if count != 1 {
		t.Errorf("expected count=1 for new direction, got %d", count)
	}

	_, count = trackSteps(s, Clockwise, 1, rotaryT0.Add(20*time.Millisecond), 200)
	if count != 4 {
		t.Errorf("expected count=4 (3 old + 1 new cw steps still in window), got %d", count)
	}
}

// TestTrackSteps_WindowExpiry tests that old steps are pruned.
func TestTrackSteps_WindowExpiry(t *testing.T) {
	var s RotaryState
	var count int

	s, _ = trackSteps(s, Clockwise, 3, rotaryT0, 100)

	s, count = trackSteps(s, Clockwise, 1, rotaryT0.Add(150*time.Millisecond), 100)
	if count != 1 {
		t.Errorf("expected count=1 after window expiry, got %d", count)
	}
	if len(s.RecentSteps) != 1 {
		t.Errorf("expected pruned history of 1 step, got %d", len(s.RecentSteps))
	}
}

func TestTrackSteps_NegativeAndClampedCounts(t *testing.T) {
	_, count := trackSteps(RotaryState{}, CounterClockwise, -5, rotaryT0, 200)
	if count != 5 {
		t.Errorf("expected |n| steps to be recorded, got %d", count)
	}

	s, count := trackSteps(RotaryState{}, Clockwise, 10_000, rotaryT0, 200)
	if count != maxTrackedSteps {
		t.Errorf("expected count clamped to %d, got %d", maxTrackedSteps, count)
	}
	if len(s.RecentSteps) != maxTrackedSteps {
		t.Errorf("expected %d recorded steps, got %d", maxTrackedSteps, len(s.RecentSteps))
	}
}

func TestTrackSteps_MinInt64IsClamped(t *testing.T) {
	s, count := trackSteps(RotaryState{}, CounterClockwise, math.MinInt64, rotaryT0, 200)
	if count != maxTrackedSteps || len(s.RecentSteps) != maxTrackedSteps {
		t.Fatalf("count=%d steps=%d, want %d", count, len(s.RecentSteps), maxTrackedSteps)
	}
}

func TestTrackSteps_DoesNotMutateInput(t *testing.T) {
	s0, _ := trackSteps(RotaryState{}, Clockwise, 2, rotaryT0, 100)
	before := len(s0.RecentSteps)

	_, _ = trackSteps(s0, Clockwise, 3, rotaryT0.Add(500*time.Millisecond), 100)

	if len(s0.RecentSteps) != before {
		t.Fatalf("input state modified: %d -> %d steps", before, len(s0.RecentSteps))
	}
	for _, st := range s0.RecentSteps {
		if !st.At.Equal(rotaryT0) {
			t.Fatalf("input step rewritten: %+v", st)
		}
	}
}

func TestRotaryConfig_IsFast(t *testing.T) {
	cfg := RotaryConfig{VelocityWindowMS: 200, VelocityThreshold: 3}
	if cfg.isFast(2) {
		t.Errorf("2 steps should not be fast with threshold 3")
	}
	if !cfg.isFast(3) {
		t.Errorf("3 steps should be fast with threshold 3")
	}

	disabled := RotaryConfig{VelocityWindowMS: 200}
	if disabled.isFast(100) {
		t.Errorf("threshold 0 should disable fast detection")
	}
}
