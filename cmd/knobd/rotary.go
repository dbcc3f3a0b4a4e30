package main

import "time"

// RotaryConfig controls spin-rate detection.
type RotaryConfig struct {
	VelocityWindowMS  int // time window for counting recent steps
	VelocityThreshold int // same-direction steps in window that count as "fast"; 0 disables
}

// RotaryState tracks recent encoder steps for spin-rate detection.
// It is reducer-owned; trackSteps never mutates its input.
type RotaryState struct {
	RecentSteps []RotaryStep
}

// RotaryStep records one observed step.
type RotaryStep struct {
	At        time.Time
	Direction Direction
}

// trackSteps records n steps in dir observed at now, drops steps older than
// the window, and returns the new state together with the number of
// same-direction steps inside the window (including the new ones).
//
// n is clamped to maxTrackedSteps.
func trackSteps(s RotaryState, dir Direction, n int64, now time.Time, windowMS int) (RotaryState, int) {
	if n < -maxTrackedSteps || n > maxTrackedSteps {
		n = maxTrackedSteps
	}
	if n < 0 {
		n = -n
	}

	cutoff := now.Add(-time.Duration(windowMS) * time.Millisecond)

	next := make([]RotaryStep, 0, len(s.RecentSteps)+int(n))
	for _, st := range s.RecentSteps {
		if st.At.After(cutoff) {
			next = append(next, st)
		}
	}
	for i := int64(0); i < n; i++ {
		next = append(next, RotaryStep{At: now, Direction: dir})
	}

	sameDir := 0
	for _, st := range next {
		if st.Direction == dir {
			sameDir++
		}
	}
	return RotaryState{RecentSteps: next}, sameDir
}

// isFast reports whether count same-direction steps reach the threshold.
func (c RotaryConfig) isFast(count int) bool {
	return c.VelocityThreshold > 0 && count >= c.VelocityThreshold
}
