package main

import (
	"fmt"
	"time"
)

// ==============================
// Events (reducer inputs)
// ==============================

// Event is the input to the reducer.
// Samples taken by the loop, observations from effects, and requests from
// IPC/HTTP clients are all events.
type Event interface {
	eventMarker()
}

// Tick is emitted once per poll, after the counters have been sampled.
// It drives LED housekeeping (blink period, follow-mode sampling).
type Tick struct {
	Now time.Time
}

func (Tick) eventMarker() {}

// PressesDrained carries a non-zero value swapped out of the press counter.
type PressesDrained struct {
	Count uint32
	At    time.Time
}

func (PressesDrained) eventMarker() {}

// RotationSampled carries the rotation counter as read at the start of a poll.
type RotationSampled struct {
	Value int64
	At    time.Time
}

func (RotationSampled) eventMarker() {}

// EdgeFaults carries a non-zero value swapped out of the fault counter.
type EdgeFaults struct {
	Count uint32
	At    time.Time
}

func (EdgeFaults) eventMarker() {}

// ButtonLevelSampled is the result of a successful button read in follow mode.
type ButtonLevelSampled struct {
	Level Level
	At    time.Time
}

func (ButtonLevelSampled) eventMarker() {}

// ButtonLevelReadFailed is emitted when a follow-mode button read fails,
// including readings that are neither low nor high.
type ButtonLevelReadFailed struct {
	Err error
	At  time.Time
}

func (ButtonLevelReadFailed) eventMarker() {}

// LEDObserved is emitted after the LED pin was driven successfully.
type LEDObserved struct {
	On bool
	At time.Time
}

func (LEDObserved) eventMarker() {}

// LEDWriteFailed is emitted when driving the LED pin fails.
type LEDWriteFailed struct {
	On  bool
	Err error
	At  time.Time
}

func (LEDWriteFailed) eventMarker() {}

// RotationResetApplied is emitted after the rotation counter was zeroed.
type RotationResetApplied struct {
	Previous int64
	At       time.Time
}

func (RotationResetApplied) eventMarker() {}

// ResetRotationRequested asks the loop to zero the rotation counter.
type ResetRotationRequested struct{}

func (ResetRotationRequested) eventMarker() {}

// RequestStateSnapshot asks the loop for a StateSnapshot.
// Reply must be buffered; the loop never blocks on it.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ==============================
// Status events (reducer outputs)
// ==============================

// StatusEvent is an externally observable event produced by the reducer.
// Every status event is logged, written to the console, and broadcast to
// websocket clients.
type StatusEvent interface {
	statusMarker()
	// Line is the human-readable status line.
	Line() string
}

// ButtonPressed is emitted once per poll that observed at least one press edge.
type ButtonPressed struct {
	Count uint64    // presses emitted so far, including this one
	Edges uint32    // edges collapsed into this press
	At    time.Time // poll time
}

func (ButtonPressed) statusMarker() {}
func (e ButtonPressed) Line() string {
	return fmt.Sprintf("button pressed, press count %d", e.Count)
}

// Rotated is emitted when the rotation counter changed since the previous poll.
type Rotated struct {
	Direction Direction
	Value     int64 // counter value at this poll
	Delta     int64 // signed steps since the previous poll
	Fast      bool
	At        time.Time
}

func (Rotated) statusMarker() {}
func (e Rotated) Line() string {
	name := "clockwise"
	if e.Direction == CounterClockwise {
		name = "counter-clockwise"
	}
	s := fmt.Sprintf("encoder %s rotation detected, counter %d", name, e.Value)
	if e.Fast {
		s += " (fast)"
	}
	return s
}

// ButtonLevelChanged is emitted in follow mode when the sampled level changes.
type ButtonLevelChanged struct {
	Pressed bool
	At      time.Time
}

func (ButtonLevelChanged) statusMarker() {}
func (e ButtonLevelChanged) Line() string {
	if e.Pressed {
		return "button is held down"
	}
	return "button is released"
}

// LEDChanged is emitted when the observed LED state changes.
type LEDChanged struct {
	On bool
	At time.Time
}

func (LEDChanged) statusMarker() {}
func (e LEDChanged) Line() string {
	if e.On {
		return "led on"
	}
	return "led off"
}

// ReadFault is emitted when pin reads failed.
type ReadFault struct {
	Source string // "edge" or "button"
	Count  uint32
	Err    string
	At     time.Time
}

func (ReadFault) statusMarker() {}
func (e ReadFault) Line() string {
	if e.Err != "" {
		return fmt.Sprintf("%s read fault: %s", e.Source, e.Err)
	}
	return fmt.Sprintf("%d %s read faults", e.Count, e.Source)
}

// RotationReset is emitted after the rotation counter was zeroed on request.
type RotationReset struct {
	Previous int64
	At       time.Time
}

func (RotationReset) statusMarker() {}
func (e RotationReset) Line() string {
	return fmt.Sprintf("rotation counter reset (was %d)", e.Previous)
}
