package main

import (
	"fmt"
	"strings"
	"time"
)

// DaemonState is the top-level, daemon-owned state container.
//
// Only the daemon goroutine touches it. Other goroutines see it through
// StateSnapshot, requested via the event loop.
type DaemonState struct {
	// Rotation holds the consumer-side view of the rotation counter.
	Rotation RotationState

	// Rotary is the spin-rate window.
	Rotary RotaryState

	// Button tracks emitted presses and, in follow mode, the sampled level.
	Button ButtonState

	// LED is what we last observed after driving the indicator pin.
	LED LEDState

	// Faults counts read faults seen in edge context and in the loop.
	Faults uint64

	LastEventAt time.Time
}

// RotationState is the previous-rotation snapshot owned by the consumer loop.
type RotationState struct {
	Snapshot int64
	At       time.Time
}

type ButtonState struct {
	// Presses is the number of button_pressed events emitted so far.
	Presses uint64
	// Edges is the total number of press edges drained, including those
	// collapsed into a single event.
	Edges uint64

	Pressed    bool
	LevelKnown bool
	LevelAt    time.Time
}

type LEDState struct {
	On    bool
	Known bool
	At    time.Time

	// LastAttemptAt is when a write was last requested, successful or not.
	LastAttemptAt time.Time
	WriteFailures uint64
}

// LEDMode selects how the indicator LED is driven.
type LEDMode string

const (
	LEDModeOff    LEDMode = "off"
	LEDModeToggle LEDMode = "toggle"
	LEDModeFollow LEDMode = "follow"
	LEDModeBlink  LEDMode = "blink"
)

// ParseLEDMode converts a config string into an LEDMode.
func ParseLEDMode(s string) (LEDMode, error) {
	switch LEDMode(strings.ToLower(s)) {
	case "", LEDModeOff:
		return LEDModeOff, nil
	case LEDModeToggle:
		return LEDModeToggle, nil
	case LEDModeFollow:
		return LEDModeFollow, nil
	case LEDModeBlink:
		return LEDModeBlink, nil
	default:
		return LEDModeOff, fmt.Errorf("invalid led mode: %q (must be off, toggle, follow or blink)", s)
	}
}

// StateSnapshot is an immutable copy of daemon state safe to hand to other goroutines.
type StateSnapshot struct {
	Rotation   int64     `json:"rotation"`
	RotationAt time.Time `json:"rotation_at"`

	Presses uint64 `json:"presses"`
	Edges   uint64 `json:"edges"`

	ButtonPressed    bool `json:"button_pressed"`
	ButtonLevelKnown bool `json:"button_level_known"`

	LEDMode  LEDMode `json:"led_mode"`
	LEDOn    bool    `json:"led_on"`
	LEDKnown bool    `json:"led_known"`

	Faults      uint64    `json:"faults"`
	LastEventAt time.Time `json:"last_event_at"`
}

// Snapshot copies the externally visible parts of the state.
func (s *DaemonState) Snapshot(mode LEDMode) StateSnapshot {
	return StateSnapshot{
		Rotation:         s.Rotation.Snapshot,
		RotationAt:       s.Rotation.At,
		Presses:          s.Button.Presses,
		Edges:            s.Button.Edges,
		ButtonPressed:    s.Button.Pressed,
		ButtonLevelKnown: s.Button.LevelKnown,
		LEDMode:          mode,
		LEDOn:            s.LED.On,
		LEDKnown:         s.LED.Known,
		Faults:           s.Faults,
		LastEventAt:      s.LastEventAt,
	}
}
