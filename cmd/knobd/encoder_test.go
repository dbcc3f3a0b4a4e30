package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testPins = EncoderPins{
	Clock:      "10",
	Data:       "11",
	Button:     "8",
	Pull:       PullUp,
	ButtonEdge: TriggerRising,
}

func newSimEncoder(t *testing.T, mode EdgeTriggerMode) (*SimGPIO, *Decoder) {
	t.Helper()
	sim := NewSimGPIO()
	dec := NewDecoder(mode, OverflowSaturate)
	if _, failures := setupEncoder(sim, dec, testPins, discardLogger()); failures != 0 {
		t.Fatalf("setupEncoder reported %d failures", failures)
	}
	return sim, dec
}

func TestEncoder_RotateBothModeCountsTwoPerDetent(t *testing.T) {
	sim, dec := newSimEncoder(t, EdgeTriggerBoth)

	if err := sim.Rotate(testPins.Clock, testPins.Data, 3); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got := dec.Rotation(); got != 6 {
		t.Fatalf("rotation=%d after 3 cw detents, want 6", got)
	}

	if err := sim.Rotate(testPins.Clock, testPins.Data, -5); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got := dec.Rotation(); got != -4 {
		t.Fatalf("rotation=%d after 5 ccw detents, want -4", got)
	}
}

func TestEncoder_RotateSingleModeCountsOnePerDetent(t *testing.T) {
	sim, dec := newSimEncoder(t, EdgeTriggerSingle)

	_ = sim.Rotate(testPins.Clock, testPins.Data, 4)
	if got := dec.Rotation(); got != 4 {
		t.Fatalf("rotation=%d after 4 cw detents, want 4", got)
	}
	_ = sim.Rotate(testPins.Clock, testPins.Data, -1)
	if got := dec.Rotation(); got != 3 {
		t.Fatalf("rotation=%d after 1 ccw detent, want 3", got)
	}
}

func TestEncoder_ButtonPulseCountsOnePress(t *testing.T) {
	sim, dec := newSimEncoder(t, EdgeTriggerBoth)

	for i := 0; i < 3; i++ {
		if err := sim.Pulse(testPins.Button); err != nil {
			t.Fatalf("Pulse: %v", err)
		}
	}
	if got := dec.DrainPresses(); got != 3 {
		t.Fatalf("presses=%d, want 3", got)
	}
	if got := dec.Rotation(); got != 0 {
		t.Fatalf("button pulses moved rotation to %d", got)
	}
}

func TestEncoder_ReadFailureCountsFault(t *testing.T) {
	sim, dec := newSimEncoder(t, EdgeTriggerBoth)

	// A data line reading garbage turns the next clock edge into a fault.
	_ = sim.SetRaw(testPins.Data, 3)
	_ = sim.Set(testPins.Clock, Low)

	if got := dec.Rotation(); got != 0 {
		t.Fatalf("rotation=%d, want 0 after a failed sample", got)
	}
	if got := dec.DrainFaults(); got != 1 {
		t.Fatalf("faults=%d, want 1", got)
	}
}

func TestSetupEncoder_ContinuesPastFailures(t *testing.T) {
	sim := NewSimGPIO()
	sim.FailConfigure(testPins.Data, errors.New("line busy"))
	dec := NewDecoder(EdgeTriggerBoth, OverflowSaturate)

	_, failures := setupEncoder(sim, dec, testPins, discardLogger())
	if failures != 1 {
		t.Fatalf("failures=%d, want 1", failures)
	}

	// The button was still configured and registered.
	_ = sim.Pulse(testPins.Button)
	if got := dec.DrainPresses(); got != 1 {
		t.Fatalf("presses=%d, want 1", got)
	}

	// The clock handler is installed but cannot sample the data pin.
	_ = sim.Set(testPins.Clock, Low)
	if got := dec.DrainFaults(); got != 1 {
		t.Fatalf("faults=%d, want 1", got)
	}
}

func TestSetupLED(t *testing.T) {
	sim := NewSimGPIO()
	if !setupLED(sim, "17", discardLogger()) {
		t.Fatalf("setupLED failed")
	}
	if err := sim.Write("17", High); err != nil {
		t.Fatalf("LED pin not writable: %v", err)
	}

	sim.FailConfigure("18", errors.New("no such line"))
	if setupLED(sim, "18", discardLogger()) {
		t.Fatalf("setupLED should report failure")
	}
}
