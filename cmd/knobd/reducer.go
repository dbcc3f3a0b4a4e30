package main

import "time"

// This file implements the reducer:
//
//   - Events: samples taken by the loop, effect observations, client requests
//   - Commands: side effects requested by the reducer (LED writes, debounce, ...)
//   - StatusEvents: externally observable events (button_pressed, rotated_cw, ...)
//
// Reduce performs no I/O and never blocks. The daemon loop executes Commands and
// feeds the resulting observations back as Events.

// ReducerConfig is the policy the reducer applies.
type ReducerConfig struct {
	Debounce time.Duration

	LEDMode     LEDMode
	BlinkPeriod time.Duration

	// ButtonActiveLow maps a low button level to "pressed" (pull-up wiring).
	ButtonActiveLow bool

	Rotary RotaryConfig
}

// ReduceResult is the output of Reduce: next state, commands to execute, and
// status events to publish.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StatusEvent
}

// Reduce computes the next state for one event.
// The input state is not modified.
func Reduce(s *DaemonState, e Event, cfg ReducerConfig) ReduceResult {
	var next DaemonState
	if s != nil {
		next = *s
	}

	var (
		cmds []Command
		out  []StatusEvent
	)
	publish := func(ev StatusEvent, at time.Time) {
		out = append(out, ev)
		if at.After(next.LastEventAt) {
			next.LastEventAt = at
		}
	}
	setLED := func(on bool, at time.Time) {
		next.LED.LastAttemptAt = at
		cmds = append(cmds, CmdSetLED{On: on})
	}

	switch ev := e.(type) {
	case PressesDrained:
		if ev.Count == 0 {
			break
		}
		// Any number of edges since the last poll is one press.
		next.Button.Presses++
		next.Button.Edges += uint64(ev.Count)
		publish(ButtonPressed{Count: next.Button.Presses, Edges: ev.Count, At: ev.At}, ev.At)

		if cfg.LEDMode == LEDModeToggle {
			setLED(!next.LED.On, ev.At)
		}
		if cfg.Debounce > 0 {
			cmds = append(cmds, CmdDebounce{Wait: cfg.Debounce})
		}

	case RotationSampled:
		delta := rotationDelta(next.Rotation.Snapshot, ev.Value)
		if delta == 0 {
			break
		}
		dir := Clockwise
		if delta < 0 {
			dir = CounterClockwise
		}

		var count int
		next.Rotary, count = trackSteps(next.Rotary, dir, delta, ev.At, cfg.Rotary.VelocityWindowMS)

		next.Rotation.Snapshot = ev.Value
		next.Rotation.At = ev.At

		publish(Rotated{
			Direction: dir,
			Value:     ev.Value,
			Delta:     delta,
			Fast:      cfg.Rotary.isFast(count),
			At:        ev.At,
		}, ev.At)

	case EdgeFaults:
		if ev.Count == 0 {
			break
		}
		next.Faults += uint64(ev.Count)
		publish(ReadFault{Source: "edge", Count: ev.Count, At: ev.At}, ev.At)

	case Tick:
		switch cfg.LEDMode {
		case LEDModeToggle:
			// Drive a known initial level once.
			if !next.LED.Known && next.LED.LastAttemptAt.IsZero() {
				setLED(false, ev.Now)
			}
		case LEDModeFollow:
			cmds = append(cmds, CmdSampleButton{})
		case LEDModeBlink:
			if next.LED.LastAttemptAt.IsZero() || ev.Now.Sub(next.LED.LastAttemptAt) >= cfg.BlinkPeriod {
				setLED(!next.LED.On, ev.Now)
			}
		}

	case ButtonLevelSampled:
		var pressed bool
		switch ev.Level {
		case Low:
			pressed = cfg.ButtonActiveLow
		case High:
			pressed = !cfg.ButtonActiveLow
		}

		changed := !next.Button.LevelKnown || next.Button.Pressed != pressed
		next.Button.Pressed = pressed
		next.Button.LevelKnown = true
		next.Button.LevelAt = ev.At

		if changed {
			publish(ButtonLevelChanged{Pressed: pressed, At: ev.At}, ev.At)
		}
		if cfg.LEDMode == LEDModeFollow {
			if changed || (!next.LED.Known && next.LED.LastAttemptAt.IsZero()) {
				setLED(pressed, ev.At)
			}
		}

	case ButtonLevelReadFailed:
		next.Faults++
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		publish(ReadFault{Source: "button", Count: 1, Err: msg, At: ev.At}, ev.At)

	case LEDObserved:
		changed := !next.LED.Known || next.LED.On != ev.On
		next.LED.On = ev.On
		next.LED.Known = true
		next.LED.At = ev.At
		if changed {
			publish(LEDChanged{On: ev.On, At: ev.At}, ev.At)
		}

	case LEDWriteFailed:
		// Keep the last observed level; the next toggle/blink retries.
		next.LED.WriteFailures++

	case ResetRotationRequested:
		cmds = append(cmds, CmdResetRotation{})

	case RotationResetApplied:
		next.Rotation.Snapshot = 0
		next.Rotation.At = ev.At
		next.Rotary = RotaryState{}
		publish(RotationReset{Previous: ev.Previous, At: ev.At}, ev.At)

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{
			Reply:    ev.Reply,
			Snapshot: next.Snapshot(cfg.LEDMode),
		})

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      &next,
		Commands:   cmds,
		Broadcasts: out,
	}
}
