package main

import (
	"errors"
	"log/slog"
)

// EncoderPins describes how the encoder and its push button are wired.
type EncoderPins struct {
	Clock  PinID // channel A, triggers decoding
	Data   PinID // channel B, sampled only
	Button PinID

	Pull       Pull
	ButtonEdge Trigger
}

// Encoder binds a Decoder to the GPIO collaborator: it configures the pins
// and installs the edge handlers that feed the decoder's counters.
type Encoder struct {
	gpio GPIO
	dec  *Decoder
	pins EncoderPins
}

// setupEncoder configures the encoder and button pins and registers the edge
// handlers.
//
// Configuration is best-effort: every failure is logged with its operation,
// pin and code, and setup carries on with the remaining steps. The returned
// count is the number of failed steps.
func setupEncoder(g GPIO, dec *Decoder, pins EncoderPins, logger *slog.Logger) (*Encoder, int) {
	e := &Encoder{gpio: g, dec: dec, pins: pins}
	failures := 0

	check := func(step string, err error) {
		if err != nil {
			failures++
			logSetupError(logger, step, err)
		}
	}

	check("configure clock", g.Configure(pins.Clock, ModeInput, pins.Pull, dec.Mode().ClockTrigger()))
	check("configure data", g.Configure(pins.Data, ModeInput, pins.Pull, TriggerNone))
	check("configure button", g.Configure(pins.Button, ModeInput, pins.Pull, pins.ButtonEdge))

	check("register clock", g.Register(pins.Clock, e.onClockEdge))
	check("register button", g.Register(pins.Button, e.onButtonEdge))

	logger.Debug("encoder configured",
		"clock", pins.Clock,
		"data", pins.Data,
		"button", pins.Button,
		"pull", pins.Pull,
		"clock_trigger", dec.Mode().ClockTrigger(),
		"button_edge", pins.ButtonEdge,
		"failures", failures)

	return e, failures
}

// setupLED configures the indicator pin as an output. A failure is logged and
// reported as false; the daemon runs without the LED being driven reliably.
func setupLED(g GPIO, pin PinID, logger *slog.Logger) bool {
	if err := g.Configure(pin, ModeOutput, PullNone, TriggerNone); err != nil {
		logSetupError(logger, "configure led", err)
		return false
	}
	return true
}

// logSetupError logs a failed setup step with the operation, pin and driver
// code when err is a HardwareConfigError.
func logSetupError(logger *slog.Logger, step string, err error) {
	var hce *HardwareConfigError
	if errors.As(err, &hce) {
		logger.Warn("gpio setup failed", "step", step, "op", hce.Op, "pin", hce.Pin, "code", hce.Code, "error", hce.Err)
		return
	}
	logger.Warn("gpio setup failed", "step", step, "error", err)
}

// onClockEdge samples both channels and applies one step.
// Runs in edge-delivery context.
func (e *Encoder) onClockEdge(PinID) {
	a, err := e.gpio.Read(e.pins.Clock)
	if err != nil {
		e.dec.Fault()
		return
	}
	b, err := e.gpio.Read(e.pins.Data)
	if err != nil {
		e.dec.Fault()
		return
	}
	e.dec.ClockEdge(a, b)
}

// onButtonEdge counts one press. Debounce is left to the polling loop.
func (e *Encoder) onButtonEdge(PinID) {
	e.dec.ButtonEdge()
}
