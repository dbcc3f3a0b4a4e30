package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// effectDeps are the collaborators commands act on.
type effectDeps struct {
	gpio   GPIO
	dec    *Decoder
	button PinID
	led    PinID // empty when no LED is wired
}

// runEffect executes a single reducer-emitted Command and emits observation
// Events via onEvent.
//
// It is allowed to perform I/O and to block (CmdDebounce), but only until ctx
// is canceled. It never calls Reduce directly.
func runEffect(
	ctx context.Context,
	deps effectDeps,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	switch c := cmd.(type) {
	case CmdSetLED:
		now := time.Now()
		if deps.led == "" || deps.gpio == nil {
			return
		}
		level := Low
		if c.On {
			level = High
		}
		if err := deps.gpio.Write(deps.led, level); err != nil {
			logger.Warn("led write failed", "pin", deps.led, "on", c.On, "error", err)
			onEvent(LEDWriteFailed{On: c.On, Err: err, At: now})
			return
		}
		onEvent(LEDObserved{On: c.On, At: now})

	case CmdDebounce:
		if c.Wait <= 0 {
			return
		}
		t := time.NewTimer(c.Wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}

	case CmdSampleButton:
		now := time.Now()
		if deps.gpio == nil {
			return
		}
		level, err := deps.gpio.Read(deps.button)

		var ule *UnexpectedLevelError
		switch {
		case err == nil && level == Low:
			onEvent(ButtonLevelSampled{Level: Low, At: now})
		case err == nil && level == High:
			onEvent(ButtonLevelSampled{Level: High, At: now})
		case errors.As(err, &ule):
			logger.Warn("unexpected button level", "pin", ule.Pin, "raw", ule.Raw)
			onEvent(ButtonLevelReadFailed{Err: err, At: now})
		default:
			logger.Warn("button read failed", "pin", deps.button, "error", err)
			onEvent(ButtonLevelReadFailed{Err: err, At: now})
		}

	case CmdResetRotation:
		if deps.dec == nil {
			return
		}
		prev := deps.dec.ResetRotation()
		onEvent(RotationResetApplied{Previous: prev, At: time.Now()})

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		// Never block the loop on a requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}
