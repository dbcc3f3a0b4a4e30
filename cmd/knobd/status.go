package main

import (
	"context"
	"log/slog"
)

// statusPublisher receives every status event. *Hub implements it.
type statusPublisher interface {
	Publish(ev StatusEvent)
}

// runStatusFanout delivers status events from the daemon loop to the logger,
// the optional console, and the optional publisher. It runs until ctx is
// canceled or src is closed.
func runStatusFanout(ctx context.Context, src <-chan StatusEvent, console *Console, pub statusPublisher, logger *slog.Logger) {
	consoleFailed := false

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-src:
			if !ok {
				logger.Debug("status fanout stopping (source ended)")
				return
			}

			logger.Info(ev.Line(), statusAttrs(ev)...)

			if console != nil {
				if err := console.WriteLine(ev.Line()); err != nil {
					// Report once per failure streak.
					if !consoleFailed {
						logger.Warn("console write failed", "error", err)
					}
					consoleFailed = true
				} else {
					consoleFailed = false
				}
			}

			if pub != nil {
				pub.Publish(ev)
			}
		}
	}
}

// statusAttrs returns structured log attributes for ev.
func statusAttrs(ev StatusEvent) []any {
	switch e := ev.(type) {
	case ButtonPressed:
		return []any{"event", wsTypeButtonPressed, "count", e.Count, "edges", e.Edges}
	case Rotated:
		typ := wsTypeRotatedCW
		if e.Direction == CounterClockwise {
			typ = wsTypeRotatedCCW
		}
		return []any{"event", typ, "value", e.Value, "delta", e.Delta, "fast", e.Fast}
	case ButtonLevelChanged:
		return []any{"event", wsTypeButtonLevel, "pressed", e.Pressed}
	case LEDChanged:
		return []any{"event", wsTypeLEDChanged, "on", e.On}
	case ReadFault:
		return []any{"event", wsTypeReadFault, "source", e.Source, "count", e.Count}
	case RotationReset:
		return []any{"event", wsTypeRotationReset, "previous", e.Previous}
	default:
		return nil
	}
}
