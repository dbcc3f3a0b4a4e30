package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Consumer loop - reducer-driven
// ============================================================================
//
// Edge handlers only touch the Decoder's atomic counters. Everything else
// happens here, on a single goroutine:
//
//   - every poll period the counters are drained/sampled in a fixed order
//     (presses, debounce, rotation, faults, LED housekeeping);
//   - each sample is reduced into (state, commands, status events);
//   - commands are executed by runEffect and their observations reduced in turn;
//   - status events are handed to the sinks without blocking.
//
// Requests from IPC/HTTP arrive on the events channel and go through the same
// reducer, so DaemonState never leaves this goroutine.
// ============================================================================

type daemonConfig struct {
	PollPeriod time.Duration
	Reducer    ReducerConfig
}

// runDaemon runs the consumer loop until ctx is canceled.
// It has no error states: failed reads and writes become events.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	deps effectDeps,
	cfg daemonConfig,
	state *DaemonState,
	out chan<- StatusEvent,
	logger *slog.Logger,
) {
	if state == nil {
		state = &DaemonState{}
	}
	period := cfg.PollPeriod
	if period <= 0 {
		period = defaultPollPeriodMS * time.Millisecond
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var eventQueue []Event
	var cmdQueue []Command

	publish := func(evs []StatusEvent) {
		if out == nil {
			return
		}
		for _, ev := range evs {
			select {
			case out <- ev:
			default:
				logger.Warn("status queue full, dropping event", "event", ev.Line())
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, cfg.Reducer)
			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(ctx, deps, cmd, logger, func(obs Event) {
				eventQueue = append(eventQueue, obs)
			})
			flushEvents()
		}
	}

	// step reduces one event and runs everything it causes before returning,
	// so the poll phases below stay strictly ordered.
	step := func(ev Event) {
		eventQueue = append(eventQueue, ev)
		flushEvents()
		flushCommands()
	}

	poll := func(now time.Time) {
		if n := deps.dec.DrainPresses(); n > 0 {
			step(PressesDrained{Count: n, At: now})
			if ctx.Err() != nil {
				return
			}
		}

		step(RotationSampled{Value: deps.dec.Rotation(), At: time.Now()})

		if n := deps.dec.DrainFaults(); n > 0 {
			step(EdgeFaults{Count: n, At: time.Now()})
		}

		step(Tick{Now: time.Now()})
	}

	logger.Debug("daemon loop starting", "poll_period", period, "led_mode", cfg.Reducer.LEDMode)

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				// No more client requests; keep polling.
				events = nil
				continue
			}
			step(ev)

		case now := <-ticker.C:
			poll(now)
		}
	}
}
