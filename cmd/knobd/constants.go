package main

// Polling loop defaults
const (
	defaultPollPeriodMS = 100 // consumer loop period (ms)
	defaultDebounceMS   = 50  // wait after an observed press (ms)
)

// Spin-rate detection defaults
const (
	defaultRotaryVelocityWindowMS  = 200 // time window for velocity detection (ms)
	defaultRotaryVelocityThreshold = 3   // same-direction steps in window to flag "fast"

	// maxTrackedSteps bounds how many steps one poll can add to the window.
	// A single poll can observe a large jump (e.g. after a reset or a wrap).
	maxTrackedSteps = 64
)

// Indicator LED defaults
const (
	defaultBlinkPeriodMS = 1000
)

// Default pins match the reference wiring: button on 8, CLK (A) on 10, DT (B) on 11.
const (
	defaultClockPin  = "GPIO10"
	defaultDataPin   = "GPIO11"
	defaultButtonPin = "GPIO8"
)

// Transport defaults
const (
	defaultIPCSocket   = "/tmp/knobd.sock"
	defaultHTTPPort    = 3001
	defaultConsoleBaud = 115200

	// statusQueueSize buffers status events between the daemon loop and the sinks.
	statusQueueSize = 128
	// eventQueueSize buffers requests from IPC/HTTP into the daemon loop.
	eventQueueSize = 64
)
