package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// ============================================================================
// GPIO collaborator
// ============================================================================
// The decoder never touches hardware directly. Everything it needs from a board
// goes through the four operations below, so the same decoding and counting
// logic runs against periph.io, the Linux character device, legacy sysfs, or
// the in-memory simulator used by tests.
// ============================================================================

// PinID names a pin in whatever form the backend understands
// (e.g. "GPIO10" for periph, "10" for cdev/sysfs).
type PinID string

// Mode is the pin direction.
type Mode int

const (
	ModeInput Mode = iota
	ModeOutput
)

func (m Mode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeOutput:
		return "output"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Pull selects the internal bias resistor.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullNone:
		return "none"
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return fmt.Sprintf("Pull(%d)", int(p))
	}
}

// ParsePull converts a config string into a Pull.
func ParsePull(s string) (Pull, error) {
	switch strings.ToLower(s) {
	case "", "none", "float":
		return PullNone, nil
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	default:
		return PullNone, fmt.Errorf("invalid pull: %q (must be none, up or down)", s)
	}
}

// Trigger selects which edges invoke a registered handler.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerRising
	TriggerFalling
	TriggerBoth
)

func (t Trigger) String() string {
	switch t {
	case TriggerNone:
		return "none"
	case TriggerRising:
		return "rising"
	case TriggerFalling:
		return "falling"
	case TriggerBoth:
		return "both"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

// ParseTrigger converts a config string into a Trigger.
func ParseTrigger(s string) (Trigger, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return TriggerNone, nil
	case "rising":
		return TriggerRising, nil
	case "falling":
		return TriggerFalling, nil
	case "both":
		return TriggerBoth, nil
	default:
		return TriggerNone, fmt.Errorf("invalid trigger: %q (must be none, rising, falling or both)", s)
	}
}

// matches reports whether a transition from old to new fires this trigger.
func (t Trigger) matches(old, new Level) bool {
	if old == new {
		return false
	}
	switch t {
	case TriggerRising:
		return new == High
	case TriggerFalling:
		return new == Low
	case TriggerBoth:
		return true
	default:
		return false
	}
}

// Level is a logic level. Being a bool, every Level is either Low or High.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "1"
	}
	return "0"
}

// LevelFromRaw converts a driver reading into a Level.
// Anything other than 0 or 1 is a driver malfunction.
func LevelFromRaw(pin PinID, raw int) (Level, error) {
	switch raw {
	case 0:
		return Low, nil
	case 1:
		return High, nil
	default:
		return Low, &UnexpectedLevelError{Pin: pin, Raw: raw}
	}
}

// EdgeHandler is invoked asynchronously on a configured edge.
// Implementations must return promptly: no logging, no blocking, no allocation.
type EdgeHandler func(pin PinID)

// GPIO is the hardware-access collaborator.
type GPIO interface {
	// Configure sets direction, bias and edge detection. Failures are
	// reported as *HardwareConfigError.
	Configure(pin PinID, mode Mode, pull Pull, trigger Trigger) error

	// Read samples the current level of an input pin.
	Read(pin PinID) (Level, error)

	// Write drives an output pin.
	Write(pin PinID, level Level) error

	// Register installs the edge handler for pin. At most one handler per pin;
	// a second call replaces the first.
	Register(pin PinID, handler EdgeHandler) error

	// Close stops edge delivery and releases the pins.
	Close() error
}

// ============================================================================
// Errors
// ============================================================================

var (
	ErrUnknownBackend = errors.New("unknown gpio backend")
	ErrNotSimulated   = errors.New("gpio backend is not simulated")
	ErrUnknownPin     = errors.New("unknown pin")
)

// HardwareConfigError reports a failed pin configuration step.
// Code carries the driver-specific error number when one is available, else -1.
type HardwareConfigError struct {
	Op   string // "reset", "direction", "pull", "edge", "register", ...
	Pin  PinID
	Code int
	Err  error
}

func (e *HardwareConfigError) Error() string {
	return fmt.Sprintf("gpio %s %s: %v (code %d)", e.Op, e.Pin, e.Err, e.Code)
}

func (e *HardwareConfigError) Unwrap() error { return e.Err }

// configError wraps err as a HardwareConfigError, extracting an errno code if present.
func configError(op string, pin PinID, err error) error {
	if err == nil {
		return nil
	}
	code := -1
	var errno syscall.Errno
	if errors.As(err, &errno) {
		code = int(errno)
	}
	return &HardwareConfigError{Op: op, Pin: pin, Code: code, Err: err}
}

// UnexpectedLevelError reports a pin reading that was neither 0 nor 1.
type UnexpectedLevelError struct {
	Pin PinID
	Raw int
}

func (e *UnexpectedLevelError) Error() string {
	return fmt.Sprintf("gpio read %s: unexpected level %d", e.Pin, e.Raw)
}

// pinNumber extracts the numeric line offset from names like "10", "GPIO10" or "gpio10".
func pinNumber(pin PinID) (int, error) {
	s := strings.TrimLeftFunc(string(pin), func(r rune) bool {
		return r < '0' || r > '9'
	})
	if s == "" {
		return 0, fmt.Errorf("%w: %q has no line number", ErrUnknownPin, pin)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrUnknownPin, pin, err)
	}
	return n, nil
}
