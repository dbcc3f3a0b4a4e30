//go:build linux

package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// cdevGPIO drives pins through the Linux GPIO character device.
// PinIDs are line offsets on the chip ("10" or "GPIO10").
//
// The kernel delivers edge events to a handler bound at request time, so each
// requested input line carries a dispatcher that looks up the current handler.
type cdevGPIO struct {
	chip *gpiocdev.Chip

	mu       sync.RWMutex
	lines    map[PinID]*gpiocdev.Line
	handlers map[PinID]EdgeHandler
}

func newCdevGPIO(chipName string) (*cdevGPIO, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("knobd"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}
	return &cdevGPIO{
		chip:     chip,
		lines:    make(map[PinID]*gpiocdev.Line),
		handlers: make(map[PinID]EdgeHandler),
	}, nil
}

func (c *cdevGPIO) Configure(pin PinID, mode Mode, pull Pull, trigger Trigger) error {
	offset, err := pinNumber(pin)
	if err != nil {
		return configError("reset", pin, err)
	}

	// Reset: release any previous request for this line.
	c.mu.Lock()
	old, ok := c.lines[pin]
	delete(c.lines, pin)
	c.mu.Unlock()
	if ok {
		// Outside the lock: Close waits for an in-flight dispatch.
		_ = old.Close()
	}

	var opts []gpiocdev.LineReqOption
	switch mode {
	case ModeOutput:
		opts = append(opts, gpiocdev.AsOutput(0))
	default:
		opts = append(opts, gpiocdev.AsInput)
		switch pull {
		case PullUp:
			opts = append(opts, gpiocdev.WithPullUp)
		case PullDown:
			opts = append(opts, gpiocdev.WithPullDown)
		default:
			opts = append(opts, gpiocdev.WithBiasDisabled)
		}
		switch trigger {
		case TriggerRising:
			opts = append(opts, gpiocdev.WithRisingEdge)
		case TriggerFalling:
			opts = append(opts, gpiocdev.WithFallingEdge)
		case TriggerBoth:
			opts = append(opts, gpiocdev.WithBothEdges)
		}
		if trigger != TriggerNone {
			opts = append(opts, gpiocdev.WithEventHandler(c.dispatch(pin)))
		}
	}

	line, err := c.chip.RequestLine(offset, opts...)
	if err != nil {
		return configError("request", pin, err)
	}

	c.mu.Lock()
	c.lines[pin] = line
	c.mu.Unlock()
	return nil
}

func (c *cdevGPIO) dispatch(pin PinID) func(gpiocdev.LineEvent) {
	return func(gpiocdev.LineEvent) {
		c.mu.RLock()
		h := c.handlers[pin]
		c.mu.RUnlock()
		if h != nil {
			h(pin)
		}
	}
}

func (c *cdevGPIO) line(pin PinID) (*gpiocdev.Line, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lines[pin]
	if !ok {
		return nil, fmt.Errorf("%w: %s (not configured)", ErrUnknownPin, pin)
	}
	return l, nil
}

func (c *cdevGPIO) Read(pin PinID) (Level, error) {
	l, err := c.line(pin)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("gpio read %s: %w", pin, err)
	}
	return LevelFromRaw(pin, v)
}

func (c *cdevGPIO) Write(pin PinID, level Level) error {
	l, err := c.line(pin)
	if err != nil {
		return err
	}
	if err := l.SetValue(levelRaw(level)); err != nil {
		return fmt.Errorf("gpio write %s: %w", pin, err)
	}
	return nil
}

func (c *cdevGPIO) Register(pin PinID, handler EdgeHandler) error {
	if _, err := c.line(pin); err != nil {
		return configError("register", pin, err)
	}
	c.mu.Lock()
	c.handlers[pin] = handler
	c.mu.Unlock()
	return nil
}

func (c *cdevGPIO) Close() error {
	c.mu.Lock()
	lines := c.lines
	c.lines = make(map[PinID]*gpiocdev.Line)
	c.handlers = make(map[PinID]EdgeHandler)
	c.mu.Unlock()

	var errs []error
	for pin, l := range lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %s: %w", pin, err))
		}
	}
	if err := c.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	return errors.Join(errs...)
}
