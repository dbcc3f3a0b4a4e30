package main

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// periphGPIO drives pins through periph.io. Pins are looked up by name
// (gpioreg.ByName), so PinIDs are names such as "GPIO10".
//
// Edge delivery: one goroutine per registered pin blocks in WaitForEdge and
// calls the current handler. Close halts the pins, which unblocks the waits.
// Only pins whose In succeeded with an edge can be registered; periph drivers
// return from WaitForEdge immediately on a pin with nothing armed.
type periphGPIO struct {
	mu       sync.RWMutex
	pins     map[PinID]gpio.PinIO
	armed    map[PinID]bool
	handlers map[PinID]EdgeHandler
	watching map[PinID]bool

	closed atomic.Bool
	wg     sync.WaitGroup
}

func newPeriphGPIO() (*periphGPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return newPeriphPins(), nil
}

func newPeriphPins() *periphGPIO {
	return &periphGPIO{
		pins:     make(map[PinID]gpio.PinIO),
		armed:    make(map[PinID]bool),
		handlers: make(map[PinID]EdgeHandler),
		watching: make(map[PinID]bool),
	}
}

// errEdgeNotArmed is returned by Register for a pin without edge detection.
var errEdgeNotArmed = errors.New("no edge detection armed")

func (p *periphGPIO) lookup(pin PinID) (gpio.PinIO, error) {
	p.mu.RLock()
	io, ok := p.pins[pin]
	p.mu.RUnlock()
	if ok {
		return io, nil
	}

	io = gpioreg.ByName(string(pin))
	if io == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPin, pin)
	}

	p.mu.Lock()
	p.pins[pin] = io
	p.mu.Unlock()
	return io, nil
}

func (p *periphGPIO) Configure(pin PinID, mode Mode, pull Pull, trigger Trigger) error {
	io, err := p.lookup(pin)
	if err != nil {
		return configError("reset", pin, err)
	}

	p.setArmed(pin, false)

	switch mode {
	case ModeOutput:
		if err := io.Out(gpio.Low); err != nil {
			return configError("direction", pin, err)
		}
	default:
		edge := periphEdge(trigger)
		if err := io.In(periphPull(pull), edge); err != nil {
			return configError("direction", pin, err)
		}
		p.setArmed(pin, edge != gpio.NoEdge)
	}
	return nil
}

func (p *periphGPIO) setArmed(pin PinID, armed bool) {
	p.mu.Lock()
	p.armed[pin] = armed
	p.mu.Unlock()
}

func (p *periphGPIO) Read(pin PinID) (Level, error) {
	io, err := p.lookup(pin)
	if err != nil {
		return Low, err
	}
	return Level(io.Read()), nil
}

func (p *periphGPIO) Write(pin PinID, level Level) error {
	io, err := p.lookup(pin)
	if err != nil {
		return err
	}
	if err := io.Out(gpio.Level(level)); err != nil {
		return fmt.Errorf("gpio write %s: %w", pin, err)
	}
	return nil
}

func (p *periphGPIO) Register(pin PinID, handler EdgeHandler) error {
	io, err := p.lookup(pin)
	if err != nil {
		return configError("register", pin, err)
	}

	p.mu.Lock()
	if !p.armed[pin] {
		p.mu.Unlock()
		return configError("register", pin, errEdgeNotArmed)
	}
	p.handlers[pin] = handler
	start := !p.watching[pin]
	p.watching[pin] = true
	p.mu.Unlock()

	if start {
		p.wg.Add(1)
		go p.watch(pin, io)
	}
	return nil
}

// watch waits for edges on a single pin until Close. WaitForEdge(-1) only
// returns false when the pin was halted or edge detection is gone; either
// way no further edge will arrive, so the watcher stops.
func (p *periphGPIO) watch(pin PinID, io gpio.PinIO) {
	defer p.wg.Done()
	for {
		if !io.WaitForEdge(-1) {
			p.mu.Lock()
			p.watching[pin] = false
			p.mu.Unlock()
			return
		}
		p.mu.RLock()
		h := p.handlers[pin]
		p.mu.RUnlock()
		if h != nil {
			h(pin)
		}
	}
}

func (p *periphGPIO) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.mu.RLock()
	var errs []error
	for pin, io := range p.pins {
		if p.watching[pin] {
			if err := io.Halt(); err != nil {
				errs = append(errs, fmt.Errorf("halt %s: %w", pin, err))
			}
		}
	}
	p.mu.RUnlock()

	p.wg.Wait()
	return errors.Join(errs...)
}

func periphPull(pull Pull) gpio.Pull {
	switch pull {
	case PullUp:
		return gpio.PullUp
	case PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

func periphEdge(t Trigger) gpio.Edge {
	switch t {
	case TriggerRising:
		return gpio.RisingEdge
	case TriggerFalling:
		return gpio.FallingEdge
	case TriggerBoth:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}
