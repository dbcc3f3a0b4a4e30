package main

import (
	"fmt"
	"sync"
)

// SimGPIO is an in-memory GPIO backend.
//
// Handlers fire synchronously in the goroutine that changes a level, which
// stands in for interrupt context and keeps tests deterministic.
//
// Thread-safe: IPC handlers and tests may drive pins concurrently.
type SimGPIO struct {
	mu   sync.Mutex
	pins map[PinID]*simPin

	// configErrs injects Configure failures (pin -> error) for tests.
	configErrs map[PinID]error
}

type simPin struct {
	mode    Mode
	pull    Pull
	trigger Trigger
	raw     int
	handler EdgeHandler
}

// quadratureGray is the clockwise cycle of (A, B) states: 00 -> 10 -> 11 -> 01.
var quadratureGray = [4][2]Level{
	{Low, Low},
	{High, Low},
	{High, High},
	{Low, High},
}

// NewSimGPIO creates an empty simulated board.
func NewSimGPIO() *SimGPIO {
	return &SimGPIO{
		pins:       make(map[PinID]*simPin),
		configErrs: make(map[PinID]error),
	}
}

// FailConfigure makes the next Configure calls for pin fail with err.
func (s *SimGPIO) FailConfigure(pin PinID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configErrs[pin] = err
}

func (s *SimGPIO) Configure(pin PinID, mode Mode, pull Pull, trigger Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.configErrs[pin]; ok {
		return configError("configure", pin, err)
	}

	p, ok := s.pins[pin]
	if !ok {
		p = &simPin{}
		// A fresh input idles at its bias level.
		if pull == PullUp {
			p.raw = 1
		}
		s.pins[pin] = p
	}
	p.mode = mode
	p.pull = pull
	p.trigger = trigger
	return nil
}

func (s *SimGPIO) Read(pin PinID) (Level, error) {
	s.mu.Lock()
	p, ok := s.pins[pin]
	var raw int
	if ok {
		raw = p.raw
	}
	s.mu.Unlock()

	if !ok {
		return Low, fmt.Errorf("%w: %s", ErrUnknownPin, pin)
	}
	return LevelFromRaw(pin, raw)
}

func (s *SimGPIO) Write(pin PinID, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pins[pin]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPin, pin)
	}
	if p.mode != ModeOutput {
		return fmt.Errorf("gpio write %s: pin is not an output", pin)
	}
	p.raw = levelRaw(level)
	return nil
}

func (s *SimGPIO) Register(pin PinID, handler EdgeHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pins[pin]
	if !ok {
		return configError("register", pin, ErrUnknownPin)
	}
	p.handler = handler
	return nil
}

func (s *SimGPIO) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pins {
		p.handler = nil
	}
	return nil
}

// Set drives an input pin to level, firing its handler if the transition
// matches the configured trigger.
func (s *SimGPIO) Set(pin PinID, level Level) error {
	s.mu.Lock()
	p, ok := s.pins[pin]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPin, pin)
	}
	old := p.raw != 0
	p.raw = levelRaw(level)
	h := p.handler
	fire := p.trigger.matches(Level(old), level)
	s.mu.Unlock()

	// Invoke outside the lock: the handler reads other pins.
	if fire && h != nil {
		h(pin)
	}
	return nil
}

// SetRaw stores an arbitrary raw reading without firing handlers.
// Used to simulate a malfunctioning driver.
func (s *SimGPIO) SetRaw(pin PinID, raw int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPin, pin)
	}
	p.raw = raw
	return nil
}

// Level returns the level last driven on pin (input or output).
func (s *SimGPIO) Level(pin PinID) (Level, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		return Low, false
	}
	return p.raw != 0, true
}

// Pulse drives pin away from its idle level and back, producing one press
// on a pulled-up (or pulled-down) button.
func (s *SimGPIO) Pulse(pin PinID) error {
	idle, ok := s.Level(pin)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPin, pin)
	}
	if err := s.Set(pin, !idle); err != nil {
		return err
	}
	return s.Set(pin, idle)
}

// Rotate walks the (clock, data) pair through the quadrature cycle.
// Each detent is four single-pin transitions, two of them on the clock pin.
// Positive detents are clockwise.
func (s *SimGPIO) Rotate(clock, data PinID, detents int) error {
	a, ok := s.Level(clock)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPin, clock)
	}
	b, ok := s.Level(data)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPin, data)
	}

	idx := 0
	for i, st := range quadratureGray {
		if st[0] == a && st[1] == b {
			idx = i
			break
		}
	}

	step := 1
	if detents < 0 {
		step = -1
		detents = -detents
	}

	for i := 0; i < detents*4; i++ {
		next := (idx + step + 4) % 4
		cur, nxt := quadratureGray[idx], quadratureGray[next]
		// Exactly one channel differs between neighbouring states.
		if cur[0] != nxt[0] {
			if err := s.Set(clock, nxt[0]); err != nil {
				return err
			}
		} else {
			if err := s.Set(data, nxt[1]); err != nil {
				return err
			}
		}
		idx = next
	}
	return nil
}

func levelRaw(l Level) int {
	if l {
		return 1
	}
	return 0
}
