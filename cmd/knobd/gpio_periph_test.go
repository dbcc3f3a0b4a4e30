package main

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// haltablePin is a gpiotest.Pin whose blocking WaitForEdge returns false once
// halted, the way periph's hardware drivers behave.
type haltablePin struct {
	*gpiotest.Pin
	once  sync.Once
	halt  chan struct{}
	waits atomic.Int64
}

func newHaltablePin(name string, edges bool) *haltablePin {
	p := &haltablePin{Pin: &gpiotest.Pin{N: name}, halt: make(chan struct{})}
	if edges {
		p.EdgesChan = make(chan gpio.Level, 4)
	}
	return p
}

func (p *haltablePin) WaitForEdge(timeout time.Duration) bool {
	p.waits.Add(1)
	select {
	case l := <-p.EdgesChan:
		_ = p.Out(l)
		return true
	case <-p.halt:
		return false
	}
}

func (p *haltablePin) Halt() error {
	p.once.Do(func() { close(p.halt) })
	return nil
}

func newTestPeriph(pins ...*haltablePin) *periphGPIO {
	g := newPeriphPins()
	for _, p := range pins {
		g.pins[PinID(p.N)] = p
	}
	return g
}

func TestPeriph_EdgesReachHandler(t *testing.T) {
	clk := newHaltablePin("GPIO10", true)
	g := newTestPeriph(clk)

	if err := g.Configure("GPIO10", ModeInput, PullUp, TriggerBoth); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	var calls atomic.Int64
	if err := g.Register("GPIO10", func(PinID) { calls.Add(1) }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	clk.EdgesChan <- gpio.Low
	clk.EdgesChan <- gpio.High
	waitUntil(t, time.Second, func() bool { return calls.Load() == 2 }, "two edges delivered")

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPeriph_RegisterRequiresArmedEdge(t *testing.T) {
	// No EdgesChan: gpiotest rejects In with an edge, like a driver that
	// could not arm edge detection.
	broken := newHaltablePin("GPIO10", false)
	data := newHaltablePin("GPIO11", true)
	g := newTestPeriph(broken, data)

	if err := g.Configure("GPIO10", ModeInput, PullUp, TriggerRising); err == nil {
		t.Fatal("Configure should fail without edge support")
	}
	if err := g.Configure("GPIO11", ModeInput, PullUp, TriggerNone); err != nil {
		t.Fatalf("Configure data: %v", err)
	}

	for _, pin := range []PinID{"GPIO10", "GPIO11", "GPIO12"} {
		err := g.Register(pin, func(PinID) {})
		var hce *HardwareConfigError
		if !errors.As(err, &hce) || hce.Op != "register" {
			t.Errorf("Register(%s) = %v, want register HardwareConfigError", pin, err)
		}
	}

	time.Sleep(20 * time.Millisecond)
	if n := broken.waits.Load() + data.waits.Load(); n != 0 {
		t.Fatalf("WaitForEdge called %d times on unarmed pins", n)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPeriph_OutputClearsArmedEdge(t *testing.T) {
	p := newHaltablePin("GPIO10", true)
	g := newTestPeriph(p)

	if err := g.Configure("GPIO10", ModeInput, PullUp, TriggerBoth); err != nil {
		t.Fatalf("Configure input: %v", err)
	}
	if err := g.Configure("GPIO10", ModeOutput, PullNone, TriggerNone); err != nil {
		t.Fatalf("Configure output: %v", err)
	}
	if err := g.Register("GPIO10", func(PinID) {}); err == nil {
		t.Fatal("Register on an output pin should fail")
	}
}

func TestPeriph_WatcherStopsWhenWaitFails(t *testing.T) {
	p := newHaltablePin("GPIO10", true)
	g := newTestPeriph(p)

	if err := g.Configure("GPIO10", ModeInput, PullUp, TriggerBoth); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	// Edge detection vanishes underneath the watcher.
	_ = p.Halt()
	if err := g.Register("GPIO10", func(PinID) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	waitUntil(t, time.Second, func() bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		return !g.watching["GPIO10"]
	}, "watcher exits")

	time.Sleep(20 * time.Millisecond)
	if n := p.waits.Load(); n != 1 {
		t.Fatalf("WaitForEdge called %d times, want 1", n)
	}

	done := make(chan struct{})
	go func() {
		_ = g.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestPeriphEdge(t *testing.T) {
	tests := map[Trigger]gpio.Edge{
		TriggerNone:    gpio.NoEdge,
		TriggerRising:  gpio.RisingEdge,
		TriggerFalling: gpio.FallingEdge,
		TriggerBoth:    gpio.BothEdges,
	}
	for in, want := range tests {
		if got := periphEdge(in); got != want {
			t.Errorf("periphEdge(%v) = %v, want %v", in, got, want)
		}
	}
}
