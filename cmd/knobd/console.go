package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// consoleSeparator precedes every status line, like the board's printf output.
const consoleSeparator = "----------"

// Console writes status lines to a serial port (or any writer in tests).
type Console struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// openSerialConsole opens device at baud for writing status lines.
func openSerialConsole(device string, baud int) (*Console, error) {
	if baud <= 0 {
		baud = defaultConsoleBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial console %s: %w", device, err)
	}
	return &Console{w: port, c: port}, nil
}

// newConsole wraps w; used for stdout consoles and tests.
func newConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// WriteLine writes one status line preceded by a separator.
func (c *Console) WriteLine(line string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s\r\n%s\r\n", consoleSeparator, line)
	return err
}

func (c *Console) Close() error {
	if c == nil || c.c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c.Close()
}
