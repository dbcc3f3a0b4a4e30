//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ============================================================================
// sysfs GPIO backend
// ============================================================================
// Uses the legacy /sys/class/gpio interface: export the line, write
// "direction" and "edge", then wait for POLLPRI on the "value" file.
//
// Instead of one goroutine per pin we register every value fd with a single
// epoll instance; the kernel wakes us only when an edge has been latched.
// The value file must be re-read from offset 0 after each wakeup to re-arm it.
// ============================================================================

const (
	defaultSysfsBase   = "/sys/class/gpio"
	sysfsVerifyTimeout = 2 * time.Second
	sysfsEpollWaitMS   = 200 // bounded so Close is noticed
)

type sysfsPin struct {
	number int
	value  *os.File
	buf    []byte
	mode   Mode
}

type sysfsGPIO struct {
	base string

	// verify waits for udev to fix permissions on freshly exported files.
	// Only needed when not running as root.
	verify bool

	mu       sync.RWMutex
	pins     map[PinID]*sysfsPin
	handlers map[PinID]EdgeHandler
	byFd     map[int32]PinID

	epfd    int
	started bool
	closed  atomic.Bool
	wg      sync.WaitGroup
}

func newSysfsGPIO(base string) (*sysfsGPIO, error) {
	if base == "" {
		base = defaultSysfsBase
	}
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("sysfs gpio: %w", err)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &sysfsGPIO{
		base:     base,
		verify:   os.Geteuid() != 0,
		pins:     make(map[PinID]*sysfsPin),
		handlers: make(map[PinID]EdgeHandler),
		byFd:     make(map[int32]PinID),
		epfd:     epfd,
	}, nil
}

func (s *sysfsGPIO) pinDir(n int) string {
	return filepath.Join(s.base, fmt.Sprintf("gpio%d", n))
}

func (s *sysfsGPIO) Configure(pin PinID, mode Mode, pull Pull, trigger Trigger) error {
	n, err := pinNumber(pin)
	if err != nil {
		return configError("reset", pin, err)
	}
	if err := s.export(n); err != nil {
		return configError("reset", pin, err)
	}

	dir := "in"
	if mode == ModeOutput {
		dir = "out"
	}
	if err := writeFile(filepath.Join(s.pinDir(n), "direction"), dir); err != nil {
		return configError("direction", pin, err)
	}

	if mode == ModeInput {
		if err := writeFile(filepath.Join(s.pinDir(n), "edge"), trigger.String()); err != nil {
			return configError("edge", pin, err)
		}
	}

	s.mu.Lock()
	p, ok := s.pins[pin]
	if !ok {
		f, err := os.OpenFile(filepath.Join(s.pinDir(n), "value"), os.O_RDWR, 0600)
		if err != nil {
			s.mu.Unlock()
			return configError("open", pin, err)
		}
		p = &sysfsPin{number: n, value: f, buf: make([]byte, 1)}
		s.pins[pin] = p
	}
	p.mode = mode
	s.mu.Unlock()

	// sysfs has no bias control; the pin is usable but the pull is not applied.
	if mode == ModeInput && pull != PullNone {
		return configError("pull", pin, unix.ENOTSUP)
	}
	return nil
}

func (s *sysfsGPIO) pin(pin PinID) (*sysfsPin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pins[pin]
	if !ok {
		return nil, fmt.Errorf("%w: %s (not configured)", ErrUnknownPin, pin)
	}
	return p, nil
}

func (s *sysfsGPIO) Read(pin PinID) (Level, error) {
	p, err := s.pin(pin)
	if err != nil {
		return Low, err
	}
	var buf [1]byte
	if _, err := p.value.ReadAt(buf[:], 0); err != nil {
		return Low, fmt.Errorf("gpio read %s: %w", pin, err)
	}
	switch buf[0] {
	case '0':
		return Low, nil
	case '1':
		return High, nil
	default:
		return Low, &UnexpectedLevelError{Pin: pin, Raw: int(buf[0]) - '0'}
	}
}

func (s *sysfsGPIO) Write(pin PinID, level Level) error {
	p, err := s.pin(pin)
	if err != nil {
		return err
	}
	if p.mode != ModeOutput {
		return fmt.Errorf("gpio write %s: pin is not an output", pin)
	}
	b := []byte{'0'}
	if level == High {
		b[0] = '1'
	}
	if _, err := p.value.WriteAt(b, 0); err != nil {
		return fmt.Errorf("gpio write %s: %w", pin, err)
	}
	return nil
}

func (s *sysfsGPIO) Register(pin PinID, handler EdgeHandler) error {
	p, err := s.pin(pin)
	if err != nil {
		return configError("register", pin, err)
	}

	fd := int32(p.value.Fd())

	s.mu.Lock()
	_, registered := s.handlers[pin]
	s.handlers[pin] = handler
	s.byFd[fd] = pin
	start := !s.started
	s.started = true
	s.mu.Unlock()

	if !registered {
		// Clear any stale latched edge before arming.
		_, _ = p.value.ReadAt(p.buf, 0)
		ev := unix.EpollEvent{Events: unix.EPOLLPRI | unix.EPOLLERR, Fd: fd}
		if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
			return configError("register", pin, err)
		}
	}

	if start {
		s.wg.Add(1)
		go s.watch()
	}
	return nil
}

// watch is the single edge-delivery goroutine for all registered pins.
func (s *sysfsGPIO) watch() {
	defer s.wg.Done()

	const maxEvents = 16
	events := make([]unix.EpollEvent, maxEvents)

	for !s.closed.Load() {
		n, err := unix.EpollWait(s.epfd, events, sysfsEpollWaitMS)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			// The epoll fd is gone; nothing left to watch.
			return
		}

		for i := 0; i < n; i++ {
			s.mu.RLock()
			pin, ok := s.byFd[events[i].Fd]
			p := s.pins[pin]
			h := s.handlers[pin]
			s.mu.RUnlock()
			if !ok || p == nil {
				continue
			}
			// Re-arm the edge latch.
			_, _ = p.value.ReadAt(p.buf, 0)
			if h != nil {
				h(pin)
			}
		}
	}
}

func (s *sysfsGPIO) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.wg.Wait()

	var errs []error
	if err := unix.Close(s.epfd); err != nil {
		errs = append(errs, fmt.Errorf("close epoll: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for pin, p := range s.pins {
		_ = p.value.Close()
		if err := writeFile(filepath.Join(s.base, "unexport"), strconv.Itoa(p.number)); err != nil {
			errs = append(errs, fmt.Errorf("unexport %s: %w", pin, err))
		}
	}
	s.pins = make(map[PinID]*sysfsPin)
	return errors.Join(errs...)
}

// export makes the gpioN directory appear, unless it already exists.
func (s *sysfsGPIO) export(n int) error {
	val := filepath.Join(s.pinDir(n), "value")
	if unix.Access(val, unix.W_OK|unix.R_OK) == nil {
		return nil
	}
	if err := writeFile(filepath.Join(s.base, "export"), strconv.Itoa(n)); err != nil {
		return err
	}
	if s.verify {
		return verifyWritable(val)
	}
	return nil
}

func writeFile(name, s string) error {
	f, err := os.OpenFile(name, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(s))
	return err
}

// verifyWritable waits for a freshly exported file to become writable.
func verifyWritable(name string) error {
	deadline := time.Now().Add(sysfsVerifyTimeout)
	for time.Now().Before(deadline) {
		if unix.Access(name, unix.W_OK) == nil {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("%s: not writable", name)
}
