package main

import (
	"fmt"
	"strings"
)

// Backend names accepted by gpio.backend.
const (
	BackendPeriph = "periph"
	BackendCdev   = "cdev"
	BackendSysfs  = "sysfs"
	BackendSim    = "sim"
)

// openGPIO opens the configured backend. For the sim backend the concrete
// *SimGPIO is also returned so IPC can drive it; otherwise sim is nil.
func openGPIO(cfg GPIOConfig) (GPIO, *SimGPIO, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendPeriph:
		g, err := newPeriphGPIO()
		if err != nil {
			return nil, nil, err
		}
		return g, nil, nil

	case BackendCdev:
		g, err := newCdevGPIO(cfg.Chip)
		if err != nil {
			return nil, nil, err
		}
		return g, nil, nil

	case BackendSysfs:
		g, err := newSysfsGPIO(cfg.SysfsBase)
		if err != nil {
			return nil, nil, err
		}
		return g, nil, nil

	case BackendSim:
		s := NewSimGPIO()
		return s, s, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
