//go:build !linux

package main

import "fmt"

func newCdevGPIO(string) (GPIO, error) {
	return nil, fmt.Errorf("%w: cdev is only available on linux", ErrUnknownBackend)
}

func newSysfsGPIO(string) (GPIO, error) {
	return nil, fmt.Errorf("%w: sysfs is only available on linux", ErrUnknownBackend)
}
