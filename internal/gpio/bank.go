// Package gpio drives the digital output lines that energize the mount's
// stepper coils.
package gpio

import (
	"errors"
	"fmt"
)

// Level is a digital output level.
type Level int

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

var (
	// ErrClosed is returned by Set after the bank has been released.
	ErrClosed = errors.New("output bank closed")
	// ErrUnknownPin is returned for a pin the bank was not opened with.
	ErrUnknownPin = errors.New("unknown output pin")
)

// OutputBank is a fixed set of digital output lines.
//
// Close must drive every line low before releasing it so no coil is left
// energized; Set after Close returns ErrClosed.
type OutputBank interface {
	Set(pin int, level Level) error
	Close() error
}

// Config selects and configures a bank driver.
type Config struct {
	Driver     string // "gpiocdev", "serial", "mock"
	Chip       string // gpiocdev chip, e.g. "gpiochip0"
	SerialPort string
	BaudRate   int
	Pins       []int
}

// Open constructs the bank selected by cfg.Driver.
func Open(cfg Config) (OutputBank, error) {
	switch cfg.Driver {
	case "gpiocdev", "":
		return OpenChip(cfg.Chip, cfg.Pins)
	case "serial":
		return OpenSerial(cfg.SerialPort, cfg.BaudRate, cfg.Pins)
	case "mock":
		return NewRecordingBank(cfg.Pins), nil
	default:
		return nil, fmt.Errorf("unknown gpio driver %q", cfg.Driver)
	}
}
