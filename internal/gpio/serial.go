package gpio

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Porter is the minimal serial port surface the bank needs.
type Porter interface {
	io.Writer
	io.Closer
}

// SerialBank drives a USB-serial GPIO expander. Each level change is sent as
// one ASCII line "P<pin>=<0|1>\n".
type SerialBank struct {
	mu     sync.Mutex
	port   Porter
	pins   map[int]struct{}
	closed bool
}

// OpenSerial opens the expander at path and drives all pins low.
func OpenSerial(path string, baud int, pins []int) (*SerialBank, error) {
	if baud <= 0 {
		baud = 115200
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial expander %s: %w", path, err)
	}
	b := NewSerialBank(port, pins)
	for _, pin := range pins {
		if err := b.Set(pin, Low); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

// NewSerialBank wraps an already-open port.
func NewSerialBank(port Porter, pins []int) *SerialBank {
	set := make(map[int]struct{}, len(pins))
	for _, p := range pins {
		set[p] = struct{}{}
	}
	return &SerialBank{port: port, pins: set}
}

// Set implements OutputBank.
func (b *SerialBank) Set(pin int, level Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.write(pin, level)
}

func (b *SerialBank) write(pin int, level Level) error {
	if _, ok := b.pins[pin]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPin, pin)
	}
	if _, err := fmt.Fprintf(b.port, "P%d=%d\n", pin, int(level)); err != nil {
		return fmt.Errorf("serial write pin %d: %w", pin, err)
	}
	return nil
}

// Close drives every pin low and closes the port.
func (b *SerialBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for pin := range b.pins {
		if err := b.write(pin, Low); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.port.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
