package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "astrorig"

// ChipBank drives lines through the Linux GPIO character device.
type ChipBank struct {
	mu     sync.Mutex
	lines  map[int]*gpiocdev.Line
	closed bool
}

// OpenChip requests every pin on chip as an output, initially low.
func OpenChip(chip string, pins []int) (*ChipBank, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	b := &ChipBank{lines: make(map[int]*gpiocdev.Line, len(pins))}
	for _, pin := range pins {
		l, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request %s line %d: %w", chip, pin, err)
		}
		b.lines[pin] = l
	}
	return b, nil
}

// Set implements OutputBank.
func (b *ChipBank) Set(pin int, level Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	l, ok := b.lines[pin]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPin, pin)
	}
	return l.SetValue(int(level))
}

// Close drives every line low and releases it.
func (b *ChipBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for pin, l := range b.lines {
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("line %d low: %w", pin, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("line %d close: %w", pin, err))
		}
	}
	return errors.Join(errs...)
}
