package gpio

import (
	"fmt"
	"sync"
	"time"
)

// Event is one recorded level change.
type Event struct {
	Pin   int
	Level Level
	At    time.Time
}

// RecordingBank keeps line levels in memory and records every change.
// It backs simulation mode and tests.
type RecordingBank struct {
	mu     sync.Mutex
	levels map[int]Level
	events []Event
	closed bool
}

// NewRecordingBank returns a bank with all pins low.
func NewRecordingBank(pins []int) *RecordingBank {
	levels := make(map[int]Level, len(pins))
	for _, p := range pins {
		levels[p] = Low
	}
	return &RecordingBank{levels: levels}
}

// Set implements OutputBank.
func (b *RecordingBank) Set(pin int, level Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.levels[pin]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPin, pin)
	}
	b.levels[pin] = level
	b.events = append(b.events, Event{Pin: pin, Level: level, At: time.Now()})
	return nil
}

// Close implements OutputBank.
func (b *RecordingBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for p := range b.levels {
		b.levels[p] = Low
		b.events = append(b.events, Event{Pin: p, Level: Low, At: time.Now()})
	}
	b.closed = true
	return nil
}

// Level returns the current level of pin.
func (b *RecordingBank) Level(pin int) Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levels[pin]
}

// High returns the pins among candidates that are currently high, in order.
func (b *RecordingBank) High(candidates []int) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []int
	for _, p := range candidates {
		if b.levels[p] == High {
			out = append(out, p)
		}
	}
	return out
}

// Events returns a copy of the recorded changes.
func (b *RecordingBank) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Closed reports whether Close has been called.
func (b *RecordingBank) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
