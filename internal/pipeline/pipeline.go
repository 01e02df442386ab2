// Package pipeline runs the capture loop: it pulls frames from the camera,
// applies dark subtraction, feeds the stack and publishes the latest frame.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"astrorig/internal/camera"
	"astrorig/internal/frame"
	"astrorig/internal/logging"
	"astrorig/internal/stack"
)

// ErrNoDarkFrame is returned when dark mode is enabled before a dark frame
// has been loaded.
var ErrNoDarkFrame = errors.New("no dark frame loaded")

// EventType enumerates capture events.
type EventType string

const (
	EventFrame EventType = "frame"
	EventError EventType = "error"
)

// Event describes one capture cycle.
type Event struct {
	Type        EventType `json:"type"`
	Seq         uint64    `json:"seq,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Stacked     bool      `json:"stacked"`
	StackCount  int       `json:"stack_count"`
	DarkApplied bool      `json:"dark_applied"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Options tune the capture loop.
type Options struct {
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// Counters are cumulative since Start.
type Counters struct {
	Captured          uint64 `json:"captured"`
	Stacked           uint64 `json:"stacked"`
	Skipped           uint64 `json:"skipped"`
	Errors            uint64 `json:"errors"`
	ConsecutiveErrors uint64 `json:"consecutive_errors"`
	DarkApplied       uint64 `json:"dark_applied"`
}

// Capture owns the capture goroutine.
type Capture struct {
	source camera.Source
	acc    *stack.Accumulator
	latest *LatestSlot
	log    *slog.Logger
	opts   Options

	dark     atomic.Pointer[frame.Frame]
	darkMode atomic.Bool

	captured    atomic.Uint64
	stacked     atomic.Uint64
	skipped     atomic.Uint64
	errCount    atomic.Uint64
	consecutive atomic.Uint64
	darkApplied atomic.Uint64

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// New creates a capture loop. Nothing runs until Start.
func New(source camera.Source, acc *stack.Accumulator, logger *slog.Logger, opts Options) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		source: source,
		acc:    acc,
		latest: &LatestSlot{},
		log:    logger,
		opts:   opts,
		subs:   make(map[int]chan Event),
	}
}

// Start launches the capture goroutine. Later calls are no-ops.
func (c *Capture) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.wg.Add(1)
		go c.run(ctx)
	})
}

// Stop cancels the loop, waits for it to exit and closes all subscribers.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		c.mu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.mu.Unlock()
	})
}

func (c *Capture) run(ctx context.Context) {
	defer c.wg.Done()
	bo := newBackoff(c.opts.RetryBackoff, c.opts.RetryBackoffMax)
	c.log.Info("capture started")
	for ctx.Err() == nil {
		ev, err := c.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			n := c.consecutive.Add(1)
			c.errCount.Add(1)
			wait := bo.Next()
			logging.LogCaptureError(c.log, n, wait, err)
			c.broadcast(Event{Type: EventError, Error: err.Error(), StackCount: c.acc.Count(), At: time.Now()})
			if !bo.Wait(ctx, wait) {
				break
			}
			continue
		}
		if n := c.consecutive.Swap(0); n > 0 {
			logging.LogCaptureRecovered(c.log, n, ev.Seq)
		}
		bo.Reset()
		c.broadcast(ev)
	}
	c.log.Info("capture stopped", "captured", c.captured.Load(), "stacked", c.stacked.Load())
}

// cycle captures, calibrates, stacks and publishes a single frame.
func (c *Capture) cycle(ctx context.Context) (Event, error) {
	f, err := c.source.Next(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("next frame: %w", err)
	}
	if f == nil {
		return Event{}, errors.New("next frame: source returned no frame")
	}
	c.captured.Add(1)

	applied := false
	if c.darkMode.Load() {
		if dark := c.dark.Load(); dark != nil {
			cal, err := frame.SubtractDark(f, dark)
			if err != nil {
				return Event{}, fmt.Errorf("dark subtraction: %w", err)
			}
			f = cal
			applied = true
			c.darkApplied.Add(1)
		}
	}

	added, err := c.acc.Add(f)
	if err != nil {
		return Event{}, fmt.Errorf("stack: %w", err)
	}
	if added {
		c.stacked.Add(1)
	} else {
		c.skipped.Add(1)
	}

	c.latest.Store(f)

	return Event{
		Type:        EventFrame,
		Seq:         f.Seq,
		Width:       f.Width,
		Height:      f.Height,
		Stacked:     added,
		StackCount:  c.acc.Count(),
		DarkApplied: applied,
		At:          f.Timestamp,
	}, nil
}

// Latest returns the most recently published frame, or nil.
func (c *Capture) Latest() *frame.Frame {
	return c.latest.Load()
}

// Slot exposes the latest-frame mailbox.
func (c *Capture) Slot() *LatestSlot {
	return c.latest
}

// SetDark installs dark as the calibration frame. The dark-mode flag is left
// as it is.
func (c *Capture) SetDark(dark *frame.Frame) error {
	if dark == nil {
		return errors.New("nil dark frame")
	}
	if err := dark.Validate(); err != nil {
		return fmt.Errorf("dark frame: %w", err)
	}
	c.dark.Store(dark)
	return nil
}

// Dark returns the loaded dark frame, or nil.
func (c *Capture) Dark() *frame.Frame {
	return c.dark.Load()
}

// SetDarkMode toggles dark subtraction. Enabling it without a dark frame
// fails and leaves the mode off.
func (c *Capture) SetDarkMode(on bool) error {
	if on && c.dark.Load() == nil {
		return ErrNoDarkFrame
	}
	c.darkMode.Store(on)
	return nil
}

// DarkMode reports whether dark subtraction is enabled.
func (c *Capture) DarkMode() bool {
	return c.darkMode.Load()
}

// Counters returns a snapshot of the loop counters.
func (c *Capture) Counters() Counters {
	return Counters{
		Captured:          c.captured.Load(),
		Stacked:           c.stacked.Load(),
		Skipped:           c.skipped.Load(),
		Errors:            c.errCount.Load(),
		ConsecutiveErrors: c.consecutive.Load(),
		DarkApplied:       c.darkApplied.Load(),
	}
}

// Subscribe returns a channel of capture events and an unsubscribe function.
func (c *Capture) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Event, 8)
	c.subs[id] = ch
	unsub := func() {
		c.mu.Lock()
		if ch, ok := c.subs[id]; ok {
			close(ch)
			delete(c.subs, id)
		}
		c.mu.Unlock()
	}
	return ch, unsub
}

func (c *Capture) broadcast(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.log.Debug("event channel full", "subscriber", id, "seq", ev.Seq)
		}
	}
}
