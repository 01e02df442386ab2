package mount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"astrorig/internal/gpio"
)

// ErrInvalidDirection is returned for an RA direction outside {-1, 0, 1}.
var ErrInvalidDirection = errors.New("direction must be -1, 0 or 1")

// ErrInvalidMove is returned for a DEC move that is not finite or exceeds
// MaxMoveSteps.
var ErrInvalidMove = errors.New("invalid dec move")

// MaxMoveSteps bounds the step budget of a single DEC move.
const MaxMoveSteps = math.MaxInt32

// RAAxis tracks continuously in a signed direction.
type RAAxis struct {
	coils
	direction atomic.Int32
	interval  atomic.Int64
}

// NewRAAxis returns an RA axis on pins, stepping every interval in direction.
func NewRAAxis(bank gpio.OutputBank, pins [PhaseCount]int, interval time.Duration, direction int) (*RAAxis, error) {
	a := &RAAxis{coils: coils{bank: bank, pins: pins}}
	if err := a.SetDirection(direction); err != nil {
		return nil, err
	}
	if err := a.SetInterval(interval); err != nil {
		return nil, err
	}
	return a, nil
}

// SetDirection sets 1 (forward, west), -1 (reverse, east) or 0 (hold).
func (a *RAAxis) SetDirection(d int) error {
	if d < -1 || d > 1 {
		return fmt.Errorf("%w: %d", ErrInvalidDirection, d)
	}
	a.direction.Store(int32(d))
	return nil
}

// Direction returns the current direction.
func (a *RAAxis) Direction() int {
	return int(a.direction.Load())
}

// SetInterval overrides the step interval, e.g. for slewing.
func (a *RAAxis) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("step interval must be positive, got %v", d)
	}
	a.interval.Store(int64(d))
	return nil
}

// Interval returns the current step interval.
func (a *RAAxis) Interval() time.Duration {
	return time.Duration(a.interval.Load())
}

// Step runs one cycle. It reports whether the phase changed; direction 0
// leaves the outputs untouched so the current coil keeps holding torque.
func (a *RAAxis) Step() (bool, error) {
	switch a.direction.Load() {
	case 1:
		return true, a.step(Forward)
	case -1:
		return true, a.step(Reverse)
	default:
		return false, nil
	}
}

// DecAxis executes finite signed moves.
type DecAxis struct {
	coils
	steps      atomic.Int64
	interval   atomic.Int64
	degPerStep float64
}

// NewDecAxis returns a DEC axis on pins.
func NewDecAxis(bank gpio.OutputBank, pins [PhaseCount]int, interval time.Duration, mech Mechanics) (*DecAxis, error) {
	if !mech.Valid() {
		return nil, fmt.Errorf("invalid mechanics %+v", mech)
	}
	a := &DecAxis{coils: coils{bank: bank, pins: pins}, degPerStep: mech.DegPerStep()}
	if err := a.SetInterval(interval); err != nil {
		return nil, err
	}
	return a, nil
}

// Move replaces the step budget with round(degrees / degPerStep). Positive
// moves north, negative south. It returns the new budget. A rejected move
// leaves the current budget untouched.
func (a *DecAxis) Move(degrees float64) (int64, error) {
	steps := math.Round(degrees / a.degPerStep)
	if math.IsNaN(steps) || math.Abs(steps) > MaxMoveSteps {
		return 0, fmt.Errorf("%w: %v degrees", ErrInvalidMove, degrees)
	}
	n := int64(steps)
	a.steps.Store(n)
	return n, nil
}

// StepsRemaining returns the signed budget left.
func (a *DecAxis) StepsRemaining() int64 {
	return a.steps.Load()
}

// SetInterval sets the step interval.
func (a *DecAxis) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("step interval must be positive, got %v", d)
	}
	a.interval.Store(int64(d))
	return nil
}

// Interval returns the current step interval.
func (a *DecAxis) Interval() time.Duration {
	return time.Duration(a.interval.Load())
}

// Step runs one cycle: a positive budget steps the reverse table and counts
// down, a negative budget steps the forward table and counts up, zero idles.
func (a *DecAxis) Step() (bool, error) {
	n := a.steps.Load()
	if n == 0 {
		return false, nil
	}
	dir, next := Reverse, n-1
	if n < 0 {
		dir, next = Forward, n+1
	}
	if err := a.step(dir); err != nil {
		return false, err
	}
	// A concurrent Move replaced the budget: keep the new one.
	a.steps.CompareAndSwap(n, next)
	return true, nil
}

type stepper interface {
	Step() (bool, error)
}

// run cycles s until ctx is cancelled, waiting interval() after every cycle.
func run(ctx context.Context, name string, s stepper, interval func() time.Duration, log *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Step(); err != nil {
			log.Warn("axis step failed", "axis", name, "error", err)
		}
		t := time.NewTimer(interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
