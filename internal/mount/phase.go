package mount

import (
	"fmt"
	"sync/atomic"

	"astrorig/internal/gpio"
)

// PhaseCount is the number of coils of a unipolar 4-phase stepper.
const PhaseCount = 4

// Direction indexes the step table.
type Direction int

const (
	Forward Direction = iota // 0→1→2→3→0
	Reverse                  // 0→3→2→1→0
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// stepTable[d][p] is the phase that follows p when stepping in direction d.
var stepTable = [2][PhaseCount]int{
	Forward: {1, 2, 3, 0},
	Reverse: {3, 0, 1, 2},
}

// NextPhase returns the phase after p in direction d.
func NextPhase(d Direction, p int) int {
	return stepTable[d][p]
}

// coils owns one axis' four output lines and its current phase. Exactly one
// line is high whenever the axis is energized.
type coils struct {
	bank  gpio.OutputBank
	pins  [PhaseCount]int
	phase atomic.Int32
}

// energize raises the line for phase p, then lowers the other three so the
// coil current never drops to zero between steps.
func (c *coils) energize(p int) error {
	if err := c.bank.Set(c.pins[p], gpio.High); err != nil {
		return fmt.Errorf("energize phase %d: %w", p, err)
	}
	for i, pin := range c.pins {
		if i == p {
			continue
		}
		if err := c.bank.Set(pin, gpio.Low); err != nil {
			return fmt.Errorf("release phase %d: %w", i, err)
		}
	}
	return nil
}

func (c *coils) hold() error {
	return c.energize(int(c.phase.Load()))
}

func (c *coils) step(d Direction) error {
	next := NextPhase(d, int(c.phase.Load()))
	if err := c.energize(next); err != nil {
		return err
	}
	c.phase.Store(int32(next))
	return nil
}

func (c *coils) release() error {
	var first error
	for _, pin := range c.pins {
		if err := c.bank.Set(pin, gpio.Low); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Phase returns the current phase.
func (c *coils) Phase() int {
	return int(c.phase.Load())
}
