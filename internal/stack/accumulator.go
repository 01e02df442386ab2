// Package stack accumulates captured frames into a running floating-point sum
// and exposes consistent mean snapshots to concurrent readers.
package stack

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"astrorig/internal/frame"
)

// DefaultMaxCount is the frame ceiling used when none is configured.
const DefaultMaxCount = 128

var (
	// ErrEmpty is returned by Snapshot when no frame has been accumulated.
	ErrEmpty = errors.New("stack is empty")
	// ErrDimensionMismatch is returned when a frame does not match the running sum.
	ErrDimensionMismatch = errors.New("frame does not match stack dimensions")
)

// generation is one published (sum, count) pair. It is never written after
// being published; the writer builds the next generation in a spare buffer.
type generation struct {
	sum    []float64
	count  int
	width  int
	height int
	epoch  uint64
}

// Accumulator owns the running sum and frame count.
//
// Add and Reset are mutually exclusive through mu. Add uses TryLock so a
// frame arriving while a reset or save holds the accumulator is dropped
// rather than queued. Readers only contend with the writer for the pointer
// swap that publishes a new generation.
type Accumulator struct {
	mu       sync.Mutex
	maxCount int
	back     []float64 // spare buffer, owned by the holder of mu
	scratch  []float64 // frame samples widened to float64
	epoch    uint64    // bumped by Reset, owned by the holder of mu

	pubMu     sync.RWMutex
	published *generation
}

// NewAccumulator returns an empty accumulator capped at maxCount frames.
func NewAccumulator(maxCount int) *Accumulator {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	return &Accumulator{maxCount: maxCount}
}

// Add sums f into the stack. It reports false without error when the
// accumulator is busy or already holds MaxCount frames.
func (a *Accumulator) Add(f *frame.Frame) (bool, error) {
	if f == nil {
		return false, nil
	}
	if !a.mu.TryLock() {
		return false, nil
	}
	defer a.mu.Unlock()

	cur := a.current()
	if cur != nil {
		if cur.count >= a.maxCount {
			return false, nil
		}
		if cur.width != f.Width || cur.height != f.Height {
			return false, fmt.Errorf("%w: stack %dx%d, frame %dx%d", ErrDimensionMismatch, cur.width, cur.height, f.Width, f.Height)
		}
	}

	n := len(f.Pix)
	if cap(a.scratch) < n {
		a.scratch = make([]float64, n)
	}
	a.scratch = a.scratch[:n]
	for i, v := range f.Pix {
		a.scratch[i] = float64(v)
	}

	next := a.back
	if len(next) != n {
		next = make([]float64, n)
	}
	count := 1
	if cur == nil {
		copy(next, a.scratch)
	} else {
		floats.AddTo(next, cur.sum, a.scratch)
		count = cur.count + 1
	}

	a.pubMu.Lock()
	a.published = &generation{sum: next, count: count, width: f.Width, height: f.Height, epoch: a.epoch}
	a.pubMu.Unlock()

	// Readers copy under pubMu, so nobody can still be reading the old sum.
	if cur != nil {
		a.back = cur.sum
	} else {
		a.back = nil
	}
	return true, nil
}

// Reset discards the accumulated sum. It waits for an in-flight Add to
// finish so readers never observe a half-updated stack.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pubMu.Lock()
	a.published = nil
	a.pubMu.Unlock()
	a.back = nil
	a.epoch++
}

// Snapshot returns the mean of the accumulated frames.
func (a *Accumulator) Snapshot() (*Snapshot, error) {
	a.pubMu.RLock()
	defer a.pubMu.RUnlock()

	g := a.published
	if g == nil || g.count == 0 {
		return nil, ErrEmpty
	}
	mean := make([]float64, len(g.sum))
	floats.ScaleTo(mean, 1/float64(g.count), g.sum)
	return &Snapshot{Width: g.width, Height: g.height, Count: g.count, Epoch: g.epoch, Mean: mean}, nil
}

// Count returns the number of frames in the stack.
func (a *Accumulator) Count() int {
	if g := a.current(); g != nil {
		return g.count
	}
	return 0
}

// MaxCount returns the configured ceiling.
func (a *Accumulator) MaxCount() int {
	return a.maxCount
}

func (a *Accumulator) current() *generation {
	a.pubMu.RLock()
	defer a.pubMu.RUnlock()
	return a.published
}
