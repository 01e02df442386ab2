package stack

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"astrorig/internal/frame"
)

// Snapshot is the normalized (sum/count) stack at one point in time.
type Snapshot struct {
	Width  int
	Height int
	Count  int
	// Epoch counts the resets that preceded this stack.
	Epoch uint64
	Mean  []float64
}

// Stats summarizes a snapshot's sample distribution.
type Stats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Quantize16 rounds the mean to 16-bit samples, clipping to [0, 65535].
func (s *Snapshot) Quantize16() []uint16 {
	out := make([]uint16, len(s.Mean))
	for i, v := range s.Mean {
		v = math.Round(v)
		switch {
		case v <= 0:
			out[i] = 0
		case v >= math.MaxUint16:
			out[i] = math.MaxUint16
		default:
			out[i] = uint16(v)
		}
	}
	return out
}

// Frame returns the quantized snapshot as a 16-bit frame.
func (s *Snapshot) Frame() *frame.Frame {
	return &frame.Frame{
		Width:     s.Width,
		Height:    s.Height,
		BitDepth:  16,
		Pix:       s.Quantize16(),
		Timestamp: time.Now(),
	}
}

// Stats computes mean, standard deviation and range of the snapshot.
func (s *Snapshot) Stats() Stats {
	if len(s.Mean) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(s.Mean, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Stats{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(s.Mean),
		Max:    floats.Max(s.Mean),
	}
}
