// Package camera provides frame sources: the opaque sensor drivers that the
// capture pipeline pulls raw frames from.
package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"astrorig/internal/frame"
)

// Gain bounds accepted by the sensor.
const (
	MinGain = 1.0
	MaxGain = 16.0
)

// ErrUnavailable is returned when a driver's backing hardware or tool is missing.
var ErrUnavailable = errors.New("camera unavailable")

// ErrInvalidExposure is returned by SetExposure for a non-positive duration.
var ErrInvalidExposure = errors.New("exposure must be positive")

func checkExposure(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w, got %v", ErrInvalidExposure, d)
	}
	return nil
}

// Source produces raw frames on demand.
type Source interface {
	// Next blocks until a frame is available, the driver's bounded wait
	// expires, or ctx is cancelled.
	Next(ctx context.Context) (*frame.Frame, error)
	// SetExposure takes effect on the next capture request.
	SetExposure(d time.Duration) error
	// SetGain takes effect on the next capture request. Values are clamped to [1, 16].
	SetGain(g float64) error
	Close() error
}

// Settings holds the exposure configuration shared between the control
// surface (writer) and a driver (reader). Fields are single-word atomics.
type Settings struct {
	exposureNS atomic.Int64
	gainBits   atomic.Uint64
}

// NewSettings returns settings initialised to the given exposure and gain.
func NewSettings(exposure time.Duration, gain float64) *Settings {
	s := &Settings{}
	s.SetExposure(exposure)
	s.SetGain(gain)
	return s
}

// SetExposure stores the exposure time. Non-positive values are ignored.
func (s *Settings) SetExposure(d time.Duration) {
	if d > 0 {
		s.exposureNS.Store(int64(d))
	}
}

// Exposure returns the current exposure time.
func (s *Settings) Exposure() time.Duration {
	return time.Duration(s.exposureNS.Load())
}

// SetGain stores the analog gain clamped to [MinGain, MaxGain].
func (s *Settings) SetGain(g float64) {
	s.gainBits.Store(math.Float64bits(ClampGain(g)))
}

// Gain returns the current analog gain.
func (s *Settings) Gain() float64 {
	return math.Float64frombits(s.gainBits.Load())
}

// ClampGain bounds g to the sensor's analog gain range.
func ClampGain(g float64) float64 {
	if math.IsNaN(g) {
		return MinGain
	}
	return math.Max(MinGain, math.Min(MaxGain, g))
}

// ExposureFromStops converts a logarithmic slider value to an exposure time
// of 2^stops seconds.
func ExposureFromStops(stops float64) time.Duration {
	return time.Duration(math.Pow(2, stops) * float64(time.Second))
}
