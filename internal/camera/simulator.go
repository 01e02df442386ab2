package camera

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"astrorig/internal/frame"
)

// SimulatorConfig describes the synthetic sensor.
type SimulatorConfig struct {
	Width     int
	Height    int
	BitDepth  int
	Stars     int
	Seed      int64
	ReadNoise float64 // standard deviation in ADU
	SkyLevel  float64 // ADU per second at unity gain
	// Pace makes Next wait for the exposure time, like a real sensor.
	Pace bool
}

// Simulator is a deterministic synthetic star-field source. It lets the rig
// run end to end without a sensor attached.
type Simulator struct {
	cfg      SimulatorConfig
	settings *Settings
	base     []float32 // photo-electrons per second at unity gain

	mu     sync.Mutex
	rng    *rand.Rand
	seq    atomic.Uint64
	closed atomic.Bool
}

// NewSimulator renders the star field once and returns a ready source.
func NewSimulator(cfg SimulatorConfig, settings *Settings) *Simulator {
	if cfg.BitDepth <= 0 {
		cfg.BitDepth = 12
	}
	if cfg.Stars <= 0 {
		cfg.Stars = 200
	}
	if cfg.SkyLevel <= 0 {
		cfg.SkyLevel = 40
	}
	s := &Simulator{
		cfg:      cfg,
		settings: settings,
		base:     make([]float32, cfg.Width*cfg.Height),
		rng:      rand.New(rand.NewSource(cfg.Seed + 1)),
	}
	s.renderSky()
	return s
}

func (s *Simulator) renderSky() {
	w, h := s.cfg.Width, s.cfg.Height
	for i := range s.base {
		s.base[i] = float32(s.cfg.SkyLevel)
	}
	r := rand.New(rand.NewSource(s.cfg.Seed))
	const radius = 3
	for n := 0; n < s.cfg.Stars; n++ {
		cx, cy := r.Float64()*float64(w), r.Float64()*float64(h)
		flux := 200 + r.ExpFloat64()*2000
		sigma := 0.8 + r.Float64()*0.8
		for y := int(cy) - radius; y <= int(cy)+radius; y++ {
			if y < 0 || y >= h {
				continue
			}
			for x := int(cx) - radius; x <= int(cx)+radius; x++ {
				if x < 0 || x >= w {
					continue
				}
				dx, dy := float64(x)-cx, float64(y)-cy
				s.base[y*w+x] += float32(flux * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
			}
		}
	}
}

// Next returns one synthetic exposure using the settings current at call time.
func (s *Simulator) Next(ctx context.Context) (*frame.Frame, error) {
	if s.closed.Load() {
		return nil, ErrUnavailable
	}
	exposure := s.settings.Exposure()
	gain := s.settings.Gain()

	if s.cfg.Pace {
		t := time.NewTimer(exposure)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := frame.New(s.cfg.Width, s.cfg.Height, s.cfg.BitDepth)
	limit := float64(f.MaxValue())
	scale := exposure.Seconds() * gain

	s.mu.Lock()
	for i, v := range s.base {
		adu := float64(v)*scale + s.rng.NormFloat64()*s.cfg.ReadNoise
		f.Pix[i] = uint16(math.Max(0, math.Min(limit, math.Round(adu))))
	}
	s.mu.Unlock()

	f.Seq = s.seq.Add(1)
	f.Timestamp = time.Now()
	return f, nil
}

// SetExposure implements Source.
func (s *Simulator) SetExposure(d time.Duration) error {
	if err := checkExposure(d); err != nil {
		return err
	}
	s.settings.SetExposure(d)
	return nil
}

// SetGain implements Source.
func (s *Simulator) SetGain(g float64) error {
	s.settings.SetGain(g)
	return nil
}

// Close implements Source.
func (s *Simulator) Close() error {
	s.closed.Store(true)
	return nil
}
