package mount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"astrorig/internal/gpio"
)

// ErrStopTimeout is returned by Stop when an axis loop failed to exit in
// time. Outputs are released regardless.
var ErrStopTimeout = errors.New("axis loops did not stop in time")

// Config wires both axes to their output lines.
type Config struct {
	RAPins      [PhaseCount]int
	DecPins     [PhaseCount]int
	Mechanics   Mechanics
	RAInterval  time.Duration // zero means the guide interval
	DecInterval time.Duration
	RADirection int
	StopTimeout time.Duration
}

// DefaultConfig returns the pin map and timings of the reference rig.
func DefaultConfig() Config {
	return Config{
		RAPins:      [PhaseCount]int{6, 13, 19, 26},
		DecPins:     [PhaseCount]int{12, 16, 20, 21},
		Mechanics:   DefaultMechanics(),
		DecInterval: 20 * time.Millisecond,
		RADirection: 1,
		StopTimeout: 2 * time.Second,
	}
}

// Pins returns all eight lines, RA first.
func (c Config) Pins() []int {
	out := make([]int, 0, 2*PhaseCount)
	out = append(out, c.RAPins[:]...)
	return append(out, c.DecPins[:]...)
}

// Status is a point-in-time view of both axes.
type Status struct {
	Running       bool    `json:"running"`
	RAPhase       int     `json:"ra_phase"`
	RADirection   int     `json:"ra_direction"`
	RAInterval    string  `json:"ra_interval"`
	DecPhase      int     `json:"dec_phase"`
	DecSteps      int64   `json:"dec_steps_remaining"`
	DecInterval   string  `json:"dec_interval"`
	DegPerStep    float64 `json:"deg_per_step"`
	GuideInterval string  `json:"guide_interval"`
}

// Controller owns the output bank and both axis loops.
type Controller struct {
	bank gpio.OutputBank
	cfg  Config
	log  *slog.Logger

	RA  *RAAxis
	Dec *DecAxis

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
}

// NewController builds both axes. Nothing is energized until Start.
func NewController(bank gpio.OutputBank, cfg Config, log *slog.Logger) (*Controller, error) {
	if bank == nil {
		return nil, errors.New("mount: nil output bank")
	}
	if log == nil {
		log = slog.Default()
	}
	if !cfg.Mechanics.Valid() {
		return nil, fmt.Errorf("mount: invalid mechanics %+v", cfg.Mechanics)
	}
	raInterval := cfg.RAInterval
	if raInterval <= 0 {
		raInterval = cfg.Mechanics.GuideInterval()
	}
	ra, err := NewRAAxis(bank, cfg.RAPins, raInterval, cfg.RADirection)
	if err != nil {
		return nil, fmt.Errorf("mount: ra axis: %w", err)
	}
	dec, err := NewDecAxis(bank, cfg.DecPins, cfg.DecInterval, cfg.Mechanics)
	if err != nil {
		return nil, fmt.Errorf("mount: dec axis: %w", err)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	return &Controller{bank: bank, cfg: cfg, log: log, RA: ra, Dec: dec}, nil
}

// Start energizes each axis at its current phase and launches both loops.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return gpio.ErrClosed
	}
	if c.running {
		return nil
	}
	if err := c.RA.hold(); err != nil {
		return fmt.Errorf("mount: hold ra: %w", err)
	}
	if err := c.Dec.hold(); err != nil {
		return fmt.Errorf("mount: hold dec: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		run(ctx, "ra", c.RA, c.RA.Interval, c.log)
	}()
	go func() {
		defer c.wg.Done()
		run(ctx, "dec", c.Dec, c.Dec.Interval, c.log)
	}()
	c.log.Info("mount started",
		"ra_interval", c.RA.Interval(),
		"ra_direction", c.RA.Direction(),
		"dec_interval", c.Dec.Interval())
	return nil
}

// Stop cancels both loops, waits up to the stop timeout for them to exit,
// then drives all eight lines low and closes the bank. It is safe to call
// more than once.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true

	var errs []error
	if c.cancel != nil {
		c.cancel()
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(c.cfg.StopTimeout):
			errs = append(errs, ErrStopTimeout)
		}
	}
	c.running = false

	if err := c.RA.release(); err != nil {
		errs = append(errs, fmt.Errorf("release ra: %w", err))
	}
	if err := c.Dec.release(); err != nil {
		errs = append(errs, fmt.Errorf("release dec: %w", err))
	}
	if err := c.bank.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bank: %w", err))
	}
	err := errors.Join(errs...)
	if err != nil {
		c.log.Error("mount stop", "error", err)
	} else {
		c.log.Info("mount stopped")
	}
	return err
}

// SetRADirection sets the tracking sign.
func (c *Controller) SetRADirection(d int) error {
	return c.RA.SetDirection(d)
}

// SetRASpeed overrides the RA step interval; zero restores the guide rate.
func (c *Controller) SetRASpeed(interval time.Duration) error {
	if interval == 0 {
		interval = c.cfg.Mechanics.GuideInterval()
	}
	return c.RA.SetInterval(interval)
}

// MoveDec queues a DEC move and returns the signed step budget.
func (c *Controller) MoveDec(degrees float64) (int64, error) {
	return c.Dec.Move(degrees)
}

// Mechanics returns the drive-train description in use.
func (c *Controller) Mechanics() Mechanics {
	return c.cfg.Mechanics
}

// Status snapshots both axes.
func (c *Controller) Status() Status {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	return Status{
		Running:       running,
		RAPhase:       c.RA.Phase(),
		RADirection:   c.RA.Direction(),
		RAInterval:    c.RA.Interval().String(),
		DecPhase:      c.Dec.Phase(),
		DecSteps:      c.Dec.StepsRemaining(),
		DecInterval:   c.Dec.Interval().String(),
		DegPerStep:    c.cfg.Mechanics.DegPerStep(),
		GuideInterval: c.cfg.Mechanics.GuideInterval().String(),
	}
}
