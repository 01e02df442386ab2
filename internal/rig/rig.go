// Package rig owns the capture pipeline, display loop and mount controller
// and exposes the operations the control surfaces call.
package rig

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"astrorig/internal/camera"
	"astrorig/internal/config"
	"astrorig/internal/display"
	"astrorig/internal/frame"
	"astrorig/internal/gpio"
	"astrorig/internal/imaging"
	"astrorig/internal/logging"
	"astrorig/internal/mount"
	"astrorig/internal/pipeline"
	"astrorig/internal/stack"
	"astrorig/internal/storage"
)

var (
	// ErrNoDarkFrame is returned when dark mode is enabled with no dark loaded.
	ErrNoDarkFrame = pipeline.ErrNoDarkFrame
	// ErrMotorsDisabled is returned by mount operations when no bank is wired.
	ErrMotorsDisabled = errors.New("motors disabled")
)

// Options carries the collaborators a Rig drives. Source and Settings are
// required; Bank and Store may be nil.
type Options struct {
	Config       *config.Config
	Source       camera.Source
	Settings     *camera.Settings
	Bank         gpio.OutputBank
	Store        *storage.Store
	Logger       *slog.Logger
	CameraDriver string
	Now          func() time.Time
}

// Rig is the explicitly owned controller object behind every control surface.
type Rig struct {
	cfg      *config.Config
	source   camera.Source
	settings *camera.Settings
	store    *storage.Store
	log      *slog.Logger
	now      func() time.Time

	acc     *stack.Accumulator
	capture *pipeline.Capture
	display *display.Loop
	mount   *mount.Controller

	sessionID string
	darkPath  atomic.Pointer[string]
	saveMu    sync.Mutex

	mu      sync.Mutex
	running bool
	stopped bool
}

// New wires the pipeline, display and (when a bank is given) the mount.
func New(opts Options) (*Rig, error) {
	if opts.Source == nil || opts.Settings == nil {
		return nil, errors.New("rig: source and settings are required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	r := &Rig{
		cfg:      cfg,
		source:   opts.Source,
		settings: opts.Settings,
		store:    opts.Store,
		log:      log,
		now:      now,
		acc:      stack.NewAccumulator(cfg.Stack.MaxCount),
	}
	r.capture = pipeline.New(opts.Source, r.acc, log.With("component", "capture"), pipeline.Options{
		RetryBackoff:    config.Millis(float64(cfg.Camera.RetryBackoffMS)),
		RetryBackoffMax: config.Millis(float64(cfg.Camera.RetryBackoffMaxMS)),
	})
	r.display = display.NewLoop(r.capture, r.acc, log.With("component", "display"), display.Options{
		FPS:          cfg.Display.FPS,
		Scale:        cfg.Display.Scale,
		Contrast:     cfg.Display.Contrast,
		Brightness:   cfg.Display.Brightness,
		HalfWidth:    cfg.Display.ZoomHalfWidth,
		Threshold:    cfg.Display.Threshold,
		SensorWidth:  cfg.Camera.Width,
		SensorHeight: cfg.Camera.Height,
	})

	mountDriver := ""
	if opts.Bank != nil {
		mc, err := mount.NewController(opts.Bank, MountConfig(cfg), log.With("component", "mount"))
		if err != nil {
			return nil, err
		}
		r.mount = mc
		mountDriver = cfg.Mount.Driver
	}

	id, err := r.store.StartSession(storage.SessionRecord{
		CameraDriver: opts.CameraDriver,
		MountDriver:  mountDriver,
		Motors:       r.mount != nil,
		StartedAt:    now().UTC(),
	})
	if err != nil {
		log.Warn("session not recorded", "error", err)
	}
	r.sessionID = id
	return r, nil
}

// MountConfig converts the mount section of cfg.
func MountConfig(cfg *config.Config) mount.Config {
	m := cfg.Mount
	return mount.Config{
		RAPins:  m.RAPins,
		DecPins: m.DecPins,
		Mechanics: mount.Mechanics{
			DegPerOutputRev: m.Mechanics.DegPerOutputRev,
			GearIn:          m.Mechanics.GearIn,
			GearOut:         m.Mechanics.GearOut,
			StepsPerRev:     m.Mechanics.StepsPerRev,
		},
		RAInterval:  config.Millis(m.RAIntervalMS),
		DecInterval: config.Millis(m.DecIntervalMS),
		RADirection: m.RADirection,
		StopTimeout: config.Millis(float64(m.StopTimeoutMS)),
	}
}

// Start launches capture, display and, when wired, both axis loops.
func (r *Rig) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("rig: already stopped")
	}
	if r.running {
		return nil
	}
	if r.mount != nil {
		if err := r.mount.Start(ctx); err != nil {
			return err
		}
	}
	r.capture.Start(ctx)
	r.display.Start(ctx)
	r.running = true
	r.log.Info("rig started", "session", r.sessionID, "motors", r.mount != nil)
	return nil
}

// Stop shuts down display, capture and mount in that order, then releases
// the camera and closes the store. The mount's outputs are de-energized
// before Stop returns.
func (r *Rig) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true
	r.running = false

	var errs []error
	r.display.Stop()
	r.capture.Stop()
	if r.mount != nil {
		if err := r.mount.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("mount: %w", err))
		}
	}
	if err := r.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("camera: %w", err))
	}
	if err := r.store.EndSession(r.sessionID); err != nil {
		r.log.Warn("session end not recorded", "error", err)
	}
	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	r.log.Info("rig stopped", "session", r.sessionID)
	return errors.Join(errs...)
}

// SetExposure applies to the next capture request.
func (r *Rig) SetExposure(d time.Duration) error {
	if err := r.source.SetExposure(d); err != nil {
		return err
	}
	r.log.Info("exposure set", "exposure", r.settings.Exposure())
	return nil
}

// SetExposureStops sets the exposure to 2^stops seconds.
func (r *Rig) SetExposureStops(stops float64) (time.Duration, error) {
	if stops < -8 || stops > 5 {
		return 0, fmt.Errorf("stops %g out of range [-8, 5]", stops)
	}
	d := camera.ExposureFromStops(stops)
	return d, r.SetExposure(d)
}

// SetGain applies to the next capture request and returns the clamped gain.
func (r *Rig) SetGain(g float64) (float64, error) {
	if err := r.source.SetGain(g); err != nil {
		return 0, err
	}
	got := r.settings.Gain()
	r.log.Info("gain set", "gain", got)
	return got, nil
}

// ResetStack discards the accumulated frames.
func (r *Rig) ResetStack() {
	r.acc.Reset()
	r.log.Info("stack reset")
}

// SaveStack writes the current mean as a 16-bit TIFF and resets the stack.
// An empty stack returns stack.ErrEmpty and writes nothing.
func (r *Rig) SaveStack() (storage.StackSaveRecord, error) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	start := time.Now()
	snap, err := r.acc.Snapshot()
	if err != nil {
		r.log.Warn("stack save skipped", "error", err)
		return storage.StackSaveRecord{}, err
	}
	ts := r.now()
	path := filepath.Join(r.cfg.Paths.Pictures, imaging.StackFileName(ts))
	if err := imaging.WriteTIFF16(path, snap.Frame()); err != nil {
		r.log.Error("stack save failed", "path", path, "error", err)
		return storage.StackSaveRecord{}, err
	}
	r.acc.Reset()

	stats := snap.Stats()
	rec := storage.StackSaveRecord{
		SessionID:   r.sessionID,
		Path:        path,
		FrameCount:  snap.Count,
		Width:       snap.Width,
		Height:      snap.Height,
		ExposureUS:  r.settings.Exposure().Microseconds(),
		Gain:        r.settings.Gain(),
		DarkApplied: r.capture.DarkMode(),
		Mean:        stats.Mean,
		StdDev:      stats.StdDev,
		SavedAt:     ts.UTC(),
	}
	if err := r.store.RecordStackSave(rec); err != nil {
		r.log.Warn("stack save not recorded", "error", err)
	}
	logging.LogStackSaved(r.log, r.sessionID, path, snap.Count, time.Since(start), map[string]any{
		"mean":   stats.Mean,
		"stddev": stats.StdDev,
		"min":    stats.Min,
		"max":    stats.Max,
	})
	return rec, nil
}

// ToggleStackShow flips the display between the stack and the raw feed.
func (r *Rig) ToggleStackShow() bool {
	return r.display.ToggleStackShow()
}

// ToggleThreshold flips the zoom threshold on or off at level value.
func (r *Rig) ToggleThreshold(value int) bool {
	return r.display.ToggleThreshold(value)
}

// SetThreshold changes the threshold level.
func (r *Rig) SetThreshold(value int) uint8 {
	return r.display.SetThreshold(value)
}

// SetLevels sets display contrast and brightness.
func (r *Rig) SetLevels(alpha, beta float64) {
	r.display.SetLevels(alpha, beta)
}

// Click recentres the zoom window; coordinates are sensor pixels.
func (r *Rig) Click(x, y int) image.Point {
	return r.display.Click(x, y)
}

// ClickPreview recentres the zoom window on preview coordinates.
func (r *Rig) ClickPreview(x, y int) image.Point {
	return r.display.ClickPreview(x, y)
}

// LoadDarkFrame reads a calibration frame. Relative paths resolve against
// the darks directory. On failure the previous dark stays in effect and
// dark mode is untouched.
func (r *Rig) LoadDarkFrame(path string) error {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.cfg.Paths.Darks, path)
	}
	dark, err := imaging.ReadFrame(path, r.cfg.Camera.BitDepth)
	if err == nil && (dark.Width != r.cfg.Camera.Width || dark.Height != r.cfg.Camera.Height) {
		err = fmt.Errorf("%w: sensor %dx%d, dark %dx%d", frame.ErrDimensionMismatch,
			r.cfg.Camera.Width, r.cfg.Camera.Height, dark.Width, dark.Height)
	}
	if err == nil {
		err = r.capture.SetDark(dark)
	}

	rec := storage.DarkFrameRecord{SessionID: r.sessionID, Path: path, OK: err == nil}
	if err != nil {
		rec.Error = err.Error()
		logging.LogDarkFrame(r.log, path, 0, 0, err)
	} else {
		rec.Width, rec.Height = dark.Width, dark.Height
		r.darkPath.Store(&path)
		logging.LogDarkFrame(r.log, path, dark.Width, dark.Height, nil)
	}
	if serr := r.store.RecordDarkFrame(rec); serr != nil {
		r.log.Warn("dark frame not recorded", "error", serr)
	}
	return err
}

// ToggleDarkMode enables or disables dark subtraction.
func (r *Rig) ToggleDarkMode(on bool) error {
	if err := r.capture.SetDarkMode(on); err != nil {
		return err
	}
	r.log.Info("dark mode", "enabled", on)
	return nil
}

// SetRADirection sets tracking to 1 (west), -1 (east) or 0 (hold).
func (r *Rig) SetRADirection(d int) error {
	if r.mount == nil {
		return ErrMotorsDisabled
	}
	if err := r.mount.SetRADirection(d); err != nil {
		return err
	}
	r.recordMount("ra", "direction", float64(d))
	return nil
}

// SetRASpeed overrides the RA step interval; zero restores the guide rate.
func (r *Rig) SetRASpeed(interval time.Duration) error {
	if r.mount == nil {
		return ErrMotorsDisabled
	}
	if err := r.mount.SetRASpeed(interval); err != nil {
		return err
	}
	r.recordMount("ra", "speed", interval.Seconds())
	return nil
}

// MoveDec queues a DEC nudge; north is positive.
func (r *Rig) MoveDec(degrees float64) (int64, error) {
	if r.mount == nil {
		return 0, ErrMotorsDisabled
	}
	n, err := r.mount.MoveDec(degrees)
	if err != nil {
		return 0, err
	}
	r.recordMount("dec", "move", degrees)
	return n, nil
}

func (r *Rig) recordMount(axis, action string, value float64) {
	logging.LogMountCommand(r.log, axis, action, value)
	if err := r.store.RecordMountCommand(storage.MountCommandRecord{
		SessionID: r.sessionID,
		Axis:      axis,
		Action:    action,
		Value:     value,
	}); err != nil {
		r.log.Warn("mount command not recorded", "error", err)
	}
}

// ApplyConfig re-applies the runtime-tunable settings of cfg.
func (r *Rig) ApplyConfig(cfg *config.Config) {
	if err := r.SetExposure(cfg.Camera.Exposure()); err != nil {
		r.log.Warn("exposure not applied", "error", err)
	}
	if _, err := r.SetGain(cfg.Camera.Gain); err != nil {
		r.log.Warn("gain not applied", "error", err)
	}
	r.SetLevels(cfg.Display.Contrast, cfg.Display.Brightness)
	r.SetThreshold(cfg.Display.Threshold)
}

// Capture exposes the capture loop for event subscribers.
func (r *Rig) Capture() *pipeline.Capture { return r.capture }

// Display exposes the display loop for raster subscribers.
func (r *Rig) Display() *display.Loop { return r.display }

// Stack exposes the accumulator.
func (r *Rig) Stack() *stack.Accumulator { return r.acc }

// SessionID identifies this run in the store.
func (r *Rig) SessionID() string { return r.sessionID }

// Store returns the session store, which may be nil.
func (r *Rig) Store() *storage.Store { return r.store }
