package rig

import (
	"fmt"
	"log/slog"

	"astrorig/internal/camera"
	"astrorig/internal/config"
	"astrorig/internal/fsutil"
	"astrorig/internal/gpio"
	"astrorig/internal/logging"
	"astrorig/internal/mount"
)

// OpenSource opens the camera driver selected by cfg.Camera.Driver.
func OpenSource(cfg *config.Config, settings *camera.Settings, log *slog.Logger) (camera.Source, error) {
	c := cfg.Camera
	switch c.Driver {
	case "simulator":
		logging.LogDriverStatus(log, "camera", c.Driver, true, nil)
		return camera.NewSimulator(camera.SimulatorConfig{
			Width:    c.Width,
			Height:   c.Height,
			BitDepth: c.BitDepth,
			Stars:    c.SimulatorStars,
			Seed:     c.SimulatorSeed,
			Pace:     true,
		}, settings), nil
	case "rpicam":
		binary := c.Binary
		if binary == "" {
			// Older Raspberry Pi OS releases ship the libcamera- names.
			binary = fsutil.FirstExisting("/usr/bin/rpicam-raw", "/usr/bin/libcamera-raw")
		}
		src, err := camera.NewRPiCam(camera.RPiCamConfig{
			Binary:    binary,
			Width:     c.Width,
			Height:    c.Height,
			BitDepth:  c.BitDepth,
			ExtraArgs: c.ExtraArgs,
			Timeout:   config.Millis(float64(c.CaptureTimeoutMS)),
		}, settings)
		logging.LogDriverStatus(log, "camera", c.Driver, err == nil, err)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown camera driver %q", c.Driver)
	}
}

// OpenBank opens the GPIO driver selected by cfg.Mount.Driver for all eight
// axis lines.
func OpenBank(cfg *config.Config, log *slog.Logger) (gpio.OutputBank, error) {
	m := cfg.Mount
	bank, err := gpio.Open(gpio.Config{
		Driver:     m.Driver,
		Chip:       m.Chip,
		SerialPort: m.SerialPort,
		BaudRate:   m.BaudRate,
		Pins:       MountConfig(cfg).Pins(),
	})
	logging.LogDriverStatus(log, "gpio", m.Driver, err == nil, err)
	return bank, err
}

// Guide describes the tracking clock derived from the mount mechanics.
type Guide struct {
	DegPerStep    float64 `json:"deg_per_step"`
	StepsPerDeg   float64 `json:"steps_per_degree"`
	GuideInterval string  `json:"guide_interval"`
	SiderealRate  float64 `json:"sidereal_deg_per_sec"`
}

// GuideFor computes the tracking clock for cfg.
func GuideFor(cfg *config.Config) Guide {
	m := MountConfig(cfg).Mechanics
	return Guide{
		DegPerStep:    m.DegPerStep(),
		StepsPerDeg:   1 / m.DegPerStep(),
		GuideInterval: m.GuideInterval().String(),
		SiderealRate:  mount.SiderealDegPerSecond(),
	}
}

// Guide reports the tracking clock for the running configuration.
func (r *Rig) Guide() Guide {
	return GuideFor(r.cfg)
}
