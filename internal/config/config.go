package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultConfigPath = "~/.config/astrorig/config.json"
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "ASTRORIG_CONFIG"
)

// Config holds user-editable settings for the rig.
type Config struct {
	Camera  Camera  `json:"camera"`
	Stack   Stack   `json:"stack"`
	Display Display `json:"display"`
	Mount   Mount   `json:"mount"`
	Paths   Paths   `json:"paths"`
	Logging Logging `json:"logging"`
	Server  Server  `json:"server"`
}

// Camera selects and tunes the frame source.
type Camera struct {
	Driver            string   `json:"driver"` // rpicam, simulator
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	BitDepth          int      `json:"bit_depth"`
	ExposureUS        int64    `json:"exposure_us"`
	Gain              float64  `json:"gain"`
	Binary            string   `json:"binary"` // rpicam-raw or libcamera-raw
	ExtraArgs         []string `json:"extra_args"`
	CaptureTimeoutMS  int      `json:"capture_timeout_ms"` // added to the exposure time
	RetryBackoffMS    int      `json:"retry_backoff_ms"`
	RetryBackoffMaxMS int      `json:"retry_backoff_max_ms"` // > retry_backoff_ms enables exponential retry
	SimulatorStars    int      `json:"simulator_stars"`
	SimulatorSeed     int64    `json:"simulator_seed"`
}

// Stack bounds the accumulator.
type Stack struct {
	MaxCount int `json:"max_count"`
}

// Display tunes the preview loop.
type Display struct {
	FPS           int     `json:"fps"`
	Scale         int     `json:"scale"`
	Contrast      float64 `json:"contrast"`
	Brightness    float64 `json:"brightness"`
	ZoomHalfWidth int     `json:"zoom_half_width"`
	Threshold     int     `json:"threshold"`
}

// Mechanics describes a drive train.
type Mechanics struct {
	DegPerOutputRev float64 `json:"deg_per_output_rev"`
	GearIn          float64 `json:"gear_in"`
	GearOut         float64 `json:"gear_out"`
	StepsPerRev     float64 `json:"steps_per_rev"`
}

// Mount wires the stepper axes.
type Mount struct {
	Enabled       bool      `json:"enabled"`
	Driver        string    `json:"driver"` // gpiocdev, serial, mock
	Chip          string    `json:"chip"`
	SerialPort    string    `json:"serial_port"`
	BaudRate      int       `json:"baud_rate"`
	RAPins        [4]int    `json:"ra_pins"`
	DecPins       [4]int    `json:"dec_pins"`
	Mechanics     Mechanics `json:"mechanics"`
	RADirection   int       `json:"ra_direction"`
	RAIntervalMS  float64   `json:"ra_interval_ms"` // 0 = sidereal guide rate
	DecIntervalMS float64   `json:"dec_interval_ms"`
	StopTimeoutMS int       `json:"stop_timeout_ms"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures output locations.
type Paths struct {
	Pictures       string `json:"pictures"`
	Darks          string `json:"darks"`
	DatabasePath   string `json:"database_path"`
	// "sqlite" (pure Go) or "sqlite3" (cgo)
	DatabaseDriver string `json:"database_driver"`
}

// Server configures the control surfaces.
type Server struct {
	Addr       string `json:"addr"`
	GRPCAddr   string `json:"grpc_addr"`
	ErrorLimit int    `json:"error_limit"` // consecutive capture errors before NOT_SERVING
}

// Path returns the config file location after env and ~ expansion.
func Path() (string, error) {
	configPath := os.Getenv(EnvConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return expandUser(configPath)
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, p := range []*string{&cfg.Paths.Pictures, &cfg.Paths.Darks, &cfg.Paths.DatabasePath, &cfg.Logging.LogDir} {
		if *p, err = expandUser(*p); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Default returns the settings of the reference rig: Raspberry Pi HQ camera
// and two 28BYJ-48 steppers on a worm drive.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Camera: Camera{
			Driver:            "rpicam",
			Width:             4056,
			Height:            3040,
			BitDepth:          12,
			ExposureUS:        250000,
			Gain:              16,
			Binary:            "rpicam-raw",
			CaptureTimeoutMS:  5000,
			RetryBackoffMS:    100,
			RetryBackoffMaxMS: 0,
			SimulatorStars:    200,
			SimulatorSeed:     1,
		},
		Stack: Stack{MaxCount: 128},
		Display: Display{
			FPS:           30,
			Scale:         5,
			Contrast:      1.0 / 16,
			Brightness:    0,
			ZoomHalfWidth: 128,
			Threshold:     128,
		},
		Mount: Mount{
			Enabled:       false,
			Driver:        "gpiocdev",
			Chip:          "gpiochip0",
			SerialPort:    "/dev/ttyACM0",
			BaudRate:      115200,
			RAPins:        [4]int{6, 13, 19, 26},
			DecPins:       [4]int{12, 16, 20, 21},
			Mechanics:     Mechanics{DegPerOutputRev: 4, GearIn: 64, GearOut: 4, StepsPerRev: 32},
			RADirection:   1,
			DecIntervalMS: 20,
			StopTimeoutMS: 2000,
		},
		Paths: Paths{
			Pictures:       filepath.Join(home, "Pictures"),
			Darks:          filepath.Join(home, "Pictures", "darks"),
			DatabasePath:   filepath.Join(os.TempDir(), "astrorig.db"),
			DatabaseDriver: "sqlite",
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Server: Server{
			Addr:       ":8080",
			GRPCAddr:   ":50051",
			ErrorLimit: 10,
		},
	}
}

// Validate returns the first invalid setting.
func (c *Config) Validate() error {
	switch c.Camera.Driver {
	case "rpicam", "simulator":
	default:
		return fmt.Errorf("camera.driver: unknown driver %q", c.Camera.Driver)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera: invalid sensor size %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.BitDepth < 8 || c.Camera.BitDepth > 16 {
		return fmt.Errorf("camera.bit_depth: %d not in [8,16]", c.Camera.BitDepth)
	}
	if c.Camera.ExposureUS <= 0 {
		return errors.New("camera.exposure_us must be positive")
	}
	if c.Camera.Gain < 1 || c.Camera.Gain > 16 {
		return fmt.Errorf("camera.gain: %g not in [1,16]", c.Camera.Gain)
	}
	if c.Stack.MaxCount < 1 {
		return errors.New("stack.max_count must be at least 1")
	}
	if c.Display.FPS < 1 || c.Display.FPS > 120 {
		return fmt.Errorf("display.fps: %d not in [1,120]", c.Display.FPS)
	}
	if c.Display.Scale < 1 {
		return errors.New("display.scale must be at least 1")
	}
	if c.Display.ZoomHalfWidth < 1 {
		return errors.New("display.zoom_half_width must be positive")
	}
	m := c.Mount
	switch m.Driver {
	case "gpiocdev", "serial", "mock":
	default:
		return fmt.Errorf("mount.driver: unknown driver %q", m.Driver)
	}
	if m.Mechanics.DegPerOutputRev <= 0 || m.Mechanics.GearIn <= 0 || m.Mechanics.GearOut <= 0 || m.Mechanics.StepsPerRev <= 0 {
		return errors.New("mount.mechanics: all ratios must be positive")
	}
	if m.RADirection < -1 || m.RADirection > 1 {
		return fmt.Errorf("mount.ra_direction: %d not in {-1,0,1}", m.RADirection)
	}
	if m.RAIntervalMS < 0 || m.DecIntervalMS <= 0 {
		return errors.New("mount: step intervals must be positive")
	}
	seen := map[int]bool{}
	for _, p := range append(m.RAPins[:], m.DecPins[:]...) {
		if seen[p] {
			return fmt.Errorf("mount: pin %d assigned twice", p)
		}
		seen[p] = true
	}
	switch c.Paths.DatabaseDriver {
	case "", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("paths.database_driver: unknown driver %q", c.Paths.DatabaseDriver)
	}
	if c.Paths.Pictures == "" {
		return errors.New("paths.pictures is required")
	}
	return nil
}

// Exposure returns the configured exposure time.
func (c Camera) Exposure() time.Duration {
	return time.Duration(c.ExposureUS) * time.Microsecond
}

// Millis converts a millisecond setting to a duration.
func Millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
