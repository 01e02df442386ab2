package config

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "nope.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Camera.Gain != 16 || cfg.Camera.ExposureUS != 250000 {
		t.Fatalf("unexpected camera defaults: %+v", cfg.Camera)
	}
	if cfg.Stack.MaxCount != 128 {
		t.Fatalf("max count = %d", cfg.Stack.MaxCount)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadOverridesAndExpands(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"camera": {"driver": "simulator", "gain": 4}, "paths": {"pictures": "~/astro"}, "mount": {"ra_direction": -1}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Camera.Driver != "simulator" || cfg.Camera.Gain != 4 {
		t.Fatalf("camera not overridden: %+v", cfg.Camera)
	}
	if cfg.Camera.Width != 4056 {
		t.Fatalf("unset fields must keep defaults, width = %d", cfg.Camera.Width)
	}
	if want := filepath.Join(home, "astro"); cfg.Paths.Pictures != want {
		t.Fatalf("pictures = %q, want %q", cfg.Paths.Pictures, want)
	}
	if cfg.Mount.RADirection != -1 {
		t.Fatalf("ra direction = %d", cfg.Mount.RADirection)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"camera.driver":   func(c *Config) { c.Camera.Driver = "webcam" },
		"camera.gain":     func(c *Config) { c.Camera.Gain = 20 },
		"stack.max_count": func(c *Config) { c.Stack.MaxCount = 0 },
		"display.fps":     func(c *Config) { c.Display.FPS = 0 },
		"mount.driver":    func(c *Config) { c.Mount.Driver = "parport" },
		"assigned twice":  func(c *Config) { c.Mount.DecPins[0] = c.Mount.RAPins[0] },
		"ra_direction":    func(c *Config) { c.Mount.RADirection = 2 },
		"mechanics":       func(c *Config) { c.Mount.Mechanics.GearIn = 0 },
		"database_driver": func(c *Config) { c.Paths.DatabaseDriver = "postgres" },
	}
	for want, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("%s: got %v", want, err)
		}
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(117.1875); got != 117187500*time.Nanosecond {
		t.Fatalf("Millis = %v", got)
	}
	if got := (Camera{ExposureUS: 250000}).Exposure(); got != 250*time.Millisecond {
		t.Fatalf("Exposure = %v", got)
	}
}

func TestWatcherEmitsReloadedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	w, err := NewWatcher(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	cfg := Default()
	cfg.Display.Brightness = 42
	b, _ := json.Marshal(cfg)
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-w.Updates:
		if got.Display.Brightness != 42 {
			t.Fatalf("brightness = %v", got.Display.Brightness)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}
