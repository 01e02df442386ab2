package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"astrorig/internal/camera"
	"astrorig/internal/config"
	"astrorig/internal/frame"
	"astrorig/internal/fsutil"
	"astrorig/internal/gpio"
	"astrorig/internal/imaging"
	"astrorig/internal/rig"
	"astrorig/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Camera.Driver = "simulator"
	cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.BitDepth = 8, 6, 16
	cfg.Camera.ExposureUS = 1000
	cfg.Stack.MaxCount = 1000
	cfg.Display.Scale = 2
	cfg.Display.ZoomHalfWidth = 2
	cfg.Mount.Driver = "mock"
	cfg.Mount.DecIntervalMS = 1
	cfg.Paths.Pictures = t.TempDir()
	cfg.Paths.Darks = t.TempDir()
	cfg.Paths.DatabasePath = filepath.Join(t.TempDir(), "astrorig.db")
	return cfg
}

type testRoot struct {
	root   *Root
	out    *bytes.Buffer
	bank   *gpio.RecordingBank
	served atomic.Bool
}

func newTestRoot(t *testing.T, cfg *config.Config) *testRoot {
	t.Helper()
	tr := &testRoot{out: &bytes.Buffer{}}
	root := NewRoot(cfg, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	root.out = tr.out
	root.bankFactory = func(cfg *config.Config, log *slog.Logger) (gpio.OutputBank, error) {
		tr.bank = gpio.NewRecordingBank(rig.MountConfig(cfg).Pins())
		return tr.bank, nil
	}
	root.serveFn = func(ctx context.Context, r *rig.Rig, cfg *config.Config, log *slog.Logger) error {
		tr.served.Store(true)
		<-ctx.Done()
		return nil
	}
	tr.root = root
	return tr
}

func (tr *testRoot) execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd(tr.root)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestRunSimulatedWithMotors(t *testing.T) {
	cfg := testConfig(t)
	tr := newTestRoot(t, cfg)

	err := tr.execute(t, "run", "--simulate", "--motors", "--watch=false", "--save-on-exit", "--for", "300ms")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !tr.served.Load() {
		t.Fatalf("expected control surfaces to be started")
	}
	if tr.bank == nil || !tr.bank.Closed() {
		t.Fatalf("expected gpio bank to be opened and closed")
	}
	if high := tr.bank.High(rig.MountConfig(cfg).Pins()); len(high) != 0 {
		t.Fatalf("expected all coils released, still high: %v", high)
	}
	if !strings.Contains(tr.out.String(), "Saved ") {
		t.Fatalf("expected save message, got %q", tr.out.String())
	}
	files, err := fsutil.ListImages(cfg.Paths.Pictures)
	if err != nil {
		t.Fatalf("list pictures: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(filepath.Base(files[0]), "PCIM") {
		t.Fatalf("expected one stack file, got %v", files)
	}
}

func TestRunWithoutMotorsLeavesGPIOClosed(t *testing.T) {
	tr := newTestRoot(t, testConfig(t))
	if err := tr.execute(t, "run", "--no-server", "--watch=false", "--for", "50ms"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if tr.bank != nil {
		t.Fatalf("gpio should not be opened without --motors")
	}
	if tr.served.Load() {
		t.Fatalf("--no-server should skip the control surfaces")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Camera.Driver = "webcam"
	tr := newTestRoot(t, cfg)
	opened := false
	tr.root.sourceFactory = func(*config.Config, *camera.Settings, *slog.Logger) (camera.Source, error) {
		opened = true
		return nil, errors.New("unreachable")
	}
	err := tr.execute(t, "run", "--watch=false")
	if err == nil || !strings.Contains(err.Error(), "camera.driver") {
		t.Fatalf("expected camera.driver validation error, got %v", err)
	}
	if opened {
		t.Fatalf("camera opened despite invalid config")
	}
}

func TestRunReturnsServeFailure(t *testing.T) {
	tr := newTestRoot(t, testConfig(t))
	boom := errors.New("address in use")
	tr.root.serveFn = func(context.Context, *rig.Rig, *config.Config, *slog.Logger) error {
		return boom
	}
	done := make(chan error, 1)
	go func() { done <- tr.execute(t, "run", "--motors", "--watch=false") }()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected serve error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after serve failure")
	}
	if !tr.bank.Closed() {
		t.Fatalf("expected gpio bank closed after failure")
	}
}

func TestConfigCommands(t *testing.T) {
	cfg := testConfig(t)
	tr := newTestRoot(t, cfg)

	if err := tr.execute(t, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"Driver: simulator", "Sensor: 8x6, 16-bit", "Exposure: 1ms", "RA pins: [6 13 19 26]"} {
		if !strings.Contains(tr.out.String(), want) {
			t.Fatalf("config show missing %q:\n%s", want, tr.out.String())
		}
	}

	tr.out.Reset()
	if err := tr.execute(t, "config", "show", "--json"); err != nil {
		t.Fatalf("config show --json: %v", err)
	}
	if !strings.Contains(tr.out.String(), `"max_count": 1000`) {
		t.Fatalf("json output missing stack settings:\n%s", tr.out.String())
	}

	tr.out.Reset()
	if err := tr.execute(t, "config", "validate"); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	cfg.Mount.DecPins[0] = cfg.Mount.RAPins[0]
	if err := tr.execute(t, "config", "validate"); err == nil {
		t.Fatalf("expected duplicate pin to fail validation")
	}
}

func TestGuideCommand(t *testing.T) {
	tr := newTestRoot(t, config.Default())
	if err := tr.execute(t, "guide"); err != nil {
		t.Fatalf("guide: %v", err)
	}
	if !strings.Contains(tr.out.String(), "Guide interval: 117.1875ms") {
		t.Fatalf("unexpected guide output:\n%s", tr.out.String())
	}
}

func TestDarkInspect(t *testing.T) {
	cfg := testConfig(t)
	tr := newTestRoot(t, cfg)
	path := filepath.Join(cfg.Paths.Darks, "dark.tif")
	if err := imaging.WriteTIFF16(path, frame.Filled(8, 6, 16, 5)); err != nil {
		t.Fatalf("write dark: %v", err)
	}
	if err := tr.execute(t, "dark", "inspect", path); err != nil {
		t.Fatalf("dark inspect: %v", err)
	}
	out := tr.out.String()
	if !strings.Contains(out, "Size: 8x6") || !strings.Contains(out, "Mean: 5.000") {
		t.Fatalf("unexpected inspect output:\n%s", out)
	}
	if strings.Contains(out, "Warning") {
		t.Fatalf("matching dark should not warn:\n%s", out)
	}
	if err := tr.execute(t, "dark", "inspect"); err == nil {
		t.Fatalf("expected missing argument error")
	}

	tr.out.Reset()
	if err := tr.execute(t, "dark", "list"); err != nil {
		t.Fatalf("dark list: %v", err)
	}
	if strings.TrimSpace(tr.out.String()) != path {
		t.Fatalf("unexpected dark list output: %q", tr.out.String())
	}
}

func TestSavesCommand(t *testing.T) {
	cfg := testConfig(t)
	tr := newTestRoot(t, cfg)

	if err := tr.execute(t, "saves"); err != nil {
		t.Fatalf("saves: %v", err)
	}
	if !strings.Contains(tr.out.String(), "No stacks saved yet") {
		t.Fatalf("unexpected empty output: %q", tr.out.String())
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.RecordStackSave(storage.StackSaveRecord{
		SessionID:  "s1",
		Path:       "/pics/PCIM20240309220507.tif",
		FrameCount: 12,
		Mean:       101.5,
		SavedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("record save: %v", err)
	}
	store.Close()

	tr.out.Reset()
	if err := tr.execute(t, "saves", "--limit", "5"); err != nil {
		t.Fatalf("saves: %v", err)
	}
	if !strings.Contains(tr.out.String(), "12 frames") || !strings.Contains(tr.out.String(), "PCIM20240309220507.tif") {
		t.Fatalf("unexpected saves output: %q", tr.out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	tr := newTestRoot(t, config.Default())
	if err := tr.execute(t, "version"); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(tr.out.String(), "astrorig "+Version) {
		t.Fatalf("unexpected version output: %q", tr.out.String())
	}
}
