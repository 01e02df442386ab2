package rig

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrorig/internal/camera"
	"astrorig/internal/config"
	"astrorig/internal/frame"
	"astrorig/internal/gpio"
	"astrorig/internal/imaging"
	"astrorig/internal/mount"
	"astrorig/internal/stack"
	"astrorig/internal/storage"
)

const (
	testWidth  = 8
	testHeight = 6
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Camera.Driver = "simulator"
	cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.BitDepth = testWidth, testHeight, 16
	cfg.Stack.MaxCount = 4
	cfg.Display.Scale = 2
	cfg.Display.ZoomHalfWidth = 2
	cfg.Paths.Pictures = filepath.Join(t.TempDir(), "pictures")
	cfg.Paths.Darks = t.TempDir()
	cfg.Mount.Driver = "mock"
	cfg.Mount.DecIntervalMS = 1
	return cfg
}

type harness struct {
	rig   *Rig
	cfg   *config.Config
	bank  *gpio.RecordingBank
	store *storage.Store
}

func newHarness(t *testing.T, motors bool) *harness {
	t.Helper()
	cfg := testConfig(t)
	store, err := storage.New(filepath.Join(t.TempDir(), "rig.db"))
	require.NoError(t, err)

	settings := camera.NewSettings(cfg.Camera.Exposure(), cfg.Camera.Gain)
	src := camera.NewSimulator(camera.SimulatorConfig{Width: testWidth, Height: testHeight, BitDepth: 16, Seed: 3}, settings)

	h := &harness{cfg: cfg, store: store}
	opts := Options{
		Config:       cfg,
		Source:       src,
		Settings:     settings,
		Store:        store,
		Logger:       quietLogger(),
		CameraDriver: "simulator",
		Now:          func() time.Time { return time.Date(2024, 3, 9, 22, 5, 7, 0, time.Local) },
	}
	if motors {
		h.bank = gpio.NewRecordingBank(MountConfig(cfg).Pins())
		opts.Bank = h.bank
	}
	h.rig, err = New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { h.rig.Stop() })
	return h
}

func TestSaveStackWritesMeanAndResets(t *testing.T) {
	h := newHarness(t, false)
	for i := 0; i < 4; i++ {
		ok, err := h.rig.Stack().Add(frame.Filled(testWidth, testHeight, 16, 100))
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := h.rig.Stack().Add(frame.Filled(testWidth, testHeight, 16, 100))
	require.NoError(t, err)
	assert.False(t, ok, "max_count reached")

	snap, err := h.rig.Stack().Snapshot()
	require.NoError(t, err)
	for _, v := range snap.Mean {
		require.InDelta(t, 100, v, 1e-9)
	}

	rec, err := h.rig.SaveStack()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.cfg.Paths.Pictures, "PCIM20240309220507.tif"), rec.Path)
	assert.Equal(t, 4, rec.FrameCount)
	assert.InDelta(t, 100, rec.Mean, 1e-9)
	assert.Zero(t, h.rig.Stack().Count())

	saved, err := imaging.ReadFrame(rec.Path, 16)
	require.NoError(t, err)
	for _, v := range saved.Pix {
		require.Equal(t, uint16(100), v)
	}

	recs, err := h.store.RecentStackSaves(5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, h.rig.SessionID(), recs[0].SessionID)
}

func TestSaveEmptyStackIsReported(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.rig.SaveStack()
	assert.ErrorIs(t, err, stack.ErrEmpty)
	_, statErr := os.Stat(h.cfg.Paths.Pictures)
	assert.True(t, os.IsNotExist(statErr), "nothing written")
}

func TestDarkFrameLoadAndToggle(t *testing.T) {
	h := newHarness(t, false)
	assert.ErrorIs(t, h.rig.ToggleDarkMode(true), ErrNoDarkFrame)

	assert.Error(t, h.rig.LoadDarkFrame("missing.tif"))
	assert.False(t, h.rig.Status().Dark.Loaded)

	good := filepath.Join(h.cfg.Paths.Darks, "dark.tif")
	require.NoError(t, imaging.WriteTIFF16(good, frame.Filled(testWidth, testHeight, 16, 5)))
	require.NoError(t, h.rig.LoadDarkFrame("dark.tif"))
	st := h.rig.Status()
	assert.True(t, st.Dark.Loaded)
	assert.False(t, st.Dark.Enabled, "loading does not enable dark mode")
	assert.Equal(t, good, st.Dark.Path)

	wrong := filepath.Join(h.cfg.Paths.Darks, "small.tif")
	require.NoError(t, imaging.WriteTIFF16(wrong, frame.Filled(2, 2, 16, 5)))
	assert.ErrorIs(t, h.rig.LoadDarkFrame(wrong), frame.ErrDimensionMismatch)
	assert.Equal(t, good, h.rig.Status().Dark.Path, "previous dark kept")
	assert.Equal(t, testWidth, h.rig.Capture().Dark().Width)

	require.NoError(t, h.rig.ToggleDarkMode(true))
	assert.True(t, h.rig.Status().Dark.Enabled)
}

func TestExposureAndGain(t *testing.T) {
	h := newHarness(t, false)
	d, err := h.rig.SetExposureStops(-2)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
	assert.Equal(t, int64(250000), h.rig.Status().ExposureUS)

	_, err = h.rig.SetExposureStops(9)
	assert.Error(t, err)

	g, err := h.rig.SetGain(40)
	require.NoError(t, err)
	assert.Equal(t, 16.0, g)
	g, err = h.rig.SetGain(0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, g)
}

func TestMountOperationsWithoutMotors(t *testing.T) {
	h := newHarness(t, false)
	assert.ErrorIs(t, h.rig.SetRADirection(1), ErrMotorsDisabled)
	assert.ErrorIs(t, h.rig.SetRASpeed(time.Millisecond), ErrMotorsDisabled)
	_, err := h.rig.MoveDec(1)
	assert.ErrorIs(t, err, ErrMotorsDisabled)
	assert.Nil(t, h.rig.Status().Mount)
}

func TestMoveDecRejectsOverflow(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.rig.MoveDec(1e16)
	assert.ErrorIs(t, err, mount.ErrInvalidMove)
	require.NotNil(t, h.rig.Status().Mount)
	assert.Zero(t, h.rig.Status().Mount.DecSteps)

	count, err := h.store.MountCommandCount(h.rig.SessionID())
	require.NoError(t, err)
	assert.Zero(t, count, "rejected move must not be recorded")
}

func TestRunAndStopReleasesHardware(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.rig.Start(context.Background()))

	require.Eventually(t, func() bool {
		return h.rig.Status().Capture.Captured > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.rig.SetRADirection(-1))
	n, err := h.rig.MoveDec(0.01)
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)

	st := h.rig.Status()
	require.NotNil(t, st.Mount)
	assert.True(t, st.Running)
	assert.Equal(t, -1, st.Mount.RADirection)
	assert.True(t, st.Healthy)

	count, err := h.store.MountCommandCount(h.rig.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, h.rig.Stop())
	assert.True(t, h.bank.Closed())
	assert.Empty(t, h.bank.High(MountConfig(h.cfg).Pins()))
	assert.False(t, h.rig.Status().Running)
	assert.Error(t, h.rig.Start(context.Background()))
	assert.NoError(t, h.rig.Stop())
}

func TestGuideFor(t *testing.T) {
	g := GuideFor(config.Default())
	assert.Equal(t, "117.1875ms", g.GuideInterval)
	assert.InDelta(t, 2048, g.StepsPerDeg, 1e-9)
}
