package server

import (
	"bufio"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrorig/internal/camera"
	"astrorig/internal/config"
	"astrorig/internal/frame"
	"astrorig/internal/gpio"
	"astrorig/internal/imaging"
	"astrorig/internal/rig"
	"astrorig/internal/storage"
)

const (
	testWidth  = 8
	testHeight = 6
)

type fixture struct {
	rig *rig.Rig
	cfg *config.Config
	ts  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, false)
}

func buildFixture(t *testing.T, motors bool) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Camera.Driver = "simulator"
	cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.BitDepth = testWidth, testHeight, 16
	cfg.Stack.MaxCount = 4
	cfg.Display.Scale = 2
	cfg.Display.ZoomHalfWidth = 2
	cfg.Paths.Pictures = t.TempDir()
	cfg.Paths.Darks = t.TempDir()

	store, err := storage.New(filepath.Join(t.TempDir(), "rig.db"))
	require.NoError(t, err)
	settings := camera.NewSettings(cfg.Camera.Exposure(), cfg.Camera.Gain)
	src := camera.NewSimulator(camera.SimulatorConfig{Width: testWidth, Height: testHeight, BitDepth: 16, Seed: 1}, settings)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := rig.Options{
		Config:   cfg,
		Source:   src,
		Settings: settings,
		Store:    store,
		Logger:   logger,
	}
	if motors {
		opts.Bank = gpio.NewRecordingBank(rig.MountConfig(cfg).Pins())
	}
	r, err := rig.New(opts)
	require.NoError(t, err)

	s := NewServer("127.0.0.1:0", r, nil, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		r.Stop()
	})
	return &fixture{rig: r, cfg: cfg, ts: ts}
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st rig.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, f.rig.SessionID(), st.SessionID)
	assert.Equal(t, 4, st.Stack.MaxCount)
	assert.Nil(t, st.Mount)
}

func TestExposureAndGain(t *testing.T) {
	f := newFixture(t)

	resp, out := f.post(t, "/api/exposure", `{"stops": -2}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(250000), out["exposure_us"])

	resp, _ = f.post(t, "/api/exposure", `{"stops": 12}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.post(t, "/api/exposure", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	for _, body := range []string{`{"us": 0}`, `{"us": -5}`} {
		resp, _ = f.post(t, "/api/exposure", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Equal(t, int64(250000), f.rig.Status().ExposureUS, "rejected exposure is not applied")

	resp, out = f.post(t, "/api/gain", `{"gain": 99}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 16.0, out["gain"])

	resp, _ = f.post(t, "/api/gain", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStackSave(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/api/stack/save", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	for i := 0; i < 2; i++ {
		_, err := f.rig.Stack().Add(frame.Filled(testWidth, testHeight, 16, 40))
		require.NoError(t, err)
	}
	resp, out := f.post(t, "/api/stack/save", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out["frame_count"])
	assert.Zero(t, f.rig.Stack().Count())

	resp, err := http.Get(f.ts.URL + "/api/saves")
	require.NoError(t, err)
	defer resp.Body.Close()
	var saves []storage.StackSaveRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saves))
	require.Len(t, saves, 1)
	assert.Equal(t, 2, saves[0].FrameCount)
}

func TestDisplayControls(t *testing.T) {
	f := newFixture(t)

	_, out := f.post(t, "/api/stack/show", "")
	assert.Equal(t, true, out["show_stack"])

	_, out = f.post(t, "/api/threshold", `{"toggle": true, "value": 300}`)
	assert.Equal(t, true, out["on"])
	assert.Equal(t, float64(250), out["value"])

	_, out = f.post(t, "/api/threshold", `{"value": 1}`)
	assert.Equal(t, true, out["on"])
	assert.Equal(t, float64(10), out["value"])

	_, out = f.post(t, "/api/levels", `{"contrast": 0.5}`)
	assert.Equal(t, 0.5, out["contrast"])
	assert.Equal(t, 0.0, out["brightness"])

	_, out = f.post(t, "/api/zoom", `{"x": 100, "y": -3}`)
	assert.Equal(t, float64(testWidth-2), out["x"], "clamped so the window stays on the sensor")
	assert.Equal(t, float64(2), out["y"])

	before := f.rig.Display().Stats().Revision
	_, out = f.post(t, "/api/zoom", `{"x": 1, "y": 1, "preview": true}`)
	assert.Equal(t, float64(2), out["x"], "preview coordinates scale by 2")
	assert.Equal(t, float64(2), out["y"])
	assert.Equal(t, before+1, f.rig.Display().Stats().Revision, "a preview click moves the window once")
}

func TestDarkFrameEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/api/dark/mode", `{"enabled": true}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.post(t, "/api/dark", `{"path": "nope.tif"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, imaging.WriteTIFF16(filepath.Join(f.cfg.Paths.Darks, "small.tif"), frame.Filled(2, 2, 16, 1)))
	resp, _ = f.post(t, "/api/dark", `{"path": "small.tif"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	require.NoError(t, imaging.WriteTIFF16(filepath.Join(f.cfg.Paths.Darks, "dark.tif"), frame.Filled(testWidth, testHeight, 16, 1)))
	resp, out := f.post(t, "/api/dark", `{"path": "dark.tif"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["loaded"])
	assert.Equal(t, false, out["enabled"])

	_, out = f.post(t, "/api/dark/mode", `{"toggle": true}`)
	assert.Equal(t, true, out["enabled"])
}

func TestMountWithoutMotors(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/mount/ra/direction", "/api/mount/ra/speed", "/api/mount/dec/move"} {
		resp, out := f.post(t, path, `{}`)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
		assert.Equal(t, "motors disabled", out["error"], path)
	}
	resp, _ := f.post(t, "/api/mount/ra/speed", `{"interval_ms": -1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDecMoveValidation(t *testing.T) {
	f := buildFixture(t, true)

	resp, out := f.post(t, "/api/mount/dec/move", `{"degrees": 0.01}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 20, out["steps"])

	resp, out = f.post(t, "/api/mount/dec/move", `{"degrees": 1e16}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "invalid dec move")
	assert.Equal(t, int64(20), f.rig.Status().Mount.DecSteps)
}

func TestPreviewAndStream(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/preview.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ts.URL+"/stream", nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	require.NoError(t, f.rig.Start(ctx))

	line, err := bufio.NewReader(stream.Body).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "), line)
	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, "frame", ev["type"])

	require.Eventually(t, func() bool {
		return f.rig.Display().Latest() != nil
	}, 3*time.Second, 10*time.Millisecond)

	for _, path := range []string{"/preview.png", "/zoom.png"} {
		resp, err := http.Get(f.ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		_, err = png.Decode(resp.Body)
		resp.Body.Close()
		assert.NoError(t, err, path)
	}
}
