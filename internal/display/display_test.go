package display

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrorig/internal/frame"
	"astrorig/internal/stack"
)

type slot struct{ p atomic.Pointer[frame.Frame] }

func (s *slot) Latest() *frame.Frame { return s.p.Load() }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smallOptions() Options {
	return Options{FPS: 200, Scale: 2, Contrast: 1, HalfWidth: 2, Threshold: 128, SensorWidth: 10, SensorHeight: 8}
}

func TestLevelsAffineClip(t *testing.T) {
	pix := []uint16{0, 10, 100, 300, 1000}
	got := Levels(pix, 5, 1, 0.5, 20)
	assert.Equal(t, []uint8{20, 25, 70, 170, 255}, got.Pix)

	neg := Levels([]float64{0, 10}, 2, 1, 1, -5)
	assert.Equal(t, []uint8{0, 5}, neg.Pix)
}

func TestZoomRectStaysInside(t *testing.T) {
	bounds := image.Rect(0, 0, 4056, 3040)
	cases := []struct {
		click image.Point
		want  image.Rectangle
	}{
		{image.Pt(2000, 1500), image.Rect(1872, 1372, 2128, 1628)},
		{image.Pt(0, 0), image.Rect(0, 0, 256, 256)},
		{image.Pt(5000, 5000), image.Rect(3800, 2784, 4056, 3040)},
	}
	for _, tc := range cases {
		got := ZoomRect(tc.click, 128, bounds)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ZoomRect(%v) mismatch (-want +got):\n%s", tc.click, diff)
		}
	}
	small := ZoomRect(image.Pt(1, 1), 128, image.Rect(0, 0, 100, 50))
	assert.Equal(t, image.Rect(0, 0, 100, 50), small)
}

func TestThresholdBinary(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 1))
	copy(img.Pix, []uint8{0, 128, 129, 255})
	Threshold(img, 128)
	assert.Equal(t, []uint8{0, 0, 255, 255}, img.Pix)
	assert.Equal(t, uint8(MinThreshold), ClampThreshold(0))
	assert.Equal(t, uint8(MaxThreshold), ClampThreshold(300))
}

func TestDownscaleDimensions(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4056, 3040))
	out := Downscale(img, 5)
	assert.Equal(t, image.Rect(0, 0, 811, 608), out.Bounds())
	assert.Same(t, img, Downscale(img, 1))
}

func TestLoopRendersLatestFrame(t *testing.T) {
	s := &slot{}
	l := NewLoop(s, nil, quietLogger(), smallOptions())

	_, ok := l.RenderOnce()
	assert.False(t, ok, "nothing to render yet")

	f := frame.Filled(10, 8, 16, 100)
	f.Seq = 1
	s.p.Store(f)

	r, ok := l.RenderOnce()
	require.True(t, ok)
	assert.Equal(t, SourceFrame, r.Source)
	assert.Equal(t, image.Rect(0, 0, 5, 4), r.Preview.Bounds())
	assert.Equal(t, image.Rect(0, 0, 4, 4), r.Zoom.Bounds())
	assert.Equal(t, uint8(100), r.Zoom.Pix[0])
	assert.Same(t, r, l.Latest())

	_, ok = l.RenderOnce()
	assert.False(t, ok, "unchanged frame is not re-rendered")

	l.SetLevels(2, 0)
	r, ok = l.RenderOnce()
	require.True(t, ok)
	assert.Equal(t, uint8(200), r.Zoom.Pix[0])
	assert.Equal(t, uint64(2), l.Stats().Rendered)
}

func TestLoopShowsStackWhenAvailable(t *testing.T) {
	s := &slot{}
	f := frame.Filled(10, 8, 16, 50)
	s.p.Store(f)
	acc := stack.NewAccumulator(4)
	l := NewLoop(s, acc, quietLogger(), smallOptions())

	assert.True(t, l.ToggleStackShow())
	r, ok := l.RenderOnce()
	require.True(t, ok)
	assert.Equal(t, SourceFrame, r.Source, "empty stack falls back to the raw frame")

	_, err := acc.Add(frame.Filled(10, 8, 16, 10))
	require.NoError(t, err)
	_, err = acc.Add(frame.Filled(10, 8, 16, 30))
	require.NoError(t, err)

	r, ok = l.RenderOnce()
	require.True(t, ok)
	assert.Equal(t, SourceStack, r.Source)
	assert.Equal(t, 2, r.StackCount)
	assert.Equal(t, uint8(20), r.Zoom.Pix[0])
	assert.Equal(t, 2, acc.Count(), "rendering never mutates the stack")

	acc.Reset()
	_, err = acc.Add(frame.Filled(10, 8, 16, 100))
	require.NoError(t, err)
	_, err = acc.Add(frame.Filled(10, 8, 16, 100))
	require.NoError(t, err)

	r, ok = l.RenderOnce()
	require.True(t, ok, "a refilled stack of the same size is a new stack")
	assert.Equal(t, 2, r.StackCount)
	assert.Equal(t, uint8(100), r.Zoom.Pix[0])
}

func TestLoopClickAndThreshold(t *testing.T) {
	s := &slot{}
	f := frame.New(10, 8, 16)
	for i := range f.Pix {
		f.Pix[i] = uint16(i % 10 * 20)
	}
	s.p.Store(f)
	l := NewLoop(s, nil, quietLogger(), smallOptions())

	assert.Equal(t, image.Pt(8, 6), l.Click(100, 100))
	assert.Equal(t, image.Pt(2, 2), l.ClickPreview(0, 0))

	assert.True(t, l.ToggleThreshold(100))
	on, level := l.Threshold()
	assert.True(t, on)
	assert.Equal(t, uint8(100), level)

	r, ok := l.RenderOnce()
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 4, 4), r.ZoomRect)
	for _, v := range r.Zoom.Pix {
		assert.Contains(t, []uint8{0, 255}, v)
	}
	assert.Equal(t, []uint8{0, 0, 0, 0}, r.Zoom.Pix[:4])

	l.Click(8, 4)
	r, ok = l.RenderOnce()
	require.True(t, ok)
	assert.Equal(t, []uint8{255, 255, 255, 255}, r.Zoom.Pix[:4])
	assert.False(t, l.ToggleThreshold(100))
}

func TestLoopBroadcastsOnTicker(t *testing.T) {
	s := &slot{}
	f := frame.Filled(10, 8, 16, 1)
	f.Seq = 7
	s.p.Store(f)
	l := NewLoop(s, nil, quietLogger(), smallOptions())
	ch, unsub := l.Subscribe()
	defer unsub()

	l.Start(context.Background())
	defer l.Stop()
	select {
	case r := <-ch:
		assert.Equal(t, uint64(7), r.Seq)
	case <-time.After(time.Second):
		t.Fatal("no raster broadcast")
	}
}
