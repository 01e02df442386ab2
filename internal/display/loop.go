package display

import (
	"context"
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"astrorig/internal/frame"
	"astrorig/internal/stack"
)

// SourceKind names where a raster came from.
type SourceKind string

const (
	SourceFrame SourceKind = "frame"
	SourceStack SourceKind = "stack"
)

// Raster is a rendered display cycle.
type Raster struct {
	Preview    *image.Gray
	Zoom       *image.Gray
	ZoomRect   image.Rectangle
	Source     SourceKind
	StackCount int
	Seq        uint64
	At         time.Time
}

// FrameSource yields the most recent raw frame, or nil.
type FrameSource interface {
	Latest() *frame.Frame
}

// StackSource yields the current stack mean.
type StackSource interface {
	Snapshot() (*stack.Snapshot, error)
}

// Options configure the loop.
type Options struct {
	FPS          int
	Scale        int
	Contrast     float64
	Brightness   float64
	HalfWidth    int
	Threshold    int
	SensorWidth  int
	SensorHeight int
}

// DefaultOptions matches the reference rig (HQ sensor, 1/5 preview).
func DefaultOptions() Options {
	return Options{
		FPS:          30,
		Scale:        5,
		Contrast:     1.0 / 16,
		Brightness:   0,
		HalfWidth:    128,
		Threshold:    128,
		SensorWidth:  4056,
		SensorHeight: 3040,
	}
}

// Stats counts loop cycles. Revision counts control changes.
type Stats struct {
	Rendered uint64 `json:"rendered"`
	Idle     uint64 `json:"idle"`
	Revision uint64 `json:"revision"`
}

type renderKey struct {
	source  SourceKind
	seq     uint64
	count   int
	epoch   uint64
	version uint64
}

// Loop renders on a fixed cadence. Ticks missed while rendering are dropped
// by the ticker, never queued.
type Loop struct {
	frames FrameSource
	stack  StackSource
	log    *slog.Logger
	opts   Options

	alpha       atomic.Uint64
	beta        atomic.Uint64
	showStack   atomic.Bool
	thresholdOn atomic.Bool
	threshold   atomic.Uint32
	center      atomic.Pointer[image.Point]
	version     atomic.Uint64

	raster   atomic.Pointer[Raster]
	last     renderKey
	rendered atomic.Uint64
	idle     atomic.Uint64

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	subs      map[int]chan *Raster
	nextSubID int
}

// NewLoop returns a display loop reading frames and stack snapshots.
func NewLoop(frames FrameSource, st StackSource, logger *slog.Logger, opts Options) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.FPS <= 0 {
		opts.FPS = def.FPS
	}
	if opts.Scale <= 0 {
		opts.Scale = def.Scale
	}
	if opts.HalfWidth <= 0 {
		opts.HalfWidth = def.HalfWidth
	}
	if opts.SensorWidth <= 0 || opts.SensorHeight <= 0 {
		opts.SensorWidth, opts.SensorHeight = def.SensorWidth, def.SensorHeight
	}
	l := &Loop{frames: frames, stack: st, log: logger, opts: opts, subs: make(map[int]chan *Raster)}
	l.alpha.Store(math.Float64bits(opts.Contrast))
	l.beta.Store(math.Float64bits(opts.Brightness))
	l.threshold.Store(uint32(ClampThreshold(opts.Threshold)))
	c := image.Pt(opts.SensorWidth/2, opts.SensorHeight/2)
	l.center.Store(&c)
	return l
}

// Start launches the render goroutine.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		l.cancel = cancel
		l.wg.Add(1)
		go l.run(ctx)
	})
}

// Stop cancels the loop and waits for it.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		l.wg.Wait()
		l.mu.Lock()
		for id, ch := range l.subs {
			close(ch)
			delete(l.subs, id)
		}
		l.mu.Unlock()
	})
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(l.opts.FPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r, ok := l.RenderOnce(); ok {
				l.broadcast(r)
			}
		}
	}
}

// RenderOnce renders the current source if anything changed since the last
// cycle. It reports false when there is nothing new to show.
func (l *Loop) RenderOnce() (*Raster, bool) {
	p := l.params()
	version := l.version.Load()

	if l.showStack.Load() && l.stack != nil {
		if snap, err := l.stack.Snapshot(); err == nil {
			key := renderKey{source: SourceStack, count: snap.Count, epoch: snap.Epoch, version: version}
			if key == l.last {
				l.idle.Add(1)
				return nil, false
			}
			preview, zoom := Render(snap.Mean, snap.Width, snap.Height, p)
			return l.publish(key, &Raster{
				Preview:    preview,
				Zoom:       zoom,
				ZoomRect:   ZoomRect(p.Center, p.HalfWidth, image.Rect(0, 0, snap.Width, snap.Height)),
				Source:     SourceStack,
				StackCount: snap.Count,
				At:         time.Now(),
			}), true
		}
	}

	var f *frame.Frame
	if l.frames != nil {
		f = l.frames.Latest()
	}
	if f == nil {
		l.idle.Add(1)
		return nil, false
	}
	key := renderKey{source: SourceFrame, seq: f.Seq, version: version}
	if key == l.last {
		l.idle.Add(1)
		return nil, false
	}
	preview, zoom := Render(f.Pix, f.Width, f.Height, p)
	return l.publish(key, &Raster{
		Preview:  preview,
		Zoom:     zoom,
		ZoomRect: ZoomRect(p.Center, p.HalfWidth, f.Bounds()),
		Source:   SourceFrame,
		Seq:      f.Seq,
		At:       f.Timestamp,
	}), true
}

func (l *Loop) publish(key renderKey, r *Raster) *Raster {
	l.last = key
	l.raster.Store(r)
	l.rendered.Add(1)
	return r
}

func (l *Loop) params() Params {
	return Params{
		Alpha:       math.Float64frombits(l.alpha.Load()),
		Beta:        math.Float64frombits(l.beta.Load()),
		Scale:       l.opts.Scale,
		Center:      *l.center.Load(),
		HalfWidth:   l.opts.HalfWidth,
		ThresholdOn: l.thresholdOn.Load(),
		Threshold:   uint8(l.threshold.Load()),
	}
}

// Latest returns the last rendered raster, or nil.
func (l *Loop) Latest() *Raster {
	return l.raster.Load()
}

// Click recentres the zoom window on sensor coordinates (x, y).
func (l *Loop) Click(x, y int) image.Point {
	c := ClampCenter(image.Pt(x, y), l.opts.HalfWidth, image.Rect(0, 0, l.opts.SensorWidth, l.opts.SensorHeight))
	l.center.Store(&c)
	l.version.Add(1)
	return c
}

// ClickPreview recentres the zoom window on preview coordinates.
func (l *Loop) ClickPreview(x, y int) image.Point {
	return l.Click(x*l.opts.Scale, y*l.opts.Scale)
}

// Center returns the zoom window centre in sensor coordinates.
func (l *Loop) Center() image.Point {
	return *l.center.Load()
}

// SetLevels sets contrast (alpha) and brightness (beta).
func (l *Loop) SetLevels(alpha, beta float64) {
	l.alpha.Store(math.Float64bits(alpha))
	l.beta.Store(math.Float64bits(beta))
	l.version.Add(1)
}

// Levels returns contrast and brightness.
func (l *Loop) Levels() (alpha, beta float64) {
	return math.Float64frombits(l.alpha.Load()), math.Float64frombits(l.beta.Load())
}

// ToggleStackShow flips between the stack mean and the raw feed.
func (l *Loop) ToggleStackShow() bool {
	for {
		old := l.showStack.Load()
		if l.showStack.CompareAndSwap(old, !old) {
			l.version.Add(1)
			return !old
		}
	}
}

// ShowStack reports whether the stack mean is displayed.
func (l *Loop) ShowStack() bool {
	return l.showStack.Load()
}

// ToggleThreshold flips the zoom threshold and sets its level.
func (l *Loop) ToggleThreshold(value int) bool {
	l.threshold.Store(uint32(ClampThreshold(value)))
	for {
		old := l.thresholdOn.Load()
		if l.thresholdOn.CompareAndSwap(old, !old) {
			l.version.Add(1)
			return !old
		}
	}
}

// SetThreshold sets the threshold level without changing whether it is on.
func (l *Loop) SetThreshold(value int) uint8 {
	t := ClampThreshold(value)
	l.threshold.Store(uint32(t))
	l.version.Add(1)
	return t
}

// Threshold returns whether thresholding is on and its level.
func (l *Loop) Threshold() (bool, uint8) {
	return l.thresholdOn.Load(), uint8(l.threshold.Load())
}

// Stats returns loop counters.
func (l *Loop) Stats() Stats {
	return Stats{Rendered: l.rendered.Load(), Idle: l.idle.Load(), Revision: l.version.Load()}
}

// Subscribe returns a channel of rendered rasters and an unsubscribe function.
func (l *Loop) Subscribe() (<-chan *Raster, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSubID
	l.nextSubID++
	ch := make(chan *Raster, 2)
	l.subs[id] = ch
	unsub := func() {
		l.mu.Lock()
		if ch, ok := l.subs[id]; ok {
			close(ch)
			delete(l.subs, id)
		}
		l.mu.Unlock()
	}
	return ch, unsub
}

func (l *Loop) broadcast(r *Raster) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- r:
		default:
		}
	}
}
