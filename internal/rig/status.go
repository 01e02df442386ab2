package rig

import (
	"astrorig/internal/display"
	"astrorig/internal/mount"
	"astrorig/internal/pipeline"
)

// Status is the snapshot served by /api/status and the gRPC health checks.
type Status struct {
	SessionID  string             `json:"session_id"`
	Running    bool               `json:"running"`
	ExposureUS int64              `json:"exposure_us"`
	Gain       float64            `json:"gain"`
	Stack      StackStatus        `json:"stack"`
	Dark       DarkStatus         `json:"dark"`
	Display    DisplayStatus      `json:"display"`
	Capture    pipeline.Counters  `json:"capture"`
	Slot       pipeline.SlotStats `json:"latest_slot"`
	Healthy    bool               `json:"capture_healthy"`
	Mount      *mount.Status      `json:"mount,omitempty"`
}

// StackStatus reports accumulator fill.
type StackStatus struct {
	Count    int `json:"count"`
	MaxCount int `json:"max_count"`
}

// DarkStatus reports calibration state.
type DarkStatus struct {
	Enabled bool   `json:"enabled"`
	Loaded  bool   `json:"loaded"`
	Path    string `json:"path,omitempty"`
}

// DisplayStatus reports rendering parameters.
type DisplayStatus struct {
	ShowStack   bool          `json:"show_stack"`
	ThresholdOn bool          `json:"threshold_on"`
	Threshold   uint8         `json:"threshold"`
	Contrast    float64       `json:"contrast"`
	Brightness  float64       `json:"brightness"`
	ZoomX       int           `json:"zoom_x"`
	ZoomY       int           `json:"zoom_y"`
	Stats       display.Stats `json:"stats"`
}

// Status snapshots every subsystem without blocking the loops.
func (r *Rig) Status() Status {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	counters := r.capture.Counters()
	thOn, th := r.display.Threshold()
	alpha, beta := r.display.Levels()
	c := r.display.Center()

	st := Status{
		SessionID:  r.sessionID,
		Running:    running,
		ExposureUS: r.settings.Exposure().Microseconds(),
		Gain:       r.settings.Gain(),
		Stack:      StackStatus{Count: r.acc.Count(), MaxCount: r.acc.MaxCount()},
		Dark: DarkStatus{
			Enabled: r.capture.DarkMode(),
			Loaded:  r.capture.Dark() != nil,
		},
		Display: DisplayStatus{
			ShowStack:   r.display.ShowStack(),
			ThresholdOn: thOn,
			Threshold:   th,
			Contrast:    alpha,
			Brightness:  beta,
			ZoomX:       c.X,
			ZoomY:       c.Y,
			Stats:       r.display.Stats(),
		},
		Capture: counters,
		Slot:    r.capture.Slot().Stats(),
		Healthy: r.cfg.Server.ErrorLimit <= 0 || counters.ConsecutiveErrors < uint64(r.cfg.Server.ErrorLimit),
	}
	if p := r.darkPath.Load(); p != nil {
		st.Dark.Path = *p
	}
	if r.mount != nil {
		ms := r.mount.Status()
		st.Mount = &ms
	}
	return st
}
