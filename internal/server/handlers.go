package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"time"

	"astrorig/internal/frame"
	"astrorig/internal/imaging"
	"astrorig/internal/mount"
	"astrorig/internal/rig"
	"astrorig/internal/stack"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, mount.ErrInvalidDirection),
		errors.Is(err, mount.ErrInvalidMove):
		status = http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, stack.ErrEmpty), errors.Is(err, rig.ErrNoDarkFrame):
		status = http.StatusConflict
	case errors.Is(err, frame.ErrDimensionMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, rig.ErrMotorsDisabled):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decode reads an optional JSON body into v.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rig.Status())
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rig.Guide())
}

func (s *Server) handleSaves(w http.ResponseWriter, r *http.Request) {
	recs, err := s.rig.Store().RecentStackSaves(100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRaster(zoom bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raster := s.rig.Display().Latest()
		if raster == nil {
			http.Error(w, "no frame rendered yet", http.StatusNotFound)
			return
		}
		img := raster.Preview
		if zoom {
			img = raster.Zoom
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := imaging.EncodePNG(w, img); err != nil {
			s.log.Warn("png encode failed", "error", err)
		}
	}
}

type exposureRequest struct {
	US    *int64   `json:"us"`
	Stops *float64 `json:"stops"`
}

func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	var req exposureRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var err error
	switch {
	case req.Stops != nil:
		_, err = s.rig.SetExposureStops(*req.Stops)
	case req.US != nil:
		err = s.rig.SetExposure(time.Duration(*req.US) * time.Microsecond)
	default:
		err = fmt.Errorf("%w: us or stops required", errBadRequest)
	}
	if err != nil {
		if !errors.Is(err, errBadRequest) {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"exposure_us": s.rig.Status().ExposureUS})
}

func (s *Server) handleGain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Gain float64 `json:"gain"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	g, err := s.rig.SetGain(req.Gain)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"gain": g})
}

func (s *Server) handleStackReset(w http.ResponseWriter, r *http.Request) {
	s.rig.ResetStack()
	writeJSON(w, http.StatusOK, map[string]int{"count": s.rig.Stack().Count()})
}

func (s *Server) handleStackSave(w http.ResponseWriter, r *http.Request) {
	rec, err := s.rig.SaveStack()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStackShow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"show_stack": s.rig.ToggleStackShow()})
}

type thresholdRequest struct {
	Toggle bool `json:"toggle"`
	Value  *int `json:"value"`
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	_, current := s.rig.Display().Threshold()
	value := int(current)
	if req.Value != nil {
		value = *req.Value
	}
	if req.Toggle {
		s.rig.ToggleThreshold(value)
	} else {
		s.rig.SetThreshold(value)
	}
	on, level := s.rig.Display().Threshold()
	writeJSON(w, http.StatusOK, map[string]any{"on": on, "value": level})
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	alpha, beta := s.rig.Display().Levels()
	req := struct {
		Contrast   *float64 `json:"contrast"`
		Brightness *float64 `json:"brightness"`
	}{&alpha, &beta}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Contrast == nil || req.Brightness == nil {
		writeError(w, fmt.Errorf("%w: contrast and brightness must be numbers", errBadRequest))
		return
	}
	s.rig.SetLevels(*req.Contrast, *req.Brightness)
	alpha, beta = s.rig.Display().Levels()
	writeJSON(w, http.StatusOK, map[string]float64{"contrast": alpha, "brightness": beta})
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X       int  `json:"x"`
		Y       int  `json:"y"`
		Preview bool `json:"preview"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var c image.Point
	if req.Preview {
		c = s.rig.ClickPreview(req.X, req.Y)
	} else {
		c = s.rig.Click(req.X, req.Y)
	}
	writeJSON(w, http.StatusOK, map[string]int{"x": c.X, "y": c.Y})
}

func (s *Server) handleDark(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, fmt.Errorf("%w: path required", errBadRequest))
		return
	}
	if err := s.rig.LoadDarkFrame(req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.rig.Status().Dark)
}

func (s *Server) handleDarkMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
		Toggle  bool  `json:"toggle"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	on := !s.rig.Capture().DarkMode()
	if !req.Toggle {
		if req.Enabled == nil {
			writeError(w, fmt.Errorf("%w: enabled or toggle required", errBadRequest))
			return
		}
		on = *req.Enabled
	}
	if err := s.rig.ToggleDarkMode(on); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.rig.Status().Dark)
}

func (s *Server) handleRADirection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction int `json:"direction"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.rig.SetRADirection(req.Direction); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"direction": req.Direction})
}

func (s *Server) handleRASpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IntervalMS float64 `json:"interval_ms"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IntervalMS < 0 {
		writeError(w, fmt.Errorf("%w: interval_ms must not be negative", errBadRequest))
		return
	}
	interval := time.Duration(req.IntervalMS * float64(time.Millisecond))
	if err := s.rig.SetRASpeed(interval); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.rig.Status().Mount)
}

func (s *Server) handleDecMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Degrees float64 `json:"degrees"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	steps, err := s.rig.MoveDec(req.Degrees)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"steps": steps})
}
