package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"astrorig/internal/rig"
	"astrorig/internal/web"

	"github.com/gorilla/mux"
)

// Server exposes the rig's control surface over HTTP.
type Server struct {
	addr   string
	rig    *rig.Rig
	hub    *web.Hub
	log    *slog.Logger
	router *mux.Router
	server *http.Server
}

// NewServer builds the router for r. hub may be nil, which leaves /ws unrouted.
func NewServer(addr string, r *rig.Rig, hub *web.Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr: addr,
		rig:  r,
		hub:  hub,
		log:  log,
	}
	s.router = mux.NewRouter()
	s.setupRoutes(s.router)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.hub != nil {
		go s.hub.Run(ctx)
		rasters, stopRasters := s.rig.Display().Subscribe()
		events, stopEvents := s.rig.Capture().Subscribe()
		go func() {
			defer stopRasters()
			defer stopEvents()
			s.hub.Pump(ctx, rasters, events)
		}()
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/", web.HandleDashboard).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/stream", s.handleCaptureStream).Methods("GET")
	r.HandleFunc("/preview.png", s.handleRaster(false)).Methods("GET")
	r.HandleFunc("/zoom.png", s.handleRaster(true)).Methods("GET")
	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/guide", s.handleGuide).Methods("GET")
	api.HandleFunc("/saves", s.handleSaves).Methods("GET")
	api.HandleFunc("/exposure", s.handleExposure).Methods("POST")
	api.HandleFunc("/gain", s.handleGain).Methods("POST")
	api.HandleFunc("/stack/reset", s.handleStackReset).Methods("POST")
	api.HandleFunc("/stack/save", s.handleStackSave).Methods("POST")
	api.HandleFunc("/stack/show", s.handleStackShow).Methods("POST")
	api.HandleFunc("/threshold", s.handleThreshold).Methods("POST")
	api.HandleFunc("/levels", s.handleLevels).Methods("POST")
	api.HandleFunc("/zoom", s.handleZoom).Methods("POST")
	api.HandleFunc("/dark", s.handleDark).Methods("POST")
	api.HandleFunc("/dark/mode", s.handleDarkMode).Methods("POST")
	api.HandleFunc("/mount/ra/direction", s.handleRADirection).Methods("POST")
	api.HandleFunc("/mount/ra/speed", s.handleRASpeed).Methods("POST")
	api.HandleFunc("/mount/dec/move", s.handleDecMove).Methods("POST")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.rig.Status().Healthy {
		http.Error(w, "capture failing", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleCaptureStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, unsubscribe := s.rig.Capture().Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}
