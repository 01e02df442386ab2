package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"astrorig/internal/camera"
	"astrorig/internal/config"
	"astrorig/internal/gpio"
	"astrorig/internal/grpcserver"
	"astrorig/internal/rig"
	"astrorig/internal/server"
	"astrorig/internal/stack"
	"astrorig/internal/storage"
	"astrorig/internal/web"
)

type sourceFactory func(cfg *config.Config, settings *camera.Settings, log *slog.Logger) (camera.Source, error)

type bankFactory func(cfg *config.Config, log *slog.Logger) (gpio.OutputBank, error)

type storeFactory func(driver, path string) (*storage.Store, error)

type serveFunc func(ctx context.Context, r *rig.Rig, cfg *config.Config, log *slog.Logger) error

// defaultServe runs the HTTP console and, when configured, the gRPC health
// endpoint until ctx is cancelled or either fails.
func defaultServe(ctx context.Context, r *rig.Rig, cfg *config.Config, log *slog.Logger) error {
	errCh := make(chan error, 2)
	n := 0
	if cfg.Server.Addr != "" {
		n++
		srv := server.NewServer(cfg.Server.Addr, r, web.NewHub(log), log)
		go func() { errCh <- srv.Start(ctx) }()
	}
	if cfg.Server.GRPCAddr != "" {
		n++
		gs := grpcserver.NewServer(cfg.Server.GRPCAddr, r.Status, log)
		go func() { errCh <- gs.Start(ctx) }()
	}
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

// Root wires CLI commands to the rig.
type Root struct {
	cfg     *config.Config
	cfgPath string
	log     *slog.Logger
	out     io.Writer

	sourceFactory sourceFactory
	bankFactory   bankFactory
	storeFactory  storeFactory
	serveFn       serveFunc
}

// NewRoot constructs the CLI root. cfgPath is watched by run --watch.
func NewRoot(cfg *config.Config, cfgPath string, logger *slog.Logger) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		cfg:           cfg,
		cfgPath:       cfgPath,
		log:           logger,
		out:           os.Stdout,
		sourceFactory: rig.OpenSource,
		bankFactory:   rig.OpenBank,
		storeFactory:  storage.Open,
		serveFn:       defaultServe,
	}
}

// runOptions are the flags of the run command.
type runOptions struct {
	Motors     bool
	Simulate   bool
	NoServer   bool
	Watch      bool
	SaveOnExit bool
	Addr       string
	GRPCAddr   string
	Dark       string
	For        time.Duration
}

// effectiveConfig applies run flags over a copy of the loaded config.
func (r *Root) effectiveConfig(opts runOptions) (*config.Config, error) {
	cfg := *r.cfg
	if opts.Simulate {
		cfg.Camera.Driver = "simulator"
	}
	if opts.Motors {
		cfg.Mount.Enabled = true
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.GRPCAddr != "" {
		cfg.Server.GRPCAddr = opts.GRPCAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// cmdRun drives the rig until interrupted, the run duration elapses, or the
// control surfaces fail.
func (r *Root) cmdRun(ctx context.Context, opts runOptions) error {
	cfg, err := r.effectiveConfig(opts)
	if err != nil {
		return err
	}

	settings := camera.NewSettings(cfg.Camera.Exposure(), cfg.Camera.Gain)
	src, err := r.sourceFactory(cfg, settings, r.log)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	var bank gpio.OutputBank
	if cfg.Mount.Enabled {
		bank, err = r.bankFactory(cfg, r.log)
		if err != nil {
			src.Close()
			return fmt.Errorf("open gpio: %w", err)
		}
	}

	store, err := r.storeFactory(cfg.Paths.DatabaseDriver, cfg.Paths.DatabasePath)
	if err != nil {
		r.log.Warn("session store unavailable, continuing without it", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	}

	rg, err := rig.New(rig.Options{
		Config:       cfg,
		Source:       src,
		Settings:     settings,
		Bank:         bank,
		Store:        store,
		Logger:       r.log,
		CameraDriver: cfg.Camera.Driver,
	})
	if err != nil {
		src.Close()
		if bank != nil {
			bank.Close()
		}
		store.Close()
		return err
	}

	if opts.Dark != "" {
		if err := rg.LoadDarkFrame(opts.Dark); err != nil {
			r.log.Warn("dark frame not loaded", "path", opts.Dark, "error", err)
		} else if err := rg.ToggleDarkMode(true); err != nil {
			r.log.Warn("dark mode not enabled", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.For > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.For)
		defer cancel()
	}

	if err := rg.Start(ctx); err != nil {
		return errors.Join(err, rg.Stop())
	}

	if opts.Watch && r.cfgPath != "" {
		w, err := config.NewWatcher(r.cfgPath, r.log)
		if err != nil {
			r.log.Warn("config watcher unavailable", "path", r.cfgPath, "error", err)
		} else {
			defer w.Stop()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case next, ok := <-w.Updates:
						if !ok {
							return
						}
						r.log.Info("configuration reloaded", "path", r.cfgPath)
						rg.ApplyConfig(next)
					}
				}
			}()
		}
	}

	serveErr := make(chan error, 1)
	if !opts.NoServer {
		go func() { serveErr <- r.serveFn(ctx, rg, cfg, r.log) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		if runErr != nil {
			r.log.Error("control surface failed", "error", runErr)
		} else {
			<-ctx.Done()
		}
	}
	stop()

	if opts.SaveOnExit {
		rec, err := rg.SaveStack()
		switch {
		case errors.Is(err, stack.ErrEmpty):
		case err != nil:
			runErr = errors.Join(runErr, err)
		default:
			fmt.Fprintf(r.out, "Saved %d frames to %s\n", rec.FrameCount, rec.Path)
		}
	}

	return errors.Join(runErr, rg.Stop())
}
