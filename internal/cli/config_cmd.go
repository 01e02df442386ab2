package cli

import (
	"fmt"
	"os"

	"astrorig/internal/config"
)

func (r *Root) configShow() error {
	fmt.Fprintf(r.out, "Current configuration:\n")
	cfgPath := os.Getenv(config.EnvConfigPath)
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/astrorig/config.json"
	}
	fmt.Fprintf(r.out, "Config file: %s\n", cfgPath)

	c := r.cfg.Camera
	fmt.Fprintf(r.out, "\nCamera:\n")
	fmt.Fprintf(r.out, "  Driver: %s\n", c.Driver)
	fmt.Fprintf(r.out, "  Sensor: %dx%d, %d-bit\n", c.Width, c.Height, c.BitDepth)
	fmt.Fprintf(r.out, "  Exposure: %s\n", c.Exposure())
	fmt.Fprintf(r.out, "  Gain: %g\n", c.Gain)

	fmt.Fprintf(r.out, "\nStack:\n")
	fmt.Fprintf(r.out, "  Max frames: %d\n", r.cfg.Stack.MaxCount)

	d := r.cfg.Display
	fmt.Fprintf(r.out, "\nDisplay:\n")
	fmt.Fprintf(r.out, "  FPS: %d, scale 1/%d\n", d.FPS, d.Scale)
	fmt.Fprintf(r.out, "  Contrast: %g, brightness: %g\n", d.Contrast, d.Brightness)
	fmt.Fprintf(r.out, "  Zoom half-width: %d, threshold: %d\n", d.ZoomHalfWidth, d.Threshold)

	m := r.cfg.Mount
	fmt.Fprintf(r.out, "\nMount:\n")
	fmt.Fprintf(r.out, "  Enabled: %t\n", m.Enabled)
	fmt.Fprintf(r.out, "  Driver: %s\n", m.Driver)
	fmt.Fprintf(r.out, "  RA pins: %v, DEC pins: %v\n", m.RAPins, m.DecPins)
	fmt.Fprintf(r.out, "  RA direction: %d\n", m.RADirection)

	fmt.Fprintf(r.out, "\nPaths:\n")
	fmt.Fprintf(r.out, "  Pictures: %s\n", r.cfg.Paths.Pictures)
	fmt.Fprintf(r.out, "  Darks: %s\n", r.cfg.Paths.Darks)
	fmt.Fprintf(r.out, "  Database: %s (%s)\n", r.cfg.Paths.DatabasePath, r.cfg.Paths.DatabaseDriver)

	fmt.Fprintf(r.out, "\nServer:\n")
	fmt.Fprintf(r.out, "  HTTP: %s\n", r.cfg.Server.Addr)
	fmt.Fprintf(r.out, "  gRPC: %s\n", r.cfg.Server.GRPCAddr)

	fmt.Fprintf(r.out, "\nLogging:\n")
	fmt.Fprintf(r.out, "  Level: %s, format: %s\n", r.cfg.Logging.Level, r.cfg.Logging.Format)
	fmt.Fprintf(r.out, "  Log directory: %s\n", r.cfg.Logging.LogDir)
	return nil
}

func (r *Root) listSaves(limit int) error {
	store, err := r.storeFactory(r.cfg.Paths.DatabaseDriver, r.cfg.Paths.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.RecentStackSaves(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(r.out, "No stacks saved yet")
		return nil
	}
	for _, rec := range recs {
		dark := ""
		if rec.DarkApplied {
			dark = " dark"
		}
		fmt.Fprintf(r.out, "%s  %3d frames  mean %8.2f%s  %s\n",
			rec.SavedAt.Local().Format("2006-01-02 15:04:05"), rec.FrameCount, rec.Mean, dark, rec.Path)
	}
	return nil
}
