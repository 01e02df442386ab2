package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime"

	"astrorig/internal/config"
	"astrorig/internal/fsutil"
	"astrorig/internal/imaging"
	"astrorig/internal/rig"
	"astrorig/internal/stack"

	"github.com/spf13/cobra"
)

// Version is reported by the version command.
var Version = "v0.3.0-dev"

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, cfgPath string, log *slog.Logger) *cobra.Command {
	return newRootCmd(NewRoot(cfg, cfgPath, log))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "astrorig",
		Short: "astrorig drives a live-stacking camera and a two-axis tracking mount",
		Long: `astrorig captures raw frames, live-stacks them into a running mean,
renders a preview with a zoomed inspection window, and drives the RA and DEC
steppers of a tracking mount.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(root.out)

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newGuideCmd(root))
	rootCmd.AddCommand(newDarkCmd(root))
	rootCmd.AddCommand(newSavesCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newRunCmd(root *Root) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture, stack and track until interrupted",
		Long: `Run the capture pipeline, the preview loop and (with --motors) the mount
controller. The HTTP console and gRPC health endpoint are served unless
--no-server is given.

Examples:
  # Live-stack from the Raspberry Pi camera with tracking
  astrorig run --motors

  # Try the console without hardware
  astrorig run --simulate --addr :8080

  # Dark-subtracted run that saves the stack on exit
  astrorig run --motors --dark dark-120s.tif --save-on-exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting rig",
				"simulate", opts.Simulate,
				"motors", opts.Motors,
				"addr", opts.Addr,
			)
			return root.cmdRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Motors, "motors", false, "drive the RA and DEC steppers")
	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "use the synthetic star-field camera")
	cmd.Flags().BoolVar(&opts.NoServer, "no-server", false, "do not serve the HTTP console or gRPC health")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "re-apply exposure, gain and display settings when the config file changes")
	cmd.Flags().BoolVar(&opts.SaveOnExit, "save-on-exit", false, "write the stack before shutting down")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP console address (default from config)")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", "", "gRPC health address (default from config)")
	cmd.Flags().StringVar(&opts.Dark, "dark", "", "dark frame to load and enable")
	cmd.Flags().DurationVar(&opts.For, "for", 0, "stop after this long (0 runs until interrupted)")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate astrorig configuration",
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(root.out)
				enc.SetIndent("", "  ")
				return enc.Encode(root.cfg)
			}
			return root.configShow()
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print the full configuration as JSON")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				root.log.Error("configuration validation", "status", "invalid", "error", err)
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(root.out, "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newGuideCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "guide",
		Short: "Print the sidereal tracking clock for the configured mechanics",
		RunE: func(cmd *cobra.Command, args []string) error {
			g := rig.GuideFor(root.cfg)
			fmt.Fprintf(root.out, "Degrees per step: %.9f\n", g.DegPerStep)
			fmt.Fprintf(root.out, "Steps per degree: %.4f\n", g.StepsPerDeg)
			fmt.Fprintf(root.out, "Sidereal rate: %.9f deg/s\n", g.SiderealRate)
			fmt.Fprintf(root.out, "Guide interval: %s\n", g.GuideInterval)
			return nil
		},
	}
}

func newDarkCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dark",
		Short: "Inspect calibration frames",
	}
	inspect := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the size and statistics of a dark frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.darkInspect(args[0])
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List calibration frames in the darks directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.darkList()
		},
	}
	cmd.AddCommand(inspect, list)
	return cmd
}

func newSavesCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "saves",
		Short: "List recently saved stacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.listSaves(limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of saves to list")
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(root.out, "astrorig %s\n", Version)
			fmt.Fprintf(root.out, "Built with Go %s\n", runtime.Version())
		},
	}
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, cmd *cobra.Command) error {
	return cmd.ExecuteContext(ctx)
}

// darkInspect reads a calibration frame through the same decoder the rig uses.
func (r *Root) darkInspect(path string) error {
	f, err := imaging.ReadFrame(path, r.cfg.Camera.BitDepth)
	if err != nil {
		return err
	}
	acc := stack.NewAccumulator(1)
	if _, err := acc.Add(f); err != nil {
		return err
	}
	snap, err := acc.Snapshot()
	if err != nil {
		return err
	}
	st := snap.Stats()
	fmt.Fprintf(r.out, "File: %s\n", path)
	fmt.Fprintf(r.out, "Size: %dx%d\n", f.Width, f.Height)
	if f.Width != r.cfg.Camera.Width || f.Height != r.cfg.Camera.Height {
		fmt.Fprintf(r.out, "Warning: sensor is %dx%d\n", r.cfg.Camera.Width, r.cfg.Camera.Height)
	}
	fmt.Fprintf(r.out, "Mean: %.3f  StdDev: %.3f  Min: %.0f  Max: %.0f\n", st.Mean, st.StdDev, st.Min, st.Max)
	return nil
}

func (r *Root) darkList() error {
	files, err := fsutil.ListImages(r.cfg.Paths.Darks)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(r.out, "No dark frames in %s\n", r.cfg.Paths.Darks)
		return nil
	}
	for _, f := range files {
		fmt.Fprintln(r.out, f)
	}
	return nil
}
