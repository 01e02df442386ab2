package main

import (
	"context"
	"fmt"
	"os"

	"astrorig/internal/cli"
	"astrorig/internal/config"
	"astrorig/internal/logging"
)

func main() {
	cfgPath, err := config.Path()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config path: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	cmd := cli.NewRootCmd(cfg, cfgPath, logger)
	if err := cli.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}
