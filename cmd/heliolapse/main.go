// SPDX-License-Identifier: MIT

// heliolapse produces a daily solar time-lapse: it assembles a rolling
// window of 15-minute solar imagery, composites two layers per instant into
// a frame, and encodes the frames into video renditions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/log"
	"github.com/heliolapse/heliolapse/internal/run"
)

var version = "dev"

func main() {
	os.Exit(execute())
}

func execute() int {
	var (
		doRun        bool
		doStatus     bool
		validatePath string
		configPath   string
	)

	exitCode := 0
	root := &cobra.Command{
		Use:           "heliolapse",
		Short:         "daily solar time-lapse production pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modes := 0
			for _, on := range []bool{doRun, doStatus, validatePath != ""} {
				if on {
					modes++
				}
			}
			if modes != 1 {
				return fmt.Errorf("exactly one of --run, --status or --validate is required")
			}

			cfg, err := config.NewLoader(configPath).Load()
			if err != nil {
				return err
			}

			log.Configure(log.Config{
				Level:   cfg.LogLevel,
				Service: "heliolapse",
				Version: version,
				Pretty:  cfg.LogPretty,
			})

			switch {
			case doRun:
				exitCode = runPass(cmd.Context(), cfg)
			case doStatus:
				exitCode = printStatus(cfg)
			default:
				exitCode = validateTarget(validatePath, cfg)
			}
			return nil
		},
	}

	root.Flags().BoolVar(&doRun, "run", false, "execute one production pass and exit")
	root.Flags().BoolVar(&doStatus, "status", false, "print the last health snapshot")
	root.Flags().StringVar(&validatePath, "validate", "", "validate a frame file or directory")
	root.Flags().StringVar(&configPath, "config", "", "path to YAML config file (default $HELIOLAPSE_CONFIG)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return run.ExitFatal
	}
	return exitCode
}

func runPass(ctx context.Context, cfg config.AppConfig) int {
	return run.NewController(cfg).Execute(ctx)
}
