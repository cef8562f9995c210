package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oriys/dg/internal/logging"
	"github.com/oriys/dg/internal/observability"
	"github.com/oriys/dg/internal/svcconfig"
	"github.com/spf13/cobra"
)

// settingsPath is where the ambient per-machine config lives (spec §6's
// config service URL, SMTP relay, tracing/metrics toggles), grounded on
// svcconfig.Default's conventional install location.
var settingsPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "dg",
		Short: "dg - bare-metal fleet deployment orchestrator",
		Long:  "dg deploys and republishes bare-metal machine images across a fleet of hosts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := svcconfig.Load(settingsPath)
			if err != nil {
				return err
			}
			loadedConfig = cfg

			logging.SetLevelFromString(os.Getenv("DG_LOG_LEVEL"))

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Exporter:    cfg.Tracing.Exporter,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Shutdown(context.Background())
		},
	}

	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "/etc/dg/config.yaml", "path to the ambient per-machine config file")

	rootCmd.AddCommand(
		deployCmd(),
		snapshotCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// loadedConfig is the ambient config resolved by the root command's
// PersistentPreRunE, read by deploy.go for the default SMTP relay.
var loadedConfig svcconfig.Config

// exitCodeFor maps a returned error onto spec §7's process exit codes: an
// *exitError carries its own precise code, anything else is a generic
// failure.
func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}
