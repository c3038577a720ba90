// Command tally keeps ledger records in line with off-ledger creator metrics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	service "github.com/okian/tally/internal/app"
	"github.com/okian/tally/internal/config"
	"github.com/okian/tally/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func main() {
	// Only the oracle's own system gauges are exported.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// cli carries the flags shared by every subcommand and the loaded config.
type cli struct {
	configPath string
	simulate   bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "tally",
		Short:         "Metrics to ledger sync oracle",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to a YAML config file (overrides "+config.EnvFile+")")
	root.PersistentFlags().BoolVar(&c.simulate, "simulate", false, "Use the in-process simulated ledger")

	root.AddCommand(
		newServeCmd(c),
		newSyncCmd(c),
		newReportCmd(c),
		newFailedCmd(c),
		newAlertsCmd(c),
		newSeedCmd(c),
	)
	return root
}

// setup loads configuration and initializes logging. Logs go to stderr so
// command output on stdout stays machine readable.
func (c *cli) setup(cmd *cobra.Command) error {
	if c.configPath != "" {
		if err := os.Setenv(config.EnvFile, c.configPath); err != nil {
			return fmt.Errorf("set %s: %w", config.EnvFile, err)
		}
	}
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("simulate") {
		cfg.Simulate = c.simulate
	}

	if err := logger.InitWith(cmd.ErrOrStderr(), logger.Format(cfg.LogFormat)); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(cmd.Context(), "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	c.cfg = cfg
	return nil
}

func (c *cli) openService(ctx context.Context) (*service.Service, error) {
	svc, err := service.New(ctx, c.cfg, service.WithLogger(logger.Get()))
	if err != nil {
		return nil, fmt.Errorf("start service: %w", err)
	}
	return svc, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
