package main

import (
	"errors"
	"fmt"

	"github.com/okian/tally/internal/adapters/source"
	"github.com/okian/tally/internal/config"
	"github.com/okian/tally/internal/seed"
	"github.com/okian/tally/pkg/logger"
	"github.com/spf13/cobra"
)

// errReplayFailed marks a replay that reached the ledger and failed again.
var errReplayFailed = errors.New("replay failed")

func newSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync batch and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			sum, err := svc.SyncAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
}

func newReportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the health report as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			rep, err := svc.Report(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		},
	}
}

func newFailedCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect and replay failed actions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List failed actions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := c.openService(cmd.Context())
				if err != nil {
					return err
				}
				defer svc.Close()

				recs, err := svc.FailedActions(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, recs)
			},
		},
		&cobra.Command{
			Use:   "retry <id>",
			Short: "Replay one failed action",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := c.openService(cmd.Context())
				if err != nil {
					return err
				}
				defer svc.Close()

				res, err := svc.RetryFailedAction(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd, res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("%w: %s", errReplayFailed, res.ErrorClass)
				}
				return nil
			},
		},
	)
	return cmd
}

func newAlertsCmd(c *cli) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			alerts, err := svc.Alerts(cmd.Context(), !all)
			if err != nil {
				return err
			}
			return printJSON(cmd, alerts)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include resolved alerts")
	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return svc.ResolveAlert(cmd.Context(), args[0])
		},
	})
	return cmd
}

// errSeedSource is returned when seeding is asked of a non-SQLite source.
var errSeedSource = errors.New("seed requires source=sqlite")

func newSeedCmd(c *cli) *cobra.Command {
	var (
		count  int
		seedN  uint64
		wallet float64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write synthetic creator metrics into the SQLite source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Source != config.SourceSQLite {
				return errSeedSource
			}
			ctx := cmd.Context()
			src, err := source.OpenSQLite(ctx, c.cfg.SQLiteDSN)
			if err != nil {
				return err
			}
			defer src.Close()
			if err := src.EnsureSchema(ctx); err != nil {
				return err
			}

			opts := []seed.Option{seed.WithWalletRatio(wallet), seed.WithLogger(logger.Get())}
			if cmd.Flags().Changed("seed") {
				opts = append(opts, seed.WithSeed(seedN))
			}
			byTier, err := seed.New(opts...).Populate(ctx, src, count)
			if err != nil {
				return err
			}
			out := make(map[string]int, len(byTier))
			for t, n := range byTier {
				out[t.String()] = n
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().IntVar(&count, "count", 100, "Number of creators to generate")
	cmd.Flags().Uint64Var(&seedN, "seed", 0, "Random seed for reproducible output")
	cmd.Flags().Float64Var(&wallet, "wallet-ratio", 1, "Share of creators with a wallet address")
	return cmd
}
