package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ltd-collector/internal/collector"
	"ltd-collector/internal/config"
	"ltd-collector/internal/db"
	"ltd-collector/internal/discord"
	"ltd-collector/internal/logging"
	"ltd-collector/internal/ltd"
	"ltd-collector/internal/metrics"
	"ltd-collector/internal/storage"
)

// notifyTimeout bounds the webhook and Pushgateway calls made after a run, which
// use their own context so they still go out after a signal.
const notifyTimeout = 15 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ltd-collector",
		Short:         "Collects Legion TD 2 pro-leak builds from yesterday's games into match_data",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), config.DefaultEnvPaths...)
			if err != nil {
				return err
			}

			logger, closer, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := collector.SetupSignalHandler(cmd.Context(), logger)
			defer cancel()

			if _, err := run(ctx, cfg, logger); err != nil {
				logger.Error().Err(err).Msg("collection failed")
				return err
			}
			return nil
		},
	}
	config.RegisterFlags(cmd.PersistentFlags())
	cmd.AddCommand(statusCmd())
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints when the last successful collection finished",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.DefaultStatusFile
			if f := cmd.Flags().Lookup("status-file"); f != nil && f.Changed {
				path = f.Value.String()
			} else if env := os.Getenv("STATUS_FILE"); env != "" {
				path = env
			}
			completed, err := storage.ReadCompletion(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "last run completed %s (%s ago)\n",
				completed.Format(storage.StatusLayout), time.Since(completed).Round(time.Second))
			return nil
		},
	}
}

// run performs one collection and then records the outcome: the status file on
// success, a Discord message and a metrics push either way.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) (collector.Summary, error) {
	dialer, err := db.NewDialer(db.Dialect(cfg.Database.Driver), cfg.Database.ConnectionString())
	if err != nil {
		return collector.Summary{}, err
	}
	gateway := db.NewGateway(dialer, db.RetryPolicy{
		Attempts:  cfg.Database.ConnectAttempts,
		BaseDelay: cfg.Database.ConnectBaseDelay,
	}, logging.Component(logger, "db"))

	opts := []ltd.Option{ltd.WithLogger(logging.Component(logger, "api"))}
	if cfg.API.BaseURL != "" {
		opts = append(opts, ltd.WithBaseURL(cfg.API.BaseURL))
	}
	if cfg.API.Timeout > 0 {
		opts = append(opts, ltd.WithTimeout(cfg.API.Timeout))
	}
	client := ltd.NewClient(cfg.API.Key, opts...)

	m := metrics.New()
	c := collector.New(client, gateway, collector.Config{
		QueueTypes: cfg.Pipeline.QueueTypes,
		PageSize:   cfg.Pipeline.PageSize,
		PageBudget: cfg.Pipeline.PageBudget,
		Pacing:     cfg.Pipeline.Pacing,
		Dedupe:     cfg.Pipeline.Dedupe,
	},
		collector.WithLogger(logging.Component(logger, "collector")),
		collector.WithMetrics(m),
	)

	start := time.Now()
	summary, runErr := c.Run(ctx)
	runtime := time.Since(start)

	if runErr == nil {
		if err := storage.WriteCompletion(cfg.StatusFile, summary.CompletedAt); err != nil {
			runErr = err
		} else {
			logger.Info().
				Str("path", cfg.StatusFile).
				Time("completed_at", summary.CompletedAt).
				Msg("status file updated")
		}
	}

	notifyCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if cfg.Discord.WebhookURL != "" {
		webhook := discord.NewWebhookClient(cfg.Discord.WebhookURL)
		var err error
		if runErr != nil {
			err = webhook.SendRunFailed(notifyCtx, summary, runErr, runtime)
		} else {
			err = webhook.SendRunCompleted(notifyCtx, summary, runtime)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("failed to send discord notification")
		}
	}

	if cfg.Metrics.PushgatewayURL != "" {
		if err := m.Push(notifyCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn().Err(err).Msg("failed to push metrics")
		}
	}

	return summary, runErr
}
