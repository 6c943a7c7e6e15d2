package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dukerupert/keygate/internal/app"
	"github.com/dukerupert/keygate/internal/config"
	"github.com/dukerupert/keygate/internal/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keygate",
		Short:         "Single-use activation tokens and the access gate behind them",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newIssueCommand())
	cmd.AddCommand(newTokensCommand())
	cmd.AddCommand(newAccountCommand())
	cmd.AddCommand(newCheckCommand())
	return cmd
}

// env loads configuration and a logger for a command.
func env(ctx context.Context) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, logger, nil
}

func openBackend(ctx context.Context, cfg config.Config) (*app.Backend, error) {
	b, err := app.OpenBackend(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}
	return b, nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env(cmd.Context())
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			b.Close()
			logger.Info("migrations applied", "driver", cfg.DBDriver)
			return nil
		},
	}
}
