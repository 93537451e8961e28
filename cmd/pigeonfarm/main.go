package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pigeonfarm/internal/app"
	"pigeonfarm/internal/config"
	"pigeonfarm/internal/db"
	"pigeonfarm/internal/logger"
	"pigeonfarm/internal/repositories"
)

// @title                       PigeonFarm API
// @version                     1.0
// @description                 Восстановление доступа к аккаунту PigeonFarm по одноразовому коду.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type runtime struct {
	cfg *config.Config
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		rt         runtime
	)

	cmd := &cobra.Command{
		Use:           "pigeonfarm",
		Short:         "PigeonFarm account recovery service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.New(cfg.Env, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(log)
			rt = runtime{cfg: cfg, log: log}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the YAML config file (empty: environment only)")

	cmd.AddCommand(newServeCommand(&rt))
	cmd.AddCommand(newMigrateCommand(&rt))
	cmd.AddCommand(newPruneCommand(&rt))
	return cmd
}

func newServeCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
}

func newMigrateCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(cmd.Context(), rt.cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := db.Migrate(cmd.Context(), database); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			rt.log.Info("[migrate] done")
			return nil
		},
	}
}

func newPruneCommand(rt *runtime) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete reset codes that expired or were used before the cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}
			database, err := db.Open(cmd.Context(), rt.cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer database.Close()

			cutoff := time.Now().Add(-olderThan)
			n, err := repositories.NewPasswordResetRepository(database).DeleteStale(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			rt.log.Info("[prune] stale reset codes deleted", zap.Int64("count", n), zap.Time("cutoff", cutoff))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age cutoff for expired or used codes")
	return cmd
}
