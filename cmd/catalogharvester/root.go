package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"CatalogHarvester/internal/app"
	"CatalogHarvester/internal/config"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/logging"
)

var errRunFailed = errors.New("one or more runs failed")

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "catalogharvester",
		Short:        "Harvest upstream open data portals into a CKAN catalog",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config path (defaults to $"+config.ConfigPathEnv+")")

	cmd.AddCommand(
		newValidateCmd(opts),
		newRunCmd(opts),
		newGatherCmd(opts),
		newFetchCmd(opts),
		newImportCmd(opts),
		newLastRunCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// withApp loads configuration, builds the application and hands it to fn.
func withApp(ctx context.Context, opts *options, fn func(*app.Application, *slog.Logger) error) error {
	if _, err := config.LoadEnv(config.DefaultEnvFiles...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	return fn(application, logger)
}

func checkReports(reports ...domain.RunReport) error {
	var failed []string
	for _, r := range reports {
		if r.Status == domain.RunFailed {
			failed = append(failed, r.SourceName)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", errRunFailed, failed)
	}
	return nil
}
