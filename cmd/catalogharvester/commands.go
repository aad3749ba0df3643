package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"CatalogHarvester/internal/app"
)

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check configuration of every source against the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application, logger *slog.Logger) error {
				valid, err := a.Validate(cmd.Context())
				for _, src := range valid {
					logger.Info("source is valid", "source", src.Name, "type", src.Type)
				}
				return err
			})
		},
	}
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run [source...]",
		Short: "Run gather, fetch and import for the named sources (all when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application, _ *slog.Logger) error {
				reports, err := a.RunAll(cmd.Context(), args)
				if werr := writeJSON(cmd.OutOrStdout(), reports); werr != nil {
					return werr
				}
				if err != nil {
					return err
				}
				return checkReports(reports...)
			})
		},
	}
}

func newGatherCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "gather <source>",
		Short: "List upstream records and queue work items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application, _ *slog.Logger) error {
				job, err := a.Gather(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), job)
			})
		},
	}
}

func newFetchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <job-id>",
		Short: "Complete the queued work items of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application, logger *slog.Logger) error {
				if err := a.Fetch(cmd.Context(), args[0]); err != nil {
					return err
				}
				logger.Info("fetch finished", "job_id", args[0])
				return nil
			})
		},
	}
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <job-id>",
		Short: "Write the fetched work items of a job to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application, _ *slog.Logger) error {
				report, err := a.Import(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run sources on their frequency and serve triggers, health and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application, _ *slog.Logger) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func newLastRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "last-run <source>",
		Short: "Show the latest journaled run of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application, _ *slog.Logger) error {
				report, err := a.LastRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
