// Command vecstorectl runs administrative operations against a vecstore database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/app"
	"github.com/kailas-cloud/vecstore/internal/config"
	logpkg "github.com/kailas-cloud/vecstore/internal/logger"
	"github.com/kailas-cloud/vecstore/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	env        string
	tenant     string
	collection string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "vecstorectl",
		Short:         "Administer a vecstore database",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.env, "env", config.GetEnv(), "config environment (config/<env>.yaml)")
	rootCmd.PersistentFlags().StringVarP(&opts.tenant, "tenant", "t", "", "tenant id")
	rootCmd.PersistentFlags().StringVarP(&opts.collection, "collection", "c", "", "collection name")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Probe the embedding width and apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				return printResult(cmd.OutOrStdout(), opts.jsonOutput, a.Schema().Readiness())
			})
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate-tenant",
		Short: "Move legacy rows into --tenant/--collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Records().MigrateLegacyTenant(ctx, opts.tenant, opts.collection)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts.jsonOutput, map[string]int64{"migrated": n})
			})
		},
	}

	deleteSourceCmd := &cobra.Command{
		Use:   "delete-source <source>",
		Short: "Delete every document ingested from a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Records().DeleteBySource(ctx, opts.tenant, opts.collection, args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts.jsonOutput, map[string]int64{"deleted": n})
			})
		},
	}

	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "List source labels with document counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				sources, err := a.Records().ListSources(ctx, opts.tenant, opts.collection)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printResult(cmd.OutOrStdout(), true, sources)
				}
				for _, s := range sources {
					fmt.Fprintf(cmd.OutOrStdout(), "%8d  %s\n", s.Documents, s.Source)
				}
				return nil
			})
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show document, record, and source counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				st, err := a.Records().Stats(ctx, opts.tenant, opts.collection)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts.jsonOutput, st)
			})
		},
	}

	rootCmd.AddCommand(bootstrapCmd, migrateCmd, deleteSourceCmd, sourcesCmd, statsCmd)
	return rootCmd
}

// withStore loads config, bootstraps the store, runs fn, and closes the store.
func withStore(ctx context.Context, opts *options, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(opts.env)
	if err != nil {
		return err
	}
	logger, err := logpkg.NewLogger(opts.env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		logger.Error("bootstrap failed", zap.Error(err))
		return err
	}
	return fn(ctx, a)
}

func printResult(w io.Writer, asJSON bool, v any) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintf(w, "%+v\n", v)
	return err
}
