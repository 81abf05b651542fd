package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/iota-uz/policyhub/modules"
	"github.com/iota-uz/policyhub/modules/ingestion"
	"github.com/iota-uz/policyhub/pkg/application"
	"github.com/iota-uz/policyhub/pkg/configuration"
)

type migrateOptions struct {
	dsn     string
	status  bool
	verbose bool
}

func newMigrateCmd() *cobra.Command {
	var opts migrateOptions

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL connection string (default: DB_* environment)")
	cmd.Flags().BoolVar(&opts.status, "status", false, "Print schema versions without migrating")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Log applied migrations to stderr")
	return cmd
}

func runMigrate(ctx context.Context, opts migrateOptions, stdout, stderr io.Writer) error {
	dsn := opts.dsn
	if dsn == "" {
		dsn = configuration.Use().Database.Opts
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("connect: %w", err))
	}
	defer pool.Close()

	app := application.New(&application.ApplicationOptions{
		Pool:   pool,
		Logger: stderrLogger(stderr, opts.verbose),
	})
	if err := modules.Load(app, ingestion.NewModule(nil)); err != nil {
		return withCode(exitUsage, err)
	}

	if !opts.status {
		if err := app.Migrations().Run(ctx); err != nil {
			return withCode(exitDB, err)
		}
	}
	versions, err := app.Migrations().Versions(ctx)
	if err != nil {
		return withCode(exitDB, err)
	}
	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeJSONLine(stdout, map[string]any{"module": name, "version": versions[name]}); err != nil {
			return err
		}
	}
	return nil
}
