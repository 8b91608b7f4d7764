package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pih/dupfinder/internal/config"
	"github.com/pih/dupfinder/internal/domain/dedupe"
	"github.com/pih/dupfinder/internal/domain/patient"
	"github.com/pih/dupfinder/internal/platform/db"
	"github.com/pih/dupfinder/internal/platform/reporting"
	"github.com/pih/dupfinder/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "dupfinder",
		Short:        "Find candidate duplicate patient records",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional env file with configuration")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(findCmd())
	rootCmd.AddCommand(encodeCmd())
	rootCmd.AddCommand(codesCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(siteCmd())
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("env-file")
	return config.LoadFile(path)
}

// newLogger builds the process logger: a console writer in development,
// JSON lines everywhere else.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// openSitePool connects with search_path pinned to the site's schema.
func openSitePool(ctx context.Context, cfg *config.Config, site string) (*pgxpool.Pool, string, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, "", err
	}
	if site == "" {
		site = cfg.DefaultSite
	}
	schema, err := db.SchemaForSite(site)
	if err != nil {
		return nil, "", err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, schema)
	if err != nil {
		return nil, "", err
	}
	return pool, schema, nil
}

func findCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Run a duplicate finder definition and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			ctx := cmd.Context()

			definitionID, _ := cmd.Flags().GetString("definition")
			snapshot, _ := cmd.Flags().GetString("snapshot")
			site, _ := cmd.Flags().GetString("site")
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			limit, _ := cmd.Flags().GetInt("limit")
			workers, _ := cmd.Flags().GetInt("workers")

			var store patient.Store
			if snapshot != "" {
				mem, err := patient.LoadSnapshotFile(snapshot, dedupe.Soundex{})
				if err != nil {
					return err
				}
				logger.Info().Str("snapshot", snapshot).Int("records", mem.Len()).Msg("loaded snapshot")
				store = mem
			} else {
				pool, schema, err := openSitePool(ctx, cfg, site)
				if err != nil {
					return err
				}
				defer pool.Close()
				logger.Info().Str("schema", schema).Msg("connected to database")
				store = patient.NewRepo(pool)
			}

			catalog, err := dedupe.LoadCatalog(cfg.DedupDefinitionsFile)
			if err != nil {
				return err
			}

			ov := dedupe.Overrides{Limit: limit, Workers: workers}
			if cmd.Flags().Changed("swap") {
				swap, _ := cmd.Flags().GetBool("swap")
				ov.Swap = &swap
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			sink, err := reporting.NewSink(format, w)
			if err != nil {
				return err
			}

			svc := dedupe.NewService(store, dedupe.Soundex{}, catalog, cfg.DedupLinkBaseURL, cfg.DedupWorkers, logger)
			ds, err := svc.Evaluate(ctx, definitionID, ov)
			if err != nil {
				return err
			}
			return sink.Write(ctx, ds)
		},
	}
	cmd.Flags().String("definition", "all-patients", "Definition id to run")
	cmd.Flags().String("snapshot", "", "Read patients from a YAML snapshot instead of the database")
	cmd.Flags().String("site", "", "Site id (defaults to DEFAULT_SITE)")
	cmd.Flags().Int("limit", 0, "Only consider the first N patients of the cohort")
	cmd.Flags().Bool("swap", false, "Match given names against family names")
	cmd.Flags().String("format", "text", "Output format: text, csv or json")
	cmd.Flags().StringP("output", "o", "", "Write the report to a file")
	cmd.Flags().Int("workers", 0, "Parallel lookups (defaults to DEDUP_WORKERS)")
	return cmd
}

func encodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode NAME...",
		Short: "Print the phonetic code of each name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enc dedupe.Soundex
			for _, name := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, enc.Encode(name))
			}
			return nil
		},
	}
}

func codesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Manage stored name codes",
	}

	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute the phonetic codes of every person name",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			site, _ := cmd.Flags().GetString("site")

			pool, schema, err := openSitePool(cmd.Context(), cfg, site)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := dedupe.NewIndexer(patient.NewRepo(pool), dedupe.Soundex{}, logger).Rebuild(cmd.Context())
			if err != nil {
				return fmt.Errorf("rebuild name codes: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d name(s) in %s.\n", n, schema)
			return nil
		},
	}
	rebuildCmd.Flags().String("site", "", "Site id (defaults to DEFAULT_SITE)")
	cmd.AddCommand(rebuildCmd)
	return cmd
}

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, _ := cmd.Flags().GetString("site")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			pool, schema, err := openSitePool(cmd.Context(), cfg, site)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationsFS(dir)).Up(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("site", "", "Site id (defaults to DEFAULT_SITE)")
	upCmd.Flags().String("dir", "", "Read migrations from a directory instead of the bundled set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, _ := cmd.Flags().GetString("site")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			pool, schema, err := openSitePool(cmd.Context(), cfg, site)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("site", "", "Site id (defaults to DEFAULT_SITE)")
	statusCmd.Flags().String("dir", "", "Read migrations from a directory instead of the bundled set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func siteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage site schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a site schema and apply the bundled migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			schema, err := db.CreateSiteSchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Site schema %s is ready.\n", schema)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Site identifier (alphanumeric)")
	cmd.AddCommand(createCmd)
	return cmd
}
