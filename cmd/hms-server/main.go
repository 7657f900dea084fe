package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hms-server",
		Short:        "IPD bed occupancy and billing API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(facilityCmd())
	root.AddCommand(previewCmd())
	return root
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config, searchPath string) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
		AppName:         "hms-server",
		SearchPath:      searchPath,
	})
}

// migrationFiles returns the embedded migrations, or dir when one is given.
func migrationFiles(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations on a facility schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if facility == "" {
				facility = cfg.DefaultFacility
			}
			if !db.ValidFacilityID(facility) {
				return fmt.Errorf("invalid facility identifier: %s", facility)
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(facility)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigratorFS(pool, migrationFiles(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("facility", "", "Facility whose schema is migrated (default DEFAULT_FACILITY)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if facility == "" {
				facility = cfg.DefaultFacility
			}
			if !db.ValidFacilityID(facility) {
				return fmt.Errorf("invalid facility identifier: %s", facility)
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(facility)
			statuses, err := db.NewMigratorFS(pool, migrationFiles(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migration status for schema: %s\n", schema)
			printStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("facility", "", "Facility whose schema is inspected (default DEFAULT_FACILITY)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatuses(out io.Writer, statuses []db.MigrationStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
		}
		if s.Drifted {
			status = "drifted"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
	}
	w.Flush()
}

func facilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage facility schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a facility schema and apply all migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			if !db.ValidFacilityID(id) {
				return fmt.Errorf("invalid facility identifier: %s", id)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating facility schema: %s\n", db.SchemaFor(id))
			if err := db.CreateFacilitySchema(ctx, pool, id, migrations.FS); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Facility created.")
			return nil
		},
	}
	createCmd.Flags().String("id", "", "Facility identifier (letters, digits, underscore)")
	cmd.AddCommand(createCmd)

	return cmd
}

// previewFlags are the parsed arguments of the preview command.
type previewFlags struct {
	facility  string
	admission uuid.UUID
	from, to  *civil.Date
}

func parsePreviewFlags(cmd *cobra.Command) (previewFlags, error) {
	var pf previewFlags
	pf.facility, _ = cmd.Flags().GetString("facility")

	raw, _ := cmd.Flags().GetString("admission")
	id, err := uuid.Parse(raw)
	if err != nil {
		return pf, fmt.Errorf("--admission must be a uuid: %q", raw)
	}
	pf.admission = id

	for name, dst := range map[string]**civil.Date{"from": &pf.from, "to": &pf.to} {
		v, _ := cmd.Flags().GetString(name)
		if v == "" {
			continue
		}
		d, err := civil.ParseDate(v)
		if err != nil {
			return pf, fmt.Errorf("--%s must be YYYY-MM-DD: %q", name, v)
		}
		*dst = &d
	}
	return pf, nil
}

func previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the room charges an admission would be billed, without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			pf, err := parsePreviewFlags(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if pf.facility == "" {
				pf.facility = cfg.DefaultFacility
			}
			if !db.ValidFacilityID(pf.facility) {
				return fmt.Errorf("invalid facility identifier: %s", pf.facility)
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, db.SchemaFor(pf.facility))
			if err != nil {
				return err
			}
			defer pool.Close()

			app, err := buildApp(cfg, pool, zerolog.Nop())
			if err != nil {
				return err
			}
			p, err := app.ipd.Preview(ctx, pf.admission, pf.from, pf.to)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
	cmd.Flags().String("facility", "", "Facility schema to read (default DEFAULT_FACILITY)")
	cmd.Flags().String("admission", "", "Admission id")
	cmd.Flags().String("from", "", "First day, YYYY-MM-DD (default admission day)")
	cmd.Flags().String("to", "", "Last day, YYYY-MM-DD (default discharge day or today)")
	return cmd
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	app, err := buildApp(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	e := newServer(cfg, pool, app, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("facility_tz", cfg.FacilityTimezone).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
