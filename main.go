package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/logging"
)

const serviceName = "library-circulation"

// flags shared by every subcommand; empty values fall back to the environment.
var (
	envFile  string
	dbURL    string
	dbDriver string
)

func main() {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library circulation manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to read before the environment")
	root.PersistentFlags().StringVar(&dbURL, "db", "", "database path or URL (overrides DATABASE_URL)")
	root.PersistentFlags().StringVar(&dbDriver, "driver", "", "database driver: sqlite3 or postgres (overrides DB_DRIVER)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newShellCmd(),
		newExportCmd(),
		newQRCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if dbDriver != "" {
		cfg.Database.Driver = dbDriver
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	mgr    *library.LibraryManager
	redis  *redis.Client
}

// openApp loads configuration, builds the logger and opens the manager. With
// events set and REDIS_ADDR configured, committed circulation changes are
// published to the Redis stream.
func openApp(ctx context.Context, events bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, err
	}

	opts := []library.Option{
		library.WithPolicy(cfg.Policy()),
		library.WithLogger(logger),
		library.WithMetadataLookup(library.NewMetadataClient(
			cfg.Metadata.GoogleURL, cfg.Metadata.OpenLibraryURL, cfg.Metadata.Timeout, logger)),
	}

	a := &app{cfg: cfg, logger: logger}
	if events && cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, circulation events may be dropped", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
		opts = append(opts, library.WithEventPublisher(
			library.NewRedisStreamPublisher(a.redis, cfg.Redis.Stream, 10000)))
	}

	db, err := library.NewDatabase(cfg.Database.Driver, cfg.Database.URL, cfg.Pool())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.mgr = library.NewLibraryManager(db, opts...)
	logger.Debug("database opened",
		zap.String("driver", cfg.Database.Driver),
		zap.Int("loan_period_days", cfg.Circulation.LoanPeriodDays))
	return a, nil
}

func (a *app) close() {
	if a.mgr != nil {
		if err := a.mgr.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.mgr.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Schema is up to date (%s).\n", a.cfg.Database.Driver)
			return nil
		},
	}
}
