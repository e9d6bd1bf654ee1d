package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mypictures/internal/catalog"
	"mypictures/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mypictures",
	Short: "Semantic search for a local photo library",
	Long: `mypictures - index a folder tree of photos and search it by description.

Photos are embedded with a CLIP model and stored with their EXIF metadata
in PostgreSQL (pgvector). Unchanged files are skipped on re-index.

Configuration is read from ./mypictures.yaml (or --config) and overridden
by DATABASE_URL, DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASSWORD and
MYPICTURES_SCAN_PATHS.

Examples:
  mypictures setup
  mypictures index
  mypictures search "a dog playing outside" --limit 10
  mypictures search "birthday party" --after 2022-01-01 --before 2023-01-01
  mypictures serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		globalConfig = cfg
		return configureLogging(cfg.LogLevel)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(serveCmd)
}

func configureLogging(level string) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore connects to the catalog database.
func openStore(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, *catalog.Store, error) {
	pool, err := catalog.Connect(ctx, cfg.ConnString())
	if err != nil {
		return nil, nil, err
	}
	return pool, catalog.New(pool, cfg.Model.Dimension, cfg.Search.EfSearch), nil
}
