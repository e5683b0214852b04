// Package cli provides the farmconnect command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"farmconnect/internal/config"
	"farmconnect/internal/storage"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	configPath string

	cfg        *config.Config
	logger     *slog.Logger
	closeLogFn func() error
)

var rootCmd = &cobra.Command{
	Use:   "farmconnect",
	Short: "Buyer and farmer messaging for the local farm marketplace",
	Long: `farmconnect serves the marketplace messaging API: buyers talk to farmers
about products, new buyer messages are forwarded to the automation webhook,
and the automation system can post replies on a farmer's behalf.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, closeLogFn = config.SetupLogger(cfg.Logging)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogFn != nil {
			closeLogFn()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (JSON or YAML), defaults to $FARMCONNECT_CONFIG or config.json")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openDatabase connects to the configured database and applies the schema.
func openDatabase() (*storage.DB, error) {
	dbType := cfg.BasicConfig.Database
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", "driver", dbType)
	return db, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		return db.Close()
	},
}
