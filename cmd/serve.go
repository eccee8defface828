package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/veneer/internal/config"
	"github.com/agentic-research/veneer/internal/database"
	"github.com/agentic-research/veneer/internal/webserver"
)

var (
	configDir string
	webRoot   string
	listenOn  string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", "veneer",
		"Directory holding config.hcl, templates/ and migrations/")
	rootCmd.Flags().StringVar(&webRoot, "web-root", "", "Serve this directory instead of the configured web root")
	rootCmd.Flags().StringVar(&listenOn, "listen-on", "", "Bind this address instead of the configured one")
}

var rootCmd = &cobra.Command{
	Use:   "veneer",
	Short: "Veneer: build full web pages out of plain SQL files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if err := database.Migrate(ctx, db, osfs.New(configDir), "migrations"); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}

		srv, err := webserver.New(webserver.Options{
			Config:    cfg,
			DB:        db,
			WebRoot:   osfs.New(cfg.WebRoot),
			Templates: osfs.New(filepath.Join(configDir, "templates")),
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		return srv.Serve(ctx)
	},
}

// loadConfig reads the configuration and applies the command line overrides
// on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if webRoot != "" {
		cfg.WebRoot = webRoot
	}
	if listenOn != "" {
		cfg.ListenOn = listenOn
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.Database, error) {
	return database.Open(ctx, cfg.DatabaseURL, database.Options{
		MaxConnections: cfg.MaxDatabasePoolConnections,
		Retries:        cfg.DatabaseConnectionRetries,
		RetryInterval:  cfg.RetryInterval(),
		AcquireTimeout: cfg.AcquireTimeout(),
	})
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
