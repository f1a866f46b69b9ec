package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gmorais/opslog/internal/config"
	"github.com/gmorais/opslog/pkg/kv"
	"github.com/gmorais/opslog/pkg/logstore"
	"github.com/gmorais/opslog/pkg/server"
)

var version = "dev"

func main() {
	var (
		configPath string
		dbPath     string
		port       int
	)

	root := &cobra.Command{
		Use:     "opslog",
		Short:   "opslog is an on-device store for failed HTTP calls and AI invocations",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "~/.opslog/config.toml", "Path to config file")
	root.PersistentFlags().StringVar(&dbPath, "db-path", "", "Database path (overrides config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the store with periodic cleanup and the local API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath, dbPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cfg, logger)
		},
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print grouped error and AI-call statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath, dbPath)
			if err != nil {
				return err
			}
			return withStore(cfg, logger, func(store *logstore.Store) error {
				es := store.ErrorStats()
				as := store.AIStats()
				fmt.Printf("errors:   %d total (server %d, client %d, network %d, other %d)\n",
					es.Total, es.ByErrorType.Server, es.ByErrorType.Client,
					es.ByErrorType.Network, es.ByErrorType.Other)
				for _, h := range store.ServiceHistogram() {
					fmt.Printf("  %-30s %d\n", h.Value, h.Count)
				}
				fmt.Printf("ai calls: %d total (%d ok, %d failed), %d tokens\n",
					as.Total, as.Success, as.Failure, as.Usage.TotalTokens)
				for _, h := range store.AIProviderHistogram() {
					fmt.Printf("  %-30s %d\n", h.Value, h.Count)
				}
				return nil
			})
		},
	}

	var exportOut string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export all entries as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath, dbPath)
			if err != nil {
				return err
			}
			return withStore(cfg, logger, func(store *logstore.Store) error {
				data, err := store.ExportJSON()
				if err != nil {
					return err
				}
				if exportOut == "" {
					fmt.Println(data)
					return nil
				}
				return os.WriteFile(exportOut, []byte(data), 0644)
			})
		},
	}
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Write export to file instead of stdout")

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Run one retention pass immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath, dbPath)
			if err != nil {
				return err
			}
			return withStore(cfg, logger, func(store *logstore.Store) error {
				store.RunCleanup()
				store.FlushWait(logstore.CategoryErrors)
				store.FlushWait(logstore.CategoryAICalls)
				return nil
			})
		},
	}

	root.AddCommand(serveCmd, statsCmd, exportCmd, pruneCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path, dbPath string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	return cfg, logger, nil
}

// withStore opens the database and store, runs fn, then flushes and closes.
func withStore(cfg *config.Config, logger zerolog.Logger, fn func(*logstore.Store) error) error {
	db, err := kv.OpenBadger(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store, err := logstore.New(db, cfg, logstore.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}
	defer store.Close()

	return fn(store)
}

func runServe(cfg *config.Config, logger zerolog.Logger) error {
	return withStore(cfg, logger, func(store *logstore.Store) error {
		controller := logstore.NewController(store, logstore.DefaultCleanupInterval, logger)
		controller.Start()
		defer controller.Stop()

		srv := server.New(store, logger)
		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.Start(cfg.Server.Port)
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigChan:
			logger.Info().Msg("shutting down")
			// Drain in-flight requests before the deferred store close.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("server shutdown error")
			}
			return nil
		case err := <-errChan:
			return err
		}
	})
}
