package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/sequential/catalog"
	"github.com/petal-labs/sequential/config"
	"github.com/petal-labs/sequential/server"
	"github.com/petal-labs/sequential/store"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sequence HTTP server",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to sequential.yaml (default: ./sequential.yaml, then ~/.sequential/config.yaml)")
	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("sqlite-path", "", "Path to SQLite database (default: ~/.sequential/sequential.db)")
	cmd.Flags().Bool("memory", false, "Keep sequences in memory only")
	cmd.Flags().String("persist", string(catalog.PersistSync), "Persistence mode: sync or scheduled")
	cmd.Flags().String("flush-schedule", catalog.DefaultFlushSchedule, "UTC cron schedule for scheduled persistence")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace endpoint (host:port)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")

	return cmd
}

// resolveServeConfig loads the config file and applies explicitly set flags
// over it.
func resolveServeConfig(cmd *cobra.Command) (config.File, string, error) {
	explicitConfigPath, _ := cmd.Flags().GetString("config")
	path, found, err := config.DiscoverPath(explicitConfigPath)
	if err != nil {
		return config.File{}, "", exitError(exitFileNotFound, "%v", err)
	}
	if !found {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.File{}, "", exitError(exitConfig, "%v", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-body") {
		cfg.Server.MaxBodyBytes, _ = flags.GetInt64("max-body")
	}
	if flags.Changed("sqlite-path") {
		cfg.Storage.Path, _ = flags.GetString("sqlite-path")
		cfg.Storage.Driver = config.DriverSQLite
	}
	if memory, _ := flags.GetBool("memory"); memory {
		cfg.Storage.Driver = config.DriverMemory
	}
	if flags.Changed("persist") {
		mode, _ := flags.GetString("persist")
		cfg.Storage.Mode = catalog.PersistMode(mode)
	}
	if flags.Changed("flush-schedule") {
		cfg.Storage.FlushSchedule, _ = flags.GetString("flush-schedule")
	}
	if flags.Changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint, _ = flags.GetString("otlp-endpoint")
	}
	if dsn := strings.TrimSpace(os.Getenv("SEQUENTIAL_SQLITE_PATH")); dsn != "" && !flags.Changed("sqlite-path") && cfg.Storage.Path == "" {
		cfg.Storage.Path = dsn
	}

	if err := cfg.Validate(); err != nil {
		return config.File{}, "", exitError(exitValidation, "%v", err)
	}
	return cfg, path, nil
}

// openStore returns the configured store and a function that closes it.
func openStore(cfg config.File) (store.Store, func() error, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		return store.NewMemStore(), func() error { return nil }, nil
	}
	dsn, err := cfg.SQLitePath()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving sqlite path: %w", err)
	}
	s, err := store.NewSQLiteStore(store.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite sequence store: %w", err)
	}
	return s, s.Close, nil
}

// prepareCatalog opens the store, restores persisted sequences and creates
// configured sequences that do not exist yet.
func prepareCatalog(ctx context.Context, cfg config.File, logger *slog.Logger) (*catalog.Catalog, func() error, error) {
	st, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	c, err := catalog.New(catalog.Config{
		Store:  st,
		Mode:   cfg.Storage.Mode,
		Logger: logger,
	})
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	if _, err := c.Load(ctx); err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	for _, def := range cfg.Sequences {
		_, err := c.Create(ctx, def)
		switch {
		case err == nil:
			logger.Info("created configured sequence", "name", def.Name, "kind", def.Kind)
		case errors.Is(err, catalog.ErrExists):
			// Persisted state wins over the declaration.
		default:
			_ = closeStore()
			return nil, nil, fmt.Errorf("sequence %q: %w", def.Name, err)
		}
	}
	return c, closeStore, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")

	cfg, configPath, err := resolveServeConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd)
	if configPath != "" {
		logger.Info("loaded config", "path", configPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	c, closeStore, err := prepareCatalog(ctx, cfg, logger)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() {
		_ = closeStore()
	}()

	if c.Mode() == catalog.PersistScheduled {
		flusher, err := catalog.NewFlusher(catalog.FlusherConfig{
			Catalog:  c,
			Schedule: cfg.Storage.FlushSchedule,
			Logger:   logger,
		})
		if err != nil {
			return exitError(exitConfig, "creating flusher: %v", err)
		}
		if err := flusher.Start(ctx); err != nil {
			return exitError(exitRuntime, "starting flusher: %v", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := flusher.Stop(stopCtx); err != nil {
				logger.Error("final flush failed", "error", err)
			}
		}()
	}

	srv := server.NewServer(server.ServerConfig{
		Catalog:    c,
		CORSOrigin: cfg.Server.CORSOrigin,
		MaxBody:    cfg.Server.MaxBodyBytes,
		Logger:     logger,
	})

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "sequential listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, err := cmd.Flags().GetBool("verbose"); err == nil && verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
