package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/config"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/database"
	internalhttp "github.com/yuhao-tubi/multi-language-live-sub001/internal/http"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/http/handlers"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/observability"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/repository"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/scheduler"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/service"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/storage"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the livesub server",
	Long: `Start the livesub HTTP server and API.

The server provides:
- REST API for starting and stopping the republishing stream
- Pipeline status and job history endpoints
- Health check and Prometheus metrics endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "livesub.db", "Database file path")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for working files and fragments")
	serveCmd.Flags().String("playlist-url", "", "HLS playlist URL to ingest")
	serveCmd.Flags().String("ingest-url", "", "RTMP ingest push address")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.path", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("source.playlist_url", serveCmd.Flags().Lookup("playlist-url"))
	mustBindPFlag("publisher.ingest_url", serveCmd.Flags().Lookup("ingest-url"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	layout, err := storage.NewLayout(cfg.Storage)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()

	jobs := repository.NewJobRepository(db)
	metrics := observability.NewMetrics()

	streamService := service.NewStreamService(cfg, jobs, logger, metrics)
	streamService.RecoverOrphans()

	janitor := scheduler.NewJanitor(layout.WorkDir(), cfg.Janitor.MaxAge, logger)
	if removed := janitor.Sweep(); removed > 0 {
		logger.Info("cleaned stale work entries on startup", slog.Int("removed_count", removed))
	}
	if cfg.Janitor.Enabled {
		if err := janitor.Start(cfg.Janitor.Cron); err != nil {
			return fmt.Errorf("starting janitor: %w", err)
		}
		defer janitor.Stop()
	}

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	server.Router().Handle("/metrics", metrics.Handler())

	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB)
	healthHandler.Register(server.API())

	versionHandler := handlers.NewVersionHandler()
	versionHandler.Register(server.API())

	streamHandler := handlers.NewStreamHandler(streamService)
	streamHandler.Register(server.API())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("livesub server started",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return err
		}
		return nil
	}

	streamService.Shutdown(ctx)

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", slog.String("error", err.Error()))
	}

	return nil
}

func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg, viper.DecodeHook(config.DecodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
