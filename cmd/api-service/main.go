package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/imgembed/internal/api/handler"
	"github.com/cuongbtq/imgembed/internal/api/router"
	"github.com/cuongbtq/imgembed/internal/api/storage"
	"github.com/cuongbtq/imgembed/internal/config"
	"github.com/cuongbtq/imgembed/shared/logger"
	"github.com/cuongbtq/imgembed/shared/postgresql"
	"github.com/cuongbtq/imgembed/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	configPath := flag.String("config", envOr("API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml"), "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	lg := appLogger.Logger
	lg.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := postgresql.NewClient(cfg.Database.ClientConfig(), lg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if dir := cfg.Database.MigrationsDir; dir != "" {
		applied, err := dbClient.Migrate(ctx, dir)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		lg.Info("Database migrations applied", slog.Int("count", applied))
	}

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), lg)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	srv := newHTTPServer(&cfg.Server, newRouter(cfg.App.Environment, lg, dbClient, rabbitClient))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	lg.Info("API service is running",
		slog.String("address", srv.Addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	lg.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	lg.Info("Server shutdown complete")
	return nil
}

func newHTTPServer(cfg *config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// newRouter wires the batch handlers onto gin
func newRouter(environment string, lg *slog.Logger, dbClient *postgresql.Client, rabbitClient *rabbitmq.Client) *gin.Engine {
	mode := gin.DebugMode
	if environment == "production" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	return router.SetupRouter(&handler.Dependencies{
		Logger:    lg,
		Store:     storage.NewStorage(dbClient.GetDB()),
		Publisher: rabbitClient,
		Health:    dbClient,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
