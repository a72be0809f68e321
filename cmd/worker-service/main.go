package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/imgembed/internal/config"
	"github.com/cuongbtq/imgembed/internal/engine"
	"github.com/cuongbtq/imgembed/internal/orchestrator"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/cuongbtq/imgembed/internal/worker"
	"github.com/cuongbtq/imgembed/internal/worker/storage"
	"github.com/cuongbtq/imgembed/shared/logger"
	"github.com/cuongbtq/imgembed/shared/postgresql"
	"github.com/cuongbtq/imgembed/shared/rabbitmq"
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

	configPath := flag.String("config", envOr("WORKER_SERVICE_CONFIG_PATH", "configs/worker-service/config.yaml"), "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	lg := appLogger.Logger
	lg.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := postgresql.NewClient(cfg.Database.ClientConfig(), lg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), lg)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	embedEngine, err := engine.New(cfg, lg)
	if err != nil {
		return fmt.Errorf("failed to start drawing host: %w", err)
	}
	defer embedEngine.Close()

	w := worker.NewWorker(&worker.Config{
		Logger:       lg,
		Store:        storage.NewStorage(dbClient.GetDB(), lg),
		RabbitClient: rabbitClient,
		NewRunner: func(opts orchestrator.Options, sink report.Sink) worker.Runner {
			return embedEngine.Orchestrator(opts, sink)
		},
		DefaultOptions:    embedEngine.DefaultOptions(),
		WorkerID:          workerID(),
		QueueName:         cfg.RabbitMQ.Queue.Name,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		BatchTimeout:      cfg.Worker.BatchTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() { errChan <- w.Start(ctx) }()

	lg.Info("Worker service started successfully")

	select {
	case <-ctx.Done():
		lg.Info("Received signal, shutting down gracefully")
	case err := <-errChan:
		stop()
		stopWorker(w, cfg.Worker.ShutdownTimeout, lg)
		if err != nil {
			lg.Error("Worker error", slog.Any("error", err))
			return err
		}
		return nil
	}

	stopWorker(w, cfg.Worker.ShutdownTimeout, lg)
	lg.Info("Worker service shutdown complete")
	return nil
}

// stopWorker waits up to timeout for the in-flight batch to finish
func stopWorker(w *worker.Worker, timeout time.Duration, lg *slog.Logger) {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		lg.Info("Worker stopped gracefully")
	case <-time.After(timeout):
		lg.Warn("Worker shutdown timeout exceeded, forcing exit")
	}
}

// workerID names this process in batch claims
func workerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
