// Package worker consumes batch messages from RabbitMQ and runs each claimed
// batch through the embed pipeline, one batch at a time.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	imgdomain "github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/orchestrator"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/cuongbtq/imgembed/internal/worker/domain"
	"github.com/cuongbtq/imgembed/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// BatchStore is the persistence the worker needs
type BatchStore interface {
	ClaimBatch(ctx context.Context, batchID, workerID string) (*domain.Batch, error)
	SaveItem(ctx context.Context, batchID string, position int, item imgdomain.BatchItem) error
	UpdateBatchStatus(ctx context.Context, batchID, status string, summary domain.Summary, errorMsg string) error
	RequeueBatch(ctx context.Context, batchID, errorMsg string) error
	UpdateBatchHeartbeat(ctx context.Context, batchID string) error
}

// Runner processes the documents of one batch
type Runner interface {
	Run(ctx context.Context, paths []string) []imgdomain.BatchItem
}

// RunnerFactory builds a runner for one batch. Records are sent to sink in
// addition to the runner's own outputs.
type RunnerFactory func(opts orchestrator.Options, sink report.Sink) Runner

// acknowledger acks or nacks deliveries by tag
type acknowledger interface {
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             BatchStore
	RabbitClient      *rabbitmq.Client
	NewRunner         RunnerFactory
	DefaultOptions    orchestrator.Options
	WorkerID          string
	QueueName         string
	PrefetchCount     int
	BatchTimeout      time.Duration
	HeartbeatInterval time.Duration
}

// Worker represents the background batch worker
type Worker struct {
	logger            *slog.Logger
	store             BatchStore
	rabbitClient      *rabbitmq.Client
	newRunner         RunnerFactory
	defaultOptions    orchestrator.Options
	workerID          string
	rabbitMQQueueName string
	prefetchCount     int
	batchTimeout      time.Duration
	heartbeatInterval time.Duration
	batchesChan       chan *domain.BatchMessage
	acker             func() acknowledger
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	w := &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		rabbitClient:      cfg.RabbitClient,
		newRunner:         cfg.NewRunner,
		defaultOptions:    cfg.DefaultOptions,
		workerID:          cfg.WorkerID,
		rabbitMQQueueName: cfg.QueueName,
		prefetchCount:     prefetch,
		batchTimeout:      cfg.BatchTimeout,
		heartbeatInterval: heartbeat,
		batchesChan:       make(chan *domain.BatchMessage),
		stopChan:          make(chan struct{}),
	}

	w.acker = func() acknowledger {
		if w.rabbitClient == nil {
			return nil
		}
		ch := w.rabbitClient.GetChannel()
		if ch == nil {
			return nil
		}
		return ch
	}

	return w
}

// Start begins processing batches and blocks until ctx is canceled. It
// returns an error when the broker closes the delivery channel.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
		slog.Duration("batch_timeout", w.batchTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.startProcessing(ctx)
	return w.startMessageDispatcher(ctx, deliveries)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

var _ acknowledger = (*amqp.Channel)(nil)
