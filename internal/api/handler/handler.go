package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/imgembed/internal/api/model"
	"github.com/cuongbtq/imgembed/internal/api/storage"
)

// BatchStore is the persistence the batch handlers need
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *model.Batch) error
	GetBatchByID(ctx context.Context, batchID string) (*model.Batch, error)
	GetBatchByIdempotencyKey(ctx context.Context, key string) (*model.Batch, error)
	ListBatches(ctx context.Context, filter storage.BatchFilter) ([]model.Batch, error)
	ListBatchItems(ctx context.Context, batchID string) ([]model.BatchItem, error)
	CancelBatch(ctx context.Context, batchID string) error
	DeleteBatch(ctx context.Context, batchID string) error
}

// Publisher enqueues batch messages
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     BatchStore
	Publisher Publisher
	// Health is optional; /health always reports healthy without it
	Health HealthChecker
}

// BatchHandler handles batch-related HTTP requests
type BatchHandler struct {
	logger    *slog.Logger
	storage   BatchStore
	publisher Publisher
}

// NewBatchHandler creates a new BatchHandler instance
func NewBatchHandler(deps *Dependencies) *BatchHandler {
	return &BatchHandler{
		logger:    deps.Logger,
		storage:   deps.Store,
		publisher: deps.Publisher,
	}
}
