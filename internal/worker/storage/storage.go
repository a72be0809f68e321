package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	imgdomain "github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// GetBatchByID retrieves a batch from the database by its ID
func (s *Storage) GetBatchByID(ctx context.Context, batchID string) (*domain.Batch, error) {
	query := `
		SELECT batch_id, paths, options, status, worker_id, retry_count, max_retries, timeout_seconds
		FROM batches
		WHERE batch_id = $1
	`

	var batch domain.Batch
	var paths pq.StringArray
	var options, workerID sql.NullString

	err := s.db.QueryRowContext(ctx, query, batchID).Scan(
		&batch.BatchID,
		&paths,
		&options,
		&batch.Status,
		&workerID,
		&batch.RetryCount,
		&batch.MaxRetries,
		&batch.TimeoutSeconds,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	batch.Paths = paths
	batch.Options = options.String
	batch.WorkerID = workerID.String

	return &batch, nil
}

// ClaimBatch moves a PENDING batch to RUNNING for workerID and returns it.
// ErrBatchNotFound means the row is gone; ErrBatchAlreadyClaimed means it
// exists but is not PENDING.
func (s *Storage) ClaimBatch(ctx context.Context, batchID, workerID string) (*domain.Batch, error) {
	query := `
		UPDATE batches
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE batch_id = $3
		  AND status = $4
		RETURNING batch_id, paths, options, retry_count, max_retries, timeout_seconds
	`

	var batch domain.Batch
	var paths pq.StringArray
	var options sql.NullString

	err := s.db.QueryRowContext(ctx, query, domain.BatchStatusRunning, workerID, batchID, domain.BatchStatusPending).Scan(
		&batch.BatchID,
		&paths,
		&options,
		&batch.RetryCount,
		&batch.MaxRetries,
		&batch.TimeoutSeconds,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetBatchByID(ctx, batchID); errors.Is(getErr, domain.ErrBatchNotFound) {
				s.logger.Warn("Failed to claim batch - deleted",
					slog.String("batch_id", batchID),
				)
				return nil, domain.ErrBatchNotFound
			}
			s.logger.Warn("Failed to claim batch - already claimed",
				slog.String("batch_id", batchID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrBatchAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	batch.Paths = paths
	batch.Options = options.String
	batch.Status = domain.BatchStatusRunning
	batch.WorkerID = workerID

	s.logger.Info("Batch claimed successfully",
		slog.String("batch_id", batchID),
		slog.String("worker_id", workerID),
		slog.Int("documents", len(batch.Paths)),
	)

	return &batch, nil
}

// itemRow is a batch_items row
type itemRow struct {
	BatchID  string `db:"batch_id"`
	Position int    `db:"position"`
	imgdomain.BatchItem
}

// SaveItem stores the outcome of one document. Re-running a batch replaces
// the outcome at the same position.
func (s *Storage) SaveItem(ctx context.Context, batchID string, position int, item imgdomain.BatchItem) error {
	query := `
		INSERT INTO batch_items (batch_id, position, source_path, target_path, mode, backup_path, status, message, finished_at)
		VALUES (:batch_id, :position, :source_path, :target_path, :mode, :backup_path, :status, :message, :finished_at)
		ON CONFLICT (batch_id, position) DO UPDATE
		SET source_path = EXCLUDED.source_path,
		    target_path = EXCLUDED.target_path,
		    mode = EXCLUDED.mode,
		    backup_path = EXCLUDED.backup_path,
		    status = EXCLUDED.status,
		    message = EXCLUDED.message,
		    finished_at = EXCLUDED.finished_at
	`

	row := itemRow{BatchID: batchID, Position: position, BatchItem: item}
	if row.FinishedAt.IsZero() {
		row.FinishedAt = time.Now()
	}

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save batch item: %w", err)
	}

	return nil
}

// UpdateBatchStatus updates the batch status, its counters and optionally the error message
func (s *Storage) UpdateBatchStatus(ctx context.Context, batchID, status string, summary domain.Summary, errorMsg string) error {
	query := `
		UPDATE batches
		SET status = $1::text,
			documents_total = $2,
			documents_saved = $3,
			documents_failed = $4,
			images_missing = $5,
			error_message = $6,
			completed_at = CASE
				WHEN $1::text IN ($7::text, $8::text) THEN NOW()
				ELSE NULL
			END,
			updated_at = NOW()
		WHERE batch_id = $9
	`

	_, err := s.db.ExecContext(ctx, query,
		status,
		summary.Documents,
		summary.Saved,
		summary.Failed,
		summary.Missing,
		errorMsg,
		domain.BatchStatusCompleted,
		domain.BatchStatusFailed,
		batchID,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}

	s.logger.Info("Batch status updated",
		slog.String("batch_id", batchID),
		slog.String("status", status),
	)

	return nil
}

// RequeueBatch puts a running batch back to PENDING and counts the retry
func (s *Storage) RequeueBatch(ctx context.Context, batchID, errorMsg string) error {
	query := `
		UPDATE batches
		SET status = $1,
		    worker_id = NULL,
		    retry_count = retry_count + 1,
		    error_message = $2,
		    updated_at = NOW()
		WHERE batch_id = $3 AND status = $4
	`

	if _, err := s.db.ExecContext(ctx, query, domain.BatchStatusPending, errorMsg, batchID, domain.BatchStatusRunning); err != nil {
		return fmt.Errorf("failed to requeue batch: %w", err)
	}

	s.logger.Info("Batch requeued", slog.String("batch_id", batchID))

	return nil
}

// UpdateBatchHeartbeat updates the last_heartbeat_at timestamp for a running batch
func (s *Storage) UpdateBatchHeartbeat(ctx context.Context, batchID string) error {
	query := `
		UPDATE batches
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE batch_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, batchID, domain.BatchStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update batch heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Batch heartbeat update - no rows affected (batch may not be running)",
			slog.String("batch_id", batchID),
		)
	}

	return nil
}
