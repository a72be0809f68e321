package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/imgembed/internal/api/domain"
	"github.com/cuongbtq/imgembed/internal/api/model"
	"github.com/jmoiron/sqlx"
)

const batchColumns = `
	batch_id, idempotency_key, paths, options, status, worker_id,
	retry_count, max_retries, timeout_seconds,
	documents_total, documents_saved, documents_failed, images_missing,
	error_message, created_at, updated_at, completed_at
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

func (s *Storage) CreateBatch(ctx context.Context, batch *model.Batch) error {
	query := `
		INSERT INTO batches (
			batch_id, idempotency_key, paths, options, status,
			max_retries, timeout_seconds, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		batch.BatchID,
		batch.IdempotencyKey,
		batch.Paths,
		batch.Options,
		batch.Status,
		batch.MaxRetries,
		batch.TimeoutSeconds,
		batch.CreatedAt,
		batch.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}

	return nil
}

func (s *Storage) GetBatchByID(ctx context.Context, batchID string) (*model.Batch, error) {
	return s.getBatch(ctx, "batch_id", batchID)
}

// GetBatchByIdempotencyKey returns the batch submitted under key
func (s *Storage) GetBatchByIdempotencyKey(ctx context.Context, key string) (*model.Batch, error) {
	return s.getBatch(ctx, "idempotency_key", key)
}

func (s *Storage) getBatch(ctx context.Context, column, value string) (*model.Batch, error) {
	var batch model.Batch
	query := "SELECT " + batchColumns + " FROM batches WHERE " + column + " = $1"

	err := s.db.GetContext(ctx, &batch, query, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	return &batch, nil
}

type BatchFilter struct {
	Status   string
	PageSize int
	Cursor   *BatchCursor
}

type BatchCursor struct {
	CreatedAt time.Time
	BatchID   string
}

func (s *Storage) ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error) {
	query := "SELECT " + batchColumns + " FROM batches WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, batch_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.BatchID)
		argIdx += 2
	}

	// Order by created_at DESC, batch_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, batch_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var batches []model.Batch
	err := s.db.SelectContext(ctx, &batches, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	return batches, nil
}

// ListBatchItems returns the recorded document outcomes in queue order
func (s *Storage) ListBatchItems(ctx context.Context, batchID string) ([]model.BatchItem, error) {
	query := `
		SELECT position, source_path, target_path, mode, backup_path, status, message, finished_at
		FROM batch_items
		WHERE batch_id = $1
		ORDER BY position
	`

	items := []model.BatchItem{}
	if err := s.db.SelectContext(ctx, &items, query, batchID); err != nil {
		return nil, fmt.Errorf("failed to list batch items: %w", err)
	}

	return items, nil
}

// CancelBatch moves a PENDING batch to CANCELED. A batch a worker already
// claimed runs to completion.
func (s *Storage) CancelBatch(ctx context.Context, batchID string) error {
	query := `
		UPDATE batches
		SET status = $1,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE batch_id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.BatchStatusCanceled, batchID, domain.BatchStatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}

	return s.explainNoRows(ctx, result, batchID, domain.ErrBatchNotCancelable)
}

// DeleteBatch removes a finished batch and its items
func (s *Storage) DeleteBatch(ctx context.Context, batchID string) error {
	query := `
		DELETE FROM batches
		WHERE batch_id = $1 AND status IN ($2, $3, $4)
	`

	result, err := s.db.ExecContext(ctx, query, batchID,
		domain.BatchStatusCompleted,
		domain.BatchStatusFailed,
		domain.BatchStatusCanceled,
	)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}

	return s.explainNoRows(ctx, result, batchID, domain.ErrBatchNotDeletable)
}

// explainNoRows turns a conditional write that touched nothing into
// ErrBatchNotFound or the given state error
func (s *Storage) explainNoRows(ctx context.Context, result sql.Result, batchID string, stateErr error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM batches WHERE batch_id = $1)", batchID); err != nil {
		return fmt.Errorf("failed to check batch: %w", err)
	}
	if !exists {
		return domain.ErrBatchNotFound
	}
	return stateErr
}
