package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cuongbtq/imgembed/internal/orchestrator"
	"github.com/cuongbtq/imgembed/internal/worker/domain"
)

// processBatch processes a single batch with timeout, heartbeat, and status updates
func (w *Worker) processBatch(ctx context.Context, msg *domain.BatchMessage) error {
	w.logger.Info("Processing batch",
		slog.String("batch_id", msg.BatchID),
		slog.String("worker_id", w.workerID),
	)

	// Step 1: Claim batch from database (PENDING → RUNNING)
	batch, err := w.store.ClaimBatch(ctx, msg.BatchID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrBatchAlreadyClaimed) || errors.Is(err, domain.ErrBatchNotFound) {
			return fmt.Errorf("claim skipped: %w", err)
		}
		// Database error - could be transient
		w.logger.Error("Failed to claim batch",
			slog.String("batch_id", msg.BatchID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to claim batch: %w", err))
	}

	// status writes must land even when the worker is shutting down
	statusCtx := context.WithoutCancel(ctx)

	// Step 2: Resolve save options
	opts, err := w.batchOptions(batch)
	if err != nil {
		w.logger.Error("Invalid batch options",
			slog.String("batch_id", batch.BatchID),
			slog.String("error", err.Error()),
		)
		summary := domain.Summary{Documents: len(batch.Paths), Failed: len(batch.Paths)}
		_ = w.store.UpdateBatchStatus(statusCtx, batch.BatchID, domain.BatchStatusFailed, summary, err.Error())
		return fmt.Errorf("%w: %v", domain.ErrInvalidOptions, err)
	}

	// Step 3: Create timeout context from batch.timeout_seconds
	batchTimeout := w.batchTimeout
	if batch.TimeoutSeconds > 0 {
		batchTimeout = time.Duration(batch.TimeoutSeconds) * time.Second
	}

	var batchCtx context.Context
	var cancel context.CancelFunc
	if batchTimeout > 0 {
		batchCtx, cancel = context.WithTimeout(ctx, batchTimeout)
	} else {
		batchCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Step 4: Start heartbeat goroutine
	heartbeatDone := make(chan struct{})
	go w.sendBatchHeartbeat(batchCtx, batch.BatchID, heartbeatDone)
	defer close(heartbeatDone)

	// Step 5: Run the documents
	summary, err := w.executeBatch(batchCtx, batch, opts)

	// Step 6: Update batch status (COMPLETED/FAILED/PENDING)
	if err != nil {
		w.logger.Error("Batch execution failed",
			slog.String("batch_id", batch.BatchID),
			slog.String("error", err.Error()),
		)

		if batch.RetryCount < batch.MaxRetries {
			w.logger.Info("Batch will be retried",
				slog.String("batch_id", batch.BatchID),
				slog.Int("retry_count", batch.RetryCount),
				slog.Int("max_retries", batch.MaxRetries),
			)
			if updateErr := w.store.RequeueBatch(statusCtx, batch.BatchID, err.Error()); updateErr != nil {
				w.logger.Error("Failed to requeue batch",
					slog.String("batch_id", batch.BatchID),
					slog.String("error", updateErr.Error()),
				)
			}
			return domain.NewRetryableError(fmt.Errorf("batch execution failed: %w", err))
		}

		if updateErr := w.store.UpdateBatchStatus(statusCtx, batch.BatchID, domain.BatchStatusFailed, summary, err.Error()); updateErr != nil {
			w.logger.Error("Failed to update batch status to FAILED",
				slog.String("batch_id", batch.BatchID),
				slog.String("error", updateErr.Error()),
			)
		}

		w.logger.Warn("Batch exceeded max retries",
			slog.String("batch_id", batch.BatchID),
			slog.Int("retry_count", batch.RetryCount),
			slog.Int("max_retries", batch.MaxRetries),
		)
		return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err)
	}

	w.logger.Info("Batch completed",
		slog.String("batch_id", batch.BatchID),
		slog.Int("documents", summary.Documents),
		slog.Int("saved", summary.Saved),
		slog.Int("failed", summary.Failed),
		slog.Int("missing", summary.Missing),
	)

	if updateErr := w.store.UpdateBatchStatus(statusCtx, batch.BatchID, domain.BatchStatusCompleted, summary, ""); updateErr != nil {
		w.logger.Error("Failed to update batch status to COMPLETED",
			slog.String("batch_id", batch.BatchID),
			slog.String("error", updateErr.Error()),
		)
		// Batch completed but status update failed - still ACK
	}

	return nil
}

// batchOptions overlays the stored options on the worker defaults. Report
// files go to a per-batch sub folder.
func (w *Worker) batchOptions(batch *domain.Batch) (orchestrator.Options, error) {
	opts := w.defaultOptions
	if batch.Options != "" {
		if err := json.Unmarshal([]byte(batch.Options), &opts); err != nil {
			return orchestrator.Options{}, fmt.Errorf("invalid options JSON: %w", err)
		}
	}

	if err := opts.Validate(); err != nil {
		return orchestrator.Options{}, err
	}

	if opts.LogFolder != "" {
		opts.LogFolder = filepath.Join(opts.LogFolder, batch.BatchID)
	}
	return opts, nil
}

// executeBatch runs every document of the batch. Per-document failures are
// outcomes, not errors; an error means the batch was cut short.
func (w *Worker) executeBatch(ctx context.Context, batch *domain.Batch, opts orchestrator.Options) (domain.Summary, error) {
	w.logger.Info("Executing batch",
		slog.String("batch_id", batch.BatchID),
		slog.Int("documents", len(batch.Paths)),
		slog.String("mode", opts.Mode()),
	)

	recorder := newOutcomeRecorder(ctx, w.store, batch.BatchID, w.logger)
	runner := w.newRunner(opts, recorder)
	runner.Run(ctx, batch.Paths)

	summary := recorder.Summary()
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("batch execution canceled: %w", err)
	}
	return summary, nil
}

// sendBatchHeartbeat periodically updates the batch's heartbeat timestamp
func (w *Worker) sendBatchHeartbeat(ctx context.Context, batchID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.logger.Debug("Batch heartbeat started",
		slog.String("batch_id", batchID),
	)

	for {
		select {
		case <-done:
			w.logger.Debug("Batch heartbeat stopped",
				slog.String("batch_id", batchID),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Batch heartbeat stopped - context canceled",
				slog.String("batch_id", batchID),
			)
			return

		case <-ticker.C:
			if err := w.store.UpdateBatchHeartbeat(ctx, batchID); err != nil {
				w.logger.Warn("Failed to update batch heartbeat",
					slog.String("batch_id", batchID),
					slog.String("error", err.Error()),
				)
			} else {
				w.logger.Debug("Batch heartbeat updated",
					slog.String("batch_id", batchID),
				)
			}
		}
	}
}
