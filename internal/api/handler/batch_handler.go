package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/imgembed/internal/api/domain"
	"github.com/cuongbtq/imgembed/internal/api/dto"
	"github.com/cuongbtq/imgembed/internal/api/model"
	"github.com/cuongbtq/imgembed/internal/api/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultMaxRetries = 3
	defaultPageSize   = 20
	maxPageSize       = 100
)

// CreateBatch handles POST /api/v1/batches
// Stores a batch of documents as PENDING and queues it for a worker
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	h.logger.Info("CreateBatch called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	// 1. Validate request body
	var req dto.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	options := ""
	if req.Options != nil {
		if err := req.Options.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		data, err := json.Marshal(req.Options)
		if err != nil {
			h.logger.Error("Failed to encode options", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode options",
			})
			return
		}
		options = string(data)
	}

	// 2. Check idempotency key; a PENDING duplicate is queued again
	existing, err := h.storage.GetBatchByIdempotencyKey(c.Request.Context(), req.IdempotencyKey)
	switch {
	case err == nil:
		if existing.Status == domain.BatchStatusPending && !h.publish(c, existing.BatchID) {
			return
		}
		c.JSON(http.StatusOK, toBatchDTO(existing))
		return
	case !errors.Is(err, domain.ErrBatchNotFound):
		h.logger.Error("Failed to check idempotency key", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create batch",
		})
		return
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	now := time.Now().UTC()
	batch := model.Batch{
		BatchID:        uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		Paths:          req.Paths,
		Options:        options,
		Status:         domain.BatchStatusPending,
		MaxRetries:     maxRetries,
		TimeoutSeconds: req.TimeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// 3. Create batch record in database
	if err := h.storage.CreateBatch(c.Request.Context(), &batch); err != nil {
		h.logger.Error("Failed to create batch", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create batch",
		})
		return
	}

	// 4. Publish message to RabbitMQ
	if !h.publish(c, batch.BatchID) {
		return
	}

	// 5. Return batch response
	c.JSON(http.StatusCreated, toBatchDTO(&batch))
}

// publish queues batchID and writes the error response when that fails
func (h *BatchHandler) publish(c *gin.Context, batchID string) bool {
	body, err := json.Marshal(gin.H{"batch_id": batchID})
	if err != nil {
		h.logger.Error("Failed to encode batch message", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue batch",
		})
		return false
	}

	if err := h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish batch",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":    "Failed to enqueue batch, resubmit with the same idempotency_key",
			"batch_id": batchID,
		})
		return false
	}

	h.logger.Info("Batch queued", slog.String("batch_id", batchID))
	return true
}

// GetBatch handles GET /api/v1/batches/:batch_id
// Retrieves a batch with the outcome of every finished document
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batchID := c.Param("batch_id")

	h.logger.Info("GetBatch called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("batch_id", batchID),
	)

	if !h.validBatchID(c, batchID) {
		return
	}

	batch, err := h.storage.GetBatchByID(c.Request.Context(), batchID)
	if err != nil {
		h.writeStoreError(c, "Failed to get batch", err)
		return
	}

	items, err := h.storage.ListBatchItems(c.Request.Context(), batchID)
	if err != nil {
		h.writeStoreError(c, "Failed to get batch items", err)
		return
	}

	resp := dto.BatchDetailResponse{
		BatchDTO: toBatchDTO(batch),
		Items:    make([]dto.BatchItemDTO, len(items)),
	}
	for i, item := range items {
		resp.Items[i] = dto.BatchItemDTO{
			Position:   item.Position,
			Source:     item.SourcePath,
			Target:     item.TargetPath,
			Mode:       item.Mode,
			BackupPath: item.BackupPath,
			Status:     item.Status,
			Message:    item.Message,
			FinishedAt: item.FinishedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ListBatches handles GET /api/v1/batches
// Lists batches with optional status filtering and cursor pagination
func (h *BatchHandler) ListBatches(c *gin.Context) {
	h.logger.Info("ListBatches called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	// 1. Parse query parameters
	var req dto.ListBatchesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	// 2. Validate parameters
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	// 3. Decode cursor for pagination
	cursor, err := DecodeBatchCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// 4. Build filter and query batches from database
	filter := storage.BatchFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	batches, err := h.storage.ListBatches(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list batches", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list batches",
		})
		return
	}

	// 5. Prepare response with next cursor if more results exist
	hasMore := len(batches) > req.PageSize
	if hasMore {
		batches = batches[:req.PageSize]
	}

	batchResponse := make([]dto.BatchDTO, len(batches))
	for i := range batches {
		batchResponse[i] = toBatchDTO(&batches[i])
	}

	var nextCursor string
	if hasMore {
		last := batches[len(batches)-1]
		nextCursor = EncodeBatchCursor(&storage.BatchCursor{
			CreatedAt: last.CreatedAt,
			BatchID:   last.BatchID,
		})
	}

	c.JSON(http.StatusOK, dto.ListBatchesResponse{
		Batches:    batchResponse,
		NextCursor: nextCursor,
	})
}

// CancelBatch handles POST /api/v1/batches/:batch_id/cancel
// Cancels a batch no worker has claimed yet
func (h *BatchHandler) CancelBatch(c *gin.Context) {
	batchID := c.Param("batch_id")

	h.logger.Info("CancelBatch called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("batch_id", batchID),
	)

	if !h.validBatchID(c, batchID) {
		return
	}

	if err := h.storage.CancelBatch(c.Request.Context(), batchID); err != nil {
		h.writeStoreError(c, "Failed to cancel batch", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batch_id": batchID,
		"status":   domain.BatchStatusCanceled,
	})
}

// DeleteBatch handles DELETE /api/v1/batches/:batch_id
// Permanently deletes a finished batch and its outcomes
func (h *BatchHandler) DeleteBatch(c *gin.Context) {
	batchID := c.Param("batch_id")

	h.logger.Info("DeleteBatch called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("batch_id", batchID),
	)

	if !h.validBatchID(c, batchID) {
		return
	}

	if err := h.storage.DeleteBatch(c.Request.Context(), batchID); err != nil {
		h.writeStoreError(c, "Failed to delete batch", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *BatchHandler) validBatchID(c *gin.Context, batchID string) bool {
	if _, err := uuid.Parse(batchID); err != nil {
		h.logger.Error("Invalid batch_id format", slog.String("batch_id", batchID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "batch_id must be a valid UUID",
		})
		return false
	}
	return true
}

// writeStoreError maps storage errors to responses
func (h *BatchHandler) writeStoreError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrBatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": domain.ErrBatchNotFound.Error(),
		})
	case errors.Is(err, domain.ErrBatchNotCancelable), errors.Is(err, domain.ErrBatchNotDeletable):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": msg,
		})
	}
}

func toBatchDTO(b *model.Batch) dto.BatchDTO {
	out := dto.BatchDTO{
		BatchID:         b.BatchID,
		IdempotencyKey:  b.IdempotencyKey,
		Paths:           b.Paths,
		Options:         b.Options,
		Status:          b.Status,
		RetryCount:      b.RetryCount,
		DocumentsTotal:  b.DocumentsTotal,
		DocumentsSaved:  b.DocumentsSaved,
		DocumentsFailed: b.DocumentsFailed,
		ImagesMissing:   b.ImagesMissing,
		ErrorMessage:    b.ErrorMessage.String,
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       b.UpdatedAt.Format(time.RFC3339),
	}
	if out.Paths == nil {
		out.Paths = []string{}
	}
	if b.CompletedAt.Valid {
		out.CompletedAt = b.CompletedAt.Time.Format(time.RFC3339)
	}
	return out
}
