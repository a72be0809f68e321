package dto

import "github.com/cuongbtq/imgembed/internal/orchestrator"

type CreateBatchRequest struct {
	IdempotencyKey string                `json:"idempotency_key" binding:"required"`
	Paths          []string              `json:"paths" binding:"required,min=1,dive,required"`
	Options        *orchestrator.Options `json:"options"`
	MaxRetries     int                   `json:"max_retries" binding:"omitempty,min=0,max=10"`
	TimeoutSeconds int                   `json:"timeout_seconds" binding:"omitempty,min=0"`
}

type ListBatchesRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListBatchesResponse struct {
	Batches    []BatchDTO `json:"batches"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type BatchDTO struct {
	BatchID         string   `json:"batch_id"`
	IdempotencyKey  string   `json:"idempotency_key"`
	Paths           []string `json:"paths"`
	Options         string   `json:"options,omitempty"`
	Status          string   `json:"status"`
	RetryCount      int      `json:"retry_count"`
	DocumentsTotal  int      `json:"documents_total"`
	DocumentsSaved  int      `json:"documents_saved"`
	DocumentsFailed int      `json:"documents_failed"`
	ImagesMissing   int      `json:"images_missing"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
	CompletedAt     string   `json:"completed_at,omitempty"`
}

type BatchItemDTO struct {
	Position   int    `json:"position"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	Mode       string `json:"mode"`
	BackupPath string `json:"backup_path,omitempty"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FinishedAt string `json:"finished_at"`
}

type BatchDetailResponse struct {
	BatchDTO
	Items []BatchItemDTO `json:"items"`
}
