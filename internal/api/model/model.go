package model

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type Batch struct {
	BatchID         string         `db:"batch_id"`
	IdempotencyKey  string         `db:"idempotency_key"`
	Paths           pq.StringArray `db:"paths"`
	Options         string         `db:"options"`
	Status          string         `db:"status"`
	WorkerID        sql.NullString `db:"worker_id"`
	RetryCount      int            `db:"retry_count"`
	MaxRetries      int            `db:"max_retries"`
	TimeoutSeconds  int            `db:"timeout_seconds"`
	DocumentsTotal  int            `db:"documents_total"`
	DocumentsSaved  int            `db:"documents_saved"`
	DocumentsFailed int            `db:"documents_failed"`
	ImagesMissing   int            `db:"images_missing"`
	ErrorMessage    sql.NullString `db:"error_message"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
}

type BatchItem struct {
	Position   int       `db:"position"`
	SourcePath string    `db:"source_path"`
	TargetPath string    `db:"target_path"`
	Mode       string    `db:"mode"`
	BackupPath string    `db:"backup_path"`
	Status     string    `db:"status"`
	Message    string    `db:"message"`
	FinishedAt time.Time `db:"finished_at"`
}
