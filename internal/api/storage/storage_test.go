package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/imgembed/internal/api/domain"
	"github.com/cuongbtq/imgembed/internal/api/model"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBatchID = "6c1f6a1e-1b1c-4f5e-9a56-0d2b1f7f3a10"

var batchRowColumns = []string{
	"batch_id", "idempotency_key", "paths", "options", "status", "worker_id",
	"retry_count", "max_retries", "timeout_seconds",
	"documents_total", "documents_saved", "documents_failed", "images_missing",
	"error_message", "created_at", "updated_at", "completed_at",
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStorage(sqlx.NewDb(db, "postgres")), mock
}

func TestStorage_CreateBatch(t *testing.T) {
	s, mock := newMockStorage(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := &model.Batch{
		BatchID:        testBatchID,
		IdempotencyKey: "k-1",
		Paths:          pq.StringArray{"/d/a.dwg", "/d/b.dwg"},
		Status:         domain.BatchStatusPending,
		MaxRetries:     3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	mock.ExpectExec("INSERT INTO batches").
		WithArgs(testBatchID, "k-1", "{\"/d/a.dwg\",\"/d/b.dwg\"}", "", domain.BatchStatusPending, 3, 0, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CreateBatch(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetBatchByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		s, mock := newMockStorage(t)
		created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		rows := sqlmock.NewRows(batchRowColumns).AddRow(
			testBatchID, "k-1", "{/d/a.dwg}", "", domain.BatchStatusCompleted, "worker-1",
			0, 3, 0,
			1, 1, 0, 2,
			nil, created, created, created,
		)
		mock.ExpectQuery("FROM batches WHERE batch_id = \\$1").WithArgs(testBatchID).WillReturnRows(rows)

		batch, err := s.GetBatchByID(context.Background(), testBatchID)
		require.NoError(t, err)
		assert.Equal(t, pq.StringArray{"/d/a.dwg"}, batch.Paths)
		assert.Equal(t, "worker-1", batch.WorkerID.String)
		assert.Equal(t, 2, batch.ImagesMissing)
		assert.False(t, batch.ErrorMessage.Valid)
		assert.True(t, batch.CompletedAt.Valid)
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery("FROM batches WHERE idempotency_key = \\$1").WillReturnError(sql.ErrNoRows)

		_, err := s.GetBatchByIdempotencyKey(context.Background(), "k-1")
		assert.ErrorIs(t, err, domain.ErrBatchNotFound)
	})
}

func TestStorage_ListBatches(t *testing.T) {
	s, mock := newMockStorage(t)
	cursorAt := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("AND status = \\$1 AND \\(created_at, batch_id\\) < \\(\\$2, \\$3\\) ORDER BY created_at DESC, batch_id DESC LIMIT \\$4").
		WithArgs(domain.BatchStatusFailed, cursorAt, testBatchID, 11).
		WillReturnRows(sqlmock.NewRows(batchRowColumns))

	batches, err := s.ListBatches(context.Background(), BatchFilter{
		Status:   domain.BatchStatusFailed,
		PageSize: 10,
		Cursor:   &BatchCursor{CreatedAt: cursorAt, BatchID: testBatchID},
	})
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ListBatchItems(t *testing.T) {
	s, mock := newMockStorage(t)
	finished := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"position", "source_path", "target_path", "mode", "backup_path", "status", "message", "finished_at"}).
		AddRow(0, "/d/a.dwg", "/d/a.dwg", "Overwrite", "/d/backup/a.dwg", "Ok", "1 of 1 images embedded", finished).
		AddRow(1, "/d/b.dwg", "/d/b.dwg", "Overwrite", "", "Error", "document not found", finished)
	mock.ExpectQuery("FROM batch_items").WithArgs(testBatchID).WillReturnRows(rows)

	items, err := s.ListBatchItems(context.Background(), testBatchID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "/d/backup/a.dwg", items[0].BackupPath)
	assert.Equal(t, "document not found", items[1].Message)
}

func TestStorage_CancelBatch(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("UPDATE batches").
			WithArgs(domain.BatchStatusCanceled, testBatchID, domain.BatchStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.CancelBatch(context.Background(), testBatchID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not pending", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("UPDATE batches").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").WithArgs(testBatchID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		assert.ErrorIs(t, s.CancelBatch(context.Background(), testBatchID), domain.ErrBatchNotCancelable)
	})

	t.Run("unknown", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("UPDATE batches").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").WithArgs(testBatchID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		assert.ErrorIs(t, s.CancelBatch(context.Background(), testBatchID), domain.ErrBatchNotFound)
	})
}

func TestStorage_DeleteBatch(t *testing.T) {
	t.Run("finished", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("DELETE FROM batches").
			WithArgs(testBatchID, domain.BatchStatusCompleted, domain.BatchStatusFailed, domain.BatchStatusCanceled).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.DeleteBatch(context.Background(), testBatchID))
	})

	t.Run("still running", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("DELETE FROM batches").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		assert.ErrorIs(t, s.DeleteBatch(context.Background(), testBatchID), domain.ErrBatchNotDeletable)
	})
}
