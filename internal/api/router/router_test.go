package router

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/imgembed/internal/api/domain"
	"github.com/cuongbtq/imgembed/internal/api/dto"
	"github.com/cuongbtq/imgembed/internal/api/handler"
	"github.com/cuongbtq/imgembed/internal/api/model"
	"github.com/cuongbtq/imgembed/internal/api/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBatchID = "6c1f6a1e-1b1c-4f5e-9a56-0d2b1f7f3a10"

type fakeStore struct {
	batches   map[string]*model.Batch
	items     map[string][]model.BatchItem
	created   []*model.Batch
	lastList  storage.BatchFilter
	listErr   error
	cancelErr error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{batches: map[string]*model.Batch{}, items: map[string][]model.BatchItem{}}
}

func (s *fakeStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	s.created = append(s.created, b)
	s.batches[b.BatchID] = b
	return nil
}

func (s *fakeStore) GetBatchByID(ctx context.Context, id string) (*model.Batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return b, nil
}

func (s *fakeStore) GetBatchByIdempotencyKey(ctx context.Context, key string) (*model.Batch, error) {
	for _, b := range s.batches {
		if b.IdempotencyKey == key {
			return b, nil
		}
	}
	return nil, domain.ErrBatchNotFound
}

func (s *fakeStore) ListBatches(ctx context.Context, f storage.BatchFilter) ([]model.Batch, error) {
	s.lastList = f
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.Batch
	for i := 0; i < f.PageSize+1 && i < 3; i++ {
		out = append(out, model.Batch{
			BatchID:   testBatchID[:len(testBatchID)-1] + string(rune('0'+i)),
			Status:    domain.BatchStatusCompleted,
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Hour),
		})
	}
	return out, nil
}

func (s *fakeStore) ListBatchItems(ctx context.Context, id string) ([]model.BatchItem, error) {
	return s.items[id], nil
}

func (s *fakeStore) CancelBatch(ctx context.Context, id string) error { return s.cancelErr }

func (s *fakeStore) DeleteBatch(ctx context.Context, id string) error { return s.deleteErr }

type fakePublisher struct {
	bodies [][]byte
	err    error
}

func (p *fakePublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func setup(t *testing.T) (*gin.Engine, *fakeStore, *fakePublisher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newFakeStore()
	pub := &fakePublisher{}
	r := SetupRouter(&handler.Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:     store,
		Publisher: pub,
	})
	return r, store, pub
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, _ := setup(t)

	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

type fakeHealth struct{ err error }

func (h fakeHealth) HealthCheck(ctx context.Context) error { return h.err }

func TestHealth_Database(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := &handler.Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:     newFakeStore(),
		Publisher: &fakePublisher{},
		Health:    fakeHealth{},
	}

	w := do(SetupRouter(deps), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	deps.Health = fakeHealth{err: errors.New("connection refused")}
	w = do(SetupRouter(deps), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestRequestID_Propagated(t *testing.T) {
	r, _, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}

func TestCreateBatch(t *testing.T) {
	r, store, pub := setup(t)

	w := do(r, http.MethodPost, "/api/v1/batches", `{
		"idempotency_key": "k-1",
		"paths": ["/d/a.dwg", "/d/b.dwg"],
		"options": {"overwrite": true, "backup": true}
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.BatchDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.BatchStatusPending, resp.Status)
	assert.Equal(t, []string{"/d/a.dwg", "/d/b.dwg"}, resp.Paths)

	require.Len(t, store.created, 1)
	assert.Equal(t, 3, store.created[0].MaxRetries)
	assert.JSONEq(t, `{"overwrite":true,"backup":true,"same_folder":false,"output_folder":"","prefix":"","suffix":"","log_folder":""}`, store.created[0].Options)

	require.Len(t, pub.bodies, 1)
	assert.JSONEq(t, `{"batch_id":"`+resp.BatchID+`"}`, string(pub.bodies[0]))
}

func TestCreateBatch_Idempotent(t *testing.T) {
	r, store, pub := setup(t)
	body := `{"idempotency_key": "k-1", "paths": ["/d/a.dwg"]}`

	first := do(r, http.MethodPost, "/api/v1/batches", body)
	require.Equal(t, http.StatusCreated, first.Code)

	// still pending: returned and queued again
	second := do(r, http.MethodPost, "/api/v1/batches", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, store.created, 1)
	assert.Len(t, pub.bodies, 2)

	// finished: returned only
	store.created[0].Status = domain.BatchStatusCompleted
	third := do(r, http.MethodPost, "/api/v1/batches", body)
	require.Equal(t, http.StatusOK, third.Code)
	assert.Len(t, pub.bodies, 2)
}

func TestCreateBatch_Invalid(t *testing.T) {
	tests := map[string]string{
		"malformed":            `{"paths": [`,
		"no idempotency key":   `{"paths": ["/d/a.dwg"]}`,
		"no paths":             `{"idempotency_key": "k", "paths": []}`,
		"empty path":           `{"idempotency_key": "k", "paths": [""]}`,
		"new file without dir": `{"idempotency_key": "k", "paths": ["/d/a.dwg"], "options": {"overwrite": false}}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			r, store, pub := setup(t)

			w := do(r, http.MethodPost, "/api/v1/batches", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, store.created)
			assert.Empty(t, pub.bodies)
		})
	}
}

func TestCreateBatch_PublishFailure(t *testing.T) {
	r, store, pub := setup(t)
	pub.err = errors.New("not connected to RabbitMQ")

	w := do(r, http.MethodPost, "/api/v1/batches", `{"idempotency_key": "k-1", "paths": ["/d/a.dwg"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Len(t, store.created, 1)
	assert.Contains(t, w.Body.String(), store.created[0].BatchID)
}

func TestGetBatch(t *testing.T) {
	r, store, _ := setup(t)
	finished := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	store.batches[testBatchID] = &model.Batch{
		BatchID:        testBatchID,
		Paths:          []string{"/d/a.dwg"},
		Status:         domain.BatchStatusCompleted,
		DocumentsTotal: 1,
		DocumentsSaved: 1,
		CompletedAt:    sql.NullTime{Time: finished, Valid: true},
	}
	store.items[testBatchID] = []model.BatchItem{{
		Position:   0,
		SourcePath: "/d/a.dwg",
		TargetPath: "/d/a.dwg",
		Mode:       "Overwrite",
		Status:     "Ok",
		Message:    "2 of 2 images embedded",
		FinishedAt: finished,
	}}

	w := do(r, http.MethodGet, "/api/v1/batches/"+testBatchID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.BatchDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testBatchID, resp.BatchID)
	assert.Equal(t, "2026-02-03T04:05:06Z", resp.CompletedAt)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "2 of 2 images embedded", resp.Items[0].Message)
}

func TestGetBatch_Errors(t *testing.T) {
	r, _, _ := setup(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/batches/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/batches/"+testBatchID, "").Code)
}

func TestListBatches(t *testing.T) {
	r, store, _ := setup(t)

	w := do(r, http.MethodGet, "/api/v1/batches?status=COMPLETED&page_size=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, domain.BatchStatusCompleted, store.lastList.Status)
	assert.Equal(t, 2, store.lastList.PageSize)

	var resp dto.ListBatchesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Batches, 2)
	require.NotEmpty(t, resp.NextCursor)

	cursor, err := handler.DecodeBatchCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, resp.Batches[1].BatchID, cursor.BatchID)

	// next page carries the cursor to storage
	w = do(r, http.MethodGet, "/api/v1/batches?page_size=2&cursor="+resp.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, store.lastList.Cursor)
	assert.Equal(t, cursor.BatchID, store.lastList.Cursor.BatchID)
}

func TestListBatches_PageSizeBounds(t *testing.T) {
	r, store, _ := setup(t)

	do(r, http.MethodGet, "/api/v1/batches", "")
	assert.Equal(t, 20, store.lastList.PageSize)

	do(r, http.MethodGet, "/api/v1/batches?page_size=1000", "")
	assert.Equal(t, 100, store.lastList.PageSize)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/batches?cursor=%25%25", "").Code)

	store.listErr = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/api/v1/batches", "").Code)
}

func TestCancelBatch(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "pending", want: http.StatusOK},
		{name: "already running", err: domain.ErrBatchNotCancelable, want: http.StatusConflict},
		{name: "unknown", err: domain.ErrBatchNotFound, want: http.StatusNotFound},
		{name: "database error", err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store, _ := setup(t)
			store.cancelErr = tt.err

			w := do(r, http.MethodPost, "/api/v1/batches/"+testBatchID+"/cancel", "")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestDeleteBatch(t *testing.T) {
	r, store, _ := setup(t)

	w := do(r, http.MethodDelete, "/api/v1/batches/"+testBatchID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())

	store.deleteErr = domain.ErrBatchNotDeletable
	w = do(r, http.MethodDelete, "/api/v1/batches/"+testBatchID, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "only finished batches")

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodDelete, "/api/v1/batches/42", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	r, _, _ := setup(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/batches", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
