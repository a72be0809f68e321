package worker

import (
	"context"
	"log/slog"
	"sync"

	imgdomain "github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/cuongbtq/imgembed/internal/worker/domain"
)

// outcomeRecorder persists each document outcome as the batch runs, so a
// crashed worker leaves the finished documents on record
type outcomeRecorder struct {
	ctx     context.Context
	store   BatchStore
	batchID string
	logger  *slog.Logger

	mu      sync.Mutex
	summary domain.Summary
}

func newOutcomeRecorder(ctx context.Context, store BatchStore, batchID string, logger *slog.Logger) *outcomeRecorder {
	return &outcomeRecorder{
		ctx:     context.WithoutCancel(ctx),
		store:   store,
		batchID: batchID,
		logger:  logger,
	}
}

func (r *outcomeRecorder) Trace(report.TraceRecord) {}

func (r *outcomeRecorder) Error(report.ErrorRecord) {}

func (r *outcomeRecorder) Missing(report.MissingRecord) {
	r.mu.Lock()
	r.summary.Missing++
	r.mu.Unlock()
}

func (r *outcomeRecorder) Outcome(item imgdomain.BatchItem) {
	r.mu.Lock()
	position := r.summary.Documents
	r.summary.Documents++
	if item.Ok() {
		r.summary.Saved++
	} else {
		r.summary.Failed++
	}
	r.mu.Unlock()

	if err := r.store.SaveItem(r.ctx, r.batchID, position, item); err != nil {
		r.logger.Error("Failed to save batch item",
			slog.String("batch_id", r.batchID),
			slog.Int("position", position),
			slog.String("source", item.Source),
			slog.String("error", err.Error()),
		)
	}
}

func (r *outcomeRecorder) Summary() domain.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}
