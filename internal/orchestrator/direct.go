package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/cuongbtq/imgembed/internal/scheduler"
)

// DirectFitter embeds through a synchronous insert-from-file call. The
// host places the image in the target box itself, so there is nothing to
// wait for or locate.
type DirectFitter struct {
	host   host.Host
	sink   report.Sink
	logger *slog.Logger
}

// NewDirectFitter creates a fitter for hosts with host.InsertDirect
func NewDirectFitter(h host.Host, sink report.Sink, logger *slog.Logger) *DirectFitter {
	return &DirectFitter{host: h, sink: sink, logger: logger}
}

func (f *DirectFitter) Run(ctx context.Context, doc host.Document, occ domain.Occurrence) scheduler.Result {
	res := scheduler.Result{Occurrence: occ, Stage: scheduler.StageFailed}

	trace := func(stage, msg string) {
		f.sink.Trace(report.TraceRecord{
			Time:     time.Now(),
			Stage:    stage,
			Document: doc.Path(),
			Sheet:    occ.Sheet,
			FileName: occ.FileName,
			Message:  msg,
		})
	}
	fail := func(err error) scheduler.Result {
		f.logger.Error("Direct insert failed",
			slog.String("document", doc.Path()),
			slog.String("file_name", occ.FileName),
			slog.String("error", err.Error()),
		)
		trace(report.StagePasteFailed, err.Error())
		f.sink.Error(report.ErrorRecord{
			Time:     time.Now(),
			Document: doc.Path(),
			Sheet:    occ.Sheet,
			FileName: occ.FileName,
			Message:  err.Error(),
		})
		res.Err = err
		return res
	}

	inserter, ok := doc.(host.DirectInserter)
	if !ok {
		return fail(fmt.Errorf("document does not support direct insert"))
	}

	if err := doc.ActivateSheet(ctx, occ.Sheet); err != nil {
		return fail(domain.NewStepError("activate sheet", err))
	}
	trace(report.StageSheet, "Sheet activated")

	id, err := inserter.InsertFromFile(ctx, occ.Sheet, occ.Target(), occ.ResolvedPath)
	if err != nil {
		return fail(domain.NewStepError("insert", err))
	}
	trace(report.StagePasteEntity, "Handle="+id.Handle())

	if err := doc.Regen(ctx); err != nil {
		f.logger.Warn("Regen failed", slog.String("error", err.Error()))
	}
	trace(report.StagePasteOK, "Handle="+id.Handle())

	res.Stage = scheduler.StageDone
	res.Entity = id
	res.Fitted = true
	return res
}
