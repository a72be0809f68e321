// Package scheduler drives one image insert at a time through an
// asynchronous, quiescence-gated host: insert, wait for the command to end
// and settle, find the new entity, fit it onto the target box, verify.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/imgembed/internal/channel"
	"github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/geometry"
	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/cuongbtq/imgembed/internal/watermark"
)

// Config holds scheduler timings
type Config struct {
	// SettleDelay is waited after the insert command ends before looking
	// for the inserted entity
	SettleDelay time.Duration
	// Watchdog bounds a whole job
	Watchdog        time.Duration
	MeasureAttempts int
	MeasureInterval time.Duration
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		SettleDelay:     1200 * time.Millisecond,
		Watchdog:        180 * time.Second,
		MeasureAttempts: 120,
		MeasureInterval: 50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.Watchdog <= 0 {
		c.Watchdog = d.Watchdog
	}
	if c.MeasureAttempts <= 0 {
		c.MeasureAttempts = d.MeasureAttempts
	}
	if c.MeasureInterval <= 0 {
		c.MeasureInterval = d.MeasureInterval
	}
	return c
}

// Result is the terminal state of one job
type Result struct {
	Occurrence domain.Occurrence
	Stage      Stage
	Entity     host.EntityID
	// Fitted is false when the entity could not be measured and was left
	// where the host put it
	Fitted bool
	Err    error
}

// Ok reports whether the job reached Done
func (r Result) Ok() bool {
	return r.Stage == StageDone
}

// Scheduler runs insert jobs against one host. At most one job is active.
type Scheduler struct {
	host    host.Host
	caps    host.Capabilities
	channel channel.InsertionChannel
	sink    report.Sink
	logger  *slog.Logger
	cfg     Config
	active  atomic.Bool
}

// New creates a scheduler. Host capabilities are read once here.
func New(h host.Host, ch channel.InsertionChannel, sink report.Sink, logger *slog.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		host:    h,
		caps:    h.Capabilities(),
		channel: ch,
		sink:    sink,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

type job struct {
	doc       host.Document
	occ       domain.Occurrence
	stage     Stage
	startedAt time.Time
	dueAt     time.Time
	container host.ContainerID
	watermark host.EntityID
	cmd       host.Command
	entity    host.Entity
	fitted    bool
	loaded    bool
	reason    error
}

// Run executes one job to a terminal stage. A call made while another job
// is in flight is rejected with domain.ErrJobActive without touching the
// host.
func (s *Scheduler) Run(ctx context.Context, doc host.Document, occ domain.Occurrence) Result {
	if !s.active.CompareAndSwap(false, true) {
		s.logger.Warn("Insert job already running, request rejected",
			slog.String("file_name", occ.FileName),
			slog.String("sheet", occ.Sheet),
		)
		return Result{Occurrence: occ, Stage: StageFailed, Err: domain.ErrJobActive}
	}
	defer s.active.Store(false)

	j := &job{doc: doc, occ: occ, stage: StageIdle, startedAt: time.Now()}

	events := make(chan host.CommandEvent, 8)
	wake := make(chan struct{}, 1)

	cmdSub := doc.Subscribe(func(ev host.CommandEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	idleSub := s.host.OnIdle(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	var once sync.Once
	release := func() {
		once.Do(func() {
			cmdSub.Unsubscribe()
			idleSub.Unsubscribe()
			s.clearChannel(j)
		})
	}
	defer release()

	watchdog := time.NewTimer(s.cfg.Watchdog)
	defer watchdog.Stop()

	var settle *time.Timer
	var settleC <-chan time.Time
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	s.advance(ctx, j)
	for !j.stage.Terminal() {
		select {
		case ev := <-events:
			s.onEvent(j, ev)
		case <-wake:
		case <-settleC:
		case <-watchdog.C:
			s.fail(j, domain.ErrWatchdogTimeout)
		case <-ctx.Done():
			s.fail(j, ctx.Err())
		}

		if !j.stage.Terminal() && time.Since(j.startedAt) > s.cfg.Watchdog {
			s.fail(j, domain.ErrWatchdogTimeout)
		}
		if j.stage == StageSettleWait && settle == nil {
			settle = time.NewTimer(time.Until(j.dueAt))
			settleC = settle.C
		}

		s.advance(ctx, j)
	}

	release()

	return Result{
		Occurrence: occ,
		Stage:      j.stage,
		Entity:     j.entity.ID,
		Fitted:     j.fitted,
		Err:        j.reason,
	}
}

// advance runs every transition that is possible without waiting
func (s *Scheduler) advance(ctx context.Context, j *job) {
	for {
		switch j.stage {
		case StageIdle:
			s.requestInsert(ctx, j)
		case StageInsertRequested:
			s.to(j, StageAwaitingInsertCompletion)
		case StageAwaitingInsertCompletion:
			return
		case StageSettleWait:
			if time.Now().Before(j.dueAt) {
				return
			}
			s.to(j, StageLocating)
		case StageLocating:
			s.locate(ctx, j)
		case StageTransforming:
			s.transform(ctx, j)
		case StageVerifying:
			s.verify(ctx, j)
		case StageDone, StageFailed:
			return
		default:
			s.fail(j, fmt.Errorf("unknown stage %s", j.stage))
			return
		}
	}
}

func (s *Scheduler) to(j *job, next Stage) {
	s.logger.Debug("Insert job stage changed",
		slog.String("file_name", j.occ.FileName),
		slog.String("from", j.stage.String()),
		slog.String("to", next.String()),
	)
	j.stage = next
}

func (s *Scheduler) fail(j *job, err error) {
	if j.stage.Terminal() {
		return
	}

	s.logger.Error("Insert job failed",
		slog.String("document", j.doc.Path()),
		slog.String("sheet", j.occ.Sheet),
		slog.String("file_name", j.occ.FileName),
		slog.String("stage", j.stage.String()),
		slog.String("error", err.Error()),
	)

	j.reason = err
	j.stage = StageFailed
	s.trace(j, report.StagePasteFailed, err.Error())
	s.sink.Error(report.ErrorRecord{
		Time:     time.Now(),
		Document: j.doc.Path(),
		Sheet:    j.occ.Sheet,
		FileName: j.occ.FileName,
		Message:  err.Error(),
	})
}

func (s *Scheduler) trace(j *job, stage, msg string) {
	s.sink.Trace(report.TraceRecord{
		Time:     time.Now(),
		Stage:    stage,
		Document: j.doc.Path(),
		Sheet:    j.occ.Sheet,
		FileName: j.occ.FileName,
		Message:  msg,
	})
}

func (s *Scheduler) requestInsert(ctx context.Context, j *job) {
	// Step 1: make the occurrence's sheet current
	if err := j.doc.ActivateSheet(ctx, j.occ.Sheet); err != nil {
		s.fail(j, domain.NewStepError("activate sheet", err))
		return
	}

	container, err := sheetContainer(ctx, j.doc, j.occ.Sheet)
	if err != nil {
		s.fail(j, domain.NewStepError("activate sheet", err))
		return
	}
	j.container = container
	s.trace(j, report.StageSheet, "Sheet activated")

	// Step 2: remember the newest entity before inserting
	j.watermark, err = watermark.Capture(ctx, j.doc, j.container)
	if err != nil {
		s.fail(j, domain.NewStepError("watermark", err))
		return
	}

	// Step 3: load the image into the channel
	img, err := channel.LoadImage(j.occ.ResolvedPath)
	if err != nil {
		s.fail(j, domain.NewStepError("load image", err))
		return
	}
	if err := s.channel.Load(ctx, img); err != nil {
		s.fail(j, domain.NewStepError("load image", err))
		return
	}
	j.loaded = true
	s.trace(j, report.StageClipboardOK, fmt.Sprintf("%s %dx%d", img.Format, img.Width, img.Height))

	// Step 4: submit the insert at the target min corner
	j.cmd = host.PasteCommand(j.occ.TargetMin, s.caps)
	if err := j.doc.Execute(ctx, j.cmd); err != nil {
		s.fail(j, domain.NewStepError("insert", err))
		return
	}
	s.trace(j, report.StagePaste, j.cmd.String())
	s.to(j, StageInsertRequested)
}

func (s *Scheduler) onEvent(j *job, ev host.CommandEvent) {
	if j.stage != StageAwaitingInsertCompletion || !ev.Kind.Terminal() || !j.cmd.Matches(ev.Name) {
		return
	}

	s.trace(j, report.StagePasteStatus, ev.Kind.String())
	j.dueAt = time.Now().Add(s.cfg.SettleDelay)
	s.to(j, StageSettleWait)
}

func (s *Scheduler) locate(ctx context.Context, j *job) {
	e, ok, err := watermark.FindNewest(ctx, j.doc, j.container, j.watermark, host.KindEmbeddedFrame)
	if err != nil {
		s.fail(j, domain.NewStepError("locate", err))
		return
	}
	if !ok {
		s.fail(j, domain.ErrEntityNotFound)
		return
	}

	j.entity = e
	s.clearChannel(j)
	s.trace(j, report.StagePasteEntity, fmt.Sprintf("Handle=%s Kind=%s", e.ID.Handle(), e.Kind))
	s.to(j, StageTransforming)
}

func (s *Scheduler) transform(ctx context.Context, j *job) {
	defer s.to(j, StageVerifying)

	target := j.occ.Target()
	id := j.entity.ID

	current, err := s.measure(ctx, j.doc, id)
	if err != nil {
		s.logger.Warn("Inserted entity not measurable, leaving it in place",
			slog.String("handle", id.Handle()),
			slog.String("file_name", j.occ.FileName),
		)
		s.trace(j, report.StageCurrentBox, "not measurable")
		return
	}
	s.trace(j, report.StageCurrentBox, xywh(current))
	s.trace(j, report.StageTargetBox, xywh(target))

	// move min corner onto the target min corner
	if err := j.doc.TransformEntity(ctx, id, geometry.Translate(target.Min.Sub(current.Min))); err != nil {
		s.logger.Warn("Failed to move inserted entity", slog.String("handle", id.Handle()), slog.String("error", err.Error()))
		return
	}

	current, err = s.measure(ctx, j.doc, id)
	if err != nil {
		return
	}

	fit := geometry.Fit(current, target)
	if !fit.Scaled {
		j.fitted = true
		return
	}

	if err := j.doc.TransformEntity(ctx, id, geometry.ScaleAbout(target.Min, fit.Scale)); err != nil {
		s.logger.Warn("Failed to scale inserted entity", slog.String("handle", id.Handle()), slog.String("error", err.Error()))
		return
	}
	s.trace(j, report.StageScale, fmt.Sprintf("k=%.6f sx=%.6f sy=%.6f", fit.Scale, fit.ScaleX, fit.ScaleY))

	// scaling about the min corner can drift on hosts that scale about
	// their own base point
	current, err = s.measure(ctx, j.doc, id)
	if err != nil {
		return
	}
	if d := target.Min.Sub(current.Min); d != (geometry.Point{}) {
		if err := j.doc.TransformEntity(ctx, id, geometry.Translate(d)); err != nil {
			s.logger.Warn("Failed to re-align inserted entity", slog.String("handle", id.Handle()), slog.String("error", err.Error()))
			return
		}
	}
	j.fitted = true
}

// measure polls extents until they are measurable or the retry budget runs out
func (s *Scheduler) measure(ctx context.Context, doc host.Document, id host.EntityID) (geometry.Box, error) {
	for attempt := 1; ; attempt++ {
		box, err := doc.Extents(ctx, id)
		if err == nil && box.Measurable() {
			return box, nil
		}
		if attempt >= s.cfg.MeasureAttempts {
			return geometry.Box{}, domain.ErrNotMeasurable
		}

		select {
		case <-time.After(s.cfg.MeasureInterval):
		case <-ctx.Done():
			return geometry.Box{}, ctx.Err()
		}
	}
}

func (s *Scheduler) verify(ctx context.Context, j *job) {
	if err := j.doc.Regen(ctx); err != nil {
		s.logger.Warn("Regen failed", slog.String("error", err.Error()))
	}
	s.trace(j, report.StagePasteOK, "Handle="+j.entity.ID.Handle())
	s.to(j, StageDone)
}

func (s *Scheduler) clearChannel(j *job) {
	if !j.loaded {
		return
	}
	j.loaded = false
	if err := s.channel.Clear(context.Background()); err != nil {
		s.logger.Warn("Failed to clear insertion channel", slog.String("error", err.Error()))
	}
}

func sheetContainer(ctx context.Context, doc host.Document, name string) (host.ContainerID, error) {
	sheets, err := doc.Sheets(ctx)
	if err != nil {
		return "", err
	}
	for _, sh := range sheets {
		if strings.EqualFold(sh.Name, name) {
			return sh.Container, nil
		}
	}
	return "", fmt.Errorf("sheet %s not found", name)
}

func xywh(b geometry.Box) string {
	return fmt.Sprintf("X=%.4f Y=%.4f W=%.4f H=%.4f", b.Min.X, b.Min.Y, b.Width(), b.Height())
}
