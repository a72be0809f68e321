// Package orchestrator runs the embed pipeline over a queue of documents:
// open, scan, fit every occurrence, erase the linked placeholders, save and
// close, with one outcome per document.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/imgembed/internal/channel"
	"github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/cuongbtq/imgembed/internal/scanner"
	"github.com/cuongbtq/imgembed/internal/scheduler"
)

// Fitter embeds one occurrence into an open document
type Fitter interface {
	Run(ctx context.Context, doc host.Document, occ domain.Occurrence) scheduler.Result
}

// Config holds orchestrator dependencies
type Config struct {
	Host      host.Host
	Channel   channel.InsertionChannel
	Sink      report.Sink
	Logger    *slog.Logger
	Options   Options
	Scheduler scheduler.Config
	// Flags are host variables set for the duration of a run and restored
	// afterwards
	Flags map[string]string
	// QuiesceTimeout bounds the wait for the host before saving
	QuiesceTimeout time.Duration
}

// DefaultFlags keeps the host from prompting and embeds images as
// borderless, full-quality frames
func DefaultFlags() map[string]string {
	return map[string]string{
		"FILEDIA":    "0",
		"CMDDIA":     "0",
		"OLEHIDE":    "0",
		"OLEFRAME":   "0",
		"OLEQUALITY": "3",
	}
}

// Orchestrator processes document batches
type Orchestrator struct {
	host           host.Host
	channel        channel.InsertionChannel
	sink           report.Sink
	logger         *slog.Logger
	opts           Options
	schedCfg       scheduler.Config
	flags          map[string]string
	quiesceTimeout time.Duration
	now            func() time.Time
}

// New creates an orchestrator
func New(cfg *Config) *Orchestrator {
	flags := cfg.Flags
	if flags == nil {
		flags = DefaultFlags()
	}
	quiesce := cfg.QuiesceTimeout
	if quiesce <= 0 {
		quiesce = 30 * time.Second
	}

	return &Orchestrator{
		host:           cfg.Host,
		channel:        cfg.Channel,
		sink:           cfg.Sink,
		logger:         cfg.Logger,
		opts:           cfg.Options,
		schedCfg:       cfg.Scheduler,
		flags:          flags,
		quiesceTimeout: quiesce,
		now:            time.Now,
	}
}

// Run processes paths in order and returns one outcome per path. Failures
// are isolated per document.
func (o *Orchestrator) Run(ctx context.Context, paths []string) []domain.BatchItem {
	sink, closeSink := o.openSink()
	defer closeSink()

	restore := o.applyFlags()
	defer restore()

	fitter := o.fitter(sink)

	o.logger.Info("Embed batch started",
		slog.Int("documents", len(paths)),
		slog.String("mode", o.opts.Mode()),
	)
	sink.Trace(report.TraceRecord{Time: o.now(), Stage: report.StageStart, Message: fmt.Sprintf("%d documents", len(paths))})

	items := make([]domain.BatchItem, 0, len(paths))
	for _, path := range paths {
		items = append(items, o.processDocument(ctx, sink, fitter, path))
	}

	ok := 0
	for _, item := range items {
		if item.Ok() {
			ok++
		}
	}
	sink.Trace(report.TraceRecord{Time: o.now(), Stage: report.StageEnd, Message: fmt.Sprintf("%d of %d documents saved", ok, len(items))})
	o.logger.Info("Embed batch finished",
		slog.Int("documents", len(items)),
		slog.Int("saved", ok),
		slog.Int("failed", len(items)-ok),
	)
	return items
}

func (o *Orchestrator) openSink() (report.Sink, func()) {
	logSink := report.NewLogSink(o.logger)
	if o.opts.LogFolder == "" {
		return report.Multi(o.sink, logSink), func() {}
	}

	fileSink, err := report.OpenFileSink(o.opts.LogFolder, o.logger)
	if err != nil {
		o.logger.Error("Failed to open report files, continuing without them",
			slog.String("folder", o.opts.LogFolder),
			slog.String("error", err.Error()),
		)
		return report.Multi(o.sink, logSink), func() {}
	}

	return report.Multi(o.sink, logSink, fileSink), func() {
		if err := fileSink.Close(); err != nil {
			o.logger.Error("Failed to close report files", slog.String("error", err.Error()))
		}
	}
}

// fitter picks the insert variant from the host capabilities
func (o *Orchestrator) fitter(sink report.Sink) Fitter {
	if o.host.Capabilities().Insert == host.InsertDirect {
		return NewDirectFitter(o.host, sink, o.logger)
	}
	return scheduler.New(o.host, o.channel, sink, o.logger, o.schedCfg)
}

// applyFlags captures the current host flags, sets the run values and
// returns the function that puts the captured values back
func (o *Orchestrator) applyFlags() func() {
	saved := make(map[string]string, len(o.flags))
	for name, value := range o.flags {
		old, err := o.host.Variable(name)
		if err != nil {
			o.logger.Warn("Host flag not available", slog.String("flag", name), slog.String("error", err.Error()))
			continue
		}
		saved[name] = old

		if err := o.host.SetVariable(name, value); err != nil {
			o.logger.Warn("Failed to set host flag", slog.String("flag", name), slog.String("error", err.Error()))
		}
	}

	return func() {
		for name, value := range saved {
			if err := o.host.SetVariable(name, value); err != nil {
				o.logger.Error("Failed to restore host flag",
					slog.String("flag", name),
					slog.String("value", value),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// processDocument runs one document and always reports exactly one outcome
func (o *Orchestrator) processDocument(ctx context.Context, sink report.Sink, fitter Fitter, path string) (item domain.BatchItem) {
	item = domain.BatchItem{Source: path, Mode: o.opts.Mode(), Status: domain.StatusError}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Document step panicked",
				slog.String("document", path),
				slog.Any("panic", r),
			)
			item.Status = domain.StatusError
			item.Message = fmt.Sprintf("panic: %v", r)
		}
		item.FinishedAt = o.now()
		sink.Outcome(item)
	}()

	fail := func(msg string, err error) domain.BatchItem {
		item.Message = msg
		if err != nil {
			item.Message = msg + ": " + err.Error()
		}
		sink.Error(report.ErrorRecord{Time: o.now(), Document: path, Message: item.Message})
		return item
	}

	if err := ctx.Err(); err != nil {
		return fail("batch canceled", err)
	}

	// Step 1: the source must exist
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return fail(domain.ErrDocumentNotFound.Error(), nil)
	}

	// Step 2: open
	doc, err := o.host.Open(ctx, path)
	if err != nil {
		return fail("open failed", err)
	}
	defer func() {
		if err := doc.Close(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("Failed to close document", slog.String("document", path), slog.String("error", err.Error()))
		}
	}()

	// Step 3: scan
	plan, err := scanner.New(sink).Scan(ctx, doc, filepath.Dir(path))
	if err != nil {
		return fail("scan failed", err)
	}
	sink.Trace(report.TraceRecord{
		Time:     o.now(),
		Stage:    report.StageScanDone,
		Document: path,
		Message:  fmt.Sprintf("%d occurrences, %d missing", len(plan.Occurrences), plan.Missing),
	})

	// Step 4: fit every occurrence, one at a time
	fitted, failed := 0, 0
	for _, occ := range plan.Occurrences {
		if ctx.Err() != nil {
			break
		}
		if res := fitter.Run(ctx, doc, occ); res.Ok() {
			fitted++
		} else {
			failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return fail("batch canceled", err)
	}
	sink.Trace(report.TraceRecord{
		Time:     o.now(),
		Stage:    report.StagePasteDone,
		Document: path,
		Message:  fmt.Sprintf("%d embedded, %d failed", fitted, failed),
	})

	// Step 5: erase placeholders only when the whole plan went through
	o.erase(ctx, sink, doc, path, plan, failed)

	// Step 6: let the host settle, then save
	if err := host.AwaitQuiescent(ctx, o.host, o.quiesceTimeout); err != nil {
		o.logger.Warn("Host still busy before save", slog.String("document", path), slog.String("error", err.Error()))
	}

	target, backup, err := o.save(ctx, doc, path)
	if err != nil {
		return fail("save failed", err)
	}
	sink.Trace(report.TraceRecord{Time: o.now(), Stage: report.StageSaveOK, Document: path, Message: target})

	item.Target = target
	item.BackupPath = backup
	item.Status = domain.StatusOk
	item.Message = fmt.Sprintf("%d of %d images embedded", fitted, len(plan.Occurrences))
	if plan.Missing > 0 {
		item.Message += fmt.Sprintf(", %d missing", plan.Missing)
	}
	return item
}

func (o *Orchestrator) erase(ctx context.Context, sink report.Sink, doc host.Document, path string, plan domain.Plan, failed int) {
	rec := report.TraceRecord{Time: o.now(), Document: path}

	if failed > 0 || plan.Missing > 0 {
		rec.Stage = report.StageEraseSkipped
		rec.Message = fmt.Sprintf("%d failed, %d missing; placeholders kept", failed, plan.Missing)
		sink.Trace(rec)
		return
	}

	refs := plan.EraseRefs()
	if len(refs) == 0 {
		rec.Stage = report.StageEraseSkipped
		rec.Message = "nothing to erase"
		sink.Trace(rec)
		return
	}

	n, err := doc.EraseEntities(ctx, refs)
	if err != nil {
		o.logger.Error("Failed to erase placeholders", slog.String("document", path), slog.String("error", err.Error()))
		sink.Error(report.ErrorRecord{Time: o.now(), Document: path, Message: "erase failed: " + err.Error()})
		return
	}

	rec.Stage = report.StageEraseDone
	rec.Message = fmt.Sprintf("%d of %d erased", n, len(refs))
	sink.Trace(rec)
}

func (o *Orchestrator) save(ctx context.Context, doc host.Document, source string) (string, string, error) {
	if !o.opts.Overwrite {
		target := o.opts.NewFilePath(source)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", "", fmt.Errorf("failed to create output folder: %w", err)
		}
		if strings.EqualFold(filepath.Clean(target), filepath.Clean(source)) {
			return "", "", fmt.Errorf("new file would replace the source %s", source)
		}
		if err := doc.SaveAs(ctx, target); err != nil {
			return "", "", err
		}
		return target, "", nil
	}

	var backup string
	if o.opts.Backup {
		backup = BackupPath(source, o.now(), fileExists)
		if err := copyFile(source, backup); err != nil {
			return "", "", fmt.Errorf("failed to back up source: %w", err)
		}
	}

	if err := saveReplace(ctx, doc, source); err != nil {
		return "", backup, err
	}
	return source, backup, nil
}
