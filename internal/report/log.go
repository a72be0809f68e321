package report

import (
	"log/slog"

	"github.com/cuongbtq/imgembed/internal/domain"
)

// LogSink mirrors records into structured logs
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Trace(rec TraceRecord) {
	s.logger.Debug("Embed trace",
		slog.String("stage", rec.Stage),
		slog.String("document", rec.Document),
		slog.String("sheet", rec.Sheet),
		slog.String("file_name", rec.FileName),
		slog.String("message", rec.Message),
	)
}

func (s *LogSink) Error(rec ErrorRecord) {
	s.logger.Error("Embed error",
		slog.String("document", rec.Document),
		slog.String("sheet", rec.Sheet),
		slog.String("file_name", rec.FileName),
		slog.String("error", rec.Message),
	)
}

func (s *LogSink) Missing(rec MissingRecord) {
	s.logger.Warn("Image file missing",
		slog.String("document", rec.Document),
		slog.String("where", rec.Where),
		slog.String("file_name", rec.FileName),
		slog.String("expected_path", rec.ExpectedPath),
	)
}

func (s *LogSink) Outcome(item domain.BatchItem) {
	attrs := []any{
		slog.String("source", item.Source),
		slog.String("target", item.Target),
		slog.String("mode", item.Mode),
		slog.String("status", item.Status),
		slog.String("message", item.Message),
	}
	if item.BackupPath != "" {
		attrs = append(attrs, slog.String("backup_path", item.BackupPath))
	}

	if item.Ok() {
		s.logger.Info("Document processed", attrs...)
		return
	}
	s.logger.Error("Document failed", attrs...)
}
