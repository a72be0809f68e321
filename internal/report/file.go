package report

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/imgembed/internal/domain"
)

// File names inside the log folder
const (
	TraceFileName   = "EmbedImages_Trace.csv"
	ErrorsFileName  = "EmbedImages_Errors.txt"
	MissingFileName = "EmbedImages_MissingImages.csv"
	ReportFileName  = "EmbedImages_Report.csv"
)

var (
	traceHeader   = []string{"Timestamp", "Stage", "DWG", "Layout", "FileName", "Message"}
	missingHeader = []string{"Timestamp", "DWG", "Where", "FileName", "ExpectedPath"}
	reportHeader  = []string{"Timestamp", "SourcePath", "TargetPath", "Mode", "BackupPath", "Status", "Message"}
	errorsHeader  = "Timestamp | DWG | Layout | FileName | Error"
)

// FileSink appends records to four files in a folder. Semicolon-delimited
// streams get their header row once, when the file is empty.
type FileSink struct {
	mu      sync.Mutex
	logger  *slog.Logger
	now     func() time.Time
	files   []*os.File
	trace   *csv.Writer
	missing *csv.Writer
	report  *csv.Writer
	errors  *os.File
}

// OpenFileSink opens (creating if needed) the four streams in folder
func OpenFileSink(folder string, logger *slog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log folder: %w", err)
	}

	s := &FileSink{logger: logger, now: time.Now}

	var err error
	if s.trace, err = s.openCSV(filepath.Join(folder, TraceFileName), traceHeader); err != nil {
		s.Close()
		return nil, err
	}
	if s.missing, err = s.openCSV(filepath.Join(folder, MissingFileName), missingHeader); err != nil {
		s.Close()
		return nil, err
	}
	if s.report, err = s.openCSV(filepath.Join(folder, ReportFileName), reportHeader); err != nil {
		s.Close()
		return nil, err
	}

	f, empty, err := s.open(filepath.Join(folder, ErrorsFileName))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.errors = f
	if empty {
		if _, err := fmt.Fprintln(f, errorsHeader); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to write errors header: %w", err)
		}
	}

	return s, nil
}

func (s *FileSink) open(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	s.files = append(s.files, f)

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return f, info.Size() == 0, nil
}

func (s *FileSink) openCSV(path string, header []string) (*csv.Writer, error) {
	f, empty, err := s.open(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	w.Comma = ';'
	if empty {
		if err := writeRow(w, header); err != nil {
			return nil, fmt.Errorf("failed to write header to %s: %w", path, err)
		}
	}
	return w, nil
}

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (s *FileSink) stamp(t time.Time) string {
	if t.IsZero() {
		t = s.now()
	}
	return t.Format(TimeLayout)
}

func (s *FileSink) write(stream string, w *csv.Writer, row []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w == nil {
		return
	}
	if err := writeRow(w, row); err != nil {
		s.logger.Error("Failed to write report record",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileSink) Trace(rec TraceRecord) {
	s.write("trace", s.trace, []string{
		s.stamp(rec.Time), rec.Stage, rec.Document, rec.Sheet, rec.FileName, rec.Message,
	})
}

func (s *FileSink) Missing(rec MissingRecord) {
	s.write("missing", s.missing, []string{
		s.stamp(rec.Time), rec.Document, rec.Where, rec.FileName, rec.ExpectedPath,
	})
}

func (s *FileSink) Outcome(item domain.BatchItem) {
	s.write("report", s.report, []string{
		s.stamp(item.FinishedAt), item.Source, item.Target, item.Mode, item.BackupPath, item.Status, item.Message,
	})
}

func (s *FileSink) Error(rec ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.errors == nil {
		return
	}
	fileName := rec.FileName
	if fileName == "" {
		fileName = "(n/a)"
	}
	line := strings.Join([]string{s.stamp(rec.Time), rec.Document, rec.Sheet, fileName, rec.Message}, " | ")
	if _, err := fmt.Fprintln(s.errors, line); err != nil {
		s.logger.Error("Failed to write report record",
			slog.String("stream", "errors"),
			slog.String("error", err.Error()),
		)
	}
}

// Close flushes and closes every stream. Safe to call more than once.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = nil
	s.trace, s.missing, s.report, s.errors = nil, nil, nil, nil
	return firstErr
}
