// Package report collects the engine's durable records: a stage-by-stage
// trace, free-text errors, missing-image references and one outcome per
// document.
package report

import (
	"sync"
	"time"

	"github.com/cuongbtq/imgembed/internal/domain"
)

// TimeLayout is the timestamp format used in every stream
const TimeLayout = "2006-01-02 15:04:05"

// Trace stages
const (
	StageStart        = "START"
	StageScanDone     = "SCAN_DONE"
	StageSheet        = "CMD_PSPACE"
	StageClipboardOK  = "CLIPBOARD_OK"
	StagePaste        = "CMD_PASTECLIP"
	StagePasteStatus  = "PASTE_STATUS"
	StagePasteEntity  = "PASTE_ENTITY"
	StageCurrentBox   = "CUR_XYWH"
	StageTargetBox    = "TARGET_XYWH"
	StageScale        = "SET_WH"
	StagePasteOK      = "PASTE_OK"
	StagePasteFailed  = "PASTE_FAILED"
	StagePasteDone    = "PASTE_DONE"
	StageEraseDone    = "ERASE_DONE"
	StageEraseSkipped = "ERASE_SKIPPED"
	StageSaveOK       = "SAVE_OK"
	StageEnd          = "END"
)

// TraceRecord is one line of the main trace
type TraceRecord struct {
	Time     time.Time
	Stage    string
	Document string
	Sheet    string
	FileName string
	Message  string
}

// ErrorRecord is one line of the error stream
type ErrorRecord struct {
	Time     time.Time
	Document string
	Sheet    string
	FileName string
	Message  string
}

// MissingRecord is an image reference whose file is not on disk
type MissingRecord struct {
	Time         time.Time
	Document     string
	Where        string
	FileName     string
	ExpectedPath string
}

// Sink receives records. Implementations must not fail the caller: write
// problems are their own to log.
type Sink interface {
	Trace(rec TraceRecord)
	Error(rec ErrorRecord)
	Missing(rec MissingRecord)
	Outcome(item domain.BatchItem)
}

type multiSink []Sink

// Multi fans every record out to all sinks in order
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Trace(rec TraceRecord) {
	for _, s := range m {
		s.Trace(rec)
	}
}

func (m multiSink) Error(rec ErrorRecord) {
	for _, s := range m {
		s.Error(rec)
	}
}

func (m multiSink) Missing(rec MissingRecord) {
	for _, s := range m {
		s.Missing(rec)
	}
}

func (m multiSink) Outcome(item domain.BatchItem) {
	for _, s := range m {
		s.Outcome(item)
	}
}

// Memory keeps every record; safe for concurrent use
type Memory struct {
	mu       sync.Mutex
	traces   []TraceRecord
	errors   []ErrorRecord
	missing  []MissingRecord
	outcomes []domain.BatchItem
}

// NewMemory creates an empty in-memory sink
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Trace(rec TraceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, rec)
}

func (m *Memory) Error(rec ErrorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, rec)
}

func (m *Memory) Missing(rec MissingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing = append(m.missing, rec)
}

func (m *Memory) Outcome(item domain.BatchItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, item)
}

// Traces returns a copy of the trace stream
func (m *Memory) Traces() []TraceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TraceRecord(nil), m.traces...)
}

// Errors returns a copy of the error stream
func (m *Memory) Errors() []ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ErrorRecord(nil), m.errors...)
}

// MissingImages returns a copy of the missing-image stream
func (m *Memory) MissingImages() []MissingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MissingRecord(nil), m.missing...)
}

// Outcomes returns a copy of the outcome stream
func (m *Memory) Outcomes() []domain.BatchItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BatchItem(nil), m.outcomes...)
}

// Stages returns the trace stage names in order
func (m *Memory) Stages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	stages := make([]string, len(m.traces))
	for i, t := range m.traces {
		stages[i] = t.Stage
	}
	return stages
}
