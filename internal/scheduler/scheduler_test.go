package scheduler

import (
	"context"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/imgembed/internal/channel"
	"github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/geometry"
	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/cuongbtq/imgembed/internal/host/simhost"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		SettleDelay:     10 * time.Millisecond,
		Watchdog:        2 * time.Second,
		MeasureAttempts: 5,
		MeasureInterval: 5 * time.Millisecond,
	}
}

type fixture struct {
	host  *simhost.Host
	doc   *simhost.Document
	ch    *channel.Memory
	sink  *report.Memory
	occ   domain.Occurrence
	sched *Scheduler
}

// newFixture opens a one-sheet drawing and prepares a 40x20 px image whose
// target is (0,0)-(10,5).
func newFixture(t *testing.T, opts simhost.Options, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()

	imgPath := filepath.Join(dir, "logo.png")
	f, err := os.Create(imgPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 40, 20))))
	require.NoError(t, f.Close())

	docPath := filepath.Join(dir, "a.dwg")
	require.NoError(t, simhost.WriteDrawing(docPath, &simhost.Drawing{
		Sheets: []simhost.SheetSpec{
			{Name: "Model", Model: true},
			{Name: "Layout1", Entities: []simhost.EntitySpec{
				{Handle: "2A", Kind: host.KindRasterImage, Source: "logo.png", Max: geometry.Point{X: 10, Y: 5}},
			}},
		},
	}))

	ch := channel.NewMemory()
	if opts.Source == nil {
		opts.Source = ch
	}
	if opts.IdleInterval == 0 {
		opts.IdleInterval = 5 * time.Millisecond
	}
	opts.Logger = testLogger()

	h := simhost.New(opts)
	t.Cleanup(h.Close)

	doc, err := h.Open(context.Background(), docPath)
	require.NoError(t, err)

	sink := report.NewMemory()
	return &fixture{
		host: h,
		doc:  doc.(*simhost.Document),
		ch:   ch,
		sink: sink,
		occ: domain.Occurrence{
			FileName:     "logo.png",
			ResolvedPath: imgPath,
			Sheet:        "Layout1",
			TargetMax:    geometry.Point{X: 10, Y: 5},
			EraseRef:     0x2A,
		},
		sched: New(h, ch, sink, testLogger(), cfg),
	}
}

func (f *fixture) assertReleased(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, f.doc.Subscribers())
	assert.Equal(t, 0, f.host.IdleSubscribers())
	_, loaded := f.ch.Current()
	assert.False(t, loaded)
	assert.Equal(t, 1, f.ch.Clears())
}

func assertBoxNear(t *testing.T, want, got geometry.Box) {
	t.Helper()
	assert.InDelta(t, want.Min.X, got.Min.X, 1e-9)
	assert.InDelta(t, want.Min.Y, got.Min.Y, 1e-9)
	assert.InDelta(t, want.Max.X, got.Max.X, 1e-9)
	assert.InDelta(t, want.Max.Y, got.Max.Y, 1e-9)
}

func TestRun_FitsInsertedImageOntoTarget(t *testing.T) {
	f := newFixture(t, simhost.Options{}, testConfig())

	res := f.sched.Run(context.Background(), f.doc, f.occ)
	require.NoError(t, res.Err)
	require.True(t, res.Ok())
	assert.True(t, res.Fitted)
	assert.Equal(t, host.EntityID(0x2B), res.Entity)

	box, err := f.doc.Extents(context.Background(), res.Entity)
	require.NoError(t, err)
	assertBoxNear(t, f.occ.Target(), box)

	assert.Equal(t, []string{
		report.StageSheet,
		report.StageClipboardOK,
		report.StagePaste,
		report.StagePasteStatus,
		report.StagePasteEntity,
		report.StageCurrentBox,
		report.StageTargetBox,
		report.StageScale,
		report.StagePasteOK,
	}, f.sink.Stages())
	assert.Empty(t, f.sink.Errors())
	f.assertReleased(t)
}

func TestRun_HostFaults(t *testing.T) {
	f := newFixture(t, simhost.Options{
		DecimalComma: true,
		Faults: simhost.Faults{
			MeasureDelay:    3,
			AuxiliaryEntity: true,
			PasteOffset:     geometry.Point{X: 3, Y: 4},
			PasteScale:      2,
		},
	}, testConfig())

	res := f.sched.Run(context.Background(), f.doc, f.occ)
	require.True(t, res.Ok(), "err: %v", res.Err)
	assert.True(t, res.Fitted)

	entities, err := f.doc.Entities(context.Background(), "sheet:layout1")
	require.NoError(t, err)
	var kind host.Kind
	for _, e := range entities {
		if e.ID == res.Entity {
			kind = e.Kind
		}
	}
	assert.Equal(t, host.KindEmbeddedFrame, kind)

	box, err := f.doc.Extents(context.Background(), res.Entity)
	require.NoError(t, err)
	assertBoxNear(t, f.occ.Target(), box)
}

func TestRun_UnmeasurableEntityIsLeftInPlace(t *testing.T) {
	f := newFixture(t, simhost.Options{Faults: simhost.Faults{MeasureDelay: 100}}, testConfig())

	res := f.sched.Run(context.Background(), f.doc, f.occ)
	require.True(t, res.Ok())
	assert.False(t, res.Fitted)
	assert.Contains(t, f.sink.Stages(), report.StagePasteOK)
	assert.NotContains(t, f.sink.Stages(), report.StageScale)
}

func TestRun_WatchdogFailsJobAndReleasesOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Watchdog = 100 * time.Millisecond
	f := newFixture(t, simhost.Options{Faults: simhost.Faults{DropEndEvent: true}}, cfg)

	start := time.Now()
	res := f.sched.Run(context.Background(), f.doc, f.occ)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, StageFailed, res.Stage)
	assert.ErrorIs(t, res.Err, domain.ErrWatchdogTimeout)
	f.assertReleased(t)

	errs := f.sink.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "watchdog timeout", errs[0].Message)
}

func TestRun_InsertedEntityNotFound(t *testing.T) {
	// the host reads from a channel nobody loads, so the paste creates nothing
	f := newFixture(t, simhost.Options{Source: channel.NewMemory()}, testConfig())

	res := f.sched.Run(context.Background(), f.doc, f.occ)
	assert.Equal(t, StageFailed, res.Stage)
	assert.ErrorIs(t, res.Err, domain.ErrEntityNotFound)
	f.assertReleased(t)
}

func TestRun_MissingImageFailsBeforeInsert(t *testing.T) {
	f := newFixture(t, simhost.Options{}, testConfig())
	f.occ.ResolvedPath = filepath.Join(t.TempDir(), "gone.png")

	res := f.sched.Run(context.Background(), f.doc, f.occ)
	assert.Equal(t, StageFailed, res.Stage)

	var stepErr *domain.StepError
	require.ErrorAs(t, res.Err, &stepErr)
	assert.Equal(t, "load image", stepErr.Stage)
	assert.Equal(t, 0, f.ch.Loads())
	assert.NotContains(t, f.sink.Stages(), report.StagePaste)
}

func TestRun_SecondConcurrentRunIsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Watchdog = 300 * time.Millisecond
	f := newFixture(t, simhost.Options{Faults: simhost.Faults{DropEndEvent: true}}, cfg)

	done := make(chan Result, 1)
	go func() {
		done <- f.sched.Run(context.Background(), f.doc, f.occ)
	}()

	require.Eventually(t, func() bool { return f.ch.Loads() == 1 }, time.Second, time.Millisecond)

	second := f.sched.Run(context.Background(), f.doc, f.occ)
	assert.ErrorIs(t, second.Err, domain.ErrJobActive)
	assert.Equal(t, StageFailed, second.Stage)
	assert.Equal(t, 1, f.ch.Loads())

	first := <-done
	assert.ErrorIs(t, first.Err, domain.ErrWatchdogTimeout)
	f.assertReleased(t)

	// a new job is accepted once the previous one finished
	third := f.sched.Run(context.Background(), f.doc, f.occ)
	assert.NotErrorIs(t, third.Err, domain.ErrJobActive)
}

func TestRun_ContextCancellation(t *testing.T) {
	f := newFixture(t, simhost.Options{Faults: simhost.Faults{DropEndEvent: true}}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for f.ch.Loads() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res := f.sched.Run(ctx, f.doc, f.occ)
	assert.Equal(t, StageFailed, res.Stage)
	assert.ErrorIs(t, res.Err, context.Canceled)
	f.assertReleased(t)
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "AwaitingInsertCompletion", StageAwaitingInsertCompletion.String())
	assert.Equal(t, "Stage(42)", Stage(42).String())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StageSettleWait.Terminal())
}
