package engine

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

	"github.com/cuongbtq/imgembed/internal/config"
	"github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/geometry"
	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/cuongbtq/imgembed/internal/host/simhost"
	"github.com/cuongbtq/imgembed/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Embed: config.EmbedConfig{
			SettleDelay:     10 * time.Millisecond,
			Watchdog:        2 * time.Second,
			MeasureAttempts: 10,
			MeasureInterval: 5 * time.Millisecond,
			QuiesceTimeout:  time.Second,
			IdleInterval:    5 * time.Millisecond,
		},
		Host: config.HostConfig{Driver: config.DriverSim, Channel: config.ChannelMemory},
		Run:  config.RunConfig{Overwrite: true, Backup: true},
	}
}

func TestNew_Unsupported(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.Host.Driver = "acad"
	_, err := New(cfg, logger)
	assert.ErrorContains(t, err, "unsupported host driver")

	cfg = testConfig()
	cfg.Host.Channel = "pipe"
	_, err = New(cfg, logger)
	assert.ErrorContains(t, err, "unsupported insertion channel")
}

func TestEngine_RunsBatch(t *testing.T) {
	dir := t.TempDir()

	f, err := os.Create(filepath.Join(dir, "logo.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 40, 20))))
	require.NoError(t, f.Close())

	drawing := filepath.Join(dir, "a.dwg")
	require.NoError(t, simhost.WriteDrawing(drawing, &simhost.Drawing{
		Sheets: []simhost.SheetSpec{{
			Name: "Layout1",
			Entities: []simhost.EntitySpec{{
				Handle: "A",
				Kind:   host.KindRasterImage,
				Source: "logo.png",
				Min:    geometry.Point{X: 0, Y: 0},
				Max:    geometry.Point{X: 10, Y: 5},
			}},
		}},
	}))

	e, err := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(e.Close)

	opts := e.DefaultOptions()
	assert.True(t, opts.Overwrite)
	assert.True(t, opts.Backup)

	sink := report.NewMemory()
	items := e.Orchestrator(opts, sink).Run(context.Background(), []string{drawing})

	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusOk, items[0].Status, items[0].Message)
	assert.FileExists(t, filepath.Join(dir, "backup", "a.dwg"))
	assert.Len(t, sink.Outcomes(), 1)
	assert.Empty(t, sink.Errors())

	// flags are put back after the run
	v, err := e.Host.Variable("FILEDIA")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}
