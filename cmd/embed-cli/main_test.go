package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/imgembed/internal/domain"
	"github.com/cuongbtq/imgembed/internal/geometry"
	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/cuongbtq/imgembed/internal/host/simhost"
	"github.com/cuongbtq/imgembed/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
logging:
  level: error
  format: json
  output: %s
embed:
  settle_delay: 10ms
  watchdog: 2s
  measure_attempts: 10
  measure_interval: 5ms
  quiesce_timeout: 1s
  idle_interval: 5ms
host:
  driver: sim
  channel: memory
run:
  overwrite: true
`

func writeFixture(t *testing.T) (cfgPath, drawing string) {
	t.Helper()
	dir := t.TempDir()

	cfgPath = filepath.Join(dir, "config.yaml")
	body := []byte(fmt.Sprintf(testConfig, filepath.Join(dir, "cli.log")))
	require.NoError(t, os.WriteFile(cfgPath, body, 0o644))

	f, err := os.Create(filepath.Join(dir, "logo.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 40, 20))))
	require.NoError(t, f.Close())

	drawing = filepath.Join(dir, "a.dwg")
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

	return cfgPath, drawing
}

func TestRun_EmbedsDrawing(t *testing.T) {
	cfgPath, drawing := writeFixture(t)

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", cfgPath, drawing}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "STATUS")
	assert.Contains(t, out.String(), domain.StatusOk)
	assert.Contains(t, out.String(), drawing)
}

func TestRun_NewFileOptionsFromFlags(t *testing.T) {
	cfgPath, drawing := writeFixture(t)
	outDir := filepath.Join(t.TempDir(), "out")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-config", cfgPath, "-overwrite=false", "-out", outDir, "-suffix", "_emb", drawing,
	}, &out)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(outDir, "a_emb.dwg"))
}

func TestRun_FailedDrawing(t *testing.T) {
	cfgPath, _ := writeFixture(t)
	missing := filepath.Join(t.TempDir(), "gone.dwg")

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", cfgPath, missing}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 drawings failed")
	assert.Contains(t, out.String(), domain.StatusError)
}

func TestRun_Arguments(t *testing.T) {
	cfgPath, _ := writeFixture(t)

	err := run(context.Background(), []string{"-config", cfgPath}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "no drawings given")

	err = run(context.Background(), []string{"-config", cfgPath, "-overwrite=false", "x.dwg"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "invalid options")
}

func TestRunFlags_Apply(t *testing.T) {
	rf := runFlags{prefix: "E_", backup: true}
	opts := orchestrator.Options{Overwrite: true, Prefix: "old"}

	rf.apply("prefix", &opts)
	rf.apply("backup", &opts)

	assert.Equal(t, "E_", opts.Prefix)
	assert.True(t, opts.Backup)
	assert.True(t, opts.Overwrite)
}
