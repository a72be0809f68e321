// Package channel carries the image to insert from the engine to the host.
package channel

import (
	"context"
	"fmt"
	"image"
	"os"

	// decoders for the raster formats drawings commonly link
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded image header ready to be loaded into a channel
type Image struct {
	Path   string
	Format string
	Width  int
	Height int
}

// InsertionChannel is the medium a paste-style insert reads from. Load
// replaces any previous content; Clear empties it.
type InsertionChannel interface {
	Load(ctx context.Context, img Image) error
	Clear(ctx context.Context) error
}

// Source exposes the image currently loaded, for hosts that consume the
// channel.
type Source interface {
	Current() (Image, bool)
}

// LoadImage probes path and returns its header. Unknown formats and
// unreadable files are errors.
func LoadImage(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Image{}, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Image{}, fmt.Errorf("image %s has no pixels", path)
	}

	return Image{
		Path:   path,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
