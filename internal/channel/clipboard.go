package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
)

// Clipboard puts the image file reference on the system clipboard. Hosts
// that paste file references from the clipboard pick it up from there.
type Clipboard struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// NewClipboard creates a system clipboard channel
func NewClipboard(logger *slog.Logger) (*Clipboard, error) {
	if clipboard.Unsupported {
		return nil, fmt.Errorf("system clipboard is not supported on this platform")
	}
	return &Clipboard{logger: logger}, nil
}

func (c *Clipboard) Load(ctx context.Context, img Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := clipboard.WriteAll(img.Path); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}

	c.logger.Debug("Image placed on clipboard",
		slog.String("path", img.Path),
		slog.String("format", img.Format),
		slog.Int("width", img.Width),
		slog.Int("height", img.Height),
	)
	return nil
}

func (c *Clipboard) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := clipboard.WriteAll(""); err != nil {
		return fmt.Errorf("failed to clear clipboard: %w", err)
	}
	return nil
}

// Current reads the clipboard back and probes the referenced file
func (c *Clipboard) Current() (Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	text, err := clipboard.ReadAll()
	if err != nil {
		c.logger.Warn("Failed to read clipboard", slog.String("error", err.Error()))
		return Image{}, false
	}

	path := strings.TrimSpace(text)
	if path == "" {
		return Image{}, false
	}

	img, err := LoadImage(path)
	if err != nil {
		c.logger.Warn("Clipboard does not reference an image",
			slog.String("text", path),
			slog.String("error", err.Error()),
		)
		return Image{}, false
	}
	return img, true
}
