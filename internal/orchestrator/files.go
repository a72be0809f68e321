package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/google/uuid"
)

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// copyFile copies src to dst, creating dst's folder
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// saveReplace saves doc to a temporary file next to path and renames it
// over path, so a failed save never leaves a truncated document behind.
func saveReplace(ctx context.Context, doc host.Document, path string) error {
	tmp := filepath.Join(filepath.Dir(path), ".embed-"+uuid.NewString()+filepath.Ext(path))

	if err := doc.SaveAs(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save temp copy: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
