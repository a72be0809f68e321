package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/imgembed/internal/api/storage"
	"github.com/google/uuid"
)

// Cursors are "<created_at RFC3339Nano>,<batch_id>" in unpadded URL-safe
// base64 so they can be passed back in a query string as is.

// DecodeBatchCursor parses a page cursor; an empty string is the first page
func DecodeBatchCursor(cursorStr string) (*storage.BatchCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	stamp, batchID, ok := strings.Cut(string(decoded), ",")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at in cursor: %w", err)
	}

	if _, err := uuid.Parse(batchID); err != nil {
		return nil, fmt.Errorf("invalid batch_id in cursor: %w", err)
	}

	return &storage.BatchCursor{CreatedAt: createdAt, BatchID: batchID}, nil
}

// EncodeBatchCursor returns the cursor for the page after cursor
func EncodeBatchCursor(cursor *storage.BatchCursor) string {
	raw := cursor.CreatedAt.UTC().Format(time.RFC3339Nano) + "," + cursor.BatchID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}
