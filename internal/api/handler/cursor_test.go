package handler

import (
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/cuongbtq/imgembed/internal/api/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cursorBatchID = "6c1f6a1e-1b1c-4f5e-9a56-0d2b1f7f3a10"

func TestBatchCursor_RoundTrip(t *testing.T) {
	in := &storage.BatchCursor{
		CreatedAt: time.Date(2026, 5, 6, 7, 8, 9, 123456789, time.FixedZone("ICT", 7*3600)),
		BatchID:   cursorBatchID,
	}

	encoded := EncodeBatchCursor(in)
	assert.Equal(t, encoded, url.QueryEscape(encoded), "cursor is query-safe")

	out, err := DecodeBatchCursor(encoded)
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.BatchID, out.BatchID)
}

func TestDecodeBatchCursor_Invalid(t *testing.T) {
	cursor, err := DecodeBatchCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	enc := base64.RawURLEncoding.EncodeToString
	tests := map[string]string{
		"not base64":    "%%%",
		"missing parts": enc([]byte("2026-05-06T07:08:09Z")),
		"bad timestamp": enc([]byte("yesterday," + cursorBatchID)),
		"bad batch id":  enc([]byte("2026-05-06T07:08:09Z,42")),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBatchCursor(in)
			assert.Error(t, err)
		})
	}
}
