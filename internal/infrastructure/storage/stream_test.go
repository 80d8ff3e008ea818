package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufferedOnly hides PutStream so PutFile takes the buffered path
type bufferedOnly struct {
	BlobStorage
}

func spoolFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "spool.zip"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	_, err = f.Write(data)
	require.NoError(t, err)
	return f
}

func TestPutFile(t *testing.T) {
	ctx := context.Background()
	data := []byte("PK zipped export content")

	tests := []struct {
		name    string
		backend func(*FileSystemStorage) BlobStorage
	}{
		{"streaming backend", func(s *FileSystemStorage) BlobStorage { return s }},
		{"buffered backend", func(s *FileSystemStorage) BlobStorage { return bufferedOnly{s} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newTestFS(t)
			f := spoolFile(t, data)

			res, err := PutFile(ctx, tt.backend(fs), "exports/op.zip", f, "application/zip")
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), res.Size)
			assert.Equal(t, Checksum(data), res.Checksum)
			assert.Equal(t, "application/zip", res.ContentType)

			got, err := fs.Get(ctx, "exports/op.zip")
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestPutFile_RejectsInvalidKey(t *testing.T) {
	f := spoolFile(t, []byte("x"))
	_, err := PutFile(context.Background(), newTestFS(t), "../escape.zip", f, "application/zip")
	assert.Error(t, err)
}
