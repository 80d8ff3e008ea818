package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestFS(t *testing.T) *FileSystemStorage {
	t.Helper()
	s, err := NewFileSystemStorage(FileSystemConfig{
		BasePath:      t.TempDir(),
		BaseURL:       "/files/",
		CapacityBytes: 1000,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return s
}

func TestNewFileSystemStorage_RequiresBasePath(t *testing.T) {
	_, err := NewFileSystemStorage(FileSystemConfig{})
	assert.Error(t, err)
}

func TestFileSystemStorage_PutGetDelete(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	key := "documents/PAYSLIP/2024-03/PAY-E1.pdf"
	data := []byte("%PDF-1.7 payload")

	res, err := s.Put(ctx, key, data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, key, res.Key)
	assert.Equal(t, "/files/"+key, res.URL)
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Equal(t, Checksum(data), res.Checksum)

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key), "deleting twice is not an error")

	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileSystemStorage_PutOverwrites(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "k.pdf", []byte("first"), "application/pdf")
	require.NoError(t, err)
	_, err = s.Put(ctx, "k.pdf", []byte("second"), "application/pdf")
	require.NoError(t, err)

	got, err := s.Get(ctx, "k.pdf")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(s.basePath)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestFileSystemStorage_RejectsEscapingKeys(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	for _, key := range []string{"../outside.pdf", "/abs.pdf", "a/../../b"} {
		_, err := s.Put(ctx, key, []byte("x"), "application/pdf")
		assert.Error(t, err, key)
		_, err = s.Get(ctx, key)
		assert.Error(t, err, key)
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(s.basePath), "outside.pdf"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSystemStorage_Usage(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "a/one.pdf", make([]byte, 100), "application/pdf")
	require.NoError(t, err)
	_, err = s.Put(ctx, "b/two.pdf", make([]byte, 150), "application/pdf")
	require.NoError(t, err)

	u, err := s.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), u.UsedBytes)
	assert.Equal(t, int64(2), u.Objects)
	assert.InDelta(t, 0.25, u.Ratio(), 1e-9)
}

func TestFileSystemStorage_PingAndCancellation(t *testing.T) {
	s := newTestFS(t)
	require.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, ProviderFilesystem, s.Provider())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Put(ctx, "k.pdf", []byte("x"), "application/pdf")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Error(t, s.Ping(ctx))
}
