package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// ObjectInfo describes an object written from a reader
type ObjectInfo struct {
	Size        int64
	Checksum    string // hex sha256 of the content
	ContentType string
}

// StreamWriter is implemented by backends that store an object straight from
// a reader without holding it in memory.
type StreamWriter interface {
	PutStream(ctx context.Context, key string, r io.Reader, info ObjectInfo) (*PutResult, error)
}

var (
	_ StreamWriter = (*FileSystemStorage)(nil)
	_ StreamWriter = (*S3BlobStorage)(nil)
	_ StreamWriter = (*MinioBlobStorage)(nil)
)

// PutFile stores the content of f under key. Streaming backends read the file
// chunk by chunk; any other backend receives it as one buffer.
func PutFile(ctx context.Context, s BlobStorage, key string, f *os.File, contentType string) (*PutResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, newStorageError(ErrCodeRead, "put", key, err)
	}
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, newStorageError(ErrCodeRead, "put", key, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, newStorageError(ErrCodeRead, "put", key, err)
	}

	sw, ok := s.(StreamWriter)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, newStorageError(ErrCodeRead, "put", key, err)
		}
		return s.Put(ctx, key, data, contentType)
	}
	return sw.PutStream(ctx, key, f, ObjectInfo{
		Size:        size,
		Checksum:    hex.EncodeToString(h.Sum(nil)),
		ContentType: contentType,
	})
}
