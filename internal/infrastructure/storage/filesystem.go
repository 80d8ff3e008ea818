package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FileSystemConfig configures FileSystemStorage
type FileSystemConfig struct {
	BasePath      string
	BaseURL       string
	CapacityBytes int64
	Logger        *zap.Logger
}

// FileSystemStorage stores blobs as files below a base directory.
type FileSystemStorage struct {
	basePath string
	baseURL  string
	capacity int64
	logger   *zap.Logger
	now      func() time.Time
}

var _ BlobStorage = (*FileSystemStorage)(nil)

// NewFileSystemStorage creates the base directory if needed
func NewFileSystemStorage(cfg FileSystemConfig) (*FileSystemStorage, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("storage base path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, newStorageError(ErrCodeUnavailable, "init", cfg.BasePath, err)
	}
	absBase, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, newStorageError(ErrCodeUnavailable, "init", cfg.BasePath, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSystemStorage{
		basePath: absBase,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		capacity: cfg.CapacityBytes,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// resolve maps a key to an absolute path inside the base directory
func (s *FileSystemStorage) resolve(op, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	full := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(full, s.basePath+string(filepath.Separator)) {
		s.logger.Warn("path escape attempt blocked", zap.String("key", key), zap.String("path", full))
		return "", newStorageError(ErrCodeInvalidKey, op, key, errors.New("key escapes base path"))
	}
	return full, nil
}

// Put writes atomically through a temporary file in the target directory
func (s *FileSystemStorage) Put(ctx context.Context, key string, data []byte, contentType string) (*PutResult, error) {
	return s.PutStream(ctx, key, bytes.NewReader(data), ObjectInfo{
		Size:        int64(len(data)),
		Checksum:    Checksum(data),
		ContentType: contentType,
	})
}

// PutStream copies r into a temporary file and renames it over key
func (s *FileSystemStorage) PutStream(ctx context.Context, key string, r io.Reader, info ObjectInfo) (*PutResult, error) {
	if err := ctxErr(ctx, "put", key); err != nil {
		return nil, err
	}
	full, err := s.resolve("put", key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, newStorageError(ErrCodeWrite, "put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return nil, newStorageError(ErrCodeWrite, "put", key, err)
	}
	tmpName := tmp.Name()
	written, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, newStorageError(ErrCodeWrite, "put", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, newStorageError(ErrCodeWrite, "put", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return nil, newStorageError(ErrCodeWrite, "put", key, err)
	}

	s.logger.Debug("blob stored", zap.String("key", key), zap.Int64("size", written))
	return &PutResult{
		Key:         key,
		URL:         s.URL(key),
		Size:        written,
		Checksum:    info.Checksum,
		ContentType: info.ContentType,
		StoredAt:    s.now(),
	}, nil
}

func (s *FileSystemStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx, "get", key); err != nil {
		return nil, err
	}
	full, err := s.resolve("get", key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newStorageError(ErrCodeNotFound, "get", key, err)
		}
		return nil, newStorageError(ErrCodeRead, "get", key, err)
	}
	return data, nil
}

func (s *FileSystemStorage) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx, "delete", key); err != nil {
		return err
	}
	full, err := s.resolve("delete", key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newStorageError(ErrCodeWrite, "delete", key, err)
	}
	return nil
}

func (s *FileSystemStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctxErr(ctx, "exists", key); err != nil {
		return false, err
	}
	full, err := s.resolve("exists", key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, newStorageError(ErrCodeRead, "exists", key, err)
	}
	return !info.IsDir(), nil
}

// Usage walks the base directory summing regular file sizes
func (s *FileSystemStorage) Usage(ctx context.Context) (*Usage, error) {
	u := &Usage{CapacityBytes: s.capacity}
	err := filepath.WalkDir(s.basePath, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		u.UsedBytes += info.Size()
		u.Objects++
		return nil
	})
	if err != nil {
		return nil, newStorageError(ErrCodeRead, "usage", "", err)
	}
	return u, nil
}

// Ping verifies the base directory is writable
func (s *FileSystemStorage) Ping(ctx context.Context) error {
	if err := ctxErr(ctx, "ping", ""); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.basePath, ".ping-*")
	if err != nil {
		return newStorageError(ErrCodeUnavailable, "ping", "", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (s *FileSystemStorage) Provider() string {
	return ProviderFilesystem
}

// URL returns the public URL of key
func (s *FileSystemStorage) URL(key string) string {
	return fmt.Sprintf("%s/%s", s.baseURL, key)
}
