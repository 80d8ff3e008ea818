// Package storage provides the blob storage backends that hold generated payroll PDFs
// and export archives.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderFilesystem = "filesystem"
	ProviderS3         = "s3"
	ProviderMinio      = "minio"
)

// BlobStorage stores opaque byte objects under slash-separated keys.
type BlobStorage interface {
	// Put writes data under key, replacing any existing object
	Put(ctx context.Context, key string, data []byte, contentType string) (*PutResult, error)
	// Get reads the object; ErrObjectNotFound when absent
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)
	// Usage reports bytes stored against the configured capacity
	Usage(ctx context.Context) (*Usage, error)
	// Ping checks the backend is reachable
	Ping(ctx context.Context) error
	// Provider returns the backend name
	Provider() string
}

// PutResult describes a stored object
type PutResult struct {
	Key         string
	URL         string
	Size        int64
	Checksum    string // hex sha256
	ContentType string
	StoredAt    time.Time
}

// Usage is a utilization snapshot
type Usage struct {
	UsedBytes     int64
	CapacityBytes int64 // 0 when the backend has no declared capacity
	Objects       int64
}

// Ratio returns used/capacity, or 0 when capacity is unknown
func (u *Usage) Ratio() float64 {
	if u == nil || u.CapacityBytes <= 0 {
		return 0
	}
	return float64(u.UsedBytes) / float64(u.CapacityBytes)
}

// Storage error codes
const (
	ErrCodeInvalidKey  = "STORAGE_INVALID_KEY"
	ErrCodeNotFound    = "STORAGE_NOT_FOUND"
	ErrCodeWrite       = "STORAGE_WRITE_FAILED"
	ErrCodeRead        = "STORAGE_READ_FAILED"
	ErrCodeUnavailable = "STORAGE_UNAVAILABLE"
)

// StorageError is returned by every backend
type StorageError struct {
	Code string
	Op   string
	Key  string
	Err  error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage %s %q: %s", e.Op, e.Key, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches storage errors by code
func (e *StorageError) Is(target error) bool {
	var other *StorageError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code && other.Op == "" && other.Key == ""
}

// ErrObjectNotFound matches any not-found StorageError via errors.Is
var ErrObjectNotFound = &StorageError{Code: ErrCodeNotFound}

func newStorageError(code, op, key string, err error) *StorageError {
	return &StorageError{Code: code, Op: op, Key: key, Err: err}
}

// Checksum returns the hex sha256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateKey rejects empty, absolute and parent-escaping keys
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return newStorageError(ErrCodeInvalidKey, "validate", key, errors.New("key is required"))
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return newStorageError(ErrCodeInvalidKey, "validate", key, errors.New("key must be relative and slash-separated"))
	}
	if slices.Contains(strings.Split(key, "/"), "..") || path.Clean(key) != key {
		return newStorageError(ErrCodeInvalidKey, "validate", key, errors.New("key must be clean"))
	}
	return nil
}

func ctxErr(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return newStorageError(ErrCodeUnavailable, op, key, err)
	}
	return nil
}
