package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioBlobStorage stores blobs in a MinIO bucket through minio-go.
type MinioBlobStorage struct {
	client   *minio.Client
	bucket   string
	capacity int64
	logger   *zap.Logger
}

var _ BlobStorage = (*MinioBlobStorage)(nil)

// NewMinioBlobStorage creates the client. Call EnsureBucket before first use.
func NewMinioBlobStorage(cfg ObjectStoreConfig, logger *zap.Logger) (*MinioBlobStorage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required for minio")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioBlobStorage{client: client, bucket: cfg.Bucket, capacity: cfg.CapacityBytes, logger: logger}, nil
}

// EnsureBucket creates the bucket when missing
func (m *MinioBlobStorage) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	m.logger.Info("Creating storage bucket", zap.String("bucket", m.bucket))
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (m *MinioBlobStorage) Put(ctx context.Context, key string, data []byte, contentType string) (*PutResult, error) {
	return m.PutStream(ctx, key, bytes.NewReader(data), ObjectInfo{
		Size:        int64(len(data)),
		Checksum:    Checksum(data),
		ContentType: contentType,
	})
}

// PutStream uploads r; minio-go switches to multipart for large sizes
func (m *MinioBlobStorage) PutStream(ctx context.Context, key string, r io.Reader, info ObjectInfo) (*PutResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, r, info.Size, minio.PutObjectOptions{
		ContentType:  info.ContentType,
		UserMetadata: map[string]string{"sha256": info.Checksum},
	})
	if err != nil {
		return nil, m.classify("put", key, err, ErrCodeWrite)
	}
	return &PutResult{
		Key:         key,
		URL:         fmt.Sprintf("%s/%s/%s", m.client.EndpointURL().String(), m.bucket, key),
		Size:        info.Size,
		Checksum:    info.Checksum,
		ContentType: info.ContentType,
		StoredAt:    time.Now(),
	}, nil
}

func (m *MinioBlobStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.classify("get", key, err, ErrCodeRead)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.classify("get", key, err, ErrCodeRead)
	}
	return data, nil
}

func (m *MinioBlobStorage) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if se := m.classify("delete", key, err, ErrCodeWrite); se.Code != ErrCodeNotFound {
			return se
		}
	}
	return nil
}

func (m *MinioBlobStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		se := m.classify("exists", key, err, ErrCodeRead)
		if se.Code == ErrCodeNotFound {
			return false, nil
		}
		return false, se
	}
	return true, nil
}

func (m *MinioBlobStorage) Usage(ctx context.Context) (*Usage, error) {
	u := &Usage{CapacityBytes: m.capacity}
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, newStorageError(ErrCodeRead, "usage", "", obj.Err)
		}
		u.UsedBytes += obj.Size
		u.Objects++
	}
	return u, nil
}

func (m *MinioBlobStorage) Ping(ctx context.Context) error {
	if _, err := m.client.BucketExists(ctx, m.bucket); err != nil {
		return newStorageError(ErrCodeUnavailable, "ping", "", err)
	}
	return nil
}

func (m *MinioBlobStorage) Provider() string {
	return ProviderMinio
}

func (m *MinioBlobStorage) classify(op, key string, err error, fallback string) *StorageError {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return newStorageError(ErrCodeNotFound, op, key, err)
	}
	return newStorageError(fallback, op, key, err)
}
