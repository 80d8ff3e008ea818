package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// ObjectStoreConfig configures the S3 and MinIO backends
type ObjectStoreConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	UsePathStyle  bool
	CapacityBytes int64
}

func (c *ObjectStoreConfig) validate() error {
	if c.Bucket == "" {
		return errors.New("storage bucket is required")
	}
	if c.AccessKey == "" {
		return errors.New("storage access key is required")
	}
	if c.SecretKey == "" {
		return errors.New("storage secret key is required")
	}
	return nil
}

// S3BlobStorage stores blobs in any S3-compatible bucket through aws-sdk-go-v2.
type S3BlobStorage struct {
	client   *s3.Client
	bucket   string
	endpoint string
	capacity int64
	logger   *zap.Logger
}

var _ BlobStorage = (*S3BlobStorage)(nil)

// S3Option configures S3BlobStorage
type S3Option func(*S3BlobStorage)

// WithS3Logger sets the logger
func WithS3Logger(logger *zap.Logger) S3Option {
	return func(s *S3BlobStorage) {
		s.logger = logger
	}
}

// NewS3BlobStorage builds an S3 client with static credentials
func NewS3BlobStorage(cfg ObjectStoreConfig, opts ...S3Option) (*S3BlobStorage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	s := &S3BlobStorage{
		client:   client,
		bucket:   cfg.Bucket,
		endpoint: endpoint,
		capacity: cfg.CapacityBytes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// EnsureBucket creates the bucket when it does not exist yet
func (s *S3BlobStorage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating storage bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (s *S3BlobStorage) Put(ctx context.Context, key string, data []byte, contentType string) (*PutResult, error) {
	return s.PutStream(ctx, key, bytes.NewReader(data), ObjectInfo{
		Size:        int64(len(data)),
		Checksum:    Checksum(data),
		ContentType: contentType,
	})
}

// PutStream uploads r in a single PutObject call with a declared length
func (s *S3BlobStorage) PutStream(ctx context.Context, key string, r io.Reader, info ObjectInfo) (*PutResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(info.Size),
		ContentType:   aws.String(info.ContentType),
		Metadata:      map[string]string{"sha256": info.Checksum},
	})
	if err != nil {
		return nil, newStorageError(ErrCodeWrite, "put", key, err)
	}
	return &PutResult{
		Key:         key,
		URL:         s.objectURL(key),
		Size:        info.Size,
		Checksum:    info.Checksum,
		ContentType: info.ContentType,
		StoredAt:    time.Now(),
	}, nil
}

func (s *S3BlobStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, newStorageError(ErrCodeNotFound, "get", key, err)
		}
		return nil, newStorageError(ErrCodeRead, "get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, newStorageError(ErrCodeRead, "get", key, err)
	}
	return data, nil
}

func (s *S3BlobStorage) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return newStorageError(ErrCodeWrite, "delete", key, err)
	}
	return nil
}

func (s *S3BlobStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, newStorageError(ErrCodeRead, "exists", key, err)
	}
	return true, nil
}

// Usage lists the whole bucket; acceptable for the document volumes this service holds
func (s *S3BlobStorage) Usage(ctx context.Context) (*Usage, error) {
	u := &Usage{CapacityBytes: s.capacity}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, newStorageError(ErrCodeRead, "usage", "", err)
		}
		for _, obj := range page.Contents {
			u.UsedBytes += aws.ToInt64(obj.Size)
			u.Objects++
		}
	}
	return u, nil
}

func (s *S3BlobStorage) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return newStorageError(ErrCodeUnavailable, "ping", "", err)
	}
	return nil
}

func (s *S3BlobStorage) Provider() string {
	return ProviderS3
}

// Bucket returns the configured bucket name
func (s *S3BlobStorage) Bucket() string {
	return s.bucket
}

func (s *S3BlobStorage) objectURL(key string) string {
	if s.endpoint == "" {
		return fmt.Sprintf("s3://%s/%s", s.bucket, key)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.endpoint, "/"), s.bucket, key)
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}
