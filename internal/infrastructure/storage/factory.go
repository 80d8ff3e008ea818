package storage

import (
	"context"
	"fmt"

	"github.com/erp/payroll/internal/infrastructure/config"
	"go.uber.org/zap"
)

const gib = int64(1) << 30

// New builds the configured backend and makes sure its bucket or directory exists.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (BlobStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := cfg.CapacityGB * gib
	objCfg := ObjectStoreConfig{
		Endpoint:      cfg.Endpoint,
		Region:        cfg.Region,
		Bucket:        cfg.Bucket,
		AccessKey:     cfg.AccessKey,
		SecretKey:     cfg.SecretKey,
		UseSSL:        cfg.UseSSL,
		UsePathStyle:  cfg.UsePathStyle,
		CapacityBytes: capacity,
	}

	switch cfg.Provider {
	case ProviderFilesystem, "":
		return NewFileSystemStorage(FileSystemConfig{
			BasePath:      cfg.BasePath,
			BaseURL:       cfg.BaseURL,
			CapacityBytes: capacity,
			Logger:        logger,
		})
	case ProviderS3:
		s, err := NewS3BlobStorage(objCfg, WithS3Logger(logger))
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case ProviderMinio:
		m, err := NewMinioBlobStorage(objCfg, logger)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}
