package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/apk-analysis/apk-drift/internal/config"
	"github.com/sirupsen/logrus"
)

// ErrNotFound key 不存在
var ErrNotFound = errors.New("blob not found")

// BlobStore 向量矩阵等产物的存储后端
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// New 根据配置创建存储后端
func New(ctx context.Context, cfg *config.StorageConfig, logger *logrus.Logger) (BlobStore, error) {
	switch cfg.Backend {
	case "", "local":
		logger.WithField("root", cfg.Root).Debug("Using local artifact store")
		return NewLocalStore(cfg.Root), nil
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("storage.s3.bucket is required for s3 backend")
		}
		store, err := NewS3StoreFromConfig(ctx, &cfg.S3)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"bucket": cfg.S3.Bucket,
			"prefix": cfg.S3.Prefix,
		}).Debug("Using S3 artifact store")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
