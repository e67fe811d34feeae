package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apk-analysis/apk-drift/internal/align"
	"github.com/apk-analysis/apk-drift/internal/config"
	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/matrix"
	"github.com/apk-analysis/apk-drift/internal/storage"
	"github.com/sirupsen/logrus"
)

// ArtifactService 已写出矩阵的检查、对齐和数据集导出
type ArtifactService struct {
	store  storage.BlobStore
	logger *logrus.Logger
}

// NewArtifactService 创建产物服务
func NewArtifactService(store storage.BlobStore, logger *logrus.Logger) *ArtifactService {
	return &ArtifactService{
		store:  store,
		logger: logger,
	}
}

// Check 对比同一批次恶意和良性矩阵的统计信息
func (s *ArtifactService) Check(ctx context.Context, encoding domain.Encoding, batch string) (*matrix.CompareStats, error) {
	loader := align.NewLoader(s.store, encoding, s.logger)
	mal, err := loader.Raw(ctx, domain.KindMalicious, batch)
	if err != nil {
		return nil, err
	}
	ben, err := loader.Raw(ctx, domain.KindBenign, batch)
	if err != nil {
		return nil, err
	}
	return matrix.Compare(mal, ben)
}

// TargetDim 数据集列数：簇编码为簇数；直接编码优先用配置值，否则取参考批次宽度
func (s *ArtifactService) TargetDim(ctx context.Context, encoding domain.Encoding, cfg *config.AlignConfig, clusterCount int) (int, error) {
	if encoding == domain.EncodingGraph {
		return clusterCount, nil
	}
	if cfg.TargetDim > 0 {
		return cfg.TargetDim, nil
	}
	if cfg.ReferenceBatch == "" {
		return 0, fmt.Errorf("align.reference_batch or align.target_dim is required")
	}

	dim, err := align.NewLoader(s.store, encoding, s.logger).ReferenceDim(ctx, cfg.ReferenceBatch)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{
		"reference_batch": cfg.ReferenceBatch,
		"target_dim":      dim,
	}).Info("Reference dimension resolved")
	return dim, nil
}

// AlignBatch 对齐一个批次的两个矩阵并写到 aligned/ 下，返回写入的键
func (s *ArtifactService) AlignBatch(ctx context.Context, encoding domain.Encoding, batch string, target int) ([]string, error) {
	loader := align.NewLoader(s.store, encoding, s.logger)

	var keys []string
	for _, kind := range []domain.Kind{domain.KindMalicious, domain.KindBenign} {
		m, err := loader.Load(ctx, kind, batch, target)
		if err != nil {
			return keys, err
		}

		var buf bytes.Buffer
		if err := matrix.WriteNPY(&buf, m); err != nil {
			return keys, fmt.Errorf("failed to encode aligned %s matrix: %w", kind, err)
		}
		key := domain.AlignedKey(encoding, kind, batch)
		if err := s.store.Put(ctx, key, buf.Bytes()); err != nil {
			return keys, fmt.Errorf("failed to store %s: %w", key, err)
		}
		keys = append(keys, key)

		s.logger.WithFields(logrus.Fields{
			"kind":  kind,
			"batch": batch,
			"shape": m.ShapeString(),
		}).Info("Matrix aligned")
	}
	return keys, nil
}

// Datasets 构建并导出训练/测试数据集
func (s *ArtifactService) Datasets(ctx context.Context, encoding domain.Encoding, opts align.DatasetOptions) ([]*align.Dataset, []string, error) {
	loader := align.NewLoader(s.store, encoding, s.logger)
	datasets, err := align.BuildDatasets(ctx, loader, opts, s.logger)
	if err != nil {
		return nil, nil, err
	}

	keys, err := align.Export(ctx, s.store, encoding, datasets)
	if err != nil {
		return nil, nil, err
	}
	return datasets, keys, nil
}
