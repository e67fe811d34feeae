package align

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/matrix"
	"github.com/apk-analysis/apk-drift/internal/storage"
	"github.com/sirupsen/logrus"
)

// Loader 从存储中读取批次矩阵
type Loader struct {
	store    storage.BlobStore
	encoding domain.Encoding
	logger   *logrus.Logger
	lossy    sync.Once
}

// NewLoader 创建矩阵加载器
func NewLoader(store storage.BlobStore, encoding domain.Encoding, logger *logrus.Logger) *Loader {
	return &Loader{
		store:    store,
		encoding: encoding,
		logger:   logger,
	}
}

// DType 该编码的矩阵元素类型
func (l *Loader) DType() matrix.DType {
	if l.encoding == domain.EncodingGraph {
		return matrix.Int8
	}
	return matrix.Uint8
}

// Raw 读取原始矩阵，不存在时返回 storage.ErrNotFound
func (l *Loader) Raw(ctx context.Context, kind domain.Kind, batch string) (*matrix.Matrix, error) {
	key := domain.MatrixKey(l.encoding, kind, batch)
	data, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	m, err := matrix.ReadNPY(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return m, nil
}

// Load 读取并对齐到 target 列，缺失时返回 (0, target) 的空矩阵
func (l *Loader) Load(ctx context.Context, kind domain.Kind, batch string, target int) (*matrix.Matrix, error) {
	m, err := l.Raw(ctx, kind, batch)
	if errors.Is(err, storage.ErrNotFound) {
		l.logger.WithFields(logrus.Fields{
			"encoding": l.encoding,
			"kind":     kind,
			"batch":    batch,
			"key":      domain.MatrixKey(l.encoding, kind, batch),
		}).Warn("Matrix missing, using empty placeholder")
		return matrix.New(0, target, l.DType()), nil
	}
	if err != nil {
		return nil, err
	}

	if m.Cols != target {
		l.lossy.Do(func() {
			l.logger.WithField("target_dim", target).
				Warn("Aligning batch-local vocabularies by truncate/pad; columns are not guaranteed to match across batches")
		})
		l.logger.WithFields(logrus.Fields{
			"kind":   kind,
			"batch":  batch,
			"width":  m.Cols,
			"target": target,
		}).Debug("Aligning matrix")
	}
	return Align(m, target), nil
}

// ReferenceDim 参考批次恶意矩阵的宽度
func (l *Loader) ReferenceDim(ctx context.Context, batch string) (int, error) {
	m, err := l.Raw(ctx, domain.KindMalicious, batch)
	if err != nil {
		return 0, fmt.Errorf("reference batch %s: %w", batch, err)
	}
	return m.Cols, nil
}
