package align

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/matrix"
	"github.com/apk-analysis/apk-drift/internal/storage"
	"github.com/sirupsen/logrus"
)

// Dataset 带标签的样本集合，恶意为 1，良性为 0
type Dataset struct {
	Name string // single_2016, cumulative_2018, test_2022
	X    *matrix.Matrix
	Y    []uint8
}

// Shape X 的形状
func (d *Dataset) Shape() string {
	return d.X.ShapeString()
}

// DatasetOptions 数据集构建参数
type DatasetOptions struct {
	TrainBatches []string
	TestBatch    string
	TargetDim    int // 列数，簇编码为簇数，直接编码为参考批次宽度
}

// BuildDatasets 为每个训练批次构建单批次和累加（从第一个批次起）数据集，外加测试集
func BuildDatasets(ctx context.Context, loader *Loader, opts DatasetOptions, logger *logrus.Logger) ([]*Dataset, error) {
	if len(opts.TrainBatches) == 0 {
		return nil, fmt.Errorf("no training batches")
	}

	var datasets []*Dataset
	var cumulative []*Dataset
	for _, batch := range opts.TrainBatches {
		single, err := loadBatch(ctx, loader, batch, opts.TargetDim)
		if err != nil {
			return nil, err
		}
		single.Name = "single_" + batch
		datasets = append(datasets, single)

		cumulative = append(cumulative, single)
		merged, err := concat(loader.DType(), opts.TargetDim, cumulative)
		if err != nil {
			return nil, err
		}
		merged.Name = "cumulative_" + batch
		datasets = append(datasets, merged)

		logger.WithFields(logrus.Fields{
			"batch":      batch,
			"single":     single.Shape(),
			"cumulative": merged.Shape(),
		}).Info("Training datasets ready")
	}

	if opts.TestBatch != "" {
		test, err := loadBatch(ctx, loader, opts.TestBatch, opts.TargetDim)
		if err != nil {
			return nil, err
		}
		test.Name = "test_" + opts.TestBatch
		datasets = append(datasets, test)
		logger.WithFields(logrus.Fields{
			"batch": opts.TestBatch,
			"shape": test.Shape(),
		}).Info("Test dataset ready")
	}

	return datasets, nil
}

func loadBatch(ctx context.Context, loader *Loader, batch string, target int) (*Dataset, error) {
	mal, err := loader.Load(ctx, domain.KindMalicious, batch, target)
	if err != nil {
		return nil, err
	}
	ben, err := loader.Load(ctx, domain.KindBenign, batch, target)
	if err != nil {
		return nil, err
	}

	x, err := matrix.VStack(loader.DType(), target, mal, ben)
	if err != nil {
		return nil, err
	}
	return &Dataset{X: x, Y: labels(mal.Rows, ben.Rows)}, nil
}

func labels(mal, ben int) []uint8 {
	y := make([]uint8, mal+ben)
	for i := 0; i < mal; i++ {
		y[i] = domain.KindMalicious.Label()
	}
	return y
}

func concat(dtype matrix.DType, cols int, parts []*Dataset) (*Dataset, error) {
	ms := make([]*matrix.Matrix, 0, len(parts))
	var y []uint8
	for _, p := range parts {
		ms = append(ms, p.X)
		y = append(y, p.Y...)
	}
	x, err := matrix.VStack(dtype, cols, ms...)
	if err != nil {
		return nil, err
	}
	return &Dataset{X: x, Y: y}, nil
}

// Export 以 <name>_X.npy / <name>_y.npy 写出数据集，返回写入的键
func Export(ctx context.Context, store storage.BlobStore, encoding domain.Encoding, datasets []*Dataset) ([]string, error) {
	var keys []string
	for _, d := range datasets {
		var xBuf, yBuf bytes.Buffer
		if err := matrix.WriteNPY(&xBuf, d.X); err != nil {
			return keys, fmt.Errorf("failed to encode %s: %w", d.Name, err)
		}
		if err := matrix.WriteLabelsNPY(&yBuf, d.Y); err != nil {
			return keys, fmt.Errorf("failed to encode %s labels: %w", d.Name, err)
		}

		parts := []struct {
			name string
			data []byte
		}{
			{"X", xBuf.Bytes()},
			{"y", yBuf.Bytes()},
		}
		for _, part := range parts {
			key := domain.DatasetKey(encoding, d.Name, part.name)
			if err := store.Put(ctx, key, part.data); err != nil {
				return keys, fmt.Errorf("failed to store %s: %w", key, err)
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}
