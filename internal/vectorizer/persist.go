package vectorizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/matrix"
	"github.com/apk-analysis/apk-drift/internal/storage"
)

// Persist 写出批次的两个矩阵（以及直接编码的词表），返回写入的键
func Persist(ctx context.Context, store storage.BlobStore, result *Result) ([]string, error) {
	var keys []string

	for _, kind := range []domain.Kind{domain.KindMalicious, domain.KindBenign} {
		var buf bytes.Buffer
		if err := matrix.WriteNPY(&buf, result.Matrix(kind)); err != nil {
			return keys, fmt.Errorf("failed to encode %s matrix: %w", kind, err)
		}
		key := domain.MatrixKey(result.Encoding, kind, result.Batch)
		if err := store.Put(ctx, key, buf.Bytes()); err != nil {
			return keys, fmt.Errorf("failed to store %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	if result.Vocabulary != nil {
		data, err := json.Marshal(result.Vocabulary)
		if err != nil {
			return keys, fmt.Errorf("failed to encode vocabulary: %w", err)
		}
		key := domain.VocabularyKey(result.Encoding, result.Batch)
		if err := store.Put(ctx, key, data); err != nil {
			return keys, fmt.Errorf("failed to store %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	return keys, nil
}
