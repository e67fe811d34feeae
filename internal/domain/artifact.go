package domain

import (
	"fmt"
	"path"
)

// MatrixKey 矩阵在存储中的键，如 graph_vector/mal_2016.npy
func MatrixKey(encoding Encoding, kind Kind, batch string) string {
	return path.Join(encoding.VectorDir(), fmt.Sprintf("%s_%s.npy", kind, batch))
}

// VocabularyKey 直接编码词表的键，如 direct_vector/vocab_2016.json
func VocabularyKey(encoding Encoding, batch string) string {
	return path.Join(encoding.VectorDir(), fmt.Sprintf("vocab_%s.json", batch))
}

// DatasetKey 训练/测试数据集的键，如 datasets/direct/cumulative_2018_X.npy
func DatasetKey(encoding Encoding, name, part string) string {
	return path.Join("datasets", string(encoding), fmt.Sprintf("%s_%s.npy", name, part))
}

// AlignedKey 对齐后矩阵的键，如 direct_vector/aligned/mal_2018.npy
func AlignedKey(encoding Encoding, kind Kind, batch string) string {
	return path.Join(encoding.VectorDir(), "aligned", fmt.Sprintf("%s_%s.npy", kind, batch))
}
