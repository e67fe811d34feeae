package drebin

import (
	"encoding/json"
	"sort"

	"github.com/apk-analysis/apk-drift/internal/matrix"
)

// Vocabulary 一个批次内所有特征的有序并集，决定直接编码的列含义
// 列只在同一批次内有意义，不同批次之间不可比
type Vocabulary struct {
	features []string
	index    map[string]int
}

// BuildVocabulary 对所有特征集合取并集并按字典序排序
func BuildVocabulary(sets ...[]FeatureSet) *Vocabulary {
	union := make(map[string]struct{})
	for _, group := range sets {
		for _, set := range group {
			for feature := range set {
				union[feature] = struct{}{}
			}
		}
	}

	features := make([]string, 0, len(union))
	for feature := range union {
		features = append(features, feature)
	}
	sort.Strings(features)

	return newVocabulary(features)
}

func newVocabulary(features []string) *Vocabulary {
	index := make(map[string]int, len(features))
	for i, feature := range features {
		index[feature] = i
	}
	return &Vocabulary{features: features, index: index}
}

// Len 特征数，即向量宽度
func (v *Vocabulary) Len() int {
	return len(v.features)
}

// Features 有序特征列表（副本）
func (v *Vocabulary) Features() []string {
	out := make([]string, len(v.features))
	copy(out, v.features)
	return out
}

// Index 查询特征所在列
func (v *Vocabulary) Index(feature string) (int, bool) {
	i, ok := v.index[feature]
	return i, ok
}

// Encode 编码为 0/1 向量，不在词表中的特征被忽略
func (v *Vocabulary) Encode(set FeatureSet) matrix.Vector {
	vec := matrix.NewVector(len(v.features))
	for feature := range set {
		if i, ok := v.index[feature]; ok {
			vec[i] = 1
		}
	}
	return vec
}

// MarshalJSON 以有序列表形式输出
func (v *Vocabulary) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.features)
}

// UnmarshalJSON 从有序列表恢复
func (v *Vocabulary) UnmarshalJSON(data []byte) error {
	var features []string
	if err := json.Unmarshal(data, &features); err != nil {
		return err
	}
	*v = *newVocabulary(features)
	return nil
}
