package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// DefaultClusterCount 默认簇数量
const DefaultClusterCount = 2000

// ErrIndexOutOfRange 映射中的簇编号超出 [0, count)
var ErrIndexOutOfRange = errors.New("cluster index out of range")

// Mapping API 符号到簇编号的只读映射
// 构造完成后不再修改，可在多个 goroutine 间共享
type Mapping struct {
	index map[string]int
	count int
}

// NewMapping 从内存中的表构造映射，会复制输入并校验簇编号
func NewMapping(entries map[string]int, count int) (*Mapping, error) {
	if count <= 0 {
		return nil, fmt.Errorf("cluster count must be positive, got %d", count)
	}

	index := make(map[string]int, len(entries))
	for symbol, idx := range entries {
		if idx < 0 || idx >= count {
			return nil, fmt.Errorf("%w: %s -> %d (count %d)", ErrIndexOutOfRange, symbol, idx, count)
		}
		index[symbol] = idx
	}

	return &Mapping{index: index, count: count}, nil
}

// LoadMapping 从 JSON 文件加载映射，格式为 {"android.util.Log.d": 7, ...}
func LoadMapping(path string, count int) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cluster mapping: %w", err)
	}

	var entries map[string]int
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse cluster mapping %s: %w", path, err)
	}

	m, err := NewMapping(entries, count)
	if err != nil {
		return nil, fmt.Errorf("load cluster mapping %s: %w", path, err)
	}
	return m, nil
}

// Lookup 查询符号所属的簇
func (m *Mapping) Lookup(symbol string) (int, bool) {
	idx, ok := m.index[symbol]
	return idx, ok
}

// Count 簇数量，即向量宽度
func (m *Mapping) Count() int {
	return m.count
}

// Len 已知符号数量
func (m *Mapping) Len() int {
	return len(m.index)
}
