package align

import (
	"github.com/apk-analysis/apk-drift/internal/matrix"
)

// Align 将矩阵调整到 target 列：多余的尾部列截断，不足的右侧补零
// 各批次词表独立，同一列号在不同批次不一定对应同一特征，这只是近似对齐
func Align(m *matrix.Matrix, target int) *matrix.Matrix {
	if target < 0 {
		target = 0
	}
	if m.Cols == target {
		return m
	}

	out := matrix.New(m.Rows, target, m.DType)
	n := m.Cols
	if n > target {
		n = target
	}
	for i := 0; i < m.Rows; i++ {
		copy(out.Data[i*target:i*target+n], m.Data[i*m.Cols:i*m.Cols+n])
	}
	return out
}

// AlignVector 单个向量的截断/补零
func AlignVector(v matrix.Vector, target int) matrix.Vector {
	if len(v) == target {
		return v
	}
	out := matrix.NewVector(target)
	copy(out, v)
	return out
}
