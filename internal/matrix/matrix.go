package matrix

import (
	"fmt"
)

// DType 元素类型（对应 NumPy dtype 描述符）
type DType string

const (
	Int8  DType = "|i1" // 簇编码向量
	Uint8 DType = "|u1" // 直接编码向量
)

// Vector 单个应用的 0/1 特征向量
type Vector []uint8

// NewVector 创建全零向量
func NewVector(width int) Vector {
	return make(Vector, width)
}

// NonZero 非零元素个数
func (v Vector) NonZero() int {
	n := 0
	for _, x := range v {
		if x != 0 {
			n++
		}
	}
	return n
}

// Matrix 按行堆叠的特征矩阵（行优先存储）
type Matrix struct {
	Rows  int
	Cols  int
	DType DType
	Data  []uint8
}

// New 创建全零矩阵
func New(rows, cols int, dtype DType) *Matrix {
	return &Matrix{
		Rows:  rows,
		Cols:  cols,
		DType: dtype,
		Data:  make([]uint8, rows*cols),
	}
}

// Stack 将等宽向量按顺序堆叠成矩阵
// 没有任何行时需要通过 cols 给出列数
func Stack(vectors []Vector, cols int, dtype DType) (*Matrix, error) {
	m := New(len(vectors), cols, dtype)
	for i, v := range vectors {
		if len(v) != cols {
			return nil, fmt.Errorf("row %d has width %d, expected %d", i, len(v), cols)
		}
		copy(m.Data[i*cols:(i+1)*cols], v)
	}
	return m, nil
}

// Row 返回第 i 行（共享底层数组）
func (m *Matrix) Row(i int) Vector {
	return Vector(m.Data[i*m.Cols : (i+1)*m.Cols])
}

// At 返回 (i, j) 位置的元素
func (m *Matrix) At(i, j int) uint8 {
	return m.Data[i*m.Cols+j]
}

// Shape 返回 (行, 列)
func (m *Matrix) Shape() (int, int) {
	return m.Rows, m.Cols
}

// ShapeString 形如 (270, 2000)
func (m *Matrix) ShapeString() string {
	return fmt.Sprintf("(%d, %d)", m.Rows, m.Cols)
}

// VStack 纵向拼接，所有矩阵列数必须一致
func VStack(dtype DType, cols int, ms ...*Matrix) (*Matrix, error) {
	rows := 0
	for i, m := range ms {
		if m.Cols != cols {
			return nil, fmt.Errorf("matrix %d has %d columns, expected %d", i, m.Cols, cols)
		}
		rows += m.Rows
	}

	out := New(rows, cols, dtype)
	offset := 0
	for _, m := range ms {
		copy(out.Data[offset:], m.Data)
		offset += len(m.Data)
	}
	return out, nil
}

// Equal 判断两个矩阵形状和内容是否完全一致
func (m *Matrix) Equal(other *Matrix) bool {
	if m.Rows != other.Rows || m.Cols != other.Cols || len(m.Data) != len(other.Data) {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
