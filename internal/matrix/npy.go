package matrix

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/sbinet/npyio"
)

// NumPy .npy 文件格式
// https://numpy.org/doc/stable/reference/generated/numpy.lib.format.html

var npyMagic = []byte("\x93NUMPY")

// ErrUnsupportedNPY 不支持或已损坏的 npy 文件
var ErrUnsupportedNPY = errors.New("unsupported npy file")

// WriteNPY 以 NumPy v1.0 格式写出二维矩阵
// npyio.Write 只会把切片写成一维 (len,)，二维只支持 float64 的 gonum 矩阵，
// 因此二维 int8/uint8 矩阵的头部在这里生成
func WriteNPY(w io.Writer, m *Matrix) error {
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d), }", m.DType, m.Rows, m.Cols)

	// magic(6) + version(2) + header_len(2) + header + '\n' 需要按 64 字节对齐
	total := len(npyMagic) + 2 + 2 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy header too long: %d bytes", len(header))
	}

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	buf.WriteString(header)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write npy header: %w", err)
	}
	if _, err := w.Write(m.Data); err != nil {
		return fmt.Errorf("write npy data: %w", err)
	}
	return nil
}

// WriteLabelsNPY 写出一维标签向量
func WriteLabelsNPY(w io.Writer, labels []uint8) error {
	if err := npyio.Write(w, labels); err != nil {
		return fmt.Errorf("write npy labels: %w", err)
	}
	return nil
}

// ReadNPY 读取二维 int8/uint8 矩阵
// 形状在分配内存之前校验：维度非负、元素个数不溢出且与剩余数据长度一致
func ReadNPY(r io.Reader) (*Matrix, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read npy: %w", err)
	}

	payload := bytes.NewReader(raw)
	nr, err := npyio.NewReader(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedNPY, err)
	}

	descr := nr.Header.Descr
	dtype, err := dtypeOf(descr.Type)
	if err != nil {
		return nil, err
	}
	if descr.Fortran {
		return nil, fmt.Errorf("%w: fortran order", ErrUnsupportedNPY)
	}

	rows, cols, err := checkShape(descr.Shape, payload.Len())
	if err != nil {
		return nil, err
	}

	m := New(rows, cols, dtype)
	if len(m.Data) == 0 {
		return m, nil
	}

	switch descr.Type {
	case "|b1":
		var data []bool
		if err := nr.Read(&data); err != nil {
			return nil, fmt.Errorf("read npy data: %w", err)
		}
		for i, v := range data {
			if v {
				m.Data[i] = 1
			}
		}
	case "|i1", "<i1", ">i1":
		var data []int8
		if err := nr.Read(&data); err != nil {
			return nil, fmt.Errorf("read npy data: %w", err)
		}
		for i, v := range data {
			m.Data[i] = uint8(v)
		}
	default:
		var data []uint8
		if err := nr.Read(&data); err != nil {
			return nil, fmt.Errorf("read npy data: %w", err)
		}
		copy(m.Data, data)
	}
	return m, nil
}

func dtypeOf(descr string) (DType, error) {
	switch descr {
	case "|u1", "<u1", ">u1", "|b1":
		return Uint8, nil
	case "|i1", "<i1", ">i1":
		return Int8, nil
	default:
		return "", fmt.Errorf("%w: dtype %s", ErrUnsupportedNPY, descr)
	}
}

// checkShape 校验二维形状，remaining 为头部之后的字节数（元素均为 1 字节）
func checkShape(shape []int, remaining int) (int, int, error) {
	if len(shape) != 2 {
		return 0, 0, fmt.Errorf("%w: expected 2 dimensions, got %d", ErrUnsupportedNPY, len(shape))
	}
	rows, cols := shape[0], shape[1]
	if rows < 0 || cols < 0 {
		return 0, 0, fmt.Errorf("%w: negative shape (%d, %d)", ErrUnsupportedNPY, rows, cols)
	}
	if rows > 0 && cols > math.MaxInt/rows {
		return 0, 0, fmt.Errorf("%w: shape (%d, %d) overflows", ErrUnsupportedNPY, rows, cols)
	}
	if rows*cols != remaining {
		return 0, 0, fmt.Errorf("%w: shape (%d, %d) needs %d bytes, payload has %d",
			ErrUnsupportedNPY, rows, cols, rows*cols, remaining)
	}
	return rows, cols, nil
}
