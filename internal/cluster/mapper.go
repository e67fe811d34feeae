package cluster

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/apk-analysis/apk-drift/internal/matrix"
	"github.com/apk-analysis/apk-drift/internal/smali"
	"github.com/sirupsen/logrus"
)

// MapperConfig 反编译目录布局
type MapperConfig struct {
	CodeSubdir string // 应用目录下的代码子目录，默认 smali
	Extension  string // 代码文件扩展名，默认 .smali
}

// DefaultMapperConfig apktool 的默认输出布局
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		CodeSubdir: "smali",
		Extension:  ".smali",
	}
}

// Encoding 单个应用的簇编码结果
type Encoding struct {
	Vector  matrix.Vector
	Symbols int  // 提取到的平台 API 数
	Hits    int  // 命中映射的 API 数
	Missing bool // 代码目录不存在，返回的是全零向量
}

// Mapper 将符号集合映射为簇向量
type Mapper struct {
	mapping *Mapping
	config  MapperConfig
	logger  *logrus.Logger
}

// NewMapper 创建簇映射器
func NewMapper(mapping *Mapping, config MapperConfig, logger *logrus.Logger) *Mapper {
	if config.CodeSubdir == "" {
		config.CodeSubdir = "smali"
	}
	if config.Extension == "" {
		config.Extension = ".smali"
	}
	return &Mapper{
		mapping: mapping,
		config:  config,
		logger:  logger,
	}
}

// Width 输出向量宽度
func (m *Mapper) Width() int {
	return m.mapping.Count()
}

// Encode 对每个已知符号把所属簇的位置置 1，未知符号直接丢弃
func (m *Mapper) Encode(symbols smali.SymbolSet) (matrix.Vector, int) {
	vec := matrix.NewVector(m.mapping.Count())
	hits := 0
	for symbol := range symbols {
		if idx, ok := m.mapping.Lookup(symbol); ok {
			vec[idx] = 1
			hits++
		}
	}
	return vec, hits
}

// EncodeDir 编码一个反编译后的应用目录
// 代码子目录不存在时返回正确宽度的全零向量并记录警告
func (m *Mapper) EncodeDir(appDir string) (*Encoding, error) {
	codeDir := filepath.Join(appDir, m.config.CodeSubdir)

	if info, err := os.Stat(codeDir); err != nil || !info.IsDir() {
		entry := m.logger.WithFields(logrus.Fields{
			"app_dir":  appDir,
			"code_dir": codeDir,
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			entry = entry.WithError(err)
		}
		entry.Warn("Code directory not found, using zero vector")
		return &Encoding{
			Vector:  matrix.NewVector(m.mapping.Count()),
			Missing: true,
		}, nil
	}

	symbols, stats, err := smali.ExtractDir(codeDir, m.config.Extension, m.logger)
	if err != nil {
		return nil, err
	}
	if stats.Skipped > 0 {
		m.logger.WithFields(logrus.Fields{
			"app_dir": appDir,
			"skipped": stats.Skipped,
		}).Warn("Some source units could not be read")
	}

	vec, hits := m.Encode(symbols)
	return &Encoding{
		Vector:  vec,
		Symbols: len(symbols),
		Hits:    hits,
	}, nil
}
