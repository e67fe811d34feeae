package cluster

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apk-analysis/apk-drift/internal/matrix"
	"github.com/apk-analysis/apk-drift/internal/smali"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	mapping, err := NewMapping(map[string]int{
		"android.util.Log.d":    7,
		"android.util.Log.e":    7,
		"java.lang.Object.init": 12,
	}, DefaultClusterCount)
	require.NoError(t, err)
	return NewMapper(mapping, DefaultMapperConfig(), quietLogger())
}

func TestMapper_Encode(t *testing.T) {
	m := newTestMapper(t)
	symbols := smali.SymbolSet{}
	symbols.Add("android.util.Log.d")

	vec, hits := m.Encode(symbols)

	require.Len(t, vec, 2000)
	assert.Equal(t, uint8(1), vec[7])
	assert.Equal(t, 1, vec.NonZero())
	assert.Equal(t, 1, hits)
}

// TestMapper_Encode_UnknownSymbols 测试未知符号被静默丢弃
func TestMapper_Encode_UnknownSymbols(t *testing.T) {
	m := newTestMapper(t)
	symbols := smali.SymbolSet{}
	symbols.Add("android.foo.Bar.baz")
	symbols.Add("java.util.Unknown.call")

	vec, hits := m.Encode(symbols)

	assert.Len(t, vec, 2000)
	assert.Equal(t, 0, vec.NonZero())
	assert.Equal(t, 0, hits)
}

func TestMapper_Encode_SharedCluster(t *testing.T) {
	m := newTestMapper(t)
	symbols := smali.SymbolSet{}
	symbols.Add("android.util.Log.d")
	symbols.Add("android.util.Log.e")

	vec, hits := m.Encode(symbols)

	assert.Equal(t, 1, vec.NonZero())
	assert.Equal(t, 2, hits)
}

func TestMapper_Encode_Deterministic(t *testing.T) {
	m := newTestMapper(t)
	symbols := smali.SymbolSet{}
	symbols.Add("android.util.Log.d")
	symbols.Add("java.lang.Object.init")

	first, _ := m.Encode(symbols)
	second, _ := m.Encode(symbols)

	assert.Equal(t, first, second)
}

func TestMapper_EncodeDir(t *testing.T) {
	m := newTestMapper(t)
	appDir := t.TempDir()
	codeDir := filepath.Join(appDir, "smali", "com", "example")
	require.NoError(t, os.MkdirAll(codeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(codeDir, "Main.smali"), []byte(
		"    invoke-direct {p0}, Ljava/lang/Object;-><init>()V\n"+
			"    invoke-static {v0, v1}, Landroid/util/Log;->d(Ljava/lang/String;Ljava/lang/String;)I\n"+
			"    invoke-virtual {p0}, Lcom/example/Main;->helper()V\n"), 0644))

	enc, err := m.EncodeDir(appDir)

	require.NoError(t, err)
	assert.False(t, enc.Missing)
	assert.Equal(t, 2, enc.Symbols)
	assert.Equal(t, 2, enc.Hits)
	assert.Equal(t, uint8(1), enc.Vector[7])
	assert.Equal(t, uint8(1), enc.Vector[12])
}

// TestMapper_EncodeDir_MissingCode 测试缺少 smali 子目录时返回全零向量
func TestMapper_EncodeDir_MissingCode(t *testing.T) {
	m := newTestMapper(t)

	enc, err := m.EncodeDir(t.TempDir())

	require.NoError(t, err)
	assert.True(t, enc.Missing)
	assert.Len(t, enc.Vector, 2000)
	assert.Equal(t, 0, enc.Vector.NonZero())
}

func TestMapper_EncodeDir_CustomLayout(t *testing.T) {
	mapping, err := NewMapping(map[string]int{"android.util.Log.d": 1}, 4)
	require.NoError(t, err)
	m := NewMapper(mapping, MapperConfig{CodeSubdir: "code", Extension: ".txt"}, quietLogger())

	appDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(appDir, "code"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "code", "a.txt"),
		[]byte("invoke-static {v0}, Landroid/util/Log;->d(Ljava/lang/String;)I\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "code", "b.smali"),
		[]byte("invoke-static {v0}, Ljava/lang/Object;-><init>()V\n"), 0644))

	enc, err := m.EncodeDir(appDir)

	require.NoError(t, err)
	assert.Equal(t, 1, enc.Symbols)
	assert.Equal(t, matrix.Vector{0, 1, 0, 0}, enc.Vector)
}
