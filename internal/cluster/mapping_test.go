package cluster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMapping(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "method_cluster_mapping_2000.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMapping(t *testing.T) {
	path := writeMapping(t, `{"android.util.Log.d": 7, "java.lang.Object.init": 1999}`)

	m, err := LoadMapping(path, DefaultClusterCount)

	require.NoError(t, err)
	assert.Equal(t, 2000, m.Count())
	assert.Equal(t, 2, m.Len())

	idx, ok := m.Lookup("android.util.Log.d")
	assert.True(t, ok)
	assert.Equal(t, 7, idx)

	_, ok = m.Lookup("android.util.Log.e")
	assert.False(t, ok)
}

// TestLoadMapping_OutOfRange 测试簇编号越界时加载失败
func TestLoadMapping_OutOfRange(t *testing.T) {
	path := writeMapping(t, `{"android.util.Log.d": 2000}`)

	_, err := LoadMapping(path, 2000)

	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	path = writeMapping(t, `{"android.util.Log.d": -1}`)
	_, err = LoadMapping(path, 2000)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestLoadMapping_MissingFile(t *testing.T) {
	_, err := LoadMapping(filepath.Join(t.TempDir(), "nope.json"), 2000)

	assert.Error(t, err)
}

func TestLoadMapping_BadJSON(t *testing.T) {
	path := writeMapping(t, `["android.util.Log.d"]`)

	_, err := LoadMapping(path, 2000)

	assert.Error(t, err)
}

func TestNewMapping_CopiesInput(t *testing.T) {
	entries := map[string]int{"android.util.Log.d": 3}
	m, err := NewMapping(entries, 10)
	require.NoError(t, err)

	entries["android.util.Log.d"] = 4
	entries["android.util.Log.e"] = 5

	idx, _ := m.Lookup("android.util.Log.d")
	assert.Equal(t, 3, idx)
	assert.Equal(t, 1, m.Len())
}

func TestNewMapping_InvalidCount(t *testing.T) {
	_, err := NewMapping(nil, 0)

	assert.Error(t, err)
}
