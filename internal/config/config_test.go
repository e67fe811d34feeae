package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults 测试不指定配置文件时的默认值
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Extract.ClusterCount)
	assert.Equal(t, "smali", cfg.Extract.CodeSubdir)
	assert.False(t, cfg.Extract.KeepEmptyRows)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "vectors", cfg.Storage.Root)
	assert.Equal(t, "androguard", cfg.Drebin.Analyzer)
	assert.Equal(t, 5, cfg.Download.MaliciousThreshold)
	assert.Equal(t, 10, cfg.Download.Workers)
	assert.Equal(t, []string{"snaggamea"}, cfg.Download.ExcludePackages)
	assert.Equal(t, "2016", cfg.Align.ReferenceBatch)
	assert.Equal(t, "2022", cfg.Align.TestBatch)
	assert.Equal(t, "sqlite", cfg.Database.Type)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
extract:
  cluster_count: 500
  keep_empty_rows: true
storage:
  backend: s3
  s3:
    bucket: drift-vectors
    prefix: runs/
align:
  train_batches: ["2019", "2020"]
log:
  level: debug
`), 0644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Extract.ClusterCount)
	assert.True(t, cfg.Extract.KeepEmptyRows)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "drift-vectors", cfg.Storage.S3.Bucket)
	assert.Equal(t, []string{"2019", "2020"}, cfg.Align.TrainBatches)
	assert.Equal(t, "debug", cfg.Log.Level)
	// 未覆盖的字段保持默认值
	assert.Equal(t, "smali", cfg.Extract.CodeSubdir)
}

// TestLoad_Env 测试环境变量覆盖
func TestLoad_Env(t *testing.T) {
	t.Setenv("APKDRIFT_EXTRACT_CLUSTER_COUNT", "1000")
	t.Setenv("ANDROZOO_API_KEY", "secret-key")
	t.Setenv("RABBITMQ_HOST", "mq.internal")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Extract.ClusterCount)
	assert.Equal(t, "secret-key", cfg.Download.APIKey)
	assert.Equal(t, "mq.internal", cfg.RabbitMQ.Host)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	logger := InitLogger(&LogConfig{Level: "warn", Format: "json"})
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	logger = InitLogger(&LogConfig{Level: "not-a-level"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
