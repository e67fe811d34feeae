package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func setupTestMetrics() *Metrics {
	return New("test", prometheus.NewRegistry())
}

// TestHTTPMiddleware 测试 HTTP 中间件
func TestHTTPMiddleware(t *testing.T) {
	m := setupTestMetrics()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(m.HTTPMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/test", "200")))
}

func TestRecordApp(t *testing.T) {
	m := setupTestMetrics()

	m.RecordApp("graph", "mal", "ok")
	m.RecordApp("graph", "mal", "ok")
	m.RecordApp("direct", "ben", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.appsProcessed.WithLabelValues("graph", "mal", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.appsProcessed.WithLabelValues("direct", "ben", "failed")))
}

func TestRecordBatch(t *testing.T) {
	m := setupTestMetrics()

	m.RecordBatch("direct", "2016", 5821, 90*time.Second)
	m.RecordSymbols(420, 311)

	assert.Equal(t, 5821.0, testutil.ToFloat64(m.matrixColumns.WithLabelValues("direct", "2016")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.clusterHits))
}

func TestRecordDownloadAndRetry(t *testing.T) {
	m := setupTestMetrics()

	m.RecordDownload("skipped")
	m.RecordRetryAttempt("download", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloadsTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryAttemptsTotal.WithLabelValues("download", "2")))
}

// TestHandler 测试 /metrics 输出使用独立 Registry
func TestHandler(t *testing.T) {
	m := setupTestMetrics()
	m.RecordDownload("downloaded")

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", m.Handler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `test_downloads_total{status="downloaded"} 1`))
}
