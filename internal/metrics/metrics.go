package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 特征提取与服务指标
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 提取指标
	appsProcessed    *prometheus.CounterVec
	symbolsExtracted prometheus.Histogram
	clusterHits      prometheus.Histogram
	batchDuration    *prometheus.HistogramVec
	matrixColumns    *prometheus.GaugeVec

	// 下载与重试指标
	downloadsTotal     *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
}

// New 创建指标收集器，reg 为 nil 时注册到默认 Registry
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "apkdrift"
	}

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		appsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "apps_processed_total",
				Help:      "Total number of applications vectorized",
			},
			[]string{"encoding", "kind", "status"}, // status: ok, empty, failed
		),
		symbolsExtracted: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "symbols_extracted",
				Help:      "Distinct platform API symbols per application",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
			},
		),
		clusterHits: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cluster_hits",
				Help:      "Symbols per application found in the cluster mapping",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
			},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Wall time of a full batch extraction",
				Buckets:   []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"encoding"},
		),
		matrixColumns: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "matrix_columns",
				Help:      "Feature width of the last persisted matrix",
			},
			[]string{"encoding", "batch"},
		),

		downloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Total number of APK downloads",
			},
			[]string{"status"}, // downloaded, skipped, failed
		),
		retryAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation", "attempt"},
		),
	}
}

// HTTPMiddleware HTTP 请求监控中间件
func (m *Metrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP Handler
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordApp 记录单个应用的处理结果
func (m *Metrics) RecordApp(encoding, kind, status string) {
	m.appsProcessed.WithLabelValues(encoding, kind, status).Inc()
}

// RecordSymbols 记录簇编码路径的符号数和命中数
func (m *Metrics) RecordSymbols(symbols, hits int) {
	m.symbolsExtracted.Observe(float64(symbols))
	m.clusterHits.Observe(float64(hits))
}

// RecordBatch 记录批次耗时和输出宽度
func (m *Metrics) RecordBatch(encoding, batch string, columns int, duration time.Duration) {
	m.batchDuration.WithLabelValues(encoding).Observe(duration.Seconds())
	m.matrixColumns.WithLabelValues(encoding, batch).Set(float64(columns))
}

// RecordDownload 记录下载结果
func (m *Metrics) RecordDownload(status string) {
	m.downloadsTotal.WithLabelValues(status).Inc()
}

// RecordRetryAttempt 记录重试尝试
func (m *Metrics) RecordRetryAttempt(operation string, attempt int) {
	m.retryAttemptsTotal.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}
