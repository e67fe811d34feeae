package api

import (
	"time"

	"github.com/apk-analysis/apk-drift/internal/api/handlers"
	"github.com/apk-analysis/apk-drift/internal/config"
	"github.com/apk-analysis/apk-drift/internal/metrics"
	"github.com/apk-analysis/apk-drift/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter 注册全部路由，m 为 nil 时不暴露指标
func SetupRouter(cfg *config.ServerConfig, logger *logrus.Logger, m *metrics.Metrics, runHandler *handlers.RunHandler) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if m != nil {
		r.Use(m.HTTPMiddleware())
		r.GET("/metrics", m.Handler())
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api")
	v1.Use(middleware.TokenAuth(cfg.Token))
	{
		v1.GET("/runs", runHandler.ListRuns)
		v1.GET("/runs/:id", runHandler.GetRun)
		v1.GET("/runs/:id/apps", runHandler.ListApps)
		v1.GET("/runs/:id/check", runHandler.CheckRun)
		v1.POST("/jobs", runHandler.EnqueueJob)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
