package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/matrix"
	"github.com/apk-analysis/apk-drift/internal/queue"
	"github.com/apk-analysis/apk-drift/internal/repository"
	"github.com/apk-analysis/apk-drift/internal/service"
	"github.com/apk-analysis/apk-drift/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ArtifactChecker 读取批次产物统计
type ArtifactChecker interface {
	Check(ctx context.Context, encoding domain.Encoding, batch string) (*matrix.CompareStats, error)
}

// JobPublisher 投递批次任务
type JobPublisher interface {
	PublishJob(ctx context.Context, job *queue.BatchJob) error
}

// RunHandler 提取记录处理器
type RunHandler struct {
	runs      service.ExtractionService
	artifacts ArtifactChecker // 可以为 nil
	jobs      JobPublisher    // 可以为 nil，此时不接受新任务
	logger    *logrus.Logger
}

// NewRunHandler 创建提取记录处理器
func NewRunHandler(runs service.ExtractionService, artifacts ArtifactChecker, jobs JobPublisher, logger *logrus.Logger) *RunHandler {
	return &RunHandler{
		runs:      runs,
		artifacts: artifacts,
		jobs:      jobs,
		logger:    logger,
	}
}

// ListRuns 获取提取记录列表
// GET /api/runs?encoding=graph&batch=2016&status=completed&page=1&page_size=20
func (h *RunHandler) ListRuns(c *gin.Context) {
	page, pageSize := pagination(c)
	filter := repository.RunFilter{
		Encoding: domain.Encoding(c.Query("encoding")),
		Batch:    c.Query("batch"),
		Status:   domain.RunStatus(c.Query("status")),
	}
	if filter.Encoding != "" && !filter.Encoding.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知的编码方式: " + string(filter.Encoding)})
		return
	}

	runs, total, err := h.runs.ListRuns(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取提取记录失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":      runs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetRun 获取单条提取记录
// GET /api/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	run, ok := h.findRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListApps 获取提取记录中的应用
// GET /api/runs/:id/apps?kind=mal&page=1&page_size=50
func (h *RunHandler) ListApps(c *gin.Context) {
	runID := c.Param("id")
	kind := domain.Kind(c.Query("kind"))
	if kind != "" && kind != domain.KindMalicious && kind != domain.KindBenign {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind 只能是 mal 或 ben"})
		return
	}
	page, pageSize := pagination(c)

	apps, total, err := h.runs.ListApps(c.Request.Context(), runID, kind, page, pageSize)
	if err != nil {
		h.logger.WithError(err).WithField("run_id", runID).Error("Failed to list apps")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取应用列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"apps":      apps,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CheckRun 提取记录对应产物的对比统计
// GET /api/runs/:id/check
func (h *RunHandler) CheckRun(c *gin.Context) {
	if h.artifacts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置产物存储"})
		return
	}
	run, ok := h.findRun(c)
	if !ok {
		return
	}
	if run.Status != domain.RunStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "提取尚未完成", "status": run.Status})
		return
	}

	stats, err := h.artifacts.Check(c.Request.Context(), run.Encoding, run.Batch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "产物不存在"})
			return
		}
		h.logger.WithError(err).WithField("run_id", run.ID).Error("Failed to check artifacts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取产物失败"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// EnqueueJob 投递批次提取任务
// POST /api/jobs {"encoding":"graph","batch":"2016","mal_dir":"...","ben_dir":"..."}
func (h *RunHandler) EnqueueJob(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置任务队列"})
		return
	}

	var job queue.BatchJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	if err := job.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.jobs.PublishJob(c.Request.Context(), &job); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"encoding": job.Encoding,
			"batch":    job.Batch,
		}).Error("Failed to publish job")
		c.JSON(http.StatusBadGateway, gin.H{"error": "投递任务失败"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "queued",
		"encoding": job.Encoding,
		"batch":    job.Batch,
	})
}

func (h *RunHandler) findRun(c *gin.Context) (*domain.ExtractionRun, bool) {
	runID := c.Param("id")
	run, err := h.runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "提取记录不存在"})
			return nil, false
		}
		h.logger.WithError(err).WithField("run_id", runID).Error("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取提取记录失败"})
		return nil, false
	}
	return run, true
}

// pagination 解析分页参数，每页最多 100 条
func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
