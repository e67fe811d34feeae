package repository

import (
	"context"
	"time"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RunFilter 批次列表过滤条件
type RunFilter struct {
	Encoding domain.Encoding
	Batch    string
	Status   domain.RunStatus
}

type RunRepository interface {
	Create(ctx context.Context, run *domain.ExtractionRun) error
	FindByID(ctx context.Context, id string) (*domain.ExtractionRun, error)
	List(ctx context.Context, filter RunFilter, page, pageSize int) ([]*domain.ExtractionRun, int64, error)
	MarkRunning(ctx context.Context, id string) error
	// MarkCompleted 写入结果汇总并标记完成
	MarkCompleted(ctx context.Context, run *domain.ExtractionRun) error
	MarkFailed(ctx context.Context, id string, errorMessage string) error
	SaveApps(ctx context.Context, apps []*domain.AppRecord) error
	ListApps(ctx context.Context, runID string, kind domain.Kind, page, pageSize int) ([]*domain.AppRecord, int64, error)
	// LatestCompleted 某个编码和批次最近一次成功的提取
	LatestCompleted(ctx context.Context, encoding domain.Encoding, batch string) (*domain.ExtractionRun, error)
}

type runRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewRunRepository(db *gorm.DB, logger *logrus.Logger) RunRepository {
	return &runRepo{
		db:     db,
		logger: logger,
	}
}

func (r *runRepo) Create(ctx context.Context, run *domain.ExtractionRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusQueued
	}
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *runRepo) FindByID(ctx context.Context, id string) (*domain.ExtractionRun, error) {
	var run domain.ExtractionRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) List(ctx context.Context, filter RunFilter, page, pageSize int) ([]*domain.ExtractionRun, int64, error) {
	var runs []*domain.ExtractionRun
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.ExtractionRun{})
	if filter.Encoding != "" {
		query = query.Where("encoding = ?", filter.Encoding)
	}
	if filter.Batch != "" {
		query = query.Where("batch = ?", filter.Batch)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&runs).Error

	return runs, total, err
}

func (r *runRepo) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.ExtractionRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.RunStatusRunning,
			"started_at": &now,
		}).Error
}

func (r *runRepo) MarkCompleted(ctx context.Context, run *domain.ExtractionRun) error {
	now := time.Now().UTC()
	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &now

	err := r.db.WithContext(ctx).
		Model(run).
		Select("status", "mal_shape", "ben_shape", "feature_dim", "app_count",
			"failed_count", "empty_count", "completed_at").
		Updates(run).Error

	if err != nil {
		r.logger.WithError(err).WithField("run_id", run.ID).Error("Run update failed")
	}
	return err
}

func (r *runRepo) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.ExtractionRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.RunStatusFailed,
			"error_message": errorMessage,
			"completed_at":  &now,
		}).Error
}

func (r *runRepo) SaveApps(ctx context.Context, apps []*domain.AppRecord) error {
	if len(apps) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, app := range apps {
		if app.CreatedAt.IsZero() {
			app.CreatedAt = now
		}
	}
	return r.db.WithContext(ctx).CreateInBatches(apps, 200).Error
}

func (r *runRepo) ListApps(ctx context.Context, runID string, kind domain.Kind, page, pageSize int) ([]*domain.AppRecord, int64, error) {
	var apps []*domain.AppRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.AppRecord{}).Where("run_id = ?", runID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("kind DESC, id ASC").
		Offset(offset).
		Limit(pageSize).
		Find(&apps).Error

	return apps, total, err
}

func (r *runRepo) LatestCompleted(ctx context.Context, encoding domain.Encoding, batch string) (*domain.ExtractionRun, error) {
	var run domain.ExtractionRun
	err := r.db.WithContext(ctx).
		Where("encoding = ? AND batch = ? AND status = ?", encoding, batch, domain.RunStatusCompleted).
		Order("completed_at DESC").
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}
