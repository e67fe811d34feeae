package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/repository"
	"github.com/apk-analysis/apk-drift/internal/storage"
	"github.com/apk-analysis/apk-drift/internal/vectorizer"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Summary 一次批次提取的结果汇总
type Summary struct {
	RunID    string          `json:"run_id"`
	Encoding domain.Encoding `json:"encoding"`
	Batch    string          `json:"batch"`
	MalShape string          `json:"mal_shape"`
	BenShape string          `json:"ben_shape"`
	Keys     []string        `json:"keys"`
	Failed   int             `json:"failed"`
	Empty    int             `json:"empty"`
	Duration time.Duration   `json:"duration"`
}

// ExtractionService 批次提取服务接口
type ExtractionService interface {
	// 提取一个批次并写出矩阵
	RunBatch(ctx context.Context, encoding domain.Encoding, input vectorizer.Input, source string) (*Summary, error)

	// 按 <base>/malicious_<year>、<base>/benign_<year> 约定依次提取多个年份，缺目录的年份跳过
	RunYears(ctx context.Context, encoding domain.Encoding, baseDir string, years []string, source string) ([]*Summary, error)

	GetRun(ctx context.Context, runID string) (*domain.ExtractionRun, error)
	ListRuns(ctx context.Context, filter repository.RunFilter, page int, pageSize int) ([]*domain.ExtractionRun, int64, error)
	ListApps(ctx context.Context, runID string, kind domain.Kind, page int, pageSize int) ([]*domain.AppRecord, int64, error)
}

type extractionService struct {
	vectorizers map[domain.Encoding]vectorizer.Vectorizer
	runRepo     repository.RunRepository
	store       storage.BlobStore
	logger      *logrus.Logger
}

// NewExtractionService 创建提取服务，未提供的编码方式在调用时报错
func NewExtractionService(runRepo repository.RunRepository, store storage.BlobStore, logger *logrus.Logger, vectorizers ...vectorizer.Vectorizer) ExtractionService {
	byEncoding := make(map[domain.Encoding]vectorizer.Vectorizer, len(vectorizers))
	for _, v := range vectorizers {
		byEncoding[v.Encoding()] = v
	}
	return &extractionService{
		vectorizers: byEncoding,
		runRepo:     runRepo,
		store:       store,
		logger:      logger,
	}
}

// YearDirs 多年份模式下某一年的输入目录
func YearDirs(baseDir, year string) (string, string) {
	return filepath.Join(baseDir, "malicious_"+year), filepath.Join(baseDir, "benign_"+year)
}

func (s *extractionService) RunBatch(ctx context.Context, encoding domain.Encoding, input vectorizer.Input, source string) (*Summary, error) {
	vec, ok := s.vectorizers[encoding]
	if !ok {
		return nil, fmt.Errorf("encoding %q not configured", encoding)
	}

	run := &domain.ExtractionRun{
		ID:        uuid.New().String(),
		Encoding:  encoding,
		Batch:     input.Batch,
		MalDir:    input.MalDir,
		BenDir:    input.BenDir,
		Source:    source,
		Status:    domain.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("创建提取记录失败: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"encoding": encoding,
		"batch":    input.Batch,
	})
	if err := s.runRepo.MarkRunning(ctx, run.ID); err != nil {
		log.WithError(err).Warn("Failed to mark run as running")
	}
	log.Info("Extraction started")

	result, err := vec.Run(ctx, input)
	if err != nil {
		s.fail(ctx, log, run.ID, err)
		return nil, fmt.Errorf("batch %s: %w", input.Batch, err)
	}

	keys, err := vectorizer.Persist(ctx, s.store, result)
	if err != nil {
		s.fail(ctx, log, run.ID, err)
		return nil, fmt.Errorf("batch %s: %w", input.Batch, err)
	}

	if err := s.runRepo.SaveApps(ctx, appRecords(run.ID, result.Outcomes)); err != nil {
		log.WithError(err).Warn("Failed to save app records")
	}

	failed, empty := result.Counts()
	run.MalShape = result.Malicious.ShapeString()
	run.BenShape = result.Benign.ShapeString()
	run.FeatureDim = result.Malicious.Cols
	run.AppCount = len(result.Outcomes)
	run.FailedCount = failed
	run.EmptyCount = empty
	if err := s.runRepo.MarkCompleted(ctx, run); err != nil {
		log.WithError(err).Warn("Failed to mark run as completed")
	}

	summary := &Summary{
		RunID:    run.ID,
		Encoding: encoding,
		Batch:    input.Batch,
		MalShape: run.MalShape,
		BenShape: run.BenShape,
		Keys:     keys,
		Failed:   failed,
		Empty:    empty,
		Duration: result.Duration,
	}
	log.WithFields(logrus.Fields{
		"mal_shape":   summary.MalShape,
		"ben_shape":   summary.BenShape,
		"failed":      failed,
		"empty":       empty,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Extraction completed")

	return summary, nil
}

func (s *extractionService) fail(ctx context.Context, log *logrus.Entry, runID string, cause error) {
	log.WithError(cause).Error("Extraction failed")
	// 原 ctx 可能已取消，失败状态仍需落库
	if err := s.runRepo.MarkFailed(context.WithoutCancel(ctx), runID, cause.Error()); err != nil {
		log.WithError(err).Warn("Failed to mark run as failed")
	}
}

func (s *extractionService) RunYears(ctx context.Context, encoding domain.Encoding, baseDir string, years []string, source string) ([]*Summary, error) {
	var summaries []*Summary
	var errs []error

	for _, year := range years {
		malDir, benDir := YearDirs(baseDir, year)
		if !isDir(malDir) || !isDir(benDir) {
			s.logger.WithFields(logrus.Fields{
				"batch":   year,
				"mal_dir": malDir,
				"ben_dir": benDir,
			}).Warn("Input directories missing, skipping year")
			continue
		}

		summary, err := s.RunBatch(ctx, encoding, vectorizer.Input{
			Batch:  year,
			MalDir: malDir,
			BenDir: benDir,
		}, source)
		if err != nil {
			if ctx.Err() != nil {
				return summaries, err
			}
			errs = append(errs, err)
			continue
		}
		summaries = append(summaries, summary)
	}

	return summaries, errors.Join(errs...)
}

func (s *extractionService) GetRun(ctx context.Context, runID string) (*domain.ExtractionRun, error) {
	run, err := s.runRepo.FindByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("获取提取记录失败: %w", err)
	}
	return run, nil
}

func (s *extractionService) ListRuns(ctx context.Context, filter repository.RunFilter, page int, pageSize int) ([]*domain.ExtractionRun, int64, error) {
	runs, total, err := s.runRepo.List(ctx, filter, page, pageSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list runs")
		return nil, 0, fmt.Errorf("获取提取记录列表失败: %w", err)
	}
	return runs, total, nil
}

func (s *extractionService) ListApps(ctx context.Context, runID string, kind domain.Kind, page int, pageSize int) ([]*domain.AppRecord, int64, error) {
	apps, total, err := s.runRepo.ListApps(ctx, runID, kind, page, pageSize)
	if err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Error("Failed to list app records")
		return nil, 0, fmt.Errorf("获取应用记录失败: %w", err)
	}
	return apps, total, nil
}

func appRecords(runID string, outcomes []vectorizer.Outcome) []*domain.AppRecord {
	records := make([]*domain.AppRecord, 0, len(outcomes))
	for _, o := range outcomes {
		record := &domain.AppRecord{
			RunID:      runID,
			Kind:       o.Kind,
			AppID:      o.App.ID,
			Row:        o.Row,
			Status:     o.Status,
			Symbols:    o.Symbols,
			Hits:       o.Hits,
			Features:   o.Features,
			DurationMs: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			record.ErrorMessage = o.Err.Error()
		}
		records = append(records, record)
	}
	return records
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
