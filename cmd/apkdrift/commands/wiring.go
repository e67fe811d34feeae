package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apk-analysis/apk-drift/internal/cluster"
	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/drebin"
	"github.com/apk-analysis/apk-drift/internal/libfilter"
	"github.com/apk-analysis/apk-drift/internal/metrics"
	"github.com/apk-analysis/apk-drift/internal/queue"
	"github.com/apk-analysis/apk-drift/internal/repository"
	"github.com/apk-analysis/apk-drift/internal/service"
	"github.com/apk-analysis/apk-drift/internal/staticanalysis"
	"github.com/apk-analysis/apk-drift/internal/storage"
	"github.com/apk-analysis/apk-drift/internal/vectorizer"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// cleanup 按注册的逆序释放资源
type cleanup []func()

func (c *cleanup) add(fn func()) {
	*c = append(*c, fn)
}

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func openDB(closers *cleanup) (*gorm.DB, error) {
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	closers.add(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db, nil
}

func openStore(ctx context.Context) (storage.BlobStore, error) {
	store, err := storage.New(ctx, &cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init artifact store: %w", err)
	}
	return store, nil
}

var (
	metricsOnce sync.Once
	appMetrics  *metrics.Metrics
)

// newMetrics 默认 Registry 上只能注册一次
func newMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		appMetrics = metrics.New("apkdrift", nil)
	})
	return appMetrics
}

// buildGraphVectorizer 簇映射表缺失时直接报错，没有映射无法编码
func buildGraphVectorizer(m *metrics.Metrics) (*vectorizer.GraphVectorizer, error) {
	mapping, err := cluster.LoadMapping(cfg.Extract.ClusterMappingPath, cfg.Extract.ClusterCount)
	if err != nil {
		return nil, fmt.Errorf("cluster mapping %s: %w", cfg.Extract.ClusterMappingPath, err)
	}
	logger.WithFields(logrus.Fields{
		"path":     cfg.Extract.ClusterMappingPath,
		"entries":  mapping.Len(),
		"clusters": mapping.Count(),
	}).Info("Cluster mapping loaded")

	mapper := cluster.NewMapper(mapping, cluster.MapperConfig{
		CodeSubdir: cfg.Extract.CodeSubdir,
		Extension:  cfg.Extract.Extension,
	}, logger)
	return vectorizer.NewGraphVectorizer(mapper, m, logger), nil
}

func buildAnalyzer(closers *cleanup) (staticanalysis.Analyzer, error) {
	switch cfg.Drebin.Analyzer {
	case "aapt2", "manifest":
		ma := staticanalysis.NewManifestAnalyzer(cfg.Drebin.AaptPath, logger)
		if err := ma.CheckAapt(); err != nil {
			return nil, err
		}
		logger.Warn("aapt2 analyzer has no method information, api_call and call features will be empty")
		return ma, nil
	case "", "androguard":
		aa := staticanalysis.NewAndroguardAnalyzer(&staticanalysis.AndroguardConfig{
			PythonPath:      cfg.Drebin.PythonPath,
			ScriptPath:      cfg.Drebin.ScriptPath,
			UseProcessPool:  cfg.Drebin.UseProcessPool,
			ProcessPoolSize: cfg.Drebin.ProcessPoolSize,
			Timeout:         time.Duration(cfg.Drebin.Timeout) * time.Second,
		}, logger)
		closers.add(aa.Stop)
		return aa, nil
	default:
		return nil, fmt.Errorf("unknown drebin.analyzer: %s", cfg.Drebin.Analyzer)
	}
}

func loadTables() (drebin.Tables, error) {
	var tables drebin.Tables

	catalog, err := drebin.LoadCatalog(cfg.Drebin.APICatalogPath)
	if err != nil {
		return tables, err
	}
	restricted, err := drebin.LoadAPIList(cfg.Drebin.RestrictedAPIPath)
	if err != nil {
		return tables, err
	}
	suspicious, err := drebin.LoadAPIList(cfg.Drebin.SuspiciousAPIPath)
	if err != nil {
		return tables, err
	}

	libraries := libfilter.NewDefault()
	if cfg.Drebin.LibrariesPath != "" {
		if libraries, err = libfilter.Load(cfg.Drebin.LibrariesPath); err != nil {
			return tables, err
		}
	}

	logger.WithFields(logrus.Fields{
		"catalog_classes": catalog.Classes(),
		"restricted":      restricted.Len(),
		"suspicious":      suspicious.Len(),
		"libraries":       len(libraries.Libraries()),
	}).Info("Drebin tables loaded")

	return drebin.Tables{
		Catalog:    catalog,
		Restricted: restricted,
		Suspicious: suspicious,
		Libraries:  libraries,
	}, nil
}

func buildDirectVectorizer(m *metrics.Metrics, closers *cleanup) (*vectorizer.DirectVectorizer, error) {
	tables, err := loadTables()
	if err != nil {
		return nil, err
	}
	analyzer, err := buildAnalyzer(closers)
	if err != nil {
		return nil, err
	}
	extractor := drebin.NewExtractor(analyzer, tables, logger)
	return vectorizer.NewDirectVectorizer(extractor, cfg.Extract.KeepEmptyRows, m, logger), nil
}

// buildVectorizers 只构建需要的编码，strict 为 false 时跳过无法构建的编码
func buildVectorizers(m *metrics.Metrics, closers *cleanup, strict bool, encodings ...domain.Encoding) ([]vectorizer.Vectorizer, error) {
	var vecs []vectorizer.Vectorizer
	for _, enc := range encodings {
		var (
			vec vectorizer.Vectorizer
			err error
		)
		switch enc {
		case domain.EncodingGraph:
			vec, err = buildGraphVectorizer(m)
		case domain.EncodingDirect:
			vec, err = buildDirectVectorizer(m, closers)
		default:
			err = fmt.Errorf("unknown encoding: %s", enc)
		}
		if err != nil {
			if strict {
				return nil, err
			}
			logger.WithError(err).WithField("encoding", enc).Warn("Encoding disabled")
			continue
		}
		vecs = append(vecs, vec)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no encoding could be initialized")
	}
	return vecs, nil
}

// buildExtractionService 装配数据库、存储和编码器
func buildExtractionService(ctx context.Context, m *metrics.Metrics, closers *cleanup, strict bool, encodings ...domain.Encoding) (service.ExtractionService, storage.BlobStore, *gorm.DB, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := openDB(closers)
	if err != nil {
		return nil, nil, nil, err
	}
	vecs, err := buildVectorizers(m, closers, strict, encodings...)
	if err != nil {
		return nil, nil, nil, err
	}
	runRepo := repository.NewRunRepository(db, logger)
	return service.NewExtractionService(runRepo, store, logger, vecs...), store, db, nil
}

func parseEncoding(value string) (domain.Encoding, error) {
	enc := domain.Encoding(value)
	if !enc.Valid() {
		return "", fmt.Errorf("unknown encoding %q (graph, direct)", value)
	}
	return enc, nil
}

// failedJobs 失败记录转成批次任务，同一 (encoding, batch) 只保留最近一次
func failedJobs(ctx context.Context, runRepo repository.RunRepository, filter repository.RunFilter) ([]*queue.BatchJob, error) {
	const pageSize = 100

	seen := make(map[string]bool)
	var jobs []*queue.BatchJob
	for page := 1; ; page++ {
		runs, total, err := runRepo.List(ctx, filter, page, pageSize)
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			key := string(run.Encoding) + "/" + run.Batch
			if seen[key] {
				continue
			}
			seen[key] = true

			latest, err := runRepo.LatestCompleted(ctx, run.Encoding, run.Batch)
			if err == nil && latest.CreatedAt.After(run.CreatedAt) {
				// 之后已有成功的提取
				continue
			}
			jobs = append(jobs, &queue.BatchJob{
				Encoding: run.Encoding,
				Batch:    run.Batch,
				MalDir:   run.MalDir,
				BenDir:   run.BenDir,
			})
		}
		if int64(page*pageSize) >= total || len(runs) == 0 {
			break
		}
	}
	return jobs, nil
}
