package vectorizer

import (
	"context"
	"time"

	"github.com/apk-analysis/apk-drift/internal/cluster"
	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/matrix"
	"github.com/apk-analysis/apk-drift/internal/metrics"
	"github.com/sirupsen/logrus"
)

// GraphVectorizer 簇编码：每个反编译目录一行，列宽固定为簇数
type GraphVectorizer struct {
	mapper  *cluster.Mapper
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewGraphVectorizer 创建簇编码器，m 可以为 nil
func NewGraphVectorizer(mapper *cluster.Mapper, m *metrics.Metrics, logger *logrus.Logger) *GraphVectorizer {
	return &GraphVectorizer{
		mapper:  mapper,
		metrics: m,
		logger:  logger,
	}
}

func (g *GraphVectorizer) Encoding() domain.Encoding {
	return domain.EncodingGraph
}

// Run 依次编码恶意和良性目录
func (g *GraphVectorizer) Run(ctx context.Context, input Input) (*Result, error) {
	startTime := time.Now()
	result := &Result{
		Encoding: domain.EncodingGraph,
		Batch:    input.Batch,
	}

	mal, malOutcomes, err := g.Vectorize(ctx, domain.KindMalicious, input.MalDir)
	if err != nil {
		return nil, err
	}
	ben, benOutcomes, err := g.Vectorize(ctx, domain.KindBenign, input.BenDir)
	if err != nil {
		return nil, err
	}

	result.Malicious = mal
	result.Benign = ben
	result.Outcomes = append(malOutcomes, benOutcomes...)
	result.Duration = time.Since(startTime)

	if g.metrics != nil {
		g.metrics.RecordBatch(string(domain.EncodingGraph), input.Batch, g.mapper.Width(), result.Duration)
	}
	return result, nil
}

// Vectorize 编码一个目录下的全部应用，行顺序与目录字典序一致
func (g *GraphVectorizer) Vectorize(ctx context.Context, kind domain.Kind, root string) (*matrix.Matrix, []Outcome, error) {
	apps, err := ListAppDirs(root)
	if err != nil {
		return nil, nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"kind": kind,
		"root": root,
		"apps": len(apps),
	}).Info("Cluster encoding started")

	vectors := make([]matrix.Vector, 0, len(apps))
	outcomes := make([]Outcome, 0, len(apps))
	for i, app := range apps {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		appStart := time.Now()
		g.logger.Infof("[%d/%d] %s", i+1, len(apps), app.ID)

		outcome := Outcome{App: app, Kind: kind, Row: len(vectors)}
		enc, err := g.mapper.EncodeDir(app.Path)
		if err != nil {
			// 目录遍历失败按缺失处理，仍占一行
			g.logger.WithError(err).WithField("app_id", app.ID).Warn("Failed to walk code directory, using zero vector")
			enc = &cluster.Encoding{Vector: matrix.NewVector(g.mapper.Width()), Missing: true}
			outcome.Err = err
		}

		vectors = append(vectors, enc.Vector)
		outcome.Symbols = enc.Symbols
		outcome.Hits = enc.Hits
		outcome.Duration = time.Since(appStart)
		switch {
		case enc.Missing:
			outcome.Status = domain.AppStatusMissing
		default:
			outcome.Status = domain.AppStatusOK
			g.logger.Infof("%s: %d APIs -> %d hits", app.ID, enc.Symbols, enc.Hits)
		}
		outcomes = append(outcomes, outcome)

		if g.metrics != nil {
			g.metrics.RecordApp(string(domain.EncodingGraph), string(kind), string(outcome.Status))
			if !enc.Missing {
				g.metrics.RecordSymbols(enc.Symbols, enc.Hits)
			}
		}
	}

	m, err := matrix.Stack(vectors, g.mapper.Width(), matrix.Int8)
	if err != nil {
		return nil, nil, err
	}
	return m, outcomes, nil
}
