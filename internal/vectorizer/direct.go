package vectorizer

import (
	"context"
	"time"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/drebin"
	"github.com/apk-analysis/apk-drift/internal/matrix"
	"github.com/apk-analysis/apk-drift/internal/metrics"
	"github.com/sirupsen/logrus"
)

// DirectVectorizer 直接编码：先提取整批特征，再在批内词表上编码
type DirectVectorizer struct {
	extractor *drebin.Extractor
	keepEmpty bool // 为 true 时空特征应用保留为全零行
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// NewDirectVectorizer 创建直接编码器，m 可以为 nil
func NewDirectVectorizer(extractor *drebin.Extractor, keepEmpty bool, m *metrics.Metrics, logger *logrus.Logger) *DirectVectorizer {
	return &DirectVectorizer{
		extractor: extractor,
		keepEmpty: keepEmpty,
		metrics:   m,
		logger:    logger,
	}
}

func (d *DirectVectorizer) Encoding() domain.Encoding {
	return domain.EncodingDirect
}

type extracted struct {
	outcome  Outcome
	features drebin.FeatureSet
}

// Run 提取恶意和良性 APK 的特征，建立批内共享词表后编码
func (d *DirectVectorizer) Run(ctx context.Context, input Input) (*Result, error) {
	startTime := time.Now()

	mal, err := d.extractAll(ctx, domain.KindMalicious, input.MalDir)
	if err != nil {
		return nil, err
	}
	ben, err := d.extractAll(ctx, domain.KindBenign, input.BenDir)
	if err != nil {
		return nil, err
	}

	vocab := drebin.BuildVocabulary(featureSets(mal), featureSets(ben))
	d.logger.WithFields(logrus.Fields{
		"batch":      input.Batch,
		"vocabulary": vocab.Len(),
	}).Info("Vocabulary built")

	result := &Result{
		Encoding:   domain.EncodingDirect,
		Batch:      input.Batch,
		Vocabulary: vocab,
	}

	result.Malicious, err = d.encode(vocab, mal)
	if err != nil {
		return nil, err
	}
	result.Benign, err = d.encode(vocab, ben)
	if err != nil {
		return nil, err
	}

	for _, e := range append(mal, ben...) {
		result.Outcomes = append(result.Outcomes, e.outcome)
	}
	result.Duration = time.Since(startTime)

	if d.metrics != nil {
		d.metrics.RecordBatch(string(domain.EncodingDirect), input.Batch, vocab.Len(), result.Duration)
	}
	return result, nil
}

func (d *DirectVectorizer) extractAll(ctx context.Context, kind domain.Kind, root string) ([]*extracted, error) {
	apps, err := ListAPKs(root)
	if err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		"kind": kind,
		"root": root,
		"apps": len(apps),
	}).Info("Feature extraction started")

	out := make([]*extracted, 0, len(apps))
	for i, app := range apps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d.logger.Infof("[%d/%d] %s", i+1, len(apps), app.ID)
		res := d.extractor.Extract(ctx, app.Path)

		outcome := Outcome{
			App:      app,
			Kind:     kind,
			Row:      -1,
			Features: len(res.Features),
			Err:      res.Err,
			Duration: res.Duration,
		}
		switch {
		case res.Err != nil:
			outcome.Status = domain.AppStatusFailed
			d.logger.WithFields(logrus.Fields{
				"app_id": app.ID,
				"kind":   kind,
			}).WithError(res.Err).Warn("Feature extraction failed, using empty feature set")
		case len(res.Features) == 0:
			outcome.Status = domain.AppStatusEmpty
		default:
			outcome.Status = domain.AppStatusOK
		}

		if d.metrics != nil {
			d.metrics.RecordApp(string(domain.EncodingDirect), string(kind), string(outcome.Status))
		}
		out = append(out, &extracted{outcome: outcome, features: res.Features})
	}
	return out, nil
}

// encode 按词表编码，空特征集合默认不进入矩阵
func (d *DirectVectorizer) encode(vocab *drebin.Vocabulary, apps []*extracted) (*matrix.Matrix, error) {
	vectors := make([]matrix.Vector, 0, len(apps))
	for _, e := range apps {
		if len(e.features) == 0 && !d.keepEmpty {
			d.logger.WithFields(logrus.Fields{
				"app_id": e.outcome.App.ID,
				"kind":   e.outcome.Kind,
			}).Warn("No features extracted, app dropped from matrix")
			continue
		}
		e.outcome.Row = len(vectors)
		vectors = append(vectors, vocab.Encode(e.features))
	}
	return matrix.Stack(vectors, vocab.Len(), matrix.Uint8)
}

func featureSets(apps []*extracted) []drebin.FeatureSet {
	sets := make([]drebin.FeatureSet, 0, len(apps))
	for _, e := range apps {
		sets = append(sets, e.features)
	}
	return sets
}
