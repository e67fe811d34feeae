package queue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Publisher 消息发布接口
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Producer 批次任务生产者
type Producer struct {
	publisher Publisher
	logger    *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(publisher Publisher, logger *logrus.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishJob 发布批次任务
func (p *Producer) PublishJob(ctx context.Context, job *BatchJob) error {
	body, err := EncodeJob(job)
	if err != nil {
		return err
	}

	if err := p.publisher.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("batch", job.Batch).Error("Failed to publish batch job")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"encoding": job.Encoding,
		"batch":    job.Batch,
	}).Info("Batch job published to queue")

	return nil
}
