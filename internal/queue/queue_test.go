package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/apk-analysis/apk-drift/internal/config"
	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeAck 记录 Ack/Nack 调用
type fakeAck struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue []bool
	done    chan struct{}
}

func newFakeAck() *fakeAck {
	return &fakeAck{done: make(chan struct{}, 16)}
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	a.acked++
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	a.nacked++
	a.requeue = append(a.requeue, requeue)
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// fakeSource 内存消息源
type fakeSource struct {
	msgs      chan amqp.Delivery
	reconnect chan bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		msgs:      make(chan amqp.Delivery, 16),
		reconnect: make(chan bool),
	}
}

func (s *fakeSource) Consume() (<-chan amqp.Delivery, error) { return s.msgs, nil }
func (s *fakeSource) StartConnectionWatcher()                 {}
func (s *fakeSource) ReconnectChan() <-chan bool              { return s.reconnect }
func (s *fakeSource) Reconnect() error                        { return nil }

// fakePublisher 记录发布的消息
type fakePublisher struct {
	bodies [][]byte
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func validJob() *BatchJob {
	return &BatchJob{
		Encoding: domain.EncodingDirect,
		Batch:    "2016",
		MalDir:   "/data/malicious_2016",
		BenDir:   "/data/benign_2016",
	}
}

func TestJob_EncodeDecode(t *testing.T) {
	body, err := EncodeJob(validJob())
	require.NoError(t, err)
	assert.JSONEq(t, `{"encoding":"direct","batch":"2016","mal_dir":"/data/malicious_2016","ben_dir":"/data/benign_2016"}`, string(body))

	job, err := DecodeJob(body)
	require.NoError(t, err)
	assert.Equal(t, validJob(), job)
}

func TestJob_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"encoding":`},
		{"unknown encoding", `{"encoding":"bow","batch":"2016","mal_dir":"a","ben_dir":"b"}`},
		{"missing batch", `{"encoding":"graph","mal_dir":"a","ben_dir":"b"}`},
		{"missing dirs", `{"encoding":"graph","batch":"2016"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJob([]byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}
}

func TestProducer_PublishJob(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, quietLogger())

	require.NoError(t, producer.PublishJob(context.Background(), validJob()))
	require.Len(t, pub.bodies, 1)

	bad := validJob()
	bad.Batch = ""
	assert.ErrorIs(t, producer.PublishJob(context.Background(), bad), ErrInvalidJob)
	assert.Len(t, pub.bodies, 1)

	pub.err = errors.New("channel closed")
	assert.Error(t, producer.PublishJob(context.Background(), validJob()))
}

func TestURI(t *testing.T) {
	uri := URI(&config.RabbitMQConfig{Host: "mq", Port: 5673, User: "guest", Password: "secret", VHost: "drift"})

	assert.Equal(t, "amqp://guest:secret@mq:5673/drift", uri)
}

func waitAck(t *testing.T, ack *fakeAck) {
	t.Helper()
	select {
	case <-ack.done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not acknowledged")
	}
}

// TestConsumer_AckPolicy 测试成功确认、格式错误丢弃和失败重新入队策略
func TestConsumer_AckPolicy(t *testing.T) {
	source := newFakeSource()
	body, err := EncodeJob(validJob())
	require.NoError(t, err)

	var handled []string
	var mu sync.Mutex
	handler := func(ctx context.Context, job *BatchJob) error {
		mu.Lock()
		handled = append(handled, job.MalDir)
		mu.Unlock()
		switch job.MalDir {
		case "transient":
			return retry.NewRetryableError(errors.New("database is locked"))
		case "fatal":
			return retry.NewNonRetryableError(errors.New("cluster mapping missing"))
		}
		return nil
	}

	consumer := NewConsumer(source, handler, 1, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	jobBody := func(malDir string) []byte {
		job := validJob()
		job.MalDir = malDir
		b, err := EncodeJob(job)
		require.NoError(t, err)
		return b
	}

	okAck := newFakeAck()
	source.msgs <- amqp.Delivery{Acknowledger: okAck, Body: body}
	waitAck(t, okAck)
	assert.Equal(t, 1, okAck.acked)

	badAck := newFakeAck()
	source.msgs <- amqp.Delivery{Acknowledger: badAck, Body: []byte("garbage")}
	waitAck(t, badAck)
	assert.Equal(t, []bool{false}, badAck.requeue)

	transientAck := newFakeAck()
	source.msgs <- amqp.Delivery{Acknowledger: transientAck, Body: jobBody("transient")}
	waitAck(t, transientAck)
	assert.Equal(t, []bool{true}, transientAck.requeue)

	redeliveredAck := newFakeAck()
	source.msgs <- amqp.Delivery{Acknowledger: redeliveredAck, Body: jobBody("transient"), Redelivered: true}
	waitAck(t, redeliveredAck)
	assert.Equal(t, []bool{false}, redeliveredAck.requeue)

	fatalAck := newFakeAck()
	source.msgs <- amqp.Delivery{Acknowledger: fatalAck, Body: jobBody("fatal")}
	waitAck(t, fatalAck)
	assert.Equal(t, []bool{false}, fatalAck.requeue)

	mu.Lock()
	assert.Len(t, handled, 4)
	mu.Unlock()
	assert.True(t, consumer.IsRunning())
}
