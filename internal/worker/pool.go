package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler 处理单个任务
type Handler func(ctx context.Context, task *Task) error

// Pool Worker 池
type Pool struct {
	workers  int
	taskChan chan *Task
	handler  Handler
	logger   *logrus.Logger
	wg       sync.WaitGroup
}

// Task 任务
type Task struct {
	ID       string
	Payload  interface{}
	resultCh chan error // 用于同步等待任务完成
}

// NewPool 创建 Worker 池
func NewPool(workers, queueSize int, handler Handler, logger *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	return &Pool{
		workers:  workers,
		taskChan: make(chan *Task, queueSize),
		handler:  handler,
		logger:   logger,
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Debug("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case task, ok := <-p.taskChan:
			if !ok {
				return
			}

			err := p.handler(ctx, task)
			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"worker_id": id,
					"task_id":   task.ID,
				}).Warn("Task failed")
			}

			if task.resultCh != nil {
				task.resultCh <- err
				close(task.resultCh)
			}
		}
	}
}

// Submit 提交任务（非阻塞，队列满时返回错误）
func (p *Pool) Submit(task *Task) error {
	select {
	case p.taskChan <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// SubmitWait 提交任务，队列满时阻塞直到有空位或 ctx 结束
func (p *Pool) SubmitWait(ctx context.Context, task *Task) error {
	select {
	case p.taskChan <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitAndWait 提交任务并等待完成
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) error {
	task.resultCh = make(chan error, 1)

	select {
	case p.taskChan <- task:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 关闭队列并等待已提交的任务处理完
func (p *Pool) Stop() {
	close(p.taskChan)
	p.wg.Wait()
	p.logger.Debug("Worker pool stopped")
}

// QueueSize 获取队列中任务数
func (p *Pool) QueueSize() int {
	return len(p.taskChan)
}
