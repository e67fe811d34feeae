package staticanalysis

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ProcessPool Python 进程池（复用 Python 进程，避免每个 APK 重新加载 Androguard）
type ProcessPool struct {
	pythonPath string
	scriptPath string
	poolSize   int
	timeout    time.Duration
	processes  []*Process
	taskQueue  chan *AnalysisTask
	wg         sync.WaitGroup
	stopOnce   sync.Once
	logger     *logrus.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

// Process 单个 Python 进程
type Process struct {
	id     int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	active bool
}

// AnalysisTask 分析任务
type AnalysisTask struct {
	APKPath  string
	Callback func(*APKFeatures, error)
}

// NewProcessPool 创建进程池
func NewProcessPool(pythonPath, scriptPath string, poolSize int, timeout time.Duration, logger *logrus.Logger) (*ProcessPool, error) {
	if poolSize <= 0 {
		poolSize = 2
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &ProcessPool{
		pythonPath: pythonPath,
		scriptPath: scriptPath,
		poolSize:   poolSize,
		timeout:    timeout,
		processes:  make([]*Process, poolSize),
		taskQueue:  make(chan *AnalysisTask, 100),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < poolSize; i++ {
		process, err := pool.startProcess(i)
		if err != nil {
			// 回滚已启动的进程
			pool.Stop()
			return nil, fmt.Errorf("failed to start process %d: %w", i, err)
		}
		pool.processes[i] = process

		pool.wg.Add(1)
		go pool.worker(i, process)
	}

	pool.logger.WithField("pool_size", poolSize).Info("Python process pool started")

	return pool, nil
}

// startProcess 以服务模式启动常驻 Python 进程
// 协议：stdin 每行一个 {"apk_path": ...}，stdout 每行一个 APKFeatures JSON
func (pp *ProcessPool) startProcess(id int) (*Process, error) {
	cmd := exec.CommandContext(pp.ctx, pp.pythonPath, "-u", pp.scriptPath, "--server-mode")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start python process: %w", err)
	}

	process := &Process{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 1<<20),
		active: true,
	}

	go pp.readStderr(id, stderr)

	pp.logger.WithField("worker_id", id).Debug("Python worker process started")

	return process, nil
}

// readStderr 读取 Python 进程的 stderr 输出
func (pp *ProcessPool) readStderr(id int, stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		pp.logger.WithFields(logrus.Fields{
			"worker_id": id,
			"stderr":    scanner.Text(),
		}).Debug("Python worker stderr")
	}
}

func (pp *ProcessPool) worker(id int, process *Process) {
	defer pp.wg.Done()

	for {
		select {
		case <-pp.ctx.Done():
			return

		case task, ok := <-pp.taskQueue:
			if !ok {
				return
			}
			pp.processTask(id, process, task)
		}
	}
}

// processTask 处理单个任务
func (pp *ProcessPool) processTask(id int, process *Process, task *AnalysisTask) {
	process.mu.Lock()
	defer process.mu.Unlock()

	if !process.active {
		if err := pp.revive(process); err != nil {
			task.Callback(nil, fmt.Errorf("python worker %d not active: %w", id, err))
			return
		}
	}

	taskBytes, err := json.Marshal(map[string]string{"apk_path": task.APKPath})
	if err != nil {
		task.Callback(nil, err)
		return
	}

	if _, err := fmt.Fprintf(process.stdin, "%s\n", taskBytes); err != nil {
		process.active = false
		task.Callback(nil, fmt.Errorf("failed to write task: %w", err))
		pp.tryRevive(process)
		return
	}

	resultChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	stdout := process.stdout
	go func() {
		line, err := stdout.ReadString('\n')
		if err != nil {
			errorChan <- err
		} else {
			resultChan <- line
		}
	}()

	select {
	case line := <-resultChan:
		var result APKFeatures
		if err := json.Unmarshal([]byte(line), &result); err != nil {
			task.Callback(nil, fmt.Errorf("failed to parse result: %w", err))
			return
		}
		task.Callback(&result, nil)

	case err := <-errorChan:
		pp.logger.WithError(err).WithField("worker_id", id).Error("Failed to read from python process")
		process.active = false
		task.Callback(nil, fmt.Errorf("failed to read result: %w", err))
		pp.tryRevive(process)

	case <-time.After(pp.timeout):
		// 超时后进程输出已不可信，标记为不可用
		pp.logger.WithFields(logrus.Fields{
			"worker_id": id,
			"apk_path":  task.APKPath,
		}).Warn("Python analysis timeout")
		process.active = false
		task.Callback(nil, fmt.Errorf("analysis timeout (%s)", pp.timeout))
		pp.tryRevive(process)
	}
}

// revive 结束失效的进程并以相同编号重新启动，调用方需持有 process.mu
func (pp *ProcessPool) revive(process *Process) error {
	if process.cmd != nil && process.cmd.Process != nil {
		process.stdin.Close()
		process.cmd.Process.Kill()
		process.cmd.Wait()
	}

	fresh, err := pp.startProcess(process.id)
	if err != nil {
		return err
	}
	process.cmd = fresh.cmd
	process.stdin = fresh.stdin
	process.stdout = fresh.stdout
	process.active = true

	pp.logger.WithField("worker_id", process.id).Info("Python worker process restarted")
	return nil
}

// tryRevive 重启失败时保持不可用，下一个任务到来时再尝试
func (pp *ProcessPool) tryRevive(process *Process) {
	if pp.ctx.Err() != nil {
		return
	}
	if err := pp.revive(process); err != nil {
		pp.logger.WithError(err).WithField("worker_id", process.id).Error("Failed to restart python worker")
	}
}

// Submit 提交任务到进程池
func (pp *ProcessPool) Submit(task *AnalysisTask) error {
	select {
	case pp.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("process pool task queue is full")
	}
}

// Stop 停止进程池
func (pp *ProcessPool) Stop() {
	pp.stopOnce.Do(func() {
		close(pp.taskQueue)
		pp.cancel()
		pp.wg.Wait()

		for i, process := range pp.processes {
			if process != nil && process.cmd != nil && process.cmd.Process != nil {
				process.stdin.Close()
				process.cmd.Process.Kill()
				pp.logger.WithField("worker_id", i).Debug("Python worker process stopped")
			}
		}

		pp.logger.Info("Python process pool stopped")
	})
}

// ActiveCount 仍可用的进程数
func (pp *ProcessPool) ActiveCount() int {
	count := 0
	for _, process := range pp.processes {
		if process == nil {
			continue
		}
		process.mu.Lock()
		if process.active {
			count++
		}
		process.mu.Unlock()
	}
	return count
}
