package staticanalysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// AndroguardConfig Androguard 分析器配置
type AndroguardConfig struct {
	PythonPath      string
	ScriptPath      string
	UseProcessPool  bool
	ProcessPoolSize int
	Timeout         time.Duration // 单个 APK 的分析超时
}

// AndroguardAnalyzer 调用 Python Androguard 脚本提取方法和清单信息
type AndroguardAnalyzer struct {
	pythonPath  string
	scriptPath  string
	timeout     time.Duration
	processPool *ProcessPool
	usePool     bool
	logger      *logrus.Logger
}

// NewAndroguardAnalyzer 创建 Androguard 分析器
func NewAndroguardAnalyzer(config *AndroguardConfig, logger *logrus.Logger) *AndroguardAnalyzer {
	if config.PythonPath == "" {
		config.PythonPath = "python3"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}

	aa := &AndroguardAnalyzer{
		pythonPath: config.PythonPath,
		scriptPath: config.ScriptPath,
		timeout:    config.Timeout,
		usePool:    config.UseProcessPool,
		logger:     logger,
	}

	// 如果启用进程池，则创建进程池
	if config.UseProcessPool {
		pool, err := NewProcessPool(config.PythonPath, config.ScriptPath, config.ProcessPoolSize, config.Timeout, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to create process pool, will use direct mode")
			aa.usePool = false
		} else {
			aa.processPool = pool
			logger.Info("Androguard analyzer initialized with process pool")
		}
	}

	return aa
}

// Analyze 实现 Analyzer 接口
func (aa *AndroguardAnalyzer) Analyze(ctx context.Context, apkPath string) (*APKFeatures, error) {
	startTime := time.Now()

	var (
		result *APKFeatures
		err    error
	)
	if aa.usePool && aa.processPool != nil {
		result, err = aa.analyzeWithPool(ctx, apkPath)
	} else {
		result, err = aa.analyzeDirect(ctx, apkPath)
	}
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("androguard: %s", result.Error)
	}

	aa.logger.WithFields(logrus.Fields{
		"apk_path":    apkPath,
		"methods":     len(result.Methods),
		"permissions": len(result.Permissions),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("Androguard analysis completed")

	return result, nil
}

// analyzeDirect 每个 APK 启动一次 Python 脚本
func (aa *AndroguardAnalyzer) analyzeDirect(ctx context.Context, apkPath string) (*APKFeatures, error) {
	ctx, cancel := context.WithTimeout(ctx, aa.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, aa.pythonPath, aa.scriptPath, apkPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("androguard analysis timeout (%s)", aa.timeout)
		}
		return nil, fmt.Errorf("python script failed: %w (stderr: %s)", err, truncate(stderr.String(), 512))
	}

	var result APKFeatures
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse python output: %w (output: %s)", err, truncate(string(output), 512))
	}

	return &result, nil
}

// analyzeWithPool 使用进程池调用
func (aa *AndroguardAnalyzer) analyzeWithPool(ctx context.Context, apkPath string) (*APKFeatures, error) {
	resultChan := make(chan *APKFeatures, 1)
	errorChan := make(chan error, 1)

	task := &AnalysisTask{
		APKPath: apkPath,
		Callback: func(result *APKFeatures, err error) {
			if err != nil {
				errorChan <- err
			} else {
				resultChan <- result
			}
		},
	}

	if err := aa.processPool.Submit(task); err != nil {
		return nil, fmt.Errorf("failed to submit task to process pool: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errorChan:
		return nil, err
	case result := <-resultChan:
		return result, nil
	}
}

// Stop 释放进程池
func (aa *AndroguardAnalyzer) Stop() {
	if aa.processPool != nil {
		aa.processPool.Stop()
	}
	aa.logger.Info("Androguard analyzer stopped")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
