package decompile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/apk-analysis/apk-drift/internal/drebin"
	"github.com/apk-analysis/apk-drift/internal/vectorizer"
	"github.com/apk-analysis/apk-drift/internal/watcher"
	"github.com/sirupsen/logrus"
)

// Stats 批量反编译统计
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Apktool 调用 apktool 把 APK 反编译成 smali 目录
type Apktool struct {
	path    string
	timeout time.Duration
	logger  *logrus.Logger
}

// NewApktool 创建反编译器
func NewApktool(path string, timeout time.Duration, logger *logrus.Logger) *Apktool {
	if path == "" {
		path = "apktool"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Apktool{
		path:    path,
		timeout: timeout,
		logger:  logger,
	}
}

// OutputDir APK 对应的输出目录 <root>/<去掉扩展名的文件名>
func OutputDir(outRoot, apkPath string) string {
	return filepath.Join(outRoot, drebin.AppID(apkPath))
}

// Decompile 反编译单个 APK，已有输出会被覆盖
func (a *Apktool) Decompile(ctx context.Context, apkPath, outRoot string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out := OutputDir(outRoot, apkPath)
	cmd := exec.CommandContext(ctx, a.path, "d", apkPath, "-f", "-o", out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// apktool 的 java 子进程可能在被杀后仍占着管道
	cmd.WaitDelay = time.Second

	startTime := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("apktool timeout (%s): %s", a.timeout, apkPath)
		}
		return "", fmt.Errorf("apktool failed for %s: %w (stderr: %s)", apkPath, err, tail(stderr.String(), 512))
	}

	a.logger.WithFields(logrus.Fields{
		"apk_path":    apkPath,
		"output_dir":  out,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("APK decompiled")

	return out, nil
}

// DecompileDir 反编译目录下所有 APK，单个失败只记录日志
func (a *Apktool) DecompileDir(ctx context.Context, apkDir, outRoot string) (*Stats, error) {
	if err := os.MkdirAll(outRoot, 0755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}

	apks, err := vectorizer.ListAPKs(apkDir)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Total: len(apks)}
	for i, apk := range apks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		a.logger.Infof("[%d/%d] %s", i+1, len(apks), apk.ID)
		if _, err := a.Decompile(ctx, apk.Path, outRoot); err != nil {
			stats.Failed++
			a.logger.WithError(err).WithField("apk_path", apk.Path).Warn("Decompile failed, skipping")
			continue
		}
		stats.Succeeded++
	}

	a.logger.WithFields(logrus.Fields{
		"apk_dir":   apkDir,
		"total":     stats.Total,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
	}).Info("Batch decompile finished")

	return stats, nil
}

// Watch 监控目录，新 APK 写入完成后反编译，直到 ctx 结束
func (a *Apktool) Watch(ctx context.Context, apkDir, outRoot string, opts watcher.Options) error {
	if err := os.MkdirAll(outRoot, 0755); err != nil {
		return fmt.Errorf("create output root: %w", err)
	}

	fw, err := watcher.NewFileWatcher(apkDir, opts, func(ctx context.Context, path string) error {
		_, err := a.Decompile(ctx, path, outRoot)
		return err
	}, a.logger)
	if err != nil {
		return err
	}

	if err := fw.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return fw.Stop()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
