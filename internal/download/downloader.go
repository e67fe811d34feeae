package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/apk-analysis/apk-drift/internal/metrics"
	"github.com/apk-analysis/apk-drift/internal/retry"
	"github.com/apk-analysis/apk-drift/internal/worker"
	"github.com/sirupsen/logrus"
)

// 下载结果状态，同时作为指标标签
const (
	StatusDownloaded = "downloaded"
	StatusSkipped    = "skipped"
	StatusFailed     = "failed"
)

// Options 下载器参数
type Options struct {
	BaseURL      string
	APIKey       string
	OutputDir    string
	Workers      int
	Timeout      time.Duration // 单次请求超时
	MaxRetries   int
	RequestDelay time.Duration // 每次请求后的间隔，避免压垮服务端
	RetryBackoff time.Duration
}

// Stats 下载统计
type Stats struct {
	Downloaded int64 `json:"downloaded"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
}

// Downloader AndroZoo APK 下载器
type Downloader struct {
	client  *http.Client
	opts    Options
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewDownloader 创建下载器，m 可以为 nil
func NewDownloader(opts Options, m *metrics.Metrics, logger *logrus.Logger) *Downloader {
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	return &Downloader{
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// Download 并发下载全部 SHA256 到 OutputDir/<sha>.apk
func (d *Downloader) Download(ctx context.Context, shas []string) (*Stats, error) {
	if err := os.MkdirAll(d.opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	stats := &Stats{}
	pool := worker.NewPool(d.opts.Workers, d.opts.Workers*2, func(ctx context.Context, task *worker.Task) error {
		status, err := d.fetch(ctx, task.ID)
		switch status {
		case StatusDownloaded:
			atomic.AddInt64(&stats.Downloaded, 1)
		case StatusSkipped:
			atomic.AddInt64(&stats.Skipped, 1)
		default:
			atomic.AddInt64(&stats.Failed, 1)
		}
		if d.metrics != nil {
			d.metrics.RecordDownload(status)
		}
		return err
	}, d.logger)

	pool.Start(ctx)
	for _, sha := range shas {
		if err := pool.SubmitWait(ctx, &worker.Task{ID: sha}); err != nil {
			pool.Stop()
			return stats, err
		}
	}
	pool.Stop()

	d.logger.WithFields(logrus.Fields{
		"downloaded": stats.Downloaded,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
	}).Info("Download finished")

	return stats, ctx.Err()
}

// fetch 下载单个 APK，目标文件已存在时跳过
func (d *Downloader) fetch(ctx context.Context, sha string) (string, error) {
	target := filepath.Join(d.opts.OutputDir, sha+".apk")
	if _, err := os.Stat(target); err == nil {
		d.logger.WithField("sha256", sha).Debug("APK already exists, skipping")
		return StatusSkipped, nil
	}

	cfg := &retry.Config{
		Operation:       "download",
		MaxAttempts:     d.opts.MaxRetries,
		InitialInterval: d.opts.RetryBackoff,
		MaxInterval:     30 * time.Second,
		Strategy:        retry.StrategyExponential,
		Logger:          d.logger,
		OnRetry: func(attempt int, err error) {
			if d.metrics != nil {
				d.metrics.RecordRetryAttempt("download", attempt)
			}
		},
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		defer d.pause(ctx)
		return d.fetchOnce(ctx, sha, target)
	})
	if err != nil {
		d.logger.WithError(err).WithField("sha256", sha).Warn("APK download failed")
		return StatusFailed, err
	}

	d.logger.WithField("sha256", sha).Info("APK downloaded")
	return StatusDownloaded, nil
}

func (d *Downloader) fetchOnce(ctx context.Context, sha, target string) error {
	query := url.Values{}
	query.Set("apikey", d.opts.APIKey)
	query.Set("sha256", sha)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.opts.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return retry.NewNonRetryableError(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return retry.NewNonRetryableError(err)
		}
		return retry.NewRetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.NewRetryableError(statusErr)
		}
		return retry.NewNonRetryableError(statusErr)
	}

	return writeAtomic(target, resp.Body)
}

// writeAtomic 先写临时文件再改名，中断时不会留下半个 APK
func writeAtomic(target string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.part")
	if err != nil {
		return retry.NewNonRetryableError(err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return retry.NewRetryableError(fmt.Errorf("write body: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return retry.NewNonRetryableError(err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return retry.NewNonRetryableError(err)
	}
	return nil
}

func (d *Downloader) pause(ctx context.Context) {
	if d.opts.RequestDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d.opts.RequestDelay):
	}
}
