package vectorizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apk-analysis/apk-drift/internal/domain"
	"github.com/apk-analysis/apk-drift/internal/drebin"
	"github.com/apk-analysis/apk-drift/internal/matrix"
)

// App 批次中的一个应用
type App struct {
	ID   string // 目录名，或去掉 .apk 的文件名
	Path string
}

// ListAppDirs 列出反编译根目录下的应用目录（字典序）
func ListAppDirs(root string) ([]App, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read app directory %s: %w", root, err)
	}

	apps := make([]App, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		apps = append(apps, App{
			ID:   entry.Name(),
			Path: filepath.Join(root, entry.Name()),
		})
	}
	sortApps(apps)
	return apps, nil
}

// ListAPKs 列出目录下的 .apk 文件（字典序）
func ListAPKs(root string) ([]App, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read apk directory %s: %w", root, err)
	}

	apps := make([]App, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".apk") {
			continue
		}
		path := filepath.Join(root, entry.Name())
		apps = append(apps, App{
			ID:   drebin.AppID(path),
			Path: path,
		})
	}
	sortApps(apps)
	return apps, nil
}

func sortApps(apps []App) {
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].Path < apps[j].Path
	})
}

// Input 一个批次的输入目录
type Input struct {
	Batch  string
	MalDir string
	BenDir string
}

// Outcome 单个应用的处理结果
type Outcome struct {
	App      App
	Kind     domain.Kind
	Row      int // 矩阵行号，未进入矩阵为 -1
	Status   domain.AppStatus
	Symbols  int
	Hits     int
	Features int
	Err      error
	Duration time.Duration
}

// Result 一个批次的编码结果
type Result struct {
	Encoding   domain.Encoding
	Batch      string
	Malicious  *matrix.Matrix
	Benign     *matrix.Matrix
	Vocabulary *drebin.Vocabulary // 仅直接编码
	Outcomes   []Outcome
	Duration   time.Duration
}

// Matrix 按类别取矩阵
func (r *Result) Matrix(kind domain.Kind) *matrix.Matrix {
	if kind == domain.KindMalicious {
		return r.Malicious
	}
	return r.Benign
}

// Counts 失败和空特征应用数
func (r *Result) Counts() (failed, empty int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case domain.AppStatusFailed:
			failed++
		case domain.AppStatusEmpty, domain.AppStatusMissing:
			empty++
		}
	}
	return failed, empty
}

// Vectorizer 将一个批次的应用编码为恶意/良性两个矩阵
type Vectorizer interface {
	Encoding() domain.Encoding
	Run(ctx context.Context, input Input) (*Result, error)
}
