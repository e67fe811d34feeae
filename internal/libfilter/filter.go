package libfilter

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Filter 第三方库过滤器
// 匹配策略为子串包含（不要求前缀对齐），重新打包到其他顶层包名下的 SDK 也能被过滤掉
type Filter struct {
	libraries []string
}

// New 使用给定的库名列表创建过滤器（列表顺序即匹配顺序）
func New(libraries []string) *Filter {
	libs := make([]string, 0, len(libraries))
	for _, lib := range libraries {
		lib = strings.TrimSpace(lib)
		if lib == "" {
			continue
		}
		libs = append(libs, lib)
	}
	return &Filter{libraries: libs}
}

// NewDefault 使用内置库名列表创建过滤器
func NewDefault() *Filter {
	return New(DefaultLibraries())
}

// Load 从文件读取库名列表（每行一个，# 开头为注释）
func Load(path string) (*Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open library list: %w", err)
	}
	defer f.Close()

	var libs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		libs = append(libs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read library list %s: %w", path, err)
	}
	return New(libs), nil
}

// IsLibrary 判断类是否属于第三方库
// 同时接受类描述符 (Lcom/google/ads/AdView;) 和点分类名 (com.google.ads.AdView)
func (f *Filter) IsLibrary(className string) bool {
	_, ok := f.Match(className)
	return ok
}

// Match 返回命中的库名
func (f *Filter) Match(className string) (string, bool) {
	dotted := normalize(className)
	for _, lib := range f.libraries {
		if strings.Contains(dotted, lib) {
			return lib, true
		}
	}
	return "", false
}

// Libraries 返回库名列表副本
func (f *Filter) Libraries() []string {
	out := make([]string, len(f.libraries))
	copy(out, f.libraries)
	return out
}

func normalize(className string) string {
	name := strings.TrimSuffix(strings.TrimSpace(className), ";")
	if strings.HasPrefix(name, "L") && strings.Contains(name, "/") {
		name = name[1:]
	}
	return strings.ReplaceAll(name, "/", ".")
}
