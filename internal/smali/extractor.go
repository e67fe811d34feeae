package smali

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// ConstructorToken 构造方法 <init> 归一化后的方法名（与簇映射文件中的 key 保持一致）
const ConstructorToken = "init"

// constructorMarker smali 中构造方法的原始写法
const constructorMarker = "<init>"

// PlatformPrefixes 允许进入符号集合的平台命名空间（类描述符形式）
var PlatformPrefixes = []string{
	"Landroid/",
	"Ljava/",
	"Ljavax/",
}

// invokePattern 匹配 invoke-* 指令的方法引用操作数，寄存器列表可以包含逗号
// 例: invoke-virtual {p0}, Landroid/util/Log;->d(Ljava/lang/String;Ljava/lang/String;)I
var invokePattern = regexp.MustCompile(`invoke-[\w/-]+\s*\{[^}]*\}\s*,\s*(L[^;\s]+;->[^(\s]+)`)

// SymbolSet API 符号集合
type SymbolSet map[string]struct{}

// Add 添加符号
func (s SymbolSet) Add(symbol string) {
	s[symbol] = struct{}{}
}

// Has 判断符号是否存在
func (s SymbolSet) Has(symbol string) bool {
	_, ok := s[symbol]
	return ok
}

// Merge 合并另一个集合
func (s SymbolSet) Merge(other SymbolSet) {
	for symbol := range other {
		s[symbol] = struct{}{}
	}
}

// Sorted 返回排序后的符号列表
func (s SymbolSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for symbol := range s {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// ExtractSymbols 从一段 smali 代码中提取平台 API 调用符号
// 非法 UTF-8 字节会先被替换为 U+FFFD，单行损坏不影响其他行
func ExtractSymbols(content []byte) SymbolSet {
	symbols := make(SymbolSet)
	// bytes.Reader 不会返回读错误
	_ = scanSymbols(bytes.NewReader(content), symbols)
	return symbols
}

// scanSymbols 逐行读取 r，把解析到的符号加入 symbols
func scanSymbols(r io.Reader, symbols SymbolSet) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			addLine(symbols, line)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func addLine(symbols SymbolSet, raw []byte) {
	line := strings.ToValidUTF8(string(bytes.TrimRight(raw, "\r\n")), "\uFFFD")
	if symbol, ok := ParseInvokeLine(line); ok {
		symbols.Add(symbol)
	}
}

// ParseInvokeLine 解析单行指令，返回归一化后的符号
func ParseInvokeLine(line string) (string, bool) {
	match := invokePattern.FindStringSubmatch(line)
	if len(match) < 2 {
		return "", false
	}
	ref := match[1]

	if !hasPlatformPrefix(ref) {
		return "", false
	}

	classDesc, member, found := strings.Cut(ref, ";->")
	if !found {
		return "", false
	}

	if member == constructorMarker {
		member = ConstructorToken
	}

	return DottedClass(classDesc) + "." + member, true
}

// DottedClass 将类描述符转换为点分形式: Landroid/util/Log; -> android.util.Log
func DottedClass(desc string) string {
	desc = strings.TrimSuffix(desc, ";")
	if strings.HasPrefix(desc, "L") && strings.Contains(desc, "/") {
		desc = desc[1:]
	}
	return strings.ReplaceAll(desc, "/", ".")
}

func hasPlatformPrefix(ref string) bool {
	for _, prefix := range PlatformPrefixes {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}

// DirStats 目录扫描统计
type DirStats struct {
	Files   int // 成功读取的文件数
	Skipped int // 读取失败被跳过的文件数
}

// ExtractDir 递归扫描目录下所有指定扩展名的文件，合并符号集合
// 单个文件读取失败只记录警告，不中断整个目录
func ExtractDir(dir, ext string, logger *logrus.Logger) (SymbolSet, DirStats, error) {
	symbols := make(SymbolSet)
	var stats DirStats

	info, err := os.Stat(dir)
	if err != nil {
		return symbols, stats, fmt.Errorf("stat code dir: %w", err)
	}
	if !info.IsDir() {
		return symbols, stats, fmt.Errorf("%s is not a directory", dir)
	}

	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.WithError(err).WithField("path", path).Warn("Skipping unreadable path")
			stats.Skipped++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}

		fileSymbols, err := extractFile(path)
		if err != nil {
			logger.WithError(err).WithField("file", path).Warn("Skipping unreadable source unit")
			stats.Skipped++
			return nil
		}
		symbols.Merge(fileSymbols)
		stats.Files++
		return nil
	})

	return symbols, stats, walkErr
}

// extractFile 按行读取单个 smali 文件
func extractFile(path string) (SymbolSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	symbols := make(SymbolSet)
	if err := scanSymbols(f, symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}
