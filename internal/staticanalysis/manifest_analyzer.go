package staticanalysis

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ManifestAnalyzer 基于 aapt2 的 Manifest 分析器
// 只能得到清单类特征，没有方法级 API 信息
type ManifestAnalyzer struct {
	logger   *logrus.Logger
	aaptPath string // aapt2 可执行文件路径
}

var (
	elementRe   = regexp.MustCompile(`^(\s*)E: ([\w.-]+)`)
	attributeRe = regexp.MustCompile(`^(\s*)A: (?:android:|http://schemas\.android\.com/apk/res/android:)name\([^)]*\)="([^"]*)"`)
	packageRe   = regexp.MustCompile(`^\s*A: package="([^"]+)"`)
)

// NewManifestAnalyzer 创建 Manifest 分析器
func NewManifestAnalyzer(aaptPath string, logger *logrus.Logger) *ManifestAnalyzer {
	if aaptPath == "" {
		aaptPath = "aapt2" // 默认从 PATH 查找
	}
	return &ManifestAnalyzer{
		logger:   logger,
		aaptPath: aaptPath,
	}
}

// CheckAapt 检查 aapt2 是否可用
func (ma *ManifestAnalyzer) CheckAapt() error {
	cmd := exec.Command(ma.aaptPath, "version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("aapt2 not found: %w", err)
	}
	return nil
}

// Analyze 实现 Analyzer 接口
func (ma *ManifestAnalyzer) Analyze(ctx context.Context, apkPath string) (*APKFeatures, error) {
	startTime := time.Now()

	cmd := exec.CommandContext(ctx, ma.aaptPath, "dump", "xmltree", "--file", "AndroidManifest.xml", apkPath)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("aapt2 command failed: %w", err)
	}

	manifest := ParseXMLTree(string(output))

	ma.logger.WithFields(logrus.Fields{
		"apk_path":     apkPath,
		"package_name": manifest.Package,
		"duration_ms":  time.Since(startTime).Milliseconds(),
	}).Debug("Manifest parsed")

	return manifest.ToFeatures(), nil
}

type xmlElement struct {
	indent int
	tag    string
}

// ParseXMLTree 解析 aapt/aapt2 dump xmltree 的输出
// 依靠缩进还原元素层级，属性归属于缩进更小的最近一个元素
func ParseXMLTree(output string) *AndroidManifest {
	manifest := &AndroidManifest{}
	var stack []xmlElement

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if match := elementRe.FindStringSubmatch(line); match != nil {
			indent := len(match[1])
			for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, xmlElement{indent: indent, tag: match[2]})
			continue
		}

		if match := packageRe.FindStringSubmatch(line); match != nil && manifest.Package == "" {
			manifest.Package = match[1]
			continue
		}

		match := attributeRe.FindStringSubmatch(line)
		if match == nil || len(stack) == 0 {
			continue
		}
		name := match[2]
		current := stack[len(stack)-1]

		switch current.tag {
		case "activity":
			manifest.Activities = append(manifest.Activities, name)
		case "service":
			manifest.Services = append(manifest.Services, name)
		case "receiver":
			manifest.Receivers = append(manifest.Receivers, name)
		case "provider":
			manifest.Providers = append(manifest.Providers, name)
		case "uses-permission", "uses-permission-sdk-23":
			manifest.UsesPermissions = append(manifest.UsesPermissions, name)
		case "uses-feature":
			manifest.UsesFeatures = append(manifest.UsesFeatures, name)
		case "action", "category":
			if len(stack) >= 2 && stack[len(stack)-2].tag == "intent-filter" {
				manifest.IntentFilters = append(manifest.IntentFilters, name)
			}
		}
	}

	return manifest
}
