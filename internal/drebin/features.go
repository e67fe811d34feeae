package drebin

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apk-analysis/apk-drift/internal/libfilter"
	"github.com/apk-analysis/apk-drift/internal/staticanalysis"
	"github.com/sirupsen/logrus"
)

// 特征类别前缀
const (
	PrefixRestrictedAPI  = "api_call::"
	PrefixSuspiciousAPI  = "call::"
	PrefixIntent         = "intent::"
	PrefixHWFeature      = "feature::"
	PrefixPermission     = "permission::"
	PrefixReceiver       = "service_receiver::"
	PrefixService        = "service::"
	PrefixProvider       = "provider::"
	PrefixActivity       = "activity::"
	PrefixRealPermission = "real_permission::"
)

// FeatureSet 单个应用的字符串特征集合
type FeatureSet map[string]struct{}

// Add 添加特征
func (s FeatureSet) Add(feature string) {
	s[feature] = struct{}{}
}

// Sorted 返回排序后的特征列表
func (s FeatureSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Tables 特征提取依赖的只读查找表
type Tables struct {
	Catalog    *Catalog
	Restricted *APIList // 命中后加 api_call:: 前缀
	Suspicious *APIList // 命中后加 call:: 前缀
	Libraries  *libfilter.Filter
}

// Result 单个 APK 的提取结果
// Err 非空时 Features 为空，调用方记录错误后继续下一个应用
type Result struct {
	AppID    string
	Path     string
	Features FeatureSet
	Err      error
	Duration time.Duration
}

// Extractor Drebin 风格的直接特征提取器
type Extractor struct {
	analyzer staticanalysis.Analyzer
	tables   Tables
	logger   *logrus.Logger
}

// NewExtractor 创建特征提取器
func NewExtractor(analyzer staticanalysis.Analyzer, tables Tables, logger *logrus.Logger) *Extractor {
	if tables.Libraries == nil {
		tables.Libraries = libfilter.NewDefault()
	}
	if tables.Catalog == nil {
		tables.Catalog = NewCatalog(nil)
	}
	if tables.Restricted == nil {
		tables.Restricted = NewAPIList(nil)
	}
	if tables.Suspicious == nil {
		tables.Suspicious = NewAPIList(nil)
	}
	return &Extractor{
		analyzer: analyzer,
		tables:   tables,
		logger:   logger,
	}
}

// AppID 由 APK 文件名去掉 .apk 后缀得到
func AppID(apkPath string) string {
	name := filepath.Base(apkPath)
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".apk") {
		name = name[:len(name)-len(ext)]
	}
	return name
}

// Extract 分析单个 APK 并生成特征集合
func (e *Extractor) Extract(ctx context.Context, apkPath string) Result {
	startTime := time.Now()
	result := Result{
		AppID:    AppID(apkPath),
		Path:     apkPath,
		Features: make(FeatureSet),
	}

	analysis, err := e.analyzer.Analyze(ctx, apkPath)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(startTime)
		return result
	}

	result.Features = e.Features(analysis)
	result.Duration = time.Since(startTime)
	return result
}

// Features 将分析结果映射为带类别前缀的特征
func (e *Extractor) Features(analysis *staticanalysis.APKFeatures) FeatureSet {
	features := make(FeatureSet)

	for _, api := range e.UsedAPIs(analysis.Methods) {
		if e.tables.Restricted.Contains(api) {
			features.Add(PrefixRestrictedAPI + api)
		}
		if e.tables.Suspicious.Contains(api) {
			features.Add(PrefixSuspiciousAPI + api)
		}
	}

	addAll(features, PrefixIntent, analysis.Intents)
	addAll(features, PrefixHWFeature, analysis.Features)
	addAll(features, PrefixPermission, analysis.Permissions)
	addAll(features, PrefixReceiver, analysis.Receivers)
	addAll(features, PrefixService, analysis.Services)
	addAll(features, PrefixProvider, analysis.Providers)
	addAll(features, PrefixActivity, analysis.Activities)
	addAll(features, PrefixRealPermission, analysis.Permissions)

	return features
}

// UsedAPIs 有代码、非第三方库且属于平台 API 目录的方法，格式 Lclass/Path->name(desc)ret
func (e *Extractor) UsedAPIs(methods []staticanalysis.MethodRef) []string {
	seen := make(map[string]struct{})
	var apis []string

	for _, method := range methods {
		if !method.HasCode {
			continue
		}
		class := strings.TrimSuffix(method.ClassName, ";")
		if e.tables.Libraries.IsLibrary(class) {
			continue
		}
		if !e.tables.Catalog.Contains(class, method.Name) {
			continue
		}

		api := class + "->" + method.Name + method.Descriptor
		if _, ok := seen[api]; ok {
			continue
		}
		seen[api] = struct{}{}
		apis = append(apis, api)
	}

	sort.Strings(apis)
	return apis
}

func addAll(features FeatureSet, prefix string, items []string) {
	for _, item := range items {
		if item == "" {
			continue
		}
		features.Add(prefix + item)
	}
}
