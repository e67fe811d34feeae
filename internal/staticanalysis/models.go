package staticanalysis

import (
	"context"
)

// Analyzer APK 静态分析器
type Analyzer interface {
	// Analyze 分析单个 APK，返回 Drebin 特征所需的原始信息
	Analyze(ctx context.Context, apkPath string) (*APKFeatures, error)
}

// MethodRef 字节码中定义的方法
type MethodRef struct {
	ClassName  string `json:"class_name"` // 类描述符，如 Lcom/example/Main;
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"` // 如 (Ljava/lang/String;)V
	HasCode    bool   `json:"has_code"`
}

// APKFeatures 分析脚本输出（每个 APK 一个 JSON 文档）
type APKFeatures struct {
	Methods     []MethodRef `json:"methods"`
	Intents     []string    `json:"intents"`  // intent-filter 下的 action / category
	Features    []string    `json:"features"` // uses-feature
	Permissions []string    `json:"permissions"`
	Receivers   []string    `json:"receivers"`
	Services    []string    `json:"services"`
	Providers   []string    `json:"providers"`
	Activities  []string    `json:"activities"`

	// 分析脚本报告的错误（服务模式下单个任务失败不退出进程）
	Error string `json:"error,omitempty"`
}

// AndroidManifest 解析后的 Manifest 结构
type AndroidManifest struct {
	Package         string   `json:"package"`
	Activities      []string `json:"activities"`
	Services        []string `json:"services"`
	Receivers       []string `json:"receivers"`
	Providers       []string `json:"providers"`
	UsesPermissions []string `json:"uses_permissions"`
	UsesFeatures    []string `json:"uses_features"`
	IntentFilters   []string `json:"intent_filters"`
}

// ToFeatures 转换为不含方法信息的特征
func (m *AndroidManifest) ToFeatures() *APKFeatures {
	return &APKFeatures{
		Intents:     m.IntentFilters,
		Features:    m.UsesFeatures,
		Permissions: m.UsesPermissions,
		Receivers:   m.Receivers,
		Services:    m.Services,
		Providers:   m.Providers,
		Activities:  m.Activities,
	}
}
