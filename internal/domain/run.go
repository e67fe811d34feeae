package domain

import (
	"time"
)

// Encoding 特征编码方式
type Encoding string

const (
	EncodingGraph  Encoding = "graph"  // 簇编码（APIGraph）
	EncodingDirect Encoding = "direct" // 直接编码（Drebin）
)

// Valid 是否为已知编码
func (e Encoding) Valid() bool {
	return e == EncodingGraph || e == EncodingDirect
}

// VectorDir 产物目录，如 graph_vector
func (e Encoding) VectorDir() string {
	return string(e) + "_vector"
}

// Kind 样本类别
type Kind string

const (
	KindMalicious Kind = "mal"
	KindBenign    Kind = "ben"
)

// Label 分类标签，恶意为 1，良性为 0
func (k Kind) Label() uint8 {
	if k == KindMalicious {
		return 1
	}
	return 0
}

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ExtractionRun 一次批次提取
type ExtractionRun struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Encoding     Encoding  `gorm:"type:varchar(10);index:idx_encoding_batch;not null" json:"encoding"`
	Batch        string    `gorm:"type:varchar(32);index:idx_encoding_batch;not null" json:"batch"`
	MalDir       string    `gorm:"type:varchar(1024)" json:"mal_dir"`
	BenDir       string    `gorm:"type:varchar(1024)" json:"ben_dir"`
	Source       string    `gorm:"type:varchar(20)" json:"source"` // cli, queue
	Status       RunStatus `gorm:"type:varchar(20);not null;default:'queued'" json:"status"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`

	// 结果汇总
	MalShape    string `gorm:"type:varchar(64)" json:"mal_shape,omitempty"`
	BenShape    string `gorm:"type:varchar(64)" json:"ben_shape,omitempty"`
	FeatureDim  int    `json:"feature_dim"`
	AppCount    int    `json:"app_count"`
	FailedCount int    `json:"failed_count"`
	EmptyCount  int    `json:"empty_count"`

	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (ExtractionRun) TableName() string {
	return "extraction_runs"
}

// AppStatus 单个应用的处理结果
type AppStatus string

const (
	AppStatusOK      AppStatus = "ok"
	AppStatusEmpty   AppStatus = "empty"   // 无任何特征（直接编码默认不进入矩阵）
	AppStatusMissing AppStatus = "missing" // 缺少代码目录，使用全零向量
	AppStatusFailed  AppStatus = "failed"
)

// AppRecord 单个应用的审计记录
type AppRecord struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID        string    `gorm:"type:varchar(36);index:idx_run_kind;not null" json:"run_id"`
	Kind         Kind      `gorm:"type:varchar(3);index:idx_run_kind;not null" json:"kind"`
	AppID        string    `gorm:"type:varchar(255);not null" json:"app_id"`
	Row          int       `json:"row"` // 在矩阵中的行号，未进入矩阵为 -1
	Status       AppStatus `gorm:"type:varchar(10);not null" json:"status"`
	Symbols      int       `json:"symbols"`  // 簇编码：平台 API 数
	Hits         int       `json:"hits"`     // 簇编码：命中映射数
	Features     int       `json:"features"` // 直接编码：特征数
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

func (AppRecord) TableName() string {
	return "extraction_apps"
}
