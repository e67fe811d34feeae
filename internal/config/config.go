package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Drebin    DrebinConfig    `mapstructure:"drebin"`
	Download  DownloadConfig  `mapstructure:"download"`
	Decompile DecompileConfig `mapstructure:"decompile"`
	Align     AlignConfig     `mapstructure:"align"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port  int    `mapstructure:"port"`
	Mode  string `mapstructure:"mode"`  // debug, release
	Token string `mapstructure:"token"` // 为空时 API 不校验 Bearer token
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Path     string `mapstructure:"path"` // sqlite 文件路径
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

// StorageConfig 向量矩阵存储配置
type StorageConfig struct {
	Backend string   `mapstructure:"backend"` // local, s3
	Root    string   `mapstructure:"root"`    // 本地根目录
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"` // MinIO 等兼容服务
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// ExtractConfig 簇编码配置
type ExtractConfig struct {
	ClusterMappingPath string `mapstructure:"cluster_mapping_path"`
	ClusterCount       int    `mapstructure:"cluster_count"`
	CodeSubdir         string `mapstructure:"code_subdir"`
	Extension          string `mapstructure:"extension"`
	KeepEmptyRows      bool   `mapstructure:"keep_empty_rows"` // 直接编码中特征为空的应用保留为全零行
}

// DrebinConfig 直接编码配置
type DrebinConfig struct {
	Analyzer          string `mapstructure:"analyzer"` // androguard, aapt2
	PythonPath        string `mapstructure:"python_path"`
	ScriptPath        string `mapstructure:"script_path"`
	UseProcessPool    bool   `mapstructure:"use_process_pool"`
	ProcessPoolSize   int    `mapstructure:"process_pool_size"`
	Timeout           int    `mapstructure:"timeout"` // seconds
	AaptPath          string `mapstructure:"aapt_path"`
	APICatalogPath    string `mapstructure:"api_catalog_path"`
	RestrictedAPIPath string `mapstructure:"restricted_api_path"`
	SuspiciousAPIPath string `mapstructure:"suspicious_api_path"`
	LibrariesPath     string `mapstructure:"libraries_path"` // 可选，覆盖内置第三方库列表
}

// DownloadConfig AndroZoo 下载配置
type DownloadConfig struct {
	APIKey             string   `mapstructure:"api_key"`
	BaseURL            string   `mapstructure:"base_url"`
	MetadataCSV        string   `mapstructure:"metadata_csv"`
	OutputDir          string   `mapstructure:"output_dir"`
	Workers            int      `mapstructure:"workers"`
	Timeout            int      `mapstructure:"timeout"` // seconds
	MaxRetries         int      `mapstructure:"max_retries"`
	RequestDelayMs     int      `mapstructure:"request_delay_ms"`
	MaliciousThreshold int      `mapstructure:"malicious_threshold"`
	ExcludePackages    []string `mapstructure:"exclude_packages"`
	ExcludeListPath    string   `mapstructure:"exclude_list_path"`
}

type DecompileConfig struct {
	ApktoolPath string `mapstructure:"apktool_path"`
	Timeout     int    `mapstructure:"timeout"` // seconds
}

// AlignConfig 向量对齐与数据集配置
type AlignConfig struct {
	ReferenceBatch string   `mapstructure:"reference_batch"`
	TargetDim      int      `mapstructure:"target_dim"` // 大于 0 时直接使用，不读参考矩阵
	TrainBatches   []string `mapstructure:"train_batches"`
	TestBatch      string   `mapstructure:"test_batch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "apkdrift.db")
	v.SetDefault("database.port", 3306)

	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.queue", "apkdrift_batches")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.root", "vectors")

	v.SetDefault("extract.cluster_mapping_path", "res/method_cluster_mapping_2000.json")
	v.SetDefault("extract.cluster_count", 2000)
	v.SetDefault("extract.code_subdir", "smali")
	v.SetDefault("extract.extension", ".smali")
	v.SetDefault("extract.keep_empty_rows", false)

	v.SetDefault("drebin.analyzer", "androguard")
	v.SetDefault("drebin.python_path", "python3")
	v.SetDefault("drebin.script_path", "scripts/androguard_features.py")
	v.SetDefault("drebin.process_pool_size", 2)
	v.SetDefault("drebin.timeout", 600)
	v.SetDefault("drebin.aapt_path", "aapt2")
	v.SetDefault("drebin.api_catalog_path", "api.json")
	v.SetDefault("drebin.restricted_api_path", "restricted_api")
	v.SetDefault("drebin.suspicious_api_path", "suspicious_api")

	v.SetDefault("download.base_url", "https://androzoo.uni.lu/api/download")
	v.SetDefault("download.metadata_csv", "latest.csv")
	v.SetDefault("download.output_dir", "download_apks")
	v.SetDefault("download.workers", 10)
	v.SetDefault("download.timeout", 300)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.request_delay_ms", 1000)
	v.SetDefault("download.malicious_threshold", 5)
	v.SetDefault("download.exclude_packages", []string{"snaggamea"})

	v.SetDefault("decompile.apktool_path", "apktool")
	v.SetDefault("decompile.timeout", 600)

	v.SetDefault("align.reference_batch", "2016")
	v.SetDefault("align.train_batches", []string{"2016", "2017", "2018", "2019", "2020", "2021"})
	v.SetDefault("align.test_batch", "2022")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load 加载配置，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖，如 APKDRIFT_STORAGE_BACKEND=s3
	v.SetEnvPrefix("APKDRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 绑定常用的外部环境变量
	v.BindEnv("server.token", "APKDRIFT_SERVER_TOKEN")
	v.BindEnv("download.api_key", "APKDRIFT_DOWNLOAD_API_KEY", "ANDROZOO_API_KEY")

	v.BindEnv("rabbitmq.host", "APKDRIFT_RABBITMQ_HOST", "RABBITMQ_HOST")
	v.BindEnv("rabbitmq.port", "APKDRIFT_RABBITMQ_PORT", "RABBITMQ_PORT")
	v.BindEnv("rabbitmq.user", "APKDRIFT_RABBITMQ_USER", "RABBITMQ_USER")
	v.BindEnv("rabbitmq.password", "APKDRIFT_RABBITMQ_PASSWORD", "RABBITMQ_PASS")

	v.BindEnv("database.host", "APKDRIFT_DATABASE_HOST", "MYSQL_HOST")
	v.BindEnv("database.port", "APKDRIFT_DATABASE_PORT", "MYSQL_PORT")
	v.BindEnv("database.user", "APKDRIFT_DATABASE_USER", "MYSQL_USER")
	v.BindEnv("database.password", "APKDRIFT_DATABASE_PASSWORD", "MYSQL_PASS")
	v.BindEnv("database.db_name", "APKDRIFT_DATABASE_DB_NAME", "MYSQL_DB")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
