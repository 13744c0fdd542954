package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config 服务总配置
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Bench      BenchConfig      `yaml:"bench"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig 仪表盘HTTP服务配置
type ServerConfig struct {
	Host                   string `yaml:"host"`                     // 监听地址
	Port                   int    `yaml:"port"`                     // 监听端口
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`     // 读取超时
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`    // 写入超时
	IdleTimeoutSeconds     int    `yaml:"idle_timeout_seconds"`     // 空闲连接超时
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"` // 优雅关闭超时
}

// Addr 返回host:port形式的监听地址
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ShutdownTimeout 优雅关闭等待时长
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// OllamaConfig 推理后端配置
type OllamaConfig struct {
	BaseURL             string `yaml:"base_url"`                // Ollama服务地址
	DefaultModel        string `yaml:"default_model"`           // 默认模型
	TimeoutSeconds      int    `yaml:"timeout_seconds"`         // 单次推理超时
	StatusTimeoutSecs   int    `yaml:"status_timeout_seconds"`  // 可用性探测超时
	MaxRetries          int    `yaml:"max_retries"`             // 瞬时错误重试次数
	RetryBackoffMs      int    `yaml:"retry_backoff_ms"`        // 重试初始退避
	MaxIdleConns        int    `yaml:"max_idle_conns"`          // 连接池上限
	MaxIdleConnsPerHost int    `yaml:"max_idle_conns_per_host"` // 单主机连接池上限
	ModelCacheTTLSecs   int    `yaml:"model_cache_ttl_seconds"` // 模型列表缓存时长
}

// Timeout 单次推理请求超时
func (o OllamaConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// StatusTimeout 可用性探测超时
func (o OllamaConfig) StatusTimeout() time.Duration {
	return time.Duration(o.StatusTimeoutSecs) * time.Second
}

// RetryBackoff 重试初始退避间隔
func (o OllamaConfig) RetryBackoff() time.Duration {
	return time.Duration(o.RetryBackoffMs) * time.Millisecond
}

// ModelCacheTTL 模型列表缓存时长
func (o OllamaConfig) ModelCacheTTL() time.Duration {
	return time.Duration(o.ModelCacheTTLSecs) * time.Second
}

// BenchConfig 压测默认参数与上限
type BenchConfig struct {
	DefaultConcurrentUsers int `yaml:"default_concurrent_users"` // 默认并发数
	DefaultDurationSeconds int `yaml:"default_duration_seconds"` // 默认压测时长
	DefaultWarmupRequests  int `yaml:"default_warmup_requests"`  // 默认预热请求数
	MaxConcurrentUsers     int `yaml:"max_concurrent_users"`     // 并发数上限
	MaxDurationSeconds     int `yaml:"max_duration_seconds"`     // 压测时长上限
	ProgressIntervalMs     int `yaml:"progress_interval_ms"`     // 进度刷新间隔
	SystemSampleIntervalMs int `yaml:"system_sample_interval_ms"` // 系统采样间隔
}

// ProgressInterval 进度刷新间隔
func (b BenchConfig) ProgressInterval() time.Duration {
	return time.Duration(b.ProgressIntervalMs) * time.Millisecond
}

// SystemSampleInterval 系统采样间隔
func (b BenchConfig) SystemSampleInterval() time.Duration {
	return time.Duration(b.SystemSampleIntervalMs) * time.Millisecond
}

// EvaluationConfig 数据集评估配置
type EvaluationConfig struct {
	DatasetsDir        string `yaml:"datasets_dir"`         // 数据集目录
	DefaultSampleCount int    `yaml:"default_sample_count"` // 默认抽样数量
}

// StorageConfig 结果存储配置
type StorageConfig struct {
	Type       string        `yaml:"type"`        // file 或 redis
	ResultsDir string        `yaml:"results_dir"` // file后端的结果目录
	Redis      RedisConfig   `yaml:"redis"`
	Archive    ArchiveConfig `yaml:"archive"`
}

// RedisConfig Redis结果存储配置
type RedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	PoolSize        int    `yaml:"pool_size"`
	DialTimeoutSecs int    `yaml:"dial_timeout_seconds"`
	TTLHours        int    `yaml:"ttl_hours"` // 结果保存时长，0表示永久
}

// DialTimeout Redis连接超时
func (r RedisConfig) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutSecs) * time.Second
}

// TTL 结果记录保存时长
func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLHours) * time.Hour
}

// ArchiveConfig 结果归档到对象存储的配置
type ArchiveConfig struct {
	Enabled bool        `yaml:"enabled"`
	Prefix  string      `yaml:"prefix"` // 对象名前缀
	MinIO   MinIOConfig `yaml:"minio"`
}

// MinIOConfig 对象存储连接配置
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// MonitorConfig 请求/系统监控配置
type MonitorConfig struct {
	Enabled            bool   `yaml:"enabled"`
	LogDir             string `yaml:"log_dir"`              // 监控JSONL日志目录
	RequestHistorySize int    `yaml:"request_history_size"` // 请求记录环形缓冲容量
	SystemHistorySize  int    `yaml:"system_history_size"`  // 系统采样环形缓冲容量
	SampleIntervalSecs int    `yaml:"sample_interval_seconds"`
	MaxLogFiles        int    `yaml:"max_log_files"` // 保留的监控日志文件数
}

// SampleInterval 后台系统采样间隔
func (m MonitorConfig) SampleInterval() time.Duration {
	return time.Duration(m.SampleIntervalSecs) * time.Second
}

// MetricsConfig Prometheus指标配置
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuthConfig 接口认证配置（默认关闭，本地工具）
type AuthConfig struct {
	Enabled         bool     `yaml:"enabled"`
	JWTSecret       string   `yaml:"jwt_secret"`
	TokenExpiryMins int      `yaml:"token_expiry_minutes"`
	APIKeys         []string `yaml:"api_keys"`
}

// TokenExpiry JWT令牌有效期
func (a AuthConfig) TokenExpiry() time.Duration {
	return time.Duration(a.TokenExpiryMins) * time.Minute
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`       // debug/info/warn/error
	Format     string `yaml:"format"`      // json 或 console
	Output     string `yaml:"output"`      // stdout/stderr 或文件路径
	MaxSize    int    `yaml:"max_size"`    // 单个日志文件上限(MB)
	MaxBackups int    `yaml:"max_backups"` // 保留的轮转文件数
	MaxAge     int    `yaml:"max_age"`     // 轮转文件保留天数
	Compress   bool   `yaml:"compress"`    // 是否压缩轮转文件
}

// LoadConfig 加载配置：默认值 → 配置文件 → 环境变量 → 校验
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// 设置默认值
	config.setDefaults()

	if configPath != "" && fileExists(configPath) {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// 使用环境变量覆盖配置
	config.overrideWithEnv()

	// 验证配置
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults 设置默认配置值
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Host:                   "0.0.0.0",
		Port:                   5000,
		ReadTimeoutSeconds:     30,
		WriteTimeoutSeconds:    120,
		IdleTimeoutSeconds:     60,
		ShutdownTimeoutSeconds: 30,
	}

	c.Ollama = OllamaConfig{
		BaseURL:             "http://localhost:11434",
		DefaultModel:        "qwen3:8b",
		TimeoutSeconds:      60,
		StatusTimeoutSecs:   5,
		MaxRetries:          3,
		RetryBackoffMs:      300,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		ModelCacheTTLSecs:   300,
	}

	c.Bench = BenchConfig{
		DefaultConcurrentUsers: 10,
		DefaultDurationSeconds: 60,
		DefaultWarmupRequests:  5,
		MaxConcurrentUsers:     200,
		MaxDurationSeconds:     3600,
		ProgressIntervalMs:     500,
		SystemSampleIntervalMs: 1000,
	}

	c.Evaluation = EvaluationConfig{
		DatasetsDir:        "data/datasets",
		DefaultSampleCount: 10,
	}

	c.Storage = StorageConfig{
		Type:       "file",
		ResultsDir: "data/results",
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			DB:              0,
			PoolSize:        10,
			DialTimeoutSecs: 5,
			TTLHours:        0,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Prefix:  "reports",
			MinIO: MinIOConfig{
				Endpoint: "localhost:9000",
				Bucket:   "inferbench-reports",
			},
		},
	}

	c.Monitor = MonitorConfig{
		Enabled:            true,
		LogDir:             "data/monitor",
		RequestHistorySize: 1000,
		SystemHistorySize:  288,
		SampleIntervalSecs: 300,
		MaxLogFiles:        30,
	}

	c.Metrics = MetricsConfig{Enabled: true}

	c.Auth = AuthConfig{
		Enabled:         false,
		TokenExpiryMins: 720,
	}

	c.Log = LogConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	}
}

// overrideWithEnv 环境变量覆盖配置
func (c *Config) overrideWithEnv() {
	if host := os.Getenv("INFERBENCH_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("INFERBENCH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// 推理后端覆盖
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		c.Ollama.BaseURL = baseURL
	}
	if model := os.Getenv("OLLAMA_DEFAULT_MODEL"); model != "" {
		c.Ollama.DefaultModel = model
	}
	if timeout := os.Getenv("OLLAMA_TIMEOUT_SECONDS"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			c.Ollama.TimeoutSeconds = t
		}
	}

	// 存储覆盖
	if storageType := os.Getenv("INFERBENCH_STORAGE_TYPE"); storageType != "" {
		c.Storage.Type = storageType
	}
	if resultsDir := os.Getenv("INFERBENCH_RESULTS_DIR"); resultsDir != "" {
		c.Storage.ResultsDir = resultsDir
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		c.Storage.Redis.Addr = redisHost + ":" + redisPort
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.Storage.Redis.Password = redisPassword
	}

	// 归档覆盖
	if minioEndpoint := os.Getenv("MINIO_ENDPOINT"); minioEndpoint != "" {
		c.Storage.Archive.MinIO.Endpoint = minioEndpoint
		c.Storage.Archive.Enabled = true
	}
	if minioAccessKey := os.Getenv("MINIO_ACCESS_KEY"); minioAccessKey != "" {
		c.Storage.Archive.MinIO.AccessKeyID = minioAccessKey
	}
	if minioSecretKey := os.Getenv("MINIO_SECRET_KEY"); minioSecretKey != "" {
		c.Storage.Archive.MinIO.SecretAccessKey = minioSecretKey
	}
	if minioBucket := os.Getenv("MINIO_BUCKET"); minioBucket != "" {
		c.Storage.Archive.MinIO.Bucket = minioBucket
	}
	if minioUseSSL := os.Getenv("MINIO_USE_SSL"); minioUseSSL == "true" {
		c.Storage.Archive.MinIO.UseSSL = true
	}

	// 数据集目录覆盖
	if datasetsDir := os.Getenv("INFERBENCH_DATASETS_DIR"); datasetsDir != "" {
		c.Evaluation.DatasetsDir = datasetsDir
	}

	// 认证覆盖
	if jwtSecret := os.Getenv("INFERBENCH_JWT_SECRET"); jwtSecret != "" {
		c.Auth.JWTSecret = jwtSecret
	}
	if apiKey := os.Getenv("INFERBENCH_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	// 日志覆盖
	if logLevel := os.Getenv("INFERBENCH_LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// validate 验证配置
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1-65535, got %d", c.Server.Port)
	}

	if c.Ollama.BaseURL == "" {
		return fmt.Errorf("ollama base_url is required")
	}
	if c.Ollama.TimeoutSeconds <= 0 {
		return fmt.Errorf("ollama timeout_seconds must be positive")
	}
	if c.Ollama.MaxRetries < 0 {
		return fmt.Errorf("ollama max_retries cannot be negative")
	}

	if c.Bench.DefaultConcurrentUsers <= 0 {
		return fmt.Errorf("bench default_concurrent_users must be positive")
	}
	if c.Bench.MaxConcurrentUsers <= 0 || c.Bench.MaxConcurrentUsers > 10000 {
		return fmt.Errorf("bench max_concurrent_users must be in 1-10000")
	}
	if c.Bench.DefaultDurationSeconds <= 0 {
		return fmt.Errorf("bench default_duration_seconds must be positive")
	}
	if c.Bench.MaxDurationSeconds <= 0 || c.Bench.MaxDurationSeconds > 86400 {
		return fmt.Errorf("bench max_duration_seconds must be in 1-86400")
	}
	if c.Bench.DefaultWarmupRequests < 0 {
		return fmt.Errorf("bench default_warmup_requests cannot be negative")
	}

	switch c.Storage.Type {
	case "file":
		if c.Storage.ResultsDir == "" {
			return fmt.Errorf("storage results_dir is required for file storage")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage redis addr is required for redis storage")
		}
		if err := validateAddress(c.Storage.Redis.Addr); err != nil {
			return fmt.Errorf("storage redis addr validation failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown storage type %q (expected file or redis)", c.Storage.Type)
	}

	if c.Storage.Archive.Enabled {
		if c.Storage.Archive.MinIO.Endpoint == "" {
			return fmt.Errorf("archive minio endpoint is required when archive is enabled")
		}
		if c.Storage.Archive.MinIO.Bucket == "" {
			return fmt.Errorf("archive minio bucket is required when archive is enabled")
		}
	}

	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
			return fmt.Errorf("auth requires jwt_secret or api_keys when enabled")
		}
	}

	// 日志文件输出时自动创建目录
	if c.Log.Output != "stdout" && c.Log.Output != "stderr" {
		logDir := filepath.Dir(c.Log.Output)
		if !fileExists(logDir) {
			if err := os.MkdirAll(logDir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		if c.Log.MaxSize <= 0 {
			return fmt.Errorf("log max_size must be positive")
		}
	}

	return nil
}

// validateAddress 验证host:port形式的地址
func validateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}
	if host == "" {
		return fmt.Errorf("address host is empty")
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid address port: %w", err)
	}
	return nil
}

// fileExists 检查文件或目录是否存在
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
