package rest

import (
	"time"

	"inferbench/internal/inference"
	"inferbench/internal/model"
	"inferbench/internal/monitor"
)

// TestRequest 启动压测的请求体。warmup_requests用指针区分
// 未提供和显式0：缺省时由注册表补默认预热次数。
type TestRequest struct {
	TestType        string   `json:"test_type"`
	TestName        string   `json:"test_name"`
	Model           string   `json:"model"`
	ConcurrentUsers int      `json:"concurrent_users"`
	DurationSeconds int      `json:"duration_seconds"`
	PromptSet       []string `json:"prompt_set"`
	WarmupRequests  *int     `json:"warmup_requests"`
	TimeoutSeconds  int      `json:"timeout_seconds"`
	ThinkingMode    bool     `json:"thinking_mode"`
	Iterations      int      `json:"iterations"`
	RateLimitQPS    float64  `json:"rate_limit_qps"`
	DatasetName     string   `json:"dataset_name"`
}

func (r *TestRequest) toConfig() model.TestConfig {
	warmup := -1
	if r.WarmupRequests != nil {
		warmup = *r.WarmupRequests
	}
	return model.TestConfig{
		TestType:        model.TestType(r.TestType),
		TestName:        r.TestName,
		Model:           r.Model,
		ConcurrentUsers: r.ConcurrentUsers,
		DurationSeconds: r.DurationSeconds,
		PromptSet:       r.PromptSet,
		WarmupRequests:  warmup,
		TimeoutSeconds:  r.TimeoutSeconds,
		ThinkingMode:    r.ThinkingMode,
		Iterations:      r.Iterations,
		RateLimitQPS:    r.RateLimitQPS,
		DatasetName:     r.DatasetName,
	}
}

// StartTestResponse 启动压测应答
type StartTestResponse struct {
	TestID  string `json:"test_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StopTestResponse 停止测试应答
type StopTestResponse struct {
	TestID  string `json:"test_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// EvaluationRequest 数据集评估请求体
type EvaluationRequest struct {
	Model        string   `json:"model"`
	DatasetName  string   `json:"dataset_name" binding:"required"`
	SampleCount  int      `json:"sample_count"`
	Categories   []string `json:"categories"`
	Seed         int64    `json:"seed"`
	ThinkingMode bool     `json:"thinking_mode"`
}

// ListResultsResponse 历史结果列表应答
type ListResultsResponse struct {
	Results []*model.QPSTestResult `json:"results"`
	Total   int                    `json:"total"`
}

// ListDatasetsResponse 数据集列表应答
type ListDatasetsResponse struct {
	Datasets []model.DatasetInfo `json:"datasets"`
	Total    int                 `json:"total"`
}

// DatasetSamplesResponse 数据集样本预览应答
type DatasetSamplesResponse struct {
	Dataset string             `json:"dataset"`
	Samples []model.TestSample `json:"samples"`
	Total   int                `json:"total"`
}

// ListModelsResponse 后端模型列表应答
type ListModelsResponse struct {
	Models []inference.ModelInfo `json:"models"`
	Total  int                   `json:"total"`
}

// HistoryResponse 最近请求记录应答
type HistoryResponse struct {
	Requests []monitor.RequestRecord `json:"requests"`
	Total    int                     `json:"total"`
}

// BackendStatus 推理后端可达性，可达时附带模型名列表
type BackendStatus struct {
	Reachable bool     `json:"reachable"`
	Models    []string `json:"models,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ComponentHealth 单个依赖组件的健康状态
type ComponentHealth struct {
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// HealthResponse 健康检查应答
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    []ComponentHealth `json:"components"`
}

// StatusResponse 服务状态应答
type StatusResponse struct {
	Status        string                  `json:"status"`
	Version       string                  `json:"version"`
	Timestamp     time.Time               `json:"timestamp"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Backend       BackendStatus           `json:"backend"`
	CurrentTest   *model.TestProgress     `json:"current_test,omitempty"`
	System        *monitor.SystemSnapshot `json:"system,omitempty"`
}

// ServerConfigView 配置概览的server部分
type ServerConfigView struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// OllamaConfigView 配置概览的ollama部分
type OllamaConfigView struct {
	BaseURL        string `json:"base_url"`
	DefaultModel   string `json:"default_model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxRetries     int    `json:"max_retries"`
}

// BenchConfigView 配置概览的bench部分
type BenchConfigView struct {
	DefaultConcurrentUsers int `json:"default_concurrent_users"`
	DefaultDurationSeconds int `json:"default_duration_seconds"`
	DefaultWarmupRequests  int `json:"default_warmup_requests"`
	MaxConcurrentUsers     int `json:"max_concurrent_users"`
	MaxDurationSeconds     int `json:"max_duration_seconds"`
}

// EvaluationConfigView 配置概览的evaluation部分
type EvaluationConfigView struct {
	DatasetsDir        string `json:"datasets_dir"`
	DefaultSampleCount int    `json:"default_sample_count"`
}

// StorageConfigView 配置概览的storage部分，不含口令和凭证
type StorageConfigView struct {
	Type           string `json:"type"`
	ResultsDir     string `json:"results_dir,omitempty"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	ArchiveEnabled bool   `json:"archive_enabled"`
}

// MonitorConfigView 配置概览的monitor部分
type MonitorConfigView struct {
	Enabled            bool   `json:"enabled"`
	LogDir             string `json:"log_dir,omitempty"`
	SampleIntervalSecs int    `json:"sample_interval_seconds,omitempty"`
}

// MetricsConfigView 配置概览的metrics部分
type MetricsConfigView struct {
	Enabled bool `json:"enabled"`
}

// AuthConfigView 配置概览的auth部分，密钥只反馈是否配置
type AuthConfigView struct {
	Enabled       bool `json:"enabled"`
	APIKeyCount   int  `json:"api_key_count"`
	JWTConfigured bool `json:"jwt_configured"`
}

// ConfigResponse 运行配置概览应答
type ConfigResponse struct {
	Server     ServerConfigView     `json:"server"`
	Ollama     OllamaConfigView     `json:"ollama"`
	Bench      BenchConfigView      `json:"bench"`
	Evaluation EvaluationConfigView `json:"evaluation"`
	Storage    StorageConfigView    `json:"storage"`
	Monitor    MonitorConfigView    `json:"monitor"`
	Metrics    MetricsConfigView    `json:"metrics"`
	Auth       AuthConfigView       `json:"auth"`
}

// CleanupResponse 日志清理应答
type CleanupResponse struct {
	Deleted int `json:"deleted"`
}

// ErrorResponse 统一错误响应格式
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
