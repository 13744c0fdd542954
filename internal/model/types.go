package model

import (
	"time"

	"inferbench/internal/errors"
	"inferbench/internal/stats"
	"inferbench/internal/sysmon"
)

// TestType 测试种类
type TestType string

const (
	TestTypeQPS     TestType = "qps"
	TestTypeLatency TestType = "latency"
	TestTypeDataset TestType = "dataset_evaluation"
)

// Status 测试生命周期状态。
// 正常路径 starting → warming_up → running → analyzing → completed；
// failed 可从任意非终止状态进入；stopped 仅从 running 进入。
type Status string

const (
	StatusStarting  Status = "starting"
	StatusWarmingUp Status = "warming_up"
	StatusRunning   Status = "running"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal 是否为终止状态
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// TestConfig 一次测试的完整配置。测试启动后不再修改。
type TestConfig struct {
	TestName        string   `json:"test_name"`
	TestType        TestType `json:"test_type,omitempty"`
	Model           string   `json:"model"`
	ConcurrentUsers int      `json:"concurrent_users"`
	DurationSeconds int      `json:"duration_seconds"`
	PromptSet       []string `json:"prompt_set"`
	WarmupRequests  int      `json:"warmup_requests"`
	TimeoutSeconds  int      `json:"timeout_seconds"`
	ThinkingMode    bool     `json:"thinking_mode"`
	// 延迟探测模式的请求次数
	Iterations int `json:"iterations,omitempty"`
	// 全局QPS上限，0表示不限速
	RateLimitQPS float64 `json:"rate_limit_qps,omitempty"`
	DatasetName  string  `json:"dataset_name,omitempty"`
}

// Kind 返回测试种类，空值按QPS处理
func (c *TestConfig) Kind() TestType {
	if c.TestType == "" {
		return TestTypeQPS
	}
	return c.TestType
}

// Duration 配置的压测时长
func (c *TestConfig) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// Timeout 单请求超时
func (c *TestConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate 启动前的快速校验，任何一项不满足都拒绝启动
func (c *TestConfig) Validate() error {
	if c.Model == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "model is required")
	}
	if c.ConcurrentUsers <= 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "concurrent_users must be positive, got %d", c.ConcurrentUsers)
	}
	if len(c.PromptSet) == 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "prompt_set cannot be empty")
	}
	if c.WarmupRequests < 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "warmup_requests cannot be negative, got %d", c.WarmupRequests)
	}
	if c.TimeoutSeconds <= 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.RateLimitQPS < 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "rate_limit_qps cannot be negative, got %v", c.RateLimitQPS)
	}

	switch c.Kind() {
	case TestTypeQPS:
		if c.DurationSeconds <= 0 {
			return errors.Newf(errors.ErrCodeInvalidConfig, "duration_seconds must be positive, got %d", c.DurationSeconds)
		}
	case TestTypeLatency:
		if c.Iterations <= 0 {
			return errors.Newf(errors.ErrCodeInvalidConfig, "iterations must be positive for latency tests, got %d", c.Iterations)
		}
	default:
		return errors.Newf(errors.ErrCodeInvalidConfig, "unknown test_type %q", c.TestType)
	}
	return nil
}

// RequestOutcome 单次推理请求的结果。由worker产出后只读。
type RequestOutcome struct {
	RequestID       string    `json:"request_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	LatencyMs       float64   `json:"latency_ms"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	ResponseLength  int       `json:"response_length"`
	TokensPerSecond float64   `json:"tokens_per_second"`
}

// TestProgress 测试进度快照。读取方拿到的是拷贝，不会与运行方产生竞争。
type TestProgress struct {
	TestID    string    `json:"test_id"`
	TestType  TestType  `json:"test_type"`
	TestName  string    `json:"test_name"`
	Model     string    `json:"model"`
	Status    Status    `json:"status"`
	Percent   float64   `json:"percent_complete"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time"`
	UpdatedAt time.Time `json:"updated_at"`

	// 数据集评估的逐样本进度
	CurrentSample   int    `json:"current_sample,omitempty"`
	TotalSamples    int    `json:"total_samples,omitempty"`
	CurrentSampleID string `json:"current_sample_id,omitempty"`
}

// QPSTestResult 一次压测（或延迟探测）完成后的不可变结果
type QPSTestResult struct {
	TestID                 string             `json:"test_id"`
	TestType               TestType           `json:"test_type"`
	Status                 Status             `json:"status"`
	Config                 TestConfig         `json:"config"`
	StartTime              time.Time          `json:"start_time"`
	EndTime                time.Time          `json:"end_time"`
	DurationSeconds        float64            `json:"duration_seconds"`
	TotalRequests          int                `json:"total_requests"`
	SuccessfulRequests     int                `json:"successful_requests"`
	FailedRequests         int                `json:"failed_requests"`
	QPS                    float64            `json:"qps"`
	ErrorRate              float64            `json:"error_rate"`
	Latency                stats.LatencyStats `json:"latency"`
	ThroughputTokensPerSec float64            `json:"throughput_tokens_per_sec"`
	LatencyDistribution    map[string]int     `json:"latency_distribution"`
	Errors                 []string           `json:"errors,omitempty"`
	ErrorDistribution      map[string]int     `json:"error_distribution,omitempty"`
	AvgResponseLength      float64            `json:"avg_response_length"`
	RequestsPerUser        float64            `json:"requests_per_user"`
	SystemMetrics          *sysmon.Summary    `json:"system_metrics,omitempty"`
	DatasetName            string             `json:"dataset_name,omitempty"`
}

// DatasetInfo 数据集元信息。ID是引用数据集用的文件名（不含扩展名），
// Name是数据集自述的展示名称。
type DatasetInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Version      string   `json:"version"`
	TotalSamples int      `json:"total_samples"`
	Categories   []string `json:"categories,omitempty"`
}

// TestSample 数据集中的一条标注样本。加载后只读。
type TestSample struct {
	ID               string                 `json:"id"`
	Content          string                 `json:"content"`
	Category         string                 `json:"category"`
	ExpectedScore    float64                `json:"expected_score"`
	Keywords         []string               `json:"keywords,omitempty"`
	ExpectedResponse string                 `json:"expected_response,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// TestResult 数据集评估中单个样本的结果
type TestResult struct {
	SampleID       string   `json:"sample_id"`
	Content        string   `json:"content"`
	RawResponse    string   `json:"raw_response"`
	ModelScore     *float64 `json:"model_score"`
	ModelCategory  *string  `json:"model_category"`
	ExpectedScore  float64  `json:"expected_score"`
	ExpectedCat    string   `json:"expected_category"`
	ScoreAccuracy  float64  `json:"score_accuracy"`
	CategoryMatch  bool     `json:"category_match"`
	ResponseTimeMs float64  `json:"response_time_ms"`
	Error          string   `json:"error,omitempty"`
}

// Valid 样本结果是否有效（解析出了分数且无错误）
func (r *TestResult) Valid() bool {
	return r.Error == "" && r.ModelScore != nil
}

// EvaluationReport 数据集评估的聚合报告。
// 准确性指标的分母是有效结果数（见TestResult.Valid），
// 平均响应时间的分母是全部样本数。
type EvaluationReport struct {
	TestID           string         `json:"test_id"`
	DatasetName      string         `json:"dataset_name"`
	Model            string         `json:"model"`
	GeneratedAt      time.Time      `json:"generated_at"`
	TotalSamples     int            `json:"total_samples"`
	SuccessfulTests  int            `json:"successful_tests"`
	FailedTests      int            `json:"failed_tests"`
	AvgScoreAccuracy float64        `json:"avg_score_accuracy"`
	CategoryAccuracy float64        `json:"category_accuracy"`
	AvgResponseTime  float64        `json:"avg_response_time_ms"`
	ScoreDist        map[string]int `json:"score_distribution"`
	CategoryDist     map[string]int `json:"category_distribution"`
	Details          []TestResult   `json:"detailed_results"`
}
