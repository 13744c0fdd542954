package inference

import (
	"context"
	"time"
)

// Status 单次推理调用的结果状态
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// InferRequest 一次推理调用的参数
type InferRequest struct {
	Model    string        // 模型名，如 qwen3:8b
	Prompt   string        // 渲染后的完整提示词
	Timeout  time.Duration // 单次调用超时，0表示使用客户端默认值
	Thinking bool          // 是否开启思考模式
}

// InferResult 单次推理调用的归一化结果。
// 调用失败不抛错，统一编码在Status/Error中，调用方据此聚合。
type InferResult struct {
	Status          Status    `json:"status"`
	Response        string    `json:"response"`
	LatencyMs       float64   `json:"latency_ms"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	ResponseLength  int       `json:"response_length"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// OK 调用是否成功
func (r *InferResult) OK() bool {
	return r.Status == StatusSuccess
}

// ModelInfo 后端可用模型信息
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// Client 推理后端客户端。实现必须可被多个goroutine并发调用。
type Client interface {
	// Infer 发起一次同步推理。单次调用的失败（超时、连接错误、非2xx）
	// 以失败结果返回，不返回Go错误。
	Infer(ctx context.Context, req InferRequest) *InferResult

	// CheckStatus 探测后端是否可达
	CheckStatus(ctx context.Context) error

	// ListModels 列出后端可用模型（带缓存）
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// ModelExists 检查模型是否存在，完整名或冒号前缀均可匹配
	ModelExists(ctx context.Context, model string) (bool, error)
}
