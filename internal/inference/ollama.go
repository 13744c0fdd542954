package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"inferbench/config"
	"inferbench/pkg/retry"
)

// OllamaClient Ollama HTTP API客户端
type OllamaClient struct {
	baseURL        string
	httpClient     *http.Client
	defaultTimeout time.Duration
	statusTimeout  time.Duration
	retryCfg       retry.Config
	logger         *zap.Logger

	// 模型列表缓存
	mu            sync.RWMutex
	models        []ModelInfo
	modelsFetched time.Time
	cacheTTL      time.Duration
}

// generateRequest /api/generate 请求体
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Think  bool   `json:"think"`
}

// generateResponse /api/generate 响应体（仅解析用到的字段）
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// tagsResponse /api/tags 响应体
type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

// NewOllamaClient 创建Ollama客户端
func NewOllamaClient(cfg config.OllamaConfig, logger *zap.Logger) *OllamaClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	retryCfg := retry.DefaultConfig
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryBackoff() > 0 {
		retryCfg.InitialInterval = cfg.RetryBackoff()
	}

	return &OllamaClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     &http.Client{Transport: transport},
		defaultTimeout: cfg.Timeout(),
		statusTimeout:  cfg.StatusTimeout(),
		retryCfg:       retryCfg,
		cacheTTL:       cfg.ModelCacheTTL(),
		logger:         logger,
	}
}

// Infer 发起一次同步推理调用，所有失败编码在结果里
func (c *OllamaClient) Infer(ctx context.Context, req InferRequest) *InferResult {
	start := time.Now()
	result := &InferResult{
		Status:    StatusError,
		Timestamp: start,
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 模型必须存在，否则直接返回错误结果
	exists, err := c.ModelExists(callCtx, req.Model)
	if err != nil {
		result.Error = fmt.Sprintf("backend unavailable: %v", err)
		result.LatencyMs = elapsedMs(start)
		return result
	}
	if !exists {
		result.Error = fmt.Sprintf("model %q not found", req.Model)
		result.LatencyMs = elapsedMs(start)
		return result
	}

	body, err := json.Marshal(generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: false,
		Think:  req.Thinking,
	})
	if err != nil {
		result.Error = fmt.Sprintf("marshal request: %v", err)
		return result
	}

	var genResp generateResponse
	err = retry.Do(callCtx, c.retryCfg, "ollama generate", func(ctx context.Context) error {
		return c.doGenerate(ctx, body, &genResp)
	})

	result.LatencyMs = elapsedMs(start)

	if err != nil {
		if isTimeout(err) || callCtx.Err() == context.DeadlineExceeded {
			result.Status = StatusTimeout
			result.Error = fmt.Sprintf("request timed out after %s", timeout)
		} else {
			result.Error = err.Error()
		}
		return result
	}

	result.Status = StatusSuccess
	result.Response = genResp.Response
	result.ResponseLength = len([]rune(genResp.Response))
	result.TokensPerSecond = estimateTokensPerSecond(genResp.Response, result.LatencyMs)
	return result
}

// doGenerate 单次HTTP调用，瞬时故障包装为可重试错误
func (c *OllamaClient) doGenerate(ctx context.Context, body []byte, out *generateResponse) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return err
		}
		if isConnectionError(err) {
			return retry.NewRetryableError(err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		httpErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if isRetryableStatus(resp.StatusCode) {
			return retry.NewRetryableError(httpErr)
		}
		return httpErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CheckStatus 探测后端可达性
func (c *OllamaClient) CheckStatus(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(checkCtx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama status check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// ListModels 列出可用模型，结果缓存cacheTTL
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	c.mu.RLock()
	if c.models != nil && time.Since(c.modelsFetched) < c.cacheTTL {
		cached := c.models
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	// 拿到写锁后再查一次，避免并发刷新
	if c.models != nil && time.Since(c.modelsFetched) < c.cacheTTL {
		return c.models, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models returned HTTP %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, ModelInfo{
			Name:       m.Name,
			Size:       m.Size,
			ModifiedAt: m.ModifiedAt,
		})
	}

	c.models = models
	c.modelsFetched = time.Now()
	if c.logger != nil {
		c.logger.Debug("refreshed model list", zap.Int("count", len(models)))
	}
	return models, nil
}

// ModelExists 检查模型是否存在，支持完整名或冒号前的短名
func (c *OllamaClient) ModelExists(ctx context.Context, model string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == model {
			return true, nil
		}
		if name, _, ok := strings.Cut(m.Name, ":"); ok && name == model {
			return true, nil
		}
	}
	return false, nil
}

// InvalidateModelCache 强制下次ListModels重新拉取
func (c *OllamaClient) InvalidateModelCache() {
	c.mu.Lock()
	c.models = nil
	c.mu.Unlock()
}

// estimateTokensPerSecond 用空白分词数估算吞吐。没有真实token计数时的
// 近似值，空响应或零延迟返回0。
func estimateTokensPerSecond(response string, latencyMs float64) float64 {
	if latencyMs <= 0 {
		return 0
	}
	words := len(strings.Fields(response))
	if words == 0 {
		return 0
	}
	return float64(words) / (latencyMs / 1000)
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// isTimeout 判断错误是否为超时
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isConnectionError 判断是否为可重试的连接级错误
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// isRetryableStatus 与推理后端约定的瞬时HTTP状态码
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
