// Package bench 实现QPS压测引擎和测试生命周期管理
package bench

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"inferbench/internal/inference"
	"inferbench/internal/model"
	"inferbench/internal/stats"
	"inferbench/internal/sysmon"
)

// DefaultPrompts 未指定提示词时使用的默认测试集
var DefaultPrompts = []string{
	"你好，请介绍一下你自己。",
	"请解释一下机器学习的基本概念。",
	"写一个简单的Python函数来计算斐波那契数列。",
	"请分析一下当前人工智能的发展趋势。",
	"如何优化深度学习模型的性能？",
}

// warmupConcurrency 预热阶段的最大并发数
const warmupConcurrency = 2

// Option 配置LoadRunner
type Option func(*LoadRunner)

// WithSampleInterval 设置系统指标采样间隔
func WithSampleInterval(d time.Duration) Option {
	return func(r *LoadRunner) { r.sampleInterval = d }
}

// WithOutcomeObserver 注册请求结果观察者，每条结果记录后同步回调。
// 回调在worker goroutine里执行，实现必须自己保证并发安全且不能阻塞。
func WithOutcomeObserver(fn func(model.RequestOutcome)) Option {
	return func(r *LoadRunner) { r.observer = fn }
}

// LoadRunner QPS压测执行器。一个实例可以串行复用于多次测试。
type LoadRunner struct {
	client         inference.Client
	logger         *zap.Logger
	sampleInterval time.Duration
	observer       func(model.RequestOutcome)
}

// NewLoadRunner 创建压测执行器
func NewLoadRunner(client inference.Client, logger *zap.Logger, opts ...Option) *LoadRunner {
	r := &LoadRunner{
		client:         client,
		logger:         logger,
		sampleInterval: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// outcomeCollector 多worker共享的结果收集器
type outcomeCollector struct {
	mu       sync.Mutex
	outcomes []model.RequestOutcome
}

func (c *outcomeCollector) add(o model.RequestOutcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
}

// Run 执行一次并发压测。
// 预热请求不计入统计；测量窗口内每个worker背靠背发请求直到截止时刻；
// ctx取消时worker在下一轮迭代退出，在途请求允许跑完自身超时。
// 返回的结果状态为completed，被取消时为stopped；仅配置非法时返回错误。
func (r *LoadRunner) Run(ctx context.Context, cfg model.TestConfig, tracker *progressTracker) (*model.QPSTestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	testID := tracker.snapshot().TestID
	r.logger.Info("qps test starting",
		zap.String("test_id", testID),
		zap.String("model", cfg.Model),
		zap.Int("concurrent_users", cfg.ConcurrentUsers),
		zap.Int("duration_seconds", cfg.DurationSeconds))

	if cfg.WarmupRequests > 0 {
		tracker.set(model.StatusWarmingUp, 5)
		r.warmup(ctx, cfg, tracker)
	}
	tracker.set(model.StatusRunning, 10)

	sampler := sysmon.NewSampler(r.sampleInterval, r.logger)
	sampler.Start()

	measureStart := time.Now()
	deadline := measureStart.Add(cfg.Duration())

	var (
		collector outcomeCollector
		seq       atomic.Int64
		wg        sync.WaitGroup
	)
	var limiter *rate.Limiter
	if cfg.RateLimitQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitQPS), 1)
	}

	for i := 0; i < cfg.ConcurrentUsers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx, cfg, testID, tracker, &collector, &seq, limiter, measureStart, deadline)
		}()
	}
	wg.Wait()
	measureEnd := time.Now()

	summary := sampler.Stop()
	tracker.set(model.StatusAnalyzing, 90)

	result := r.aggregate(cfg, collector.outcomes, measureStart, measureEnd, &summary)
	result.TestID = testID
	if ctx.Err() != nil {
		result.Status = model.StatusStopped
	} else {
		result.Status = model.StatusCompleted
	}

	r.logger.Info("qps test finished",
		zap.String("test_id", testID),
		zap.String("status", string(result.Status)),
		zap.Int("total_requests", result.TotalRequests),
		zap.Float64("qps", result.QPS),
		zap.Float64("error_rate", result.ErrorRate))
	return result, nil
}

// warmup 发送预热请求，结果丢弃，失败只告警。
// 进度在5%到10%之间按完成数推进。
func (r *LoadRunner) warmup(ctx context.Context, cfg model.TestConfig, tracker *progressTracker) {
	g, gctx := errgroup.WithContext(ctx)
	limit := warmupConcurrency
	if cfg.ConcurrentUsers < limit {
		limit = cfg.ConcurrentUsers
	}
	g.SetLimit(limit)

	var done atomic.Int64
	total := cfg.WarmupRequests
	for i := 0; i < total; i++ {
		prompt := cfg.PromptSet[i%len(cfg.PromptSet)]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := r.client.Infer(gctx, inference.InferRequest{
				Model:    cfg.Model,
				Prompt:   prompt,
				Timeout:  cfg.Timeout(),
				Thinking: cfg.ThinkingMode,
			})
			if !res.OK() {
				r.logger.Warn("warmup request failed", zap.String("error", res.Error))
			}
			n := done.Add(1)
			tracker.set(model.StatusWarmingUp, 5+5*float64(n)/float64(total))
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Info("warmup finished", zap.Int("requests", total))
}

// worker 单个并发用户的请求循环。共享序号既用作请求ID也用于
// 提示词轮转，保证所有worker合起来均匀遍历提示词集。
func (r *LoadRunner) worker(ctx context.Context, cfg model.TestConfig, testID string,
	tracker *progressTracker, collector *outcomeCollector, seq *atomic.Int64,
	limiter *rate.Limiter, start, deadline time.Time) {

	totalSeconds := cfg.Duration().Seconds()
	for {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if !time.Now().Before(deadline) {
				return
			}
		}

		n := seq.Add(1)
		prompt := cfg.PromptSet[int((n-1)%int64(len(cfg.PromptSet)))]
		requestID := fmt.Sprintf("%s_req_%d", testID, n)

		outcome := r.issueRequest(ctx, cfg, requestID, prompt)
		collector.add(outcome)
		if r.observer != nil {
			r.observer(outcome)
		}

		percent := 10 + time.Since(start).Seconds()/totalSeconds*80
		if percent > 89 {
			percent = 89
		}
		tracker.set(model.StatusRunning, percent)
	}
}

// issueRequest 发起一次推理并归一化为RequestOutcome。
// 调用上下文与取消信号解耦，停止测试不会掐断在途请求。
func (r *LoadRunner) issueRequest(ctx context.Context, cfg model.TestConfig, requestID, prompt string) model.RequestOutcome {
	start := time.Now()
	res := r.client.Infer(context.WithoutCancel(ctx), inference.InferRequest{
		Model:    cfg.Model,
		Prompt:   prompt,
		Timeout:  cfg.Timeout(),
		Thinking: cfg.ThinkingMode,
	})
	end := time.Now()

	outcome := model.RequestOutcome{
		RequestID:       requestID,
		StartTime:       start,
		EndTime:         end,
		LatencyMs:       res.LatencyMs,
		Success:         res.OK(),
		ResponseLength:  res.ResponseLength,
		TokensPerSecond: res.TokensPerSecond,
	}
	if !res.OK() {
		outcome.Error = res.Error
		if outcome.Error == "" {
			outcome.Error = string(res.Status)
		}
	}
	return outcome
}

// RunLatencyProbe 串行延迟探测：单worker依次发送Iterations个请求。
// 复用QPS结果结构，QPS字段表示串行吞吐。
func (r *LoadRunner) RunLatencyProbe(ctx context.Context, cfg model.TestConfig, tracker *progressTracker) (*model.QPSTestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	testID := tracker.snapshot().TestID
	r.logger.Info("latency probe starting",
		zap.String("test_id", testID),
		zap.String("model", cfg.Model),
		zap.Int("iterations", cfg.Iterations))

	if cfg.WarmupRequests > 0 {
		tracker.set(model.StatusWarmingUp, 5)
		r.warmup(ctx, cfg, tracker)
	}
	tracker.set(model.StatusRunning, 10)

	sampler := sysmon.NewSampler(r.sampleInterval, r.logger)
	sampler.Start()

	measureStart := time.Now()
	outcomes := make([]model.RequestOutcome, 0, cfg.Iterations)
	cancelled := false
	for i := 0; i < cfg.Iterations; i++ {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		prompt := cfg.PromptSet[i%len(cfg.PromptSet)]
		requestID := fmt.Sprintf("%s_req_%d", testID, i+1)
		outcome := r.issueRequest(ctx, cfg, requestID, prompt)
		outcomes = append(outcomes, outcome)
		if r.observer != nil {
			r.observer(outcome)
		}

		percent := 10 + float64(i+1)/float64(cfg.Iterations)*79
		tracker.set(model.StatusRunning, percent)
	}
	measureEnd := time.Now()

	summary := sampler.Stop()
	tracker.set(model.StatusAnalyzing, 90)

	result := r.aggregate(cfg, outcomes, measureStart, measureEnd, &summary)
	result.TestID = testID
	if cancelled {
		result.Status = model.StatusStopped
	} else {
		result.Status = model.StatusCompleted
	}

	r.logger.Info("latency probe finished",
		zap.String("test_id", testID),
		zap.Int("iterations", result.TotalRequests),
		zap.Float64("p95_ms", result.Latency.P95))
	return result, nil
}

// aggregate 把逐请求结果归并为测试结果。
// 延迟统计、直方图、吞吐和平均响应长度只看成功请求；
// QPS和错误率按全部请求对实际耗时计算。
func (r *LoadRunner) aggregate(cfg model.TestConfig, outcomes []model.RequestOutcome,
	start, end time.Time, sys *sysmon.Summary) *model.QPSTestResult {

	result := &model.QPSTestResult{
		TestType:        cfg.Kind(),
		Config:          cfg,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: end.Sub(start).Seconds(),
		TotalRequests:   len(outcomes),
		SystemMetrics:   sys,
		DatasetName:     cfg.DatasetName,
	}

	var (
		successLatencies []float64
		tokensSum        float64
		lengthSum        float64
		errorOrder       []string
		errorCounts      = make(map[string]int)
	)
	for _, o := range outcomes {
		if o.Success {
			result.SuccessfulRequests++
			successLatencies = append(successLatencies, o.LatencyMs)
			tokensSum += o.TokensPerSecond
			lengthSum += float64(o.ResponseLength)
			continue
		}
		result.FailedRequests++
		if o.Error == "" {
			continue
		}
		if _, seen := errorCounts[o.Error]; !seen {
			errorOrder = append(errorOrder, o.Error)
		}
		errorCounts[o.Error]++
	}

	if result.DurationSeconds > 0 {
		result.QPS = float64(result.TotalRequests) / result.DurationSeconds
	}
	if result.TotalRequests > 0 {
		result.ErrorRate = float64(result.FailedRequests) / float64(result.TotalRequests)
	}
	result.Latency = stats.Compute(successLatencies)
	result.LatencyDistribution = stats.Histogram(successLatencies)
	if result.SuccessfulRequests > 0 {
		result.ThroughputTokensPerSec = tokensSum / float64(result.SuccessfulRequests)
		result.AvgResponseLength = lengthSum / float64(result.SuccessfulRequests)
	}
	if cfg.ConcurrentUsers > 0 {
		result.RequestsPerUser = float64(result.TotalRequests) / float64(cfg.ConcurrentUsers)
	}
	result.Errors = errorOrder
	if len(errorCounts) > 0 {
		result.ErrorDistribution = errorCounts
	}
	return result
}
