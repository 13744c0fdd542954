// Package evaluation 实现数据集评估：逐样本驱动推理、解析打分并汇总报告
package evaluation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"inferbench/internal/dataset"
	apperrors "inferbench/internal/errors"
	"inferbench/internal/inference"
	"inferbench/internal/model"
)

// ProgressFunc 每完成一个样本后回调一次
type ProgressFunc func(current, total int, sampleID string)

// Options 一次数据集评估的参数
type Options struct {
	TestID  string
	Model   string
	Dataset string
	// SampleCount 样本数上限，0表示全部
	SampleCount int
	// Categories 非空时仅评估这些类别
	Categories []string
	// Seed 采样种子，0表示随机
	Seed         int64
	Timeout      time.Duration
	ThinkingMode bool
	Progress     ProgressFunc
}

// Runner 数据集评估执行器。样本严格串行评估，单样本失败不会中断整轮。
type Runner struct {
	client inference.Client
	source *dataset.Source
	logger *zap.Logger
}

// NewRunner 创建评估执行器
func NewRunner(client inference.Client, source *dataset.Source, logger *zap.Logger) *Runner {
	return &Runner{client: client, source: source, logger: logger}
}

// Run 执行一轮评估并返回聚合报告。样本间检查ctx，取消时返回错误。
func (r *Runner) Run(ctx context.Context, opts Options) (*model.EvaluationReport, error) {
	if opts.Model == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, "model is required")
	}
	if opts.Dataset == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, "dataset is required")
	}

	samples, err := r.source.Samples(opts.Dataset, dataset.SampleFilter{
		Count:      opts.SampleCount,
		Categories: opts.Categories,
		Seed:       opts.Seed,
	})
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"no samples matched in dataset %q", opts.Dataset)
	}

	r.logger.Info("dataset evaluation started",
		zap.String("dataset", opts.Dataset),
		zap.String("model", opts.Model),
		zap.Int("samples", len(samples)))

	total := len(samples)
	results := make([]model.TestResult, 0, total)
	for i, sample := range samples {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal,
				"evaluation cancelled after %d/%d samples", i, total)
		}

		results = append(results, r.evaluateSample(ctx, opts, sample))
		if opts.Progress != nil {
			opts.Progress(i+1, total, sample.ID)
		}
	}

	report := BuildReport(opts.TestID, opts.Dataset, opts.Model, results)
	r.logger.Info("dataset evaluation finished",
		zap.String("dataset", opts.Dataset),
		zap.Int("valid", report.SuccessfulTests),
		zap.Float64("avg_score_accuracy", report.AvgScoreAccuracy),
		zap.Float64("category_accuracy", report.CategoryAccuracy))
	return report, nil
}

// evaluateSample 评估单个样本。推理失败或响应不可解析都记为错误结果，
// 响应耗时无论成败都保留。
func (r *Runner) evaluateSample(ctx context.Context, opts Options, sample model.TestSample) model.TestResult {
	prompt := r.source.RenderPrompt(opts.Dataset, sample)

	res := r.client.Infer(ctx, inference.InferRequest{
		Model:    opts.Model,
		Prompt:   prompt,
		Timeout:  opts.Timeout,
		Thinking: opts.ThinkingMode,
	})

	result := model.TestResult{
		SampleID:       sample.ID,
		Content:        sample.Content,
		RawResponse:    res.Response,
		ExpectedScore:  sample.ExpectedScore,
		ExpectedCat:    sample.Category,
		ResponseTimeMs: res.LatencyMs,
	}

	if !res.OK() {
		result.Error = res.Error
		if result.Error == "" {
			result.Error = string(res.Status)
		}
		r.logger.Warn("sample inference failed",
			zap.String("sample_id", sample.ID), zap.String("error", result.Error))
		return result
	}

	parsed := dataset.ParseResponse(opts.Dataset, res.Response)
	if !parsed.Parsed() {
		result.Error = "unable to parse model response"
		r.logger.Warn("sample response unparseable", zap.String("sample_id", sample.ID))
		return result
	}

	result.ModelScore = parsed.Score
	result.ModelCategory = parsed.Category
	result.ScoreAccuracy = dataset.ScoreAccuracy(parsed.Score, sample.ExpectedScore)
	result.CategoryMatch = dataset.CategoryMatch(opts.Dataset, parsed.Category, sample.Category)
	return result
}
