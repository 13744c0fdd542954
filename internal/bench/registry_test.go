package bench

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inferbench/config"
	"inferbench/internal/dataset"
	apperrors "inferbench/internal/errors"
	"inferbench/internal/evaluation"
	"inferbench/internal/inference"
	"inferbench/internal/model"
	"inferbench/internal/storage"
)

const registryDatasetFixture = `{
  "dataset_info": {
    "name": "漫画评论广告检测测试集",
    "description": "用于评估模型识别漫画评论区广告的能力",
    "version": "1.0.0",
    "total_samples": 3
  },
  "test_samples": [
    {
      "id": "manga_001",
      "comment_text": "这部漫画太好看了，强烈推荐！",
      "category": "正常评论",
      "ad_score": 0
    },
    {
      "id": "manga_002",
      "comment_text": "加QQ12345领取全本资源",
      "category": "QQ/微信联系广告",
      "ad_score": 5
    },
    {
      "id": "manga_003",
      "comment_text": "下载XX APP看最新话",
      "category": "APP推广广告",
      "ad_score": 4
    }
  ]
}`

func newTestRegistry(t *testing.T, client inference.Client) *Registry {
	t.Helper()

	datasetDir := t.TempDir()
	fixture := filepath.Join(datasetDir, dataset.DatasetMangaAdDetection+".json")
	require.NoError(t, os.WriteFile(fixture, []byte(registryDatasetFixture), 0o644))
	source, err := dataset.NewSource(datasetDir, zap.NewNop())
	require.NoError(t, err)

	store, err := storage.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	cfg := &config.Config{
		Ollama: config.OllamaConfig{DefaultModel: "qwen3:8b", TimeoutSeconds: 5},
		Bench: config.BenchConfig{
			DefaultConcurrentUsers: 2,
			DefaultDurationSeconds: 1,
			DefaultWarmupRequests:  2,
			MaxConcurrentUsers:     10,
			MaxDurationSeconds:     30,
		},
		Evaluation: config.EvaluationConfig{DefaultSampleCount: 3},
	}

	runner := NewLoadRunner(client, zap.NewNop(), WithSampleInterval(100*time.Millisecond))
	evaluator := evaluation.NewRunner(client, source, zap.NewNop())
	registry := NewRegistry(cfg, runner, evaluator, source, store, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = registry.Close(ctx)
	})
	return registry
}

func waitForStatus(t *testing.T, g *Registry, testID string, want model.Status) model.TestProgress {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(10 * time.Second)
	var last model.TestProgress
	for time.Now().Before(deadline) {
		if p, err := g.GetProgress(ctx, testID); err == nil {
			last = *p
			if p.Status == want {
				return last
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("test %s never reached %s, last status %q", testID, want, last.Status)
	return model.TestProgress{}
}

func TestRegistryStartAndComplete(t *testing.T) {
	client := newStubClient()
	client.latency = 5 * time.Millisecond
	g := newTestRegistry(t, client)
	ctx := context.Background()

	id, err := g.StartQPSTest(ctx, model.TestConfig{TestName: "smoke"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "qps_"))
	assert.True(t, strings.HasSuffix(id, "_smoke"))

	p := waitForStatus(t, g, id, model.StatusCompleted)
	assert.InDelta(t, 100, p.Percent, 1e-9)

	result, err := g.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, "qwen3:8b", result.Config.Model)
	assert.Greater(t, result.TotalRequests, 0)

	// 完成即落盘
	all, err := g.ListResults(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].TestID)
}

func TestRegistrySingleFlightConflict(t *testing.T) {
	client := newStubClient()
	client.latency = 10 * time.Millisecond
	g := newTestRegistry(t, client)
	ctx := context.Background()

	id, err := g.StartQPSTest(ctx, model.TestConfig{TestName: "first", DurationSeconds: 5})
	require.NoError(t, err)
	waitForStatus(t, g, id, model.StatusRunning)

	_, err = g.StartQPSTest(ctx, model.TestConfig{TestName: "second"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTestAlreadyRunning))

	_, err = g.RunDatasetEvaluation(ctx, EvaluationOptions{Dataset: dataset.DatasetMangaAdDetection})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTestAlreadyRunning))

	// 被拒绝的启动不影响在跑的测试
	p := g.CurrentProgress()
	require.NotNil(t, p)
	assert.Equal(t, id, p.TestID)
	assert.Equal(t, model.StatusRunning, p.Status)

	stopped, err := g.StopCurrent()
	require.NoError(t, err)
	assert.Equal(t, id, stopped)
	waitForStatus(t, g, id, model.StatusStopped)
}

func TestRegistryStopPartialResult(t *testing.T) {
	client := newStubClient()
	client.latency = 5 * time.Millisecond
	g := newTestRegistry(t, client)
	ctx := context.Background()

	id, err := g.StartQPSTest(ctx, model.TestConfig{TestName: "longrun", DurationSeconds: 10})
	require.NoError(t, err)
	waitForStatus(t, g, id, model.StatusRunning)
	time.Sleep(200 * time.Millisecond)

	stoppedID, err := g.StopCurrent()
	require.NoError(t, err)
	assert.Equal(t, id, stoppedID)

	waitForStatus(t, g, id, model.StatusStopped)
	result, err := g.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, result.Status)
	assert.Greater(t, result.TotalRequests, 0, "partial outcomes survive a stop")
	assert.Less(t, result.DurationSeconds, 10.0)
}

func TestRegistryStopWithoutRunningTest(t *testing.T) {
	client := newStubClient()
	client.latency = 2 * time.Millisecond
	g := newTestRegistry(t, client)

	// 从未跑过测试
	_, err := g.StopCurrent()
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTestNotRunning))

	// 测试已完成后同样拒绝
	id, err := g.StartQPSTest(context.Background(), model.TestConfig{TestName: "done"})
	require.NoError(t, err)
	waitForStatus(t, g, id, model.StatusCompleted)

	_, err = g.StopCurrent()
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTestNotRunning))
}

func TestRegistryPreflightBackendDown(t *testing.T) {
	client := newStubClient()
	client.statusErr = errors.New("dial tcp 127.0.0.1:11434: connection refused")
	g := newTestRegistry(t, client)

	_, err := g.StartQPSTest(context.Background(), model.TestConfig{TestName: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBackendUnavailable))
}

func TestRegistryPreflightModelMissing(t *testing.T) {
	g := newTestRegistry(t, newStubClient())

	_, err := g.StartQPSTest(context.Background(), model.TestConfig{TestName: "x", Model: "ghost:1b"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))
}

func TestRegistryNewTestConfigDefaults(t *testing.T) {
	g := newTestRegistry(t, newStubClient())

	cfg, err := g.NewTestConfig(model.TestConfig{WarmupRequests: -1})
	require.NoError(t, err)
	assert.Equal(t, "qwen3:8b", cfg.Model)
	assert.Equal(t, "qps_test", cfg.TestName)
	assert.Equal(t, 2, cfg.ConcurrentUsers)
	assert.Equal(t, 1, cfg.DurationSeconds)
	assert.Equal(t, 2, cfg.WarmupRequests, "unset warmup takes the configured default")
	assert.Equal(t, 5, cfg.TimeoutSeconds)
	assert.Equal(t, DefaultPrompts, cfg.PromptSet)

	// 显式的0次预热保持为0
	cfg, err = g.NewTestConfig(model.TestConfig{})
	require.NoError(t, err)
	assert.Zero(t, cfg.WarmupRequests)
}

func TestRegistryNewTestConfigCaps(t *testing.T) {
	g := newTestRegistry(t, newStubClient())

	_, err := g.NewTestConfig(model.TestConfig{ConcurrentUsers: 50})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	_, err = g.NewTestConfig(model.TestConfig{DurationSeconds: 600})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))
}

func TestRegistryNewTestConfigDatasetPrompts(t *testing.T) {
	g := newTestRegistry(t, newStubClient())

	cfg, err := g.NewTestConfig(model.TestConfig{DatasetName: dataset.DatasetMangaAdDetection})
	require.NoError(t, err)
	require.Len(t, cfg.PromptSet, 3)
	assert.Contains(t, cfg.PromptSet[0], "这部漫画太好看了")

	_, err = g.NewTestConfig(model.TestConfig{DatasetName: "no_such_dataset"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDatasetNotFound))
}

func TestRegistryGetProgressHistorical(t *testing.T) {
	g := newTestRegistry(t, newStubClient())
	ctx := context.Background()

	hist := &model.QPSTestResult{
		TestID:    "qps_20250101_000000_hist",
		TestType:  model.TestTypeQPS,
		Status:    model.StatusCompleted,
		Config:    model.TestConfig{TestName: "hist", Model: "qwen3:8b"},
		StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC),
	}
	require.NoError(t, g.store.Save(ctx, hist))

	p, err := g.GetProgress(ctx, hist.TestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, p.Status)
	assert.InDelta(t, 100, p.Percent, 1e-9)
	assert.Equal(t, "hist", p.TestName)

	_, err = g.GetProgress(ctx, "qps_never_ran")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTestNotFound))
}

func TestRegistryListResultsMerged(t *testing.T) {
	client := newStubClient()
	client.latency = 2 * time.Millisecond
	g := newTestRegistry(t, client)
	ctx := context.Background()

	hist := &model.QPSTestResult{
		TestID:    "qps_20250101_000000_hist",
		TestType:  model.TestTypeQPS,
		Status:    model.StatusCompleted,
		Config:    model.TestConfig{TestName: "hist", Model: "qwen3:8b"},
		StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, g.store.Save(ctx, hist))

	id, err := g.StartQPSTest(ctx, model.TestConfig{TestName: "fresh"})
	require.NoError(t, err)
	waitForStatus(t, g, id, model.StatusCompleted)

	// 内存和磁盘合并去重，新测试排序在前
	all, err := g.ListResults(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, id, all[0].TestID)
	assert.Equal(t, hist.TestID, all[1].TestID)
}

func TestRegistryRunDatasetEvaluation(t *testing.T) {
	client := newStubClient()
	client.respond = func(req inference.InferRequest) *inference.InferResult {
		return &inference.InferResult{
			Status:          inference.StatusSuccess,
			Response:        `{"ad_score": 0, "category": "正常评论", "analysis": "未见广告"}`,
			LatencyMs:       8,
			TokensPerSecond: 30,
			ResponseLength:  20,
			Timestamp:       time.Now(),
		}
	}
	g := newTestRegistry(t, client)
	ctx := context.Background()

	type tick struct {
		current, total int
		sampleID       string
	}
	var ticks []tick
	report, err := g.RunDatasetEvaluation(ctx, EvaluationOptions{
		Dataset:     dataset.DatasetMangaAdDetection,
		SampleCount: 2,
		Seed:        7,
		Progress: func(current, total int, sampleID string) {
			ticks = append(ticks, tick{current, total, sampleID})
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalSamples)
	assert.Equal(t, 2, report.SuccessfulTests)
	assert.Equal(t, "qwen3:8b", report.Model)
	require.Len(t, ticks, 2)
	assert.Equal(t, 1, ticks[0].current)
	assert.Equal(t, 2, ticks[1].current)

	got, err := g.GetEvaluationReport(report.TestID)
	require.NoError(t, err)
	assert.Same(t, report, got)

	p := g.CurrentProgress()
	require.NotNil(t, p)
	assert.Equal(t, report.TestID, p.TestID)
	assert.Equal(t, model.StatusCompleted, p.Status)
	assert.InDelta(t, 100, p.Percent, 1e-9)

	// 评估结束后槽位立即可用
	id, err := g.StartQPSTest(ctx, model.TestConfig{TestName: "after_eval"})
	require.NoError(t, err)
	waitForStatus(t, g, id, model.StatusCompleted)
}

func TestRegistryStartDatasetEvaluationAsync(t *testing.T) {
	client := newStubClient()
	client.respond = func(inference.InferRequest) *inference.InferResult {
		return &inference.InferResult{
			Status:         inference.StatusSuccess,
			Response:       `{"ad_score": 0, "category": "正常评论", "analysis": "未见广告"}`,
			LatencyMs:      8,
			ResponseLength: 20,
			Timestamp:      time.Now(),
		}
	}
	g := newTestRegistry(t, client)

	id, err := g.StartDatasetEvaluation(context.Background(), EvaluationOptions{
		Dataset:     dataset.DatasetMangaAdDetection,
		SampleCount: 2,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "eval_"), id)

	waitForStatus(t, g, id, model.StatusCompleted)

	report, err := g.GetEvaluationReport(id)
	require.NoError(t, err)
	assert.Equal(t, id, report.TestID)
	assert.Equal(t, 2, report.TotalSamples)
}

func TestRegistryStopDatasetEvaluation(t *testing.T) {
	client := newStubClient()
	client.latency = 50 * time.Millisecond
	g := newTestRegistry(t, client)

	id, err := g.StartDatasetEvaluation(context.Background(), EvaluationOptions{
		Dataset: dataset.DatasetMangaAdDetection,
	})
	require.NoError(t, err)
	waitForStatus(t, g, id, model.StatusRunning)

	stopped, err := g.StopCurrent()
	require.NoError(t, err)
	assert.Equal(t, id, stopped)

	waitForStatus(t, g, id, model.StatusStopped)

	// 中止的评估不产生报告
	_, err = g.GetEvaluationReport(id)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTestNotFound))
}

func TestRegistryEvaluationReportMissing(t *testing.T) {
	g := newTestRegistry(t, newStubClient())

	_, err := g.GetEvaluationReport("eval_unknown")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTestNotFound))
}

func TestRegistryCloseStopsRunningTest(t *testing.T) {
	client := newStubClient()
	client.latency = 5 * time.Millisecond
	g := newTestRegistry(t, client)

	id, err := g.StartQPSTest(context.Background(), model.TestConfig{TestName: "drain", DurationSeconds: 10})
	require.NoError(t, err)
	waitForStatus(t, g, id, model.StatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Close(ctx))

	p, err := g.GetProgress(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, p.Status)
}
