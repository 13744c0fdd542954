package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferbench/internal/inference"
)

// histogramSampleCount 读取直方图当前的样本数
func histogramSampleCount(t *testing.T, vec *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()

	h, err := vec.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)

	metric := &dto.Metric{}
	require.NoError(t, h.(prometheus.Metric).Write(metric))
	return metric.GetHistogram().GetSampleCount()
}

func TestHTTPMetricsRecorder(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/api/test", "200"))
	beforeObs := histogramSampleCount(t, httpRequestDuration, "POST", "/api/test")

	NewHTTPMetrics("POST", "/api/test").Finish("200")

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/api/test", "200")))
	assert.Equal(t, beforeObs+1, histogramSampleCount(t, httpRequestDuration, "POST", "/api/test"))
}

func TestRecordInference(t *testing.T) {
	before := testutil.ToFloat64(inferenceRequestsTotal.WithLabelValues("qwen3:8b", "success"))
	beforeObs := histogramSampleCount(t, inferenceLatency, "qwen3:8b")

	RecordInference("qwen3:8b", "success", 0.42)
	RecordInference("qwen3:8b", "timeout", 60)

	assert.Equal(t, before+1, testutil.ToFloat64(inferenceRequestsTotal.WithLabelValues("qwen3:8b", "success")))
	assert.Equal(t, beforeObs+2, histogramSampleCount(t, inferenceLatency, "qwen3:8b"))
}

func TestRecordBenchRequest(t *testing.T) {
	beforeOK := testutil.ToFloat64(benchRequestsTotal.WithLabelValues("success"))
	beforeErr := testutil.ToFloat64(benchRequestsTotal.WithLabelValues("error"))

	RecordBenchRequest(true)
	RecordBenchRequest(true)
	RecordBenchRequest(false)

	assert.Equal(t, beforeOK+2, testutil.ToFloat64(benchRequestsTotal.WithLabelValues("success")))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(benchRequestsTotal.WithLabelValues("error")))
}

func TestRecordTestResult(t *testing.T) {
	before := testutil.ToFloat64(testsTotal.WithLabelValues("qps", "completed"))
	beforeObs := histogramSampleCount(t, testDuration, "qps")

	RecordTestResult("qps", "completed", 62.5)

	assert.Equal(t, before+1, testutil.ToFloat64(testsTotal.WithLabelValues("qps", "completed")))
	assert.Equal(t, beforeObs+1, histogramSampleCount(t, testDuration, "qps"))
}

func TestActiveTestGauge(t *testing.T) {
	SetActiveTest(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(activeTest))

	SetActiveTest(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(activeTest))
}

func TestSetEvaluationAccuracy(t *testing.T) {
	SetEvaluationAccuracy("manga_ad_detection", "qwen3:8b", 0.92, 0.85)

	assert.Equal(t, 0.92, testutil.ToFloat64(evaluationScoreAccuracy.WithLabelValues("manga_ad_detection", "qwen3:8b")))
	assert.Equal(t, 0.85, testutil.ToFloat64(evaluationCategoryAccuracy.WithLabelValues("manga_ad_detection", "qwen3:8b")))

	// 同一组合的新一轮评估直接覆盖
	SetEvaluationAccuracy("manga_ad_detection", "qwen3:8b", 0.5, 0.4)
	assert.Equal(t, 0.5, testutil.ToFloat64(evaluationScoreAccuracy.WithLabelValues("manga_ad_detection", "qwen3:8b")))
}

func TestStorageMetricsRecorder(t *testing.T) {
	before := testutil.ToFloat64(storageOperationsTotal.WithLabelValues("file", "save_result", "success"))

	NewStorageMetrics("file", "save_result").Finish("success")

	assert.Equal(t, before+1, testutil.ToFloat64(storageOperationsTotal.WithLabelValues("file", "save_result", "success")))
}

func TestBackendUpGauge(t *testing.T) {
	SetBackendUp(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(backendUp))

	SetBackendUp(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(backendUp))
}

type staticClient struct {
	result    *inference.InferResult
	statusErr error
}

func (c *staticClient) Infer(ctx context.Context, req inference.InferRequest) *inference.InferResult {
	return c.result
}

func (c *staticClient) CheckStatus(ctx context.Context) error { return c.statusErr }

func (c *staticClient) ListModels(ctx context.Context) ([]inference.ModelInfo, error) {
	return nil, nil
}

func (c *staticClient) ModelExists(ctx context.Context, model string) (bool, error) {
	return true, nil
}

func TestInstrumentClient(t *testing.T) {
	client := InstrumentClient(&staticClient{
		result: &inference.InferResult{Status: inference.StatusSuccess, LatencyMs: 1500},
	})

	before := testutil.ToFloat64(inferenceRequestsTotal.WithLabelValues("deepseek-r1:7b", "success"))

	res := client.Infer(context.Background(), inference.InferRequest{Model: "deepseek-r1:7b", Prompt: "hi"})
	require.True(t, res.OK())
	assert.Equal(t, before+1, testutil.ToFloat64(inferenceRequestsTotal.WithLabelValues("deepseek-r1:7b", "success")))

	require.NoError(t, client.CheckStatus(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(backendUp))
}
