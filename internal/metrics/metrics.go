package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP请求指标
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferbench_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferbench_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// 推理调用指标
	inferenceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferbench_inference_requests_total",
			Help: "Total number of inference calls",
		},
		[]string{"model", "status"},
	)

	inferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferbench_inference_latency_seconds",
			Help:    "Inference call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
		},
		[]string{"model"},
	)

	// 压测生成的请求指标，只统计测量窗口内的结果
	benchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferbench_bench_requests_total",
			Help: "Total number of load test requests in the measured window",
		},
		[]string{"status"},
	)

	// 测试生命周期指标
	testsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferbench_tests_total",
			Help: "Total number of finished tests",
		},
		[]string{"type", "status"},
	)

	testDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferbench_test_duration_seconds",
			Help:    "Wall clock duration of finished tests in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"type"},
	)

	activeTest = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferbench_active_test",
			Help: "Whether a test currently occupies the execution slot (1 = busy)",
		},
	)

	testProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferbench_test_progress_percent",
			Help: "Completion percentage of the most recent test",
		},
	)

	// 数据集评估指标，保留每个数据集/模型组合最近一次的结果
	evaluationScoreAccuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inferbench_evaluation_score_accuracy",
			Help: "Average score accuracy of the latest dataset evaluation",
		},
		[]string{"dataset", "model"},
	)

	evaluationCategoryAccuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inferbench_evaluation_category_accuracy",
			Help: "Category accuracy of the latest dataset evaluation",
		},
		[]string{"dataset", "model"},
	)

	// 结果存储指标
	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferbench_storage_operations_total",
			Help: "Total number of result store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferbench_storage_operation_duration_seconds",
			Help:    "Result store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// 推理后端健康状态
	backendUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferbench_backend_up",
			Help: "Inference backend reachability (1 = reachable, 0 = unreachable)",
		},
	)

	// 主机资源指标，由监控采样循环刷新
	systemCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferbench_system_cpu_percent",
			Help: "Host CPU usage percentage from the latest monitor sample",
		},
	)

	systemMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferbench_system_memory_percent",
			Help: "Host memory usage percentage from the latest monitor sample",
		},
	)
)

// HTTPMetrics HTTP请求指标记录器
type HTTPMetrics struct {
	method   string
	endpoint string
	start    time.Time
}

// NewHTTPMetrics 创建HTTP指标记录器
func NewHTTPMetrics(method, endpoint string) *HTTPMetrics {
	return &HTTPMetrics{
		method:   method,
		endpoint: endpoint,
		start:    time.Now(),
	}
}

// Finish 完成HTTP请求指标记录
func (m *HTTPMetrics) Finish(status string) {
	duration := time.Since(m.start).Seconds()
	httpRequestsTotal.WithLabelValues(m.method, m.endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(m.method, m.endpoint).Observe(duration)
}

// StorageMetrics 结果存储操作指标记录器
type StorageMetrics struct {
	backend   string
	operation string
	start     time.Time
}

// NewStorageMetrics 创建存储操作指标记录器
func NewStorageMetrics(backend, operation string) *StorageMetrics {
	return &StorageMetrics{
		backend:   backend,
		operation: operation,
		start:     time.Now(),
	}
}

// Finish 完成存储操作指标记录
func (m *StorageMetrics) Finish(status string) {
	duration := time.Since(m.start).Seconds()
	storageOperationsTotal.WithLabelValues(m.backend, m.operation, status).Inc()
	storageOperationDuration.WithLabelValues(m.backend, m.operation).Observe(duration)
}

// RecordInference 记录一次推理调用的状态与耗时
func RecordInference(model, status string, latencySeconds float64) {
	inferenceRequestsTotal.WithLabelValues(model, status).Inc()
	inferenceLatency.WithLabelValues(model).Observe(latencySeconds)
}

// RecordBenchRequest 记录压测测量窗口内的一条请求结果
func RecordBenchRequest(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	benchRequestsTotal.WithLabelValues(status).Inc()
}

// RecordTestResult 记录一次测试的最终状态与时长
func RecordTestResult(testType, status string, durationSeconds float64) {
	testsTotal.WithLabelValues(testType, status).Inc()
	testDuration.WithLabelValues(testType).Observe(durationSeconds)
}

// SetActiveTest 更新测试执行槽位占用状态
func SetActiveTest(active bool) {
	if active {
		activeTest.Set(1)
	} else {
		activeTest.Set(0)
	}
}

// SetEvaluationAccuracy 更新某数据集/模型最近一次评估的准确率
func SetEvaluationAccuracy(dataset, model string, scoreAccuracy, categoryAccuracy float64) {
	evaluationScoreAccuracy.WithLabelValues(dataset, model).Set(scoreAccuracy)
	evaluationCategoryAccuracy.WithLabelValues(dataset, model).Set(categoryAccuracy)
}

// SetTestProgress 更新当前测试的完成百分比
func SetTestProgress(percent float64) {
	testProgress.Set(percent)
}

// SetBackendUp 更新推理后端可达状态
func SetBackendUp(up bool) {
	if up {
		backendUp.Set(1)
	} else {
		backendUp.Set(0)
	}
}

// SetSystemUsage 更新主机CPU与内存占用
func SetSystemUsage(cpuPercent, memoryPercent float64) {
	systemCPUPercent.Set(cpuPercent)
	systemMemoryPercent.Set(memoryPercent)
}

// Handler 返回Prometheus指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
