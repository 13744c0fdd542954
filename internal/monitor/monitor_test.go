package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inferbench/config"
	apperrors "inferbench/internal/errors"
	"inferbench/internal/inference"
)

func newTestMonitor(t *testing.T, mutate func(*config.MonitorConfig)) *Monitor {
	t.Helper()

	cfg := config.MonitorConfig{
		Enabled:            true,
		LogDir:             t.TempDir(),
		RequestHistorySize: 1000,
		SystemHistorySize:  288,
		SampleIntervalSecs: 300,
		MaxLogFiles:        30,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	m, err := NewMonitor(cfg, zap.NewNop())
	require.NoError(t, err)
	return m
}

func inferOutcome(status inference.Status, latencyMs float64, respLen int, tps float64) *inference.InferResult {
	return &inference.InferResult{
		Status:          status,
		LatencyMs:       latencyMs,
		ResponseLength:  respLen,
		TokensPerSecond: tps,
		Timestamp:       time.Now(),
	}
}

func countLogLines(t *testing.T, path string) int {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	require.NoError(t, scanner.Err())
	return n
}

func TestMonitorRecordRequest(t *testing.T) {
	m := newTestMonitor(t, nil)

	req := inference.InferRequest{Model: "qwen3:8b", Prompt: "你好，请介绍一下自己"}
	m.RecordRequest(req, inferOutcome(inference.StatusSuccess, 120, 64, 8.5))
	m.RecordRequest(req, inferOutcome(inference.StatusError, 30, 0, 0))
	m.RecordRequest(req, inferOutcome(inference.StatusSuccess, 340, 128, 12))

	recent := m.RecentRequests(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "error", recent[0].Status)
	assert.Equal(t, "success", recent[1].Status)
	assert.Equal(t, 128, recent[1].ResponseLength)
	// 提示词长度按字符数而不是字节数
	assert.Equal(t, 10, recent[1].PromptLength)

	logPath := filepath.Join(m.logDir, fmt.Sprintf("requests_%s.jsonl", time.Now().Format(dateLayout)))
	assert.Equal(t, 3, countLogLines(t, logPath))
}

func TestMonitorRequestCacheBounded(t *testing.T) {
	m := newTestMonitor(t, func(cfg *config.MonitorConfig) {
		cfg.RequestHistorySize = 5
	})

	for i := 0; i < 8; i++ {
		m.RecordRequest(
			inference.InferRequest{Model: "qwen3:8b", Prompt: "hi"},
			inferOutcome(inference.StatusSuccess, float64(i), i, 0),
		)
	}

	recent := m.RecentRequests(0)
	require.Len(t, recent, 5)
	assert.Equal(t, 3, recent[0].ResponseLength)
	assert.Equal(t, 7, recent[4].ResponseLength)
}

func TestMonitorDailySummary(t *testing.T) {
	m := newTestMonitor(t, nil)

	req := inference.InferRequest{Model: "qwen3:8b", Prompt: "hello"}
	m.RecordRequest(req, inferOutcome(inference.StatusSuccess, 100, 10, 5))
	m.RecordRequest(req, inferOutcome(inference.StatusSuccess, 200, 20, 10))
	m.RecordRequest(req, inferOutcome(inference.StatusSuccess, 300, 30, 15))
	m.RecordRequest(req, inferOutcome(inference.StatusTimeout, 5000, 0, 0))

	snaps := []SystemSnapshot{
		{Timestamp: time.Now(), CPUPercent: 10, MemoryPercent: 40, MemoryUsedGB: 2},
		{Timestamp: time.Now(), CPUPercent: 30, MemoryPercent: 60, MemoryUsedGB: 4},
	}
	idx := 0
	m.readSystem = func() (SystemSnapshot, error) {
		snap := snaps[idx]
		idx++
		return snap, nil
	}
	m.collect()
	m.collect()

	sum, err := m.DailySummary("")
	require.NoError(t, err)

	assert.Equal(t, 4, sum.TotalRequests)
	assert.Equal(t, 3, sum.SuccessfulRequests)
	assert.Equal(t, 1, sum.FailedRequests)
	assert.InDelta(t, 200, sum.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 100, sum.MinLatencyMs, 1e-9)
	assert.InDelta(t, 300, sum.MaxLatencyMs, 1e-9)
	assert.Equal(t, 60, sum.TotalTokens)
	assert.InDelta(t, 10, sum.AvgTokensPerSec, 1e-9)
	assert.InDelta(t, 20, sum.AvgCPUPercent, 1e-9)
	assert.InDelta(t, 60, sum.MaxMemoryPercent, 1e-9)
	assert.InDelta(t, 3, sum.AvgMemoryUsedGB, 1e-9)
}

func TestMonitorDailySummarySkipsBadLines(t *testing.T) {
	m := newTestMonitor(t, nil)

	req := inference.InferRequest{Model: "qwen3:8b", Prompt: "hello"}
	m.RecordRequest(req, inferOutcome(inference.StatusSuccess, 100, 10, 0))

	logPath := filepath.Join(m.logDir, fmt.Sprintf("requests_%s.jsonl", time.Now().Format(dateLayout)))
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m.RecordRequest(req, inferOutcome(inference.StatusSuccess, 300, 20, 0))

	sum, err := m.DailySummary("")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalRequests)
	assert.InDelta(t, 200, sum.AvgLatencyMs, 1e-9)
}

func TestMonitorDailySummaryEmptyDay(t *testing.T) {
	m := newTestMonitor(t, nil)

	sum, err := m.DailySummary("20200101")
	require.NoError(t, err)
	assert.Equal(t, "20200101", sum.Date)
	assert.Zero(t, sum.TotalRequests)
	assert.Zero(t, sum.AvgLatencyMs)
}

func TestMonitorDailySummaryInvalidDate(t *testing.T) {
	m := newTestMonitor(t, nil)

	_, err := m.DailySummary("2025-01-01")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestMonitorBackgroundLoop(t *testing.T) {
	m := newTestMonitor(t, nil)
	m.interval = 10 * time.Millisecond

	calls := 0
	m.readSystem = func() (SystemSnapshot, error) {
		calls++
		if calls == 3 {
			return SystemSnapshot{}, errors.New("proc read failed")
		}
		return SystemSnapshot{Timestamp: time.Now(), CPUPercent: float64(calls)}, nil
	}

	m.Start()
	m.Start() // 重复启动无效果

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(m.RecentSystem(0)) < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	m.Stop()

	recent := m.RecentSystem(0)
	require.GreaterOrEqual(t, len(recent), 3)

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, recent[len(recent)-1].CPUPercent, cur.CPUPercent)

	logPath := filepath.Join(m.logDir, fmt.Sprintf("system_%s.jsonl", time.Now().Format(dateLayout)))
	assert.GreaterOrEqual(t, countLogLines(t, logPath), 3)
}

func TestMonitorPerformanceSummary(t *testing.T) {
	m := newTestMonitor(t, nil)

	now := time.Now()
	stale := now.Add(-2 * time.Hour)
	m.requests = []RequestRecord{
		{Timestamp: stale, Status: "success", LatencyMs: 999},
		{Timestamp: now, Status: "success", LatencyMs: 100},
		{Timestamp: now, Status: "success", LatencyMs: 300},
		{Timestamp: now, Status: "error", LatencyMs: 20},
	}
	m.system = []SystemSnapshot{
		{Timestamp: stale, CPUPercent: 90, MemoryPercent: 90, MemoryUsedGB: 9},
		{Timestamp: now, CPUPercent: 10, MemoryPercent: 40, MemoryUsedGB: 2, DiskPercent: 55},
		{Timestamp: now, CPUPercent: 30, MemoryPercent: 60, MemoryUsedGB: 4, DiskPercent: 56},
	}

	sum := m.PerformanceSummary(1)

	assert.Equal(t, 1, sum.TimeRangeHours)
	assert.Equal(t, 3, sum.Requests.TotalRequests)
	assert.Equal(t, 2, sum.Requests.SuccessfulRequests)
	assert.Equal(t, 1, sum.Requests.FailedRequests)
	assert.InDelta(t, 200, sum.Requests.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 300, sum.Requests.MaxLatencyMs, 1e-9)
	assert.InDelta(t, 3, sum.Requests.RequestsPerHour, 1e-9)
	assert.InDelta(t, 20, sum.System.AvgCPUPercent, 1e-9)
	assert.InDelta(t, 30, sum.System.MaxCPUPercent, 1e-9)
	assert.InDelta(t, 60, sum.System.MaxMemoryPercent, 1e-9)
	assert.InDelta(t, 56, sum.System.DiskPercent, 1e-9)
}

func TestMonitorCleanupOldLogs(t *testing.T) {
	m := newTestMonitor(t, func(cfg *config.MonitorConfig) {
		cfg.MaxLogFiles = 3
	})

	names := []string{
		"requests_20250101.jsonl",
		"requests_20250102.jsonl",
		"requests_20250103.jsonl",
		"system_20250101.jsonl",
		"system_20250102.jsonl",
		"requests_20250104.jsonl",
		"system_20250104.jsonl",
	}
	base := time.Now().Add(-time.Duration(len(names)) * time.Hour)
	for i, name := range names {
		path := filepath.Join(m.logDir, name)
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
		mtime := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	deleted, err := m.CleanupOldLogs()
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	var remaining []string
	for _, pattern := range []string{"requests_*.jsonl", "system_*.jsonl"} {
		matches, err := filepath.Glob(filepath.Join(m.logDir, pattern))
		require.NoError(t, err)
		for _, match := range matches {
			remaining = append(remaining, filepath.Base(match))
		}
	}
	assert.ElementsMatch(t, []string{
		"system_20250102.jsonl",
		"requests_20250104.jsonl",
		"system_20250104.jsonl",
	}, remaining)

	// 文件数不超限时不删
	deleted, err = m.CleanupOldLogs()
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

type fixedClient struct {
	result *inference.InferResult
}

func (c *fixedClient) Infer(ctx context.Context, req inference.InferRequest) *inference.InferResult {
	return c.result
}

func (c *fixedClient) CheckStatus(ctx context.Context) error { return nil }

func (c *fixedClient) ListModels(ctx context.Context) ([]inference.ModelInfo, error) {
	return nil, nil
}

func (c *fixedClient) ModelExists(ctx context.Context, model string) (bool, error) {
	return true, nil
}

func TestWrapClientRecords(t *testing.T) {
	m := newTestMonitor(t, nil)
	client := &fixedClient{result: inferOutcome(inference.StatusSuccess, 42, 12, 3)}

	wrapped := WrapClient(client, m)
	res := wrapped.Infer(context.Background(), inference.InferRequest{Model: "qwen3:8b", Prompt: "ping"})
	require.True(t, res.OK())

	recent := m.RecentRequests(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "qwen3:8b", recent[0].Model)
	assert.Equal(t, "success", recent[0].Status)
	assert.Equal(t, 12, recent[0].ResponseLength)
	assert.InDelta(t, 42, recent[0].LatencyMs, 1e-9)
}

func TestWrapClientNilMonitor(t *testing.T) {
	client := &fixedClient{result: inferOutcome(inference.StatusSuccess, 1, 1, 1)}
	assert.Same(t, inference.Client(client), WrapClient(client, nil))
}
