package monitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	apperrors "inferbench/internal/errors"
	"inferbench/internal/stats"
)

// DailySummary 某一天的请求与资源汇总
type DailySummary struct {
	Date               string  `json:"date"`
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	FailedRequests     int     `json:"failed_requests"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	MinLatencyMs       float64 `json:"min_latency_ms"`
	MaxLatencyMs       float64 `json:"max_latency_ms"`
	P95LatencyMs       float64 `json:"p95_latency_ms"`
	TotalTokens        int     `json:"total_tokens"`
	AvgTokensPerSec    float64 `json:"avg_tokens_per_second"`
	AvgCPUPercent      float64 `json:"avg_cpu_percent"`
	MaxMemoryPercent   float64 `json:"max_memory_percent"`
	AvgMemoryUsedGB    float64 `json:"avg_memory_used_gb"`
}

// SystemUsage 一段时间内的系统资源汇总
type SystemUsage struct {
	AvgCPUPercent    float64 `json:"avg_cpu_percent"`
	MaxCPUPercent    float64 `json:"max_cpu_percent"`
	AvgMemoryPercent float64 `json:"avg_memory_percent"`
	MaxMemoryPercent float64 `json:"max_memory_percent"`
	AvgMemoryUsedGB  float64 `json:"avg_memory_used_gb"`
	DiskPercent      float64 `json:"disk_usage_percent"`
}

// RequestUsage 一段时间内的请求量汇总
type RequestUsage struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	FailedRequests     int     `json:"failed_requests"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	MaxLatencyMs       float64 `json:"max_latency_ms"`
	RequestsPerHour    float64 `json:"requests_per_hour"`
}

// PerformanceSummary 最近N小时的整体表现，基于内存缓存
type PerformanceSummary struct {
	TimeRangeHours int          `json:"time_range_hours"`
	System         SystemUsage  `json:"system_metrics"`
	Requests       RequestUsage `json:"request_metrics"`
}

// DailySummary 聚合某天的JSONL日志。date为空时取当天，
// 格式为20060102。当天没有日志时返回零值汇总而不是错误。
func (m *Monitor) DailySummary(date string) (*DailySummary, error) {
	if date == "" {
		date = time.Now().Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid date %q (expected %s)", date, dateLayout)
	}

	summary := &DailySummary{Date: date}

	var requests []RequestRecord
	if err := m.readLogLines(fmt.Sprintf("requests_%s.jsonl", date), func(line []byte) error {
		var rec RequestRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		requests = append(requests, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	var snapshots []SystemSnapshot
	if err := m.readLogLines(fmt.Sprintf("system_%s.jsonl", date), func(line []byte) error {
		var snap SystemSnapshot
		if err := json.Unmarshal(line, &snap); err != nil {
			return err
		}
		snapshots = append(snapshots, snap)
		return nil
	}); err != nil {
		return nil, err
	}

	summary.TotalRequests = len(requests)
	var latencies, tokenRates []float64
	for _, rec := range requests {
		if rec.Status != "success" {
			summary.FailedRequests++
			continue
		}
		summary.SuccessfulRequests++
		summary.TotalTokens += rec.ResponseLength
		latencies = append(latencies, rec.LatencyMs)
		if rec.TokensPerSecond > 0 {
			tokenRates = append(tokenRates, rec.TokensPerSecond)
		}
	}
	if len(latencies) > 0 {
		ls := stats.Compute(latencies)
		summary.AvgLatencyMs = ls.Mean
		summary.MinLatencyMs = ls.Min
		summary.MaxLatencyMs = ls.Max
		summary.P95LatencyMs = ls.P95
	}
	summary.AvgTokensPerSec = stats.Mean(tokenRates)

	if len(snapshots) > 0 {
		var cpuSum, memGBSum float64
		for _, snap := range snapshots {
			cpuSum += snap.CPUPercent
			memGBSum += snap.MemoryUsedGB
			if snap.MemoryPercent > summary.MaxMemoryPercent {
				summary.MaxMemoryPercent = snap.MemoryPercent
			}
		}
		summary.AvgCPUPercent = cpuSum / float64(len(snapshots))
		summary.AvgMemoryUsedGB = memGBSum / float64(len(snapshots))
	}

	return summary, nil
}

// readLogLines 逐行回调JSONL文件内容。文件不存在视为空，
// 解析失败的行跳过并告警。
func (m *Monitor) readLogLines(name string, fn func(line []byte) error) error {
	f, err := os.Open(filepath.Join(m.logDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "open monitor log %s", name)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			m.logger.Warn("skipping bad monitor log line",
				zap.String("file", name),
				zap.Int("line", lineNo),
				zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "read monitor log %s", name)
	}
	return nil
}

// PerformanceSummary 汇总最近hours小时的内存缓存数据。
// hours不大于0时取1小时。
func (m *Monitor) PerformanceSummary(hours int) *PerformanceSummary {
	if hours <= 0 {
		hours = 1
	}
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	m.mu.Lock()
	requests := make([]RequestRecord, len(m.requests))
	copy(requests, m.requests)
	snapshots := make([]SystemSnapshot, len(m.system))
	copy(snapshots, m.system)
	m.mu.Unlock()

	out := &PerformanceSummary{TimeRangeHours: hours}

	var cpuVals, memPctVals []float64
	var memGBSum float64
	count := 0
	for _, snap := range snapshots {
		if snap.Timestamp.Before(cutoff) {
			continue
		}
		count++
		cpuVals = append(cpuVals, snap.CPUPercent)
		memPctVals = append(memPctVals, snap.MemoryPercent)
		memGBSum += snap.MemoryUsedGB
		out.System.DiskPercent = snap.DiskPercent
	}
	if count > 0 {
		out.System.AvgCPUPercent = stats.Mean(cpuVals)
		out.System.AvgMemoryPercent = stats.Mean(memPctVals)
		out.System.AvgMemoryUsedGB = memGBSum / float64(count)
		for _, v := range cpuVals {
			if v > out.System.MaxCPUPercent {
				out.System.MaxCPUPercent = v
			}
		}
		for _, v := range memPctVals {
			if v > out.System.MaxMemoryPercent {
				out.System.MaxMemoryPercent = v
			}
		}
	}

	var latencies []float64
	for _, rec := range requests {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		out.Requests.TotalRequests++
		if rec.Status == "success" {
			out.Requests.SuccessfulRequests++
			latencies = append(latencies, rec.LatencyMs)
		} else {
			out.Requests.FailedRequests++
		}
	}
	if len(latencies) > 0 {
		ls := stats.Compute(latencies)
		out.Requests.AvgLatencyMs = ls.Mean
		out.Requests.MaxLatencyMs = ls.Max
	}
	out.Requests.RequestsPerHour = float64(out.Requests.TotalRequests) / float64(hours)

	return out
}

// CleanupOldLogs 按修改时间保留最新的maxLogFiles个监控日志，
// 删除其余文件，返回删除数量
func (m *Monitor) CleanupOldLogs() (int, error) {
	var files []string
	for _, pattern := range []string{"requests_*.jsonl", "system_*.jsonl"} {
		matches, err := filepath.Glob(filepath.Join(m.logDir, pattern))
		if err != nil {
			return 0, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "list monitor logs %s", pattern)
		}
		files = append(files, matches...)
	}
	if len(files) <= m.maxLogFiles {
		return 0, nil
	}

	type fileAge struct {
		path    string
		modTime time.Time
	}
	aged := make([]fileAge, 0, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		aged = append(aged, fileAge{path: path, modTime: info.ModTime()})
	}
	sort.Slice(aged, func(i, j int) bool {
		return aged[i].modTime.After(aged[j].modTime)
	})

	deleted := 0
	for _, fa := range aged[min(m.maxLogFiles, len(aged)):] {
		if err := os.Remove(fa.path); err != nil {
			m.logger.Warn("remove old monitor log failed", zap.String("file", fa.path), zap.Error(err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		m.logger.Info("cleaned up old monitor logs", zap.Int("deleted", deleted), zap.Int("kept", m.maxLogFiles))
	}
	return deleted, nil
}
