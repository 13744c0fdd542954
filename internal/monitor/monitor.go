// Package monitor 提供常驻的请求与系统指标监控：
// 每条推理请求和每次系统采样都进入内存环形缓存，
// 同时按天追加到JSONL日志文件，供摘要接口离线聚合。
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"inferbench/config"
	apperrors "inferbench/internal/errors"
	"inferbench/internal/inference"
	"inferbench/internal/metrics"
)

// dateLayout 日志文件名中的日期格式
const dateLayout = "20060102"

// RequestRecord 单条推理请求的监控记录
type RequestRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Model           string    `json:"model"`
	PromptLength    int       `json:"prompt_length"`
	ResponseLength  int       `json:"response_length"`
	LatencyMs       float64   `json:"latency_ms"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	TokensPerSecond float64   `json:"tokens_per_second,omitempty"`
}

// SystemSnapshot 一次主机资源采样
type SystemSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryPercent     float64   `json:"memory_percent"`
	MemoryUsedGB      float64   `json:"memory_used_gb"`
	MemoryAvailableGB float64   `json:"memory_available_gb"`
	DiskPercent       float64   `json:"disk_usage_percent"`
	DiskUsedGB        float64   `json:"disk_used_gb"`
	DiskFreeGB        float64   `json:"disk_free_gb"`
	Load1             float64   `json:"load_1,omitempty"`
	Load5             float64   `json:"load_5,omitempty"`
	Load15            float64   `json:"load_15,omitempty"`
}

// Monitor 常驻监控器。与压测期间的sysmon.Sampler互不影响：
// 后者只覆盖单次测试的测量窗口，这里是整个进程生命周期。
type Monitor struct {
	logDir      string
	maxRequests int
	maxSystem   int
	maxLogFiles int
	interval    time.Duration
	logger      *zap.Logger
	readSystem  func() (SystemSnapshot, error)

	mu       sync.Mutex
	requests []RequestRecord
	system   []SystemSnapshot
	started  bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor 创建监控器，日志目录不存在时自动创建
func NewMonitor(cfg config.MonitorConfig, logger *zap.Logger) (*Monitor, error) {
	logDir := cfg.LogDir
	if logDir == "" {
		logDir = "data/monitor"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "create monitor log dir %s", logDir)
	}

	m := &Monitor{
		logDir:      logDir,
		maxRequests: cfg.RequestHistorySize,
		maxSystem:   cfg.SystemHistorySize,
		maxLogFiles: cfg.MaxLogFiles,
		interval:    cfg.SampleInterval(),
		logger:      logger,
		readSystem:  readSystemSnapshot,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	if m.maxRequests <= 0 {
		m.maxRequests = 1000
	}
	if m.maxSystem <= 0 {
		m.maxSystem = 288
	}
	if m.maxLogFiles <= 0 {
		m.maxLogFiles = 30
	}
	if m.interval <= 0 {
		m.interval = 5 * time.Minute
	}
	return m, nil
}

// RecordRequest 记录一次推理调用的结果
func (m *Monitor) RecordRequest(req inference.InferRequest, res *inference.InferResult) {
	rec := RequestRecord{
		Timestamp:       time.Now(),
		Model:           req.Model,
		PromptLength:    utf8.RuneCountInString(req.Prompt),
		ResponseLength:  res.ResponseLength,
		LatencyMs:       res.LatencyMs,
		Status:          string(res.Status),
		Error:           res.Error,
		TokensPerSecond: res.TokensPerSecond,
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	if len(m.requests) > m.maxRequests {
		m.requests = m.requests[len(m.requests)-m.maxRequests:]
	}
	m.mu.Unlock()

	m.appendLog("requests", rec)
}

// collect 采一次系统指标并记录。单次失败不致命。
func (m *Monitor) collect() {
	snap, err := m.readSystem()
	if err != nil {
		m.logger.Warn("system snapshot failed, skipping tick", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.system = append(m.system, snap)
	if len(m.system) > m.maxSystem {
		m.system = m.system[len(m.system)-m.maxSystem:]
	}
	m.mu.Unlock()

	metrics.SetSystemUsage(snap.CPUPercent, snap.MemoryPercent)
	m.appendLog("system", snap)
}

// appendLog 把一条记录追加到当天的JSONL文件，失败只告警
func (m *Monitor) appendLog(prefix string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("marshal monitor record failed", zap.Error(err))
		return
	}

	name := fmt.Sprintf("%s_%s.jsonl", prefix, time.Now().Format(dateLayout))
	f, err := os.OpenFile(filepath.Join(m.logDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		m.logger.Warn("open monitor log failed", zap.String("file", name), zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		m.logger.Warn("write monitor log failed", zap.String("file", name), zap.Error(err))
	}
}

// Start 启动后台系统采样，重复调用无效果
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	// CPU计数器先取一次基准
	_, _ = m.readSystem()

	go m.loop()
	m.logger.Info("performance monitor started", zap.Duration("interval", m.interval))
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

// Stop 停止后台采样并等待goroutine退出，多次调用安全
func (m *Monitor) Stop() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	m.stopOnce.Do(func() {
		close(m.stopCh)
		if started {
			<-m.doneCh
		}
		m.logger.Info("performance monitor stopped")
	})
}

// RecentRequests 返回最近limit条请求记录的拷贝
func (m *Monitor) RecentRequests(limit int) []RequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.requests)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]RequestRecord, limit)
	copy(out, m.requests[n-limit:])
	return out
}

// RecentSystem 返回最近limit条系统采样的拷贝
func (m *Monitor) RecentSystem(limit int) []SystemSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.system)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]SystemSnapshot, limit)
	copy(out, m.system[n-limit:])
	return out
}

// Current 最近一次系统采样，从未采样过时second返回false
func (m *Monitor) Current() (SystemSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.system) == 0 {
		return SystemSnapshot{}, false
	}
	return m.system[len(m.system)-1], true
}

// readSystemSnapshot 读取CPU、内存、磁盘与负载指标。
// 负载在不支持的平台上保持为0。
func readSystemSnapshot() (SystemSnapshot, error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return SystemSnapshot{}, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return SystemSnapshot{}, err
	}

	snap := SystemSnapshot{
		Timestamp:         time.Now(),
		MemoryPercent:     vm.UsedPercent,
		MemoryUsedGB:      float64(vm.Used) / 1024 / 1024 / 1024,
		MemoryAvailableGB: float64(vm.Available) / 1024 / 1024 / 1024,
	}
	if len(cpuPercents) > 0 {
		snap.CPUPercent = cpuPercents[0]
	}

	if du, err := disk.Usage("/"); err == nil {
		snap.DiskPercent = du.UsedPercent
		snap.DiskUsedGB = float64(du.Used) / 1024 / 1024 / 1024
		snap.DiskFreeGB = float64(du.Free) / 1024 / 1024 / 1024
	}
	if avg, err := load.Avg(); err == nil {
		snap.Load1 = avg.Load1
		snap.Load5 = avg.Load5
		snap.Load15 = avg.Load15
	}
	return snap, nil
}
