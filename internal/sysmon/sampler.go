package sysmon

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Sample 一次主机资源采样
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsedMB  float64   `json:"memory_used_mb"`
}

// CPUSummary CPU使用率汇总
type CPUSummary struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
	Min float64 `json:"min"`
}

// MemorySummary 内存使用汇总
type MemorySummary struct {
	AvgPercent float64 `json:"avg_percent"`
	MaxPercent float64 `json:"max_percent"`
	MinPercent float64 `json:"min_percent"`
	AvgUsedMB  float64 `json:"avg_used_mb"`
	MaxUsedMB  float64 `json:"max_used_mb"`
}

// Summary 采样周期的资源使用汇总
type Summary struct {
	SampleCount int           `json:"samples_count"`
	CPU         CPUSummary    `json:"cpu"`
	Memory      MemorySummary `json:"memory"`
}

// readFunc 读取一次系统指标，可在测试中替换
type readFunc func() (Sample, error)

// Sampler 后台资源采样器。Start启动采样goroutine，Stop停止并返回汇总。
// 独立于压测worker运行；单次采样失败跳过该次，不中断采样循环。
type Sampler struct {
	interval time.Duration
	logger   *zap.Logger
	read     readFunc

	mu      sync.Mutex
	samples []Sample
	started bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	summary  Summary
}

// NewSampler 创建采样器，interval<=0时使用1秒
func NewSampler(interval time.Duration, logger *zap.Logger) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		interval: interval,
		logger:   logger,
		read:     readSystemMetrics,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start 启动后台采样。重复调用无效果。
func (s *Sampler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	// 先读一次让CPU计数器有基准，首个tick的读数才有意义
	_, _ = s.read()

	go s.loop()
}

func (s *Sampler) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			sample, err := s.read()
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("system sample failed, skipping tick", zap.Error(err))
				}
				continue
			}
			s.mu.Lock()
			s.samples = append(s.samples, sample)
			s.mu.Unlock()
		}
	}
}

// Stop 停止采样并返回汇总。等待采样goroutine退出后才读取缓冲，
// 保证不会读到写入中的状态。多次调用返回同一份汇总。
func (s *Sampler) Stop() Summary {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopCh)
		if started {
			<-s.doneCh
		}
		s.mu.Lock()
		s.summary = summarize(s.samples)
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// summarize 对采样缓冲做min/avg/max归约
func summarize(samples []Sample) Summary {
	if len(samples) == 0 {
		return Summary{}
	}

	first := samples[0]
	sum := Summary{
		SampleCount: len(samples),
		CPU:         CPUSummary{Min: first.CPUPercent, Max: first.CPUPercent},
		Memory: MemorySummary{
			MinPercent: first.MemoryPercent,
			MaxPercent: first.MemoryPercent,
			MaxUsedMB:  first.MemoryUsedMB,
		},
	}

	var cpuTotal, memPctTotal, memUsedTotal float64
	for _, smp := range samples {
		cpuTotal += smp.CPUPercent
		memPctTotal += smp.MemoryPercent
		memUsedTotal += smp.MemoryUsedMB

		if smp.CPUPercent > sum.CPU.Max {
			sum.CPU.Max = smp.CPUPercent
		}
		if smp.CPUPercent < sum.CPU.Min {
			sum.CPU.Min = smp.CPUPercent
		}
		if smp.MemoryPercent > sum.Memory.MaxPercent {
			sum.Memory.MaxPercent = smp.MemoryPercent
		}
		if smp.MemoryPercent < sum.Memory.MinPercent {
			sum.Memory.MinPercent = smp.MemoryPercent
		}
		if smp.MemoryUsedMB > sum.Memory.MaxUsedMB {
			sum.Memory.MaxUsedMB = smp.MemoryUsedMB
		}
	}

	n := float64(len(samples))
	sum.CPU.Avg = cpuTotal / n
	sum.Memory.AvgPercent = memPctTotal / n
	sum.Memory.AvgUsedMB = memUsedTotal / n
	return sum
}

// readSystemMetrics 读取当前CPU与内存指标
func readSystemMetrics() (Sample, error) {
	// interval=0 表示相对上次调用的增量，不阻塞
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return Sample{}, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, err
	}

	sample := Sample{
		Timestamp:     time.Now(),
		MemoryPercent: vm.UsedPercent,
		MemoryUsedMB:  float64(vm.Used) / 1024 / 1024,
	}
	if len(cpuPercents) > 0 {
		sample.CPUPercent = cpuPercents[0]
	}
	return sample, nil
}

// ReadOnce 读取一次即时系统指标，供状态接口使用
func ReadOnce() (Sample, error) {
	return readSystemMetrics()
}
