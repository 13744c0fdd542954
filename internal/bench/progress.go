package bench

import (
	"sync"
	"time"

	"inferbench/internal/metrics"
	"inferbench/internal/model"
)

// progressTracker 并发安全的进度状态。worker侧写入，轮询侧读快照。
// 百分比只增不减，乱序到达的更新不会让进度回退。
type progressTracker struct {
	mu sync.RWMutex
	p  model.TestProgress
}

func newProgressTracker(id string, kind model.TestType, name, modelName string) *progressTracker {
	now := time.Now()
	return &progressTracker{
		p: model.TestProgress{
			TestID:    id,
			TestType:  kind,
			TestName:  name,
			Model:     modelName,
			Status:    model.StatusStarting,
			StartTime: now,
			UpdatedAt: now,
		},
	}
}

// set 更新状态和百分比。percent低于当前值时只更新状态。
func (t *progressTracker) set(status model.Status, percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Status = status
	if percent > t.p.Percent {
		t.p.Percent = percent
	}
	t.p.UpdatedAt = time.Now()
	metrics.SetTestProgress(t.p.Percent)
}

// setStatus 只更新状态，保持百分比不变
func (t *progressTracker) setStatus(status model.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Status = status
	t.p.UpdatedAt = time.Now()
}

// fail 置为失败并记录原因，百分比保持
func (t *progressTracker) fail(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Status = model.StatusFailed
	t.p.Error = msg
	t.p.UpdatedAt = time.Now()
}

// sampleProgress 数据集评估的逐样本进度，百分比按样本数折算
func (t *progressTracker) sampleProgress(current, total int, sampleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.CurrentSample = current
	t.p.TotalSamples = total
	t.p.CurrentSampleID = sampleID
	if total > 0 {
		percent := float64(current) / float64(total) * 100
		if percent > t.p.Percent {
			t.p.Percent = percent
		}
	}
	t.p.UpdatedAt = time.Now()
	metrics.SetTestProgress(t.p.Percent)
}

// snapshot 返回进度的拷贝
func (t *progressTracker) snapshot() model.TestProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.p
}
