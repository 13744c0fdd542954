package stats

import (
	"math"
	"sort"
)

// LatencyStats 延迟统计结果，单位毫秒
type LatencyStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	Mean   float64 `json:"avg_ms"`
	Median float64 `json:"median_ms"`
	P95    float64 `json:"p95_ms"`
	P99    float64 `json:"p99_ms"`
	StdDev float64 `json:"std_dev_ms"`
}

// Compute 对一组延迟样本做统计归约。空输入返回全零结果，从不报错。
//
// 百分位采用最近秩法：升序排序后取下标 floor(p*n)，并截断到最后一个
// 有效下标；不做线性插值。测试中的期望值依赖这一取法。
func Compute(samples []float64) LatencyStats {
	n := len(samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	return LatencyStats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   Mean(sorted),
		Median: median(sorted),
		P95:    percentile(sorted, 0.95),
		P99:    percentile(sorted, 0.99),
		StdDev: stdDev(sorted),
	}
}

// Mean 算术平均值，空输入返回0
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// median 中位数，偶数个样本取中间两值的平均
func median(sorted []float64) float64 {
	n := len(sorted)
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// percentile 最近秩百分位，输入必须已升序排序
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	idx := int(math.Floor(p * float64(n)))
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// stdDev 样本标准差(n-1)，样本数不足2时返回0
func stdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// 延迟直方图的固定分桶边界（毫秒）
const (
	bucket100ms = 100
	bucket500ms = 500
	bucket1s    = 1000
	bucket5s    = 5000
)

// Histogram 按固定区间统计延迟分布
func Histogram(samples []float64) map[string]int {
	buckets := map[string]int{
		"0-100ms":   0,
		"100-500ms": 0,
		"500ms-1s":  0,
		"1s-5s":     0,
		"5s+":       0,
	}
	for _, ms := range samples {
		switch {
		case ms < bucket100ms:
			buckets["0-100ms"]++
		case ms < bucket500ms:
			buckets["100-500ms"]++
		case ms < bucket1s:
			buckets["500ms-1s"]++
		case ms < bucket5s:
			buckets["1s-5s"]++
		default:
			buckets["5s+"]++
		}
	}
	return buckets
}
