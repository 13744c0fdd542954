package stats

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// 空输入返回全零，不允许panic
func TestComputeEmpty(t *testing.T) {
	s := Compute(nil)

	assert.Equal(t, 0, s.Count)
	assert.Zero(t, s.Min)
	assert.Zero(t, s.Max)
	assert.Zero(t, s.Mean)
	assert.Zero(t, s.Median)
	assert.Zero(t, s.P95)
	assert.Zero(t, s.P99)
	assert.Zero(t, s.StdDev)
}

func TestComputeSingleSample(t *testing.T) {
	s := Compute([]float64{10})

	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.Equal(t, 10.0, s.Mean)
	assert.Equal(t, 10.0, s.Median)
	assert.Equal(t, 10.0, s.P95)
	assert.Equal(t, 10.0, s.P99)
	// 样本数不足2，标准差为0
	assert.Zero(t, s.StdDev)
}

// 最近秩取法：floor(p*n)，已排序数组1..100的p95是下标95的值96
func TestComputeNearestRankPercentiles(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i + 1)
	}
	rand.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})

	s := Compute(samples)

	assert.Equal(t, 96.0, s.P95)
	assert.Equal(t, 100.0, s.P99)
	assert.Equal(t, 50.5, s.Median)
	assert.Equal(t, 50.5, s.Mean)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
}

func TestComputeMedianOddCount(t *testing.T) {
	s := Compute([]float64{5, 1, 3})
	assert.Equal(t, 3.0, s.Median)
}

func TestComputeStdDev(t *testing.T) {
	// 样本标准差: sqrt(32/7)
	s := Compute([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 2.13809, s.StdDev, 1e-4)
	assert.Equal(t, 5.0, s.Mean)
}

// 任意非空样本集都要满足的排序关系
func TestComputeOrderingInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		n := 1 + r.Intn(500)
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = r.Float64() * 10000
		}

		s := Compute(samples)

		assert.LessOrEqual(t, s.Min, s.Median)
		assert.LessOrEqual(t, s.Median, s.P95)
		assert.LessOrEqual(t, s.P95, s.P99)
		assert.LessOrEqual(t, s.P99, s.Max)
		assert.LessOrEqual(t, s.Min, s.Mean)
		assert.LessOrEqual(t, s.Mean, s.Max)
	}
}

func TestMean(t *testing.T) {
	assert.Zero(t, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
}

func TestHistogram(t *testing.T) {
	h := Histogram([]float64{50, 99.9, 100, 150, 600, 999, 1500, 4999, 6000})

	assert.Equal(t, 2, h["0-100ms"])
	assert.Equal(t, 2, h["100-500ms"])
	assert.Equal(t, 2, h["500ms-1s"])
	assert.Equal(t, 2, h["1s-5s"])
	assert.Equal(t, 1, h["5s+"])
}

func TestHistogramEmpty(t *testing.T) {
	h := Histogram(nil)
	// 所有桶都存在且为0
	assert.Len(t, h, 5)
	for k, v := range h {
		assert.Zero(t, v, k)
	}
}
