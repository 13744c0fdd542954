package evaluation

import (
	"fmt"
	"time"

	"inferbench/internal/model"
)

// BuildReport 把逐样本结果聚合为评估报告。
// 准确性指标只统计有效结果（无错误且解析出评分），
// 平均响应时间统计全部样本，失败样本按其实际耗时计入。
func BuildReport(testID, datasetName, modelName string, results []model.TestResult) *model.EvaluationReport {
	report := &model.EvaluationReport{
		TestID:       testID,
		DatasetName:  datasetName,
		Model:        modelName,
		GeneratedAt:  time.Now(),
		TotalSamples: len(results),
		ScoreDist:    make(map[string]int),
		CategoryDist: make(map[string]int),
		Details:      results,
	}

	var (
		valid       int
		matches     int
		accuracySum float64
		elapsedSum  float64
	)
	for _, r := range results {
		if r.Error == "" {
			report.SuccessfulTests++
		}
		elapsedSum += r.ResponseTimeMs
		report.CategoryDist[r.ExpectedCat]++

		if !r.Valid() {
			continue
		}
		valid++
		accuracySum += r.ScoreAccuracy
		if r.CategoryMatch {
			matches++
		}
		bucket := int(*r.ModelScore)
		report.ScoreDist[fmt.Sprintf("%d-%d", bucket, bucket+1)]++
	}
	report.FailedTests = report.TotalSamples - report.SuccessfulTests

	if valid > 0 {
		report.AvgScoreAccuracy = accuracySum / float64(valid)
		report.CategoryAccuracy = float64(matches) / float64(valid)
	}
	if len(results) > 0 {
		report.AvgResponseTime = elapsedSum / float64(len(results))
	}
	return report
}
