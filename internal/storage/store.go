// Package storage 提供测试结果与评估报告的持久化
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"inferbench/internal/model"
)

// ResultStore 结果存储接口。实现必须可被多个goroutine并发调用。
type ResultStore interface {
	// Save 持久化一条压测结果，以test_id为键
	Save(ctx context.Context, result *model.QPSTestResult) error

	// Load 按test_id读取结果，不存在返回ErrCodeTestNotFound
	Load(ctx context.Context, testID string) (*model.QPSTestResult, error)

	// LoadAll 读取全部已持久化的结果，损坏的记录跳过
	LoadAll(ctx context.Context) ([]*model.QPSTestResult, error)

	// SaveReport 持久化一份数据集评估报告
	SaveReport(ctx context.Context, report *model.EvaluationReport) error

	// Ping 探测存储可用性，供健康检查使用
	Ping(ctx context.Context) error

	// Close 释放底层资源
	Close() error
}

// reportObjectName 评估报告的存储名，模型名里的冒号替换为下划线
func reportObjectName(report *model.EvaluationReport) string {
	modelName := strings.ReplaceAll(report.Model, ":", "_")
	timestamp := report.GeneratedAt.Format("20060102_150405")
	if report.GeneratedAt.IsZero() {
		timestamp = time.Now().Format("20060102_150405")
	}
	return fmt.Sprintf("%s_%s_%s_evaluation.json", report.DatasetName, modelName, timestamp)
}
