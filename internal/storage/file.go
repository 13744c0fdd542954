package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "inferbench/internal/errors"
	"inferbench/internal/model"
)

// FileStore 文件型结果存储：每条压测结果一个JSON文件。
// 压测结果在qps子目录，评估报告在evaluations子目录。
type FileStore struct {
	resultsDir string
	reportsDir string
	logger     *zap.Logger
}

// NewFileStore 创建文件存储，目录不存在时自动创建
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	resultsDir := filepath.Join(root, "qps")
	reportsDir := filepath.Join(root, "evaluations")
	for _, dir := range []string{resultsDir, reportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "create results dir %s", dir)
		}
	}
	return &FileStore{
		resultsDir: resultsDir,
		reportsDir: reportsDir,
		logger:     logger,
	}, nil
}

// Save 把结果写入 <resultsDir>/<test_id>.json
func (s *FileStore) Save(_ context.Context, result *model.QPSTestResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "marshal result %s", result.TestID)
	}

	path := filepath.Join(s.resultsDir, result.TestID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "write result %s", result.TestID)
	}

	s.logger.Info("test result saved", zap.String("test_id", result.TestID), zap.String("path", path))
	return nil
}

// Load 按test_id读取结果文件
func (s *FileStore) Load(_ context.Context, testID string) (*model.QPSTestResult, error) {
	path := filepath.Join(s.resultsDir, testID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrCodeTestNotFound, "test result %q not found", testID)
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "read result %s", testID)
	}

	var result model.QPSTestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "parse result %s", testID)
	}
	return &result, nil
}

// LoadAll 读取目录下全部结果，无法解析的文件告警后跳过
func (s *FileStore) LoadAll(_ context.Context) ([]*model.QPSTestResult, error) {
	entries, err := os.ReadDir(s.resultsDir)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "list results dir %s", s.resultsDir)
	}

	results := make([]*model.QPSTestResult, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.resultsDir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable result file",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		var result model.QPSTestResult
		if err := json.Unmarshal(data, &result); err != nil || result.TestID == "" {
			s.logger.Warn("skipping malformed result file",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		results = append(results, &result)
	}
	return results, nil
}

// SaveReport 把评估报告写入evaluations子目录
func (s *FileStore) SaveReport(_ context.Context, report *model.EvaluationReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "marshal report %s", report.TestID)
	}

	path := filepath.Join(s.reportsDir, reportObjectName(report))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "write report %s", report.TestID)
	}

	s.logger.Info("evaluation report saved", zap.String("path", path))
	return nil
}

// Ping 确认结果目录仍然可访问
func (s *FileStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.resultsDir); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "results dir %s unavailable", s.resultsDir)
	}
	return nil
}

// Close 文件存储无需释放资源
func (s *FileStore) Close() error { return nil }
