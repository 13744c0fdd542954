package storage

import (
	"context"
	"encoding/json"
	"path"

	"go.uber.org/zap"

	"inferbench/internal/model"
)

// Uploader 结果归档用的对象存储接口
type Uploader interface {
	// Upload 上传一个对象，已存在时覆盖
	Upload(ctx context.Context, objectName string, data []byte) error

	// Close 释放连接资源
	Close() error
}

// archivingStore 在内层存储之上附加对象存储归档。
// 归档是尽力而为的：上传失败只告警，不影响主存储结果。
type archivingStore struct {
	ResultStore
	uploader Uploader
	prefix   string
	logger   *zap.Logger
}

func newArchivingStore(inner ResultStore, uploader Uploader, prefix string, logger *zap.Logger) *archivingStore {
	return &archivingStore{
		ResultStore: inner,
		uploader:    uploader,
		prefix:      prefix,
		logger:      logger,
	}
}

func (s *archivingStore) Save(ctx context.Context, result *model.QPSTestResult) error {
	if err := s.ResultStore.Save(ctx, result); err != nil {
		return err
	}
	s.archive(ctx, path.Join(s.prefix, "qps", result.TestID+".json"), result)
	return nil
}

func (s *archivingStore) SaveReport(ctx context.Context, report *model.EvaluationReport) error {
	if err := s.ResultStore.SaveReport(ctx, report); err != nil {
		return err
	}
	s.archive(ctx, path.Join(s.prefix, "evaluations", reportObjectName(report)), report)
	return nil
}

func (s *archivingStore) archive(ctx context.Context, objectName string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("archive marshal failed", zap.String("object", objectName), zap.Error(err))
		return
	}
	if err := s.uploader.Upload(ctx, objectName, data); err != nil {
		s.logger.Warn("archive upload failed", zap.String("object", objectName), zap.Error(err))
		return
	}
	s.logger.Debug("result archived", zap.String("object", objectName))
}

func (s *archivingStore) Close() error {
	if err := s.uploader.Close(); err != nil {
		s.logger.Warn("archive uploader close failed", zap.Error(err))
	}
	return s.ResultStore.Close()
}
