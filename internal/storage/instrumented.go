package storage

import (
	"context"

	"inferbench/internal/metrics"
	"inferbench/internal/model"
)

// instrumentedStore 给结果存储套上Prometheus操作指标
type instrumentedStore struct {
	inner   ResultStore
	backend string
}

func newInstrumentedStore(inner ResultStore, backend string) *instrumentedStore {
	return &instrumentedStore{inner: inner, backend: backend}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (s *instrumentedStore) Save(ctx context.Context, result *model.QPSTestResult) error {
	m := metrics.NewStorageMetrics(s.backend, "save_result")
	err := s.inner.Save(ctx, result)
	m.Finish(statusLabel(err))
	return err
}

func (s *instrumentedStore) Load(ctx context.Context, testID string) (*model.QPSTestResult, error) {
	m := metrics.NewStorageMetrics(s.backend, "load_result")
	result, err := s.inner.Load(ctx, testID)
	m.Finish(statusLabel(err))
	return result, err
}

func (s *instrumentedStore) LoadAll(ctx context.Context) ([]*model.QPSTestResult, error) {
	m := metrics.NewStorageMetrics(s.backend, "load_all")
	results, err := s.inner.LoadAll(ctx)
	m.Finish(statusLabel(err))
	return results, err
}

func (s *instrumentedStore) SaveReport(ctx context.Context, report *model.EvaluationReport) error {
	m := metrics.NewStorageMetrics(s.backend, "save_report")
	err := s.inner.SaveReport(ctx, report)
	m.Finish(statusLabel(err))
	return err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

func (s *instrumentedStore) Close() error {
	return s.inner.Close()
}

// instrumentedUploader 给归档上传套上Prometheus操作指标
type instrumentedUploader struct {
	inner Uploader
}

func (u *instrumentedUploader) Upload(ctx context.Context, objectName string, data []byte) error {
	m := metrics.NewStorageMetrics("minio", "archive_upload")
	err := u.inner.Upload(ctx, objectName, data)
	m.Finish(statusLabel(err))
	return err
}

func (u *instrumentedUploader) Close() error {
	return u.inner.Close()
}
