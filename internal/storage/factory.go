package storage

import (
	"go.uber.org/zap"

	"inferbench/config"
	apperrors "inferbench/internal/errors"
)

// NewStore 按配置构建结果存储后端，归档开启时套上对象存储上传层
func NewStore(cfg config.StorageConfig, logger *zap.Logger) (ResultStore, error) {
	var store ResultStore
	var err error

	backend := cfg.Type
	if backend == "" {
		backend = "file"
	}

	switch backend {
	case "file":
		store, err = NewFileStore(cfg.ResultsDir, logger)
	case "redis":
		store, err = NewRedisStore(cfg.Redis, logger)
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidConfig,
			"unknown storage type %q (expected file or redis)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	store = newInstrumentedStore(store, backend)

	if cfg.Archive.Enabled {
		uploader, uerr := NewMinIOUploader(cfg.Archive.MinIO, logger)
		if uerr != nil {
			store.Close()
			return nil, uerr
		}
		store = newArchivingStore(store, &instrumentedUploader{inner: uploader}, cfg.Archive.Prefix, logger)
	}

	return store, nil
}
