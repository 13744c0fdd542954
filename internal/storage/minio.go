package storage

import (
	"bytes"
	"context"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"inferbench/config"
	apperrors "inferbench/internal/errors"
)

// MinIOUploader 把归档对象写入MinIO/S3兼容存储
type MinIOUploader struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinIOUploader 创建归档上传器，bucket不存在时自动创建
func NewMinIOUploader(cfg config.MinIOConfig, logger *zap.Logger) (*MinIOUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "create minio client for %s", cfg.Endpoint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "check bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "create bucket %s", cfg.Bucket)
		}
		logger.Info("archive bucket created", zap.String("bucket", cfg.Bucket))
	}

	logger.Info("minio archive uploader ready",
		zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
	return &MinIOUploader{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Upload 上传一个JSON对象
func (u *MinIOUploader) Upload(ctx context.Context, objectName string, data []byte) error {
	_, err := u.client.PutObject(ctx, u.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "upload object %s", objectName)
	}
	return nil
}

// Close MinIO客户端无需显式关闭
func (u *MinIOUploader) Close() error { return nil }
