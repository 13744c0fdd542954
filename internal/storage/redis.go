package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"inferbench/config"
	apperrors "inferbench/internal/errors"
	"inferbench/internal/model"
)

const (
	resultKeyPrefix = "inferbench:result:"
	resultIndexKey  = "inferbench:results:index"
	reportKeyPrefix = "inferbench:evaluation:"
)

// RedisStore Redis结果存储。结果按键值保存，
// 另维护一个以开始时间为score的有序索引用于全量遍历。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore 连接Redis并做一次连通性探测
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "connect redis %s", cfg.Addr)
	}

	logger.Info("redis result store ready", zap.String("addr", cfg.Addr))
	return &RedisStore{client: client, ttl: cfg.TTL(), logger: logger}, nil
}

// Save 写入结果并更新时间索引
func (s *RedisStore) Save(ctx context.Context, result *model.QPSTestResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "marshal result %s", result.TestID)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, resultKeyPrefix+result.TestID, data, s.ttl)
	pipe.ZAdd(ctx, resultIndexKey, &redis.Z{
		Score:  float64(result.StartTime.Unix()),
		Member: result.TestID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "save result %s", result.TestID)
	}

	s.logger.Info("test result saved", zap.String("test_id", result.TestID))
	return nil
}

// Load 按test_id读取结果
func (s *RedisStore) Load(ctx context.Context, testID string) (*model.QPSTestResult, error) {
	data, err := s.client.Get(ctx, resultKeyPrefix+testID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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

// LoadAll 按索引倒序读取全部结果。
// 已过期的记录从索引中顺手清掉。
func (s *RedisStore) LoadAll(ctx context.Context) ([]*model.QPSTestResult, error) {
	ids, err := s.client.ZRevRange(ctx, resultIndexKey, 0, -1).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageFailure, "read result index")
	}

	results := make([]*model.QPSTestResult, 0, len(ids))
	for _, id := range ids {
		result, err := s.Load(ctx, id)
		if err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeTestNotFound) {
				s.client.ZRem(ctx, resultIndexKey, id)
				continue
			}
			s.logger.Warn("skipping unreadable result", zap.String("test_id", id), zap.Error(err))
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// SaveReport 写入评估报告
func (s *RedisStore) SaveReport(ctx context.Context, report *model.EvaluationReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "marshal report %s", report.TestID)
	}
	if err := s.client.Set(ctx, reportKeyPrefix+report.TestID, data, s.ttl).Err(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "save report %s", report.TestID)
	}

	s.logger.Info("evaluation report saved", zap.String("test_id", report.TestID))
	return nil
}

// Ping 探测Redis连通性
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageFailure, "redis ping failed")
	}
	return nil
}

// Close 关闭Redis连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
