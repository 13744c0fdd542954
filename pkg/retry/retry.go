package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"
)

// Config 重试配置
type Config struct {
	MaxAttempts     int           // 最大尝试次数（含首次）
	InitialInterval time.Duration // 初始重试间隔
	MaxInterval     time.Duration // 最大重试间隔
	Multiplier      float64       // 退避倍数
	MaxJitter       time.Duration // 最大抖动时间
}

// DefaultConfig 默认重试配置，对应推理后端的瞬时故障（429/5xx、连接抖动）
var DefaultConfig = Config{
	MaxAttempts:     3,
	InitialInterval: 300 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2.0,
	MaxJitter:       100 * time.Millisecond,
}

// RetryableError 可重试的错误
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError 创建可重试错误
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// IsRetryable 检查错误是否可重试
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// Func 可重试的函数类型
type Func func(ctx context.Context) error

// Do 执行重试逻辑。operation 仅用于日志
func Do(ctx context.Context, config Config, operation string, fn Func) error {
	var lastErr error
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Printf("Operation %s succeeded after %d attempts", operation, attempt)
			}
			return nil
		}

		lastErr = err

		// 不可重试的错误直接返回
		if !IsRetryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// 最后一次尝试失败后不再等待
		if attempt < config.MaxAttempts {
			log.Printf("Retrying %s (attempt %d/%d) after %v: %v", operation, attempt, config.MaxAttempts, interval, err)

			select {
			case <-time.After(withJitter(interval, config.MaxJitter)):
				interval = nextInterval(interval, config)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %s: %w", config.MaxAttempts, operation, lastErr)
}

// nextInterval 计算下一次退避间隔（指数退避，封顶）
func nextInterval(current time.Duration, config Config) time.Duration {
	next := time.Duration(float64(current) * config.Multiplier)
	if next > config.MaxInterval {
		next = config.MaxInterval
	}
	return next
}

// withJitter 在间隔上叠加随机抖动，避免重试风暴对齐
func withJitter(interval, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return interval
	}
	return interval + time.Duration(rand.Int63n(int64(maxJitter)))
}
