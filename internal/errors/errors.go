package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 定义错误代码
type ErrorCode string

const (
	// 通用错误
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// 测试生命周期错误
	ErrCodeInvalidConfig      ErrorCode = "INVALID_TEST_CONFIG"
	ErrCodeTestAlreadyRunning ErrorCode = "TEST_ALREADY_RUNNING"
	ErrCodeTestNotFound       ErrorCode = "TEST_NOT_FOUND"
	ErrCodeTestNotRunning     ErrorCode = "TEST_NOT_RUNNING"

	// 推理后端错误
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeModelNotFound      ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeInferenceFailure   ErrorCode = "INFERENCE_FAILURE"

	// 数据集错误
	ErrCodeDatasetNotFound ErrorCode = "DATASET_NOT_FOUND"
	ErrCodeDatasetInvalid  ErrorCode = "DATASET_INVALID"

	// 存储错误
	ErrCodeStorageFailure ErrorCode = "STORAGE_FAILURE"

	// 安全错误
	ErrCodeTokenInvalid ErrorCode = "TOKEN_INVALID"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
)

// AppError 应用错误结构
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	Cause      error     `json:"-"`
	HTTPStatus int       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持错误链
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: getDefaultHTTPStatus(code),
	}
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装现有错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保持原有的code
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    message,
			Details:    appErr.Message,
			Cause:      appErr.Cause,
			HTTPStatus: appErr.HTTPStatus,
		}
	}

	return &AppError{
		Code:       code,
		Message:    message,
		Details:    err.Error(),
		Cause:      err,
		HTTPStatus: getDefaultHTTPStatus(code),
	}
}

// Wrapf 包装现有错误（格式化消息）
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithHTTPStatus 设置HTTP状态码
func (e *AppError) WithHTTPStatus(status int) *AppError {
	e.HTTPStatus = status
	return e
}

// IsAppError 检查是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode 检查错误是否携带指定错误码
func IsCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// getDefaultHTTPStatus 获取默认HTTP状态码
func getDefaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodeDatasetInvalid, ErrCodeTestNotRunning:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, ErrCodeTokenInvalid, ErrCodeTokenExpired:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound, ErrCodeTestNotFound, ErrCodeModelNotFound, ErrCodeDatasetNotFound:
		return http.StatusNotFound
	case ErrCodeTestAlreadyRunning:
		return http.StatusConflict
	case ErrCodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
