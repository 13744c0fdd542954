package storage

import (
	"context"
	"sort"
	"sync"
)

// MockUploader 测试用的内存上传器
type MockUploader struct {
	mu      sync.RWMutex
	objects map[string][]byte
	failErr error
}

// NewMockUploader 创建内存上传器
func NewMockUploader() *MockUploader {
	return &MockUploader{objects: make(map[string][]byte)}
}

// FailWith 让后续Upload调用返回指定错误，nil恢复正常
func (m *MockUploader) FailWith(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// Upload 实现Uploader接口
func (m *MockUploader) Upload(_ context.Context, objectName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[objectName] = buf
	return nil
}

// Object 读取一个已上传对象
func (m *MockUploader) Object(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[name]
	return data, ok
}

// ObjectNames 返回全部对象名，按字典序
func (m *MockUploader) ObjectNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close 实现Uploader接口
func (m *MockUploader) Close() error { return nil }
