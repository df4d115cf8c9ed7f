package mode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store 抽象模式选择的持久化。实现只需要保存一个字符串。
type Store interface {
	Load(ctx context.Context) (Name, bool, error)
	Save(ctx context.Context, name Name) error
	Clear(ctx context.Context) error
	Close() error
}

// FileStore 将模式写入数据目录下的单个文件，进程重启后仍然有效。
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore 创建基于本地文件的模式存储。
func NewFileStore(dataDir string) (*FileStore, error) {
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	return &FileStore{path: filepath.Join(dataDir, StorageKey)}, nil
}

// Load 读取持久化的模式。文件不存在或内容非法时视为未选择。
func (s *FileStore) Load(_ context.Context) (Name, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("读取模式文件失败: %w", err)
	}
	name, ok := Parse(string(content))
	if !ok {
		return "", false, nil
	}
	return name, true, nil
}

// Save 持久化模式选择。
func (s *FileStore) Save(_ context.Context, name Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path, []byte(name), 0o644); err != nil {
		return fmt.Errorf("写入模式文件失败: %w", err)
	}
	return nil
}

// Clear 删除持久化的模式选择。
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除模式文件失败: %w", err)
	}
	return nil
}

// Close 实现 Store 接口。
func (s *FileStore) Close() error { return nil }

// MemoryStore 仅在内存中保存模式，主要用于测试。
type MemoryStore struct {
	mu       sync.Mutex
	name     Name
	selected bool
}

// NewMemoryStore 创建内存模式存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load 实现 Store 接口。
func (s *MemoryStore) Load(_ context.Context) (Name, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.selected, nil
}

// Save 实现 Store 接口。
func (s *MemoryStore) Save(_ context.Context, name Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.selected = true
	return nil
}

// Clear 实现 Store 接口。
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = ""
	s.selected = false
	return nil
}

// Close 实现 Store 接口。
func (s *MemoryStore) Close() error { return nil }
