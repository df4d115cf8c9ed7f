package mode

import (
	"context"
	"log/slog"
	"sync"

	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/pkg/logger"
)

// ErrNotSelected 表示进程启动后还没有选择过模式。
// 支付路径的选取依赖模式，未选择时不允许发起任何雇佣流程。
var ErrNotSelected = xerrors.New(xerrors.CodeModeNotSelected, "请先选择应用模式")

// Selector 管理进程级的模式单例：同一时刻只有一个模式生效。
type Selector struct {
	mu       sync.RWMutex
	store    Store
	current  Name
	selected bool
	volatile bool
}

// NewSelector 构造 Selector 并尝试从存储恢复上次的选择。
// 存储不可用时降级为会话级的 Permissionless 默认值，不做持久化。
func NewSelector(ctx context.Context, store Store) *Selector {
	s := &Selector{store: store}
	if store == nil {
		s.current = Permissionless
		s.selected = true
		s.volatile = true
		return s
	}
	name, ok, err := store.Load(ctx)
	if err != nil {
		logger.L().Warn("模式存储不可用，使用会话级默认模式",
			slog.Any("error", err),
			slog.String("fallback", string(Permissionless)),
		)
		s.current = Permissionless
		s.selected = true
		s.volatile = true
		return s
	}
	if ok {
		s.current = name
		s.selected = true
	}
	return s
}

// Get 返回当前生效的模式。未选择时返回 ErrNotSelected。
func (s *Selector) Get() (Mode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.selected {
		return Mode{}, ErrNotSelected
	}
	m, ok := ByName(s.current)
	if !ok {
		return Mode{}, ErrNotSelected
	}
	return m, nil
}

// Selected 报告是否已经选择过模式。
func (s *Selector) Selected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Set 切换模式并持久化。模式变更只影响下一次运行。
func (s *Selector) Set(ctx context.Context, name Name) error {
	if _, ok := ByName(name); !ok {
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的模式: "+string(name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = name
	s.selected = true
	if s.volatile || s.store == nil {
		return nil
	}
	if err := s.store.Save(ctx, name); err != nil {
		logger.L().Warn("持久化模式失败", slog.Any("error", err), slog.String("mode", string(name)))
	}
	return nil
}

// Reset 清除模式选择，回到首次启动的状态。
func (s *Selector) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	s.selected = false
	if s.volatile || s.store == nil {
		return nil
	}
	if err := s.store.Clear(ctx); err != nil {
		logger.L().Warn("清除模式持久化失败", slog.Any("error", err))
	}
	return nil
}

// Close 释放底层存储。
func (s *Selector) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}
