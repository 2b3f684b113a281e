package session

import (
	"sync"

	"psymed-emergency/internal/models"
)

// Reader 会话上下文的只读视图（注入给 Coordinator / Dispatcher 使用）
type Reader interface {
	// Snapshot 返回当前会话快照
	Snapshot() models.EmergencyContext
}

// Store 会话状态容器
// 持有外部认证协作方（Auth）推送的会话快照，替代源实现中的进程级单例
type Store struct {
	mu       sync.RWMutex
	current  models.EmergencyContext
	onChange []func(models.EmergencyContext)
}

// NewStore 创建会话状态容器（初始为未认证状态）
func NewStore() *Store {
	return &Store{
		current: models.EmergencyContext{Role: models.RoleUnknown},
	}
}

// Snapshot 返回当前会话快照
func (s *Store) Snapshot() models.EmergencyContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set 更新会话快照并通知监听者（认证、角色或档案变化时由 Auth 协作方调用）
func (s *Store) Set(ctx models.EmergencyContext) {
	s.mu.Lock()
	s.current = ctx
	listeners := make([]func(models.EmergencyContext), len(s.onChange))
	copy(listeners, s.onChange)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx)
	}
}

// Clear 清除会话（登出）
func (s *Store) Clear() {
	s.Set(models.EmergencyContext{Role: models.RoleUnknown})
}

// OnChange 注册会话变化监听（用于重新评估摇晃检测的启停条件）
func (s *Store) OnChange(fn func(models.EmergencyContext)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}
