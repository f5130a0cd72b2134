package studio

import (
	"context"
	"sync"
	"time"

	"magic-studio-go/src/core/utils"

	"github.com/google/uuid"
)

// SessionManager 管理内存中的会话，过期会话由 Run 定期清理
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	newSession func(id string) *Session
	ttl        time.Duration
	logger     *utils.Logger

	// 会话数量变化和会话移除时的回调
	OnCountChange func(count int)
	OnRemove      func(id string)
}

// NewSessionManager 创建会话管理器
func NewSessionManager(ttl time.Duration, logger *utils.Logger, newSession func(id string) *Session) *SessionManager {
	return &SessionManager{
		sessions:   make(map[string]*Session),
		newSession: newSession,
		ttl:        ttl,
		logger:     logger,
	}
}

// Get 查找会话
func (m *SessionManager) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Create 新建会话
func (m *SessionManager) Create() *Session {
	id := uuid.New().String()
	s := m.newSession(id)

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Debug("创建新会话", map[string]interface{}{"session_id": id, "count": count})
	m.countChanged(count)
	return s
}

// Count 当前会话数量
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Remove 移除并关闭会话
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	if m.OnRemove != nil {
		m.OnRemove(id)
	}
	m.countChanged(count)
}

// Sweep 清理空闲超过 ttl 的会话，返回清理数量
func (m *SessionManager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}

	m.mu.RLock()
	expired := make([]string, 0)
	for id, s := range m.sessions {
		if s.idleSince(now) > m.ttl {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.Remove(id)
	}
	if len(expired) > 0 {
		m.logger.Info("清理过期会话", map[string]interface{}{"expired": len(expired), "remaining": m.Count()})
	}
	return len(expired)
}

// Run 定期清理，直到 ctx 结束
func (m *SessionManager) Run(ctx context.Context) error {
	interval := m.ttl / 4
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return nil
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

func (m *SessionManager) closeAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.countChanged(0)
}

func (m *SessionManager) countChanged(count int) {
	if m.OnCountChange != nil {
		m.OnCountChange(count)
	}
}
