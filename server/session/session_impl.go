package session

import (
	"sync"
	"time"

	"github.com/zhukovaskychina/xmysql-trx/server/innodb/trx"
)

// SessionImpl 会话实现
type SessionImpl struct {
	id           int64
	user         string
	trx          *trx.Session
	lastActivity time.Time
	attributes   map[string]interface{}
	mutex        sync.RWMutex
}

// NewSessionImpl 创建新的会话实例
func NewSessionImpl(id int64, user string, opts ...trx.SessionOption) *SessionImpl {
	return &SessionImpl{
		id:           id,
		user:         user,
		trx:          trx.NewSession(id, opts...),
		lastActivity: time.Now(),
		attributes:   make(map[string]interface{}),
	}
}

// ID 返回会话ID
func (s *SessionImpl) ID() int64 {
	return s.id
}

// User 返回用户名
func (s *SessionImpl) User() string {
	return s.user
}

// Trx 返回事务上下文
func (s *SessionImpl) Trx() *trx.Session {
	return s.trx
}

// LastActivity 返回最后活动时间，事务操作也算作活动
func (s *SessionImpl) LastActivity() time.Time {
	s.mutex.RLock()
	last := s.lastActivity
	s.mutex.RUnlock()
	if t := s.trx.LastActivity(); t.After(last) {
		return t
	}
	return last
}

// UpdateActivity 更新活动时间
func (s *SessionImpl) UpdateActivity() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActivity = time.Now()
}

// IsExpired 检查会话是否过期，正在执行语句的会话不会过期
func (s *SessionImpl) IsExpired(timeout time.Duration) bool {
	if s.trx.IsExecuting() {
		return false
	}
	return time.Since(s.LastActivity()) > timeout
}

// IsClosed 会话是否已关闭
func (s *SessionImpl) IsClosed() bool {
	return s.trx.IsClosed()
}

// GetAttribute 获取会话属性
func (s *SessionImpl) GetAttribute(key string) interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.attributes[key]
}

// SetAttribute 设置会话属性
func (s *SessionImpl) SetAttribute(key string, value interface{}) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.attributes[key] = value
	s.lastActivity = time.Now()
}
