package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-trx/logger"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/trx"
)

var (
	ErrTooManySessions = errors.New("too many active sessions")
	ErrSessionNotFound = errors.New("session not found")
)

// SessionManager 会话管理器接口
type SessionManager interface {
	CreateSession(user string, opts ...trx.SessionOption) (Session, error)
	GetSession(sessionID int64) (Session, bool)
	CloseSession(sessionID int64) error
	GetActiveSessions() []Session
	CleanupExpiredSessions() int
	Close()
}

// Session 会话接口
type Session interface {
	ID() int64
	User() string
	Trx() *trx.Session
	LastActivity() time.Time
	UpdateActivity()
	IsExpired(timeout time.Duration) bool
	IsClosed() bool
	GetAttribute(key string) interface{}
	SetAttribute(key string, value interface{})
}

// SessionManagerImpl 会话管理器实现
type SessionManagerImpl struct {
	tm             trx.TransactionManager
	sessions       map[int64]Session
	mutex          sync.RWMutex
	nextID         int64
	maxSessions    int
	sessionTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSessionManager 创建会话管理器，cleanupInterval大于0时启动清理协程
func NewSessionManager(tm trx.TransactionManager, maxSessions int, sessionTimeout, cleanupInterval time.Duration) *SessionManagerImpl {
	mgr := &SessionManagerImpl{
		tm:             tm,
		sessions:       make(map[int64]Session),
		maxSessions:    maxSessions,
		sessionTimeout: sessionTimeout,
		done:           make(chan struct{}),
	}

	if cleanupInterval > 0 {
		mgr.wg.Add(1)
		go mgr.cleanupRoutine(cleanupInterval)
	}

	return mgr
}

// CreateSession 创建新会话
func (sm *SessionManagerImpl) CreateSession(user string, opts ...trx.SessionOption) (Session, error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	// 检查会话数量限制
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return nil, errors.Wrapf(ErrTooManySessions, "limit %d", sm.maxSessions)
	}

	id := atomic.AddInt64(&sm.nextID, 1)
	session := NewSessionImpl(id, user, opts...)
	sm.sessions[id] = session
	logger.Debugf("创建会话 %d, user=%s", id, user)

	return session, nil
}

// GetSession 根据ID获取会话
func (sm *SessionManagerImpl) GetSession(sessionID int64) (Session, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// CloseSession 回滚并关闭会话
func (sm *SessionManagerImpl) CloseSession(sessionID int64) error {
	sm.mutex.Lock()
	session, exists := sm.sessions[sessionID]
	if exists {
		delete(sm.sessions, sessionID)
	}
	sm.mutex.Unlock()

	if !exists {
		return errors.Wrapf(ErrSessionNotFound, "session %d", sessionID)
	}
	return sm.closeTrx(session)
}

func (sm *SessionManagerImpl) closeTrx(session Session) error {
	if err := sm.tm.ResetSession(nil, session.Trx(), 0, trx.ResetClose); err != nil {
		return errors.Wrapf(err, "failed to close session %d", session.ID())
	}
	return nil
}

// GetActiveSessions 获取所有活跃会话，按ID排序
func (sm *SessionManagerImpl) GetActiveSessions() []Session {
	sm.mutex.RLock()
	sessions := make([]Session, 0, len(sm.sessions))
	for _, session := range sm.sessions {
		sessions = append(sessions, session)
	}
	sm.mutex.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID() < sessions[j].ID() })
	return sessions
}

// CleanupExpiredSessions 清理过期会话，返回清理的数量
func (sm *SessionManagerImpl) CleanupExpiredSessions() int {
	sm.mutex.Lock()
	expiredSessions := make([]Session, 0)
	for sessionID, session := range sm.sessions {
		if session.IsClosed() || session.IsExpired(sm.sessionTimeout) {
			expiredSessions = append(expiredSessions, session)
			delete(sm.sessions, sessionID)
		}
	}
	sm.mutex.Unlock()

	for _, session := range expiredSessions {
		if err := sm.closeTrx(session); err != nil {
			logger.Warnf("关闭过期会话失败: %v", err)
			continue
		}
		logger.Infof("会话 %d 空闲超时，已关闭", session.ID())
	}
	return len(expiredSessions)
}

// Close 停止清理协程并关闭所有会话
func (sm *SessionManagerImpl) Close() {
	sm.closeOnce.Do(func() {
		close(sm.done)
	})
	sm.wg.Wait()

	for _, session := range sm.GetActiveSessions() {
		if err := sm.CloseSession(session.ID()); err != nil && !errors.Is(err, ErrSessionNotFound) {
			logger.Warnf("关闭会话失败: %v", err)
		}
	}
}

// cleanupRoutine 清理协程
func (sm *SessionManagerImpl) cleanupRoutine(interval time.Duration) {
	defer sm.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			return
		case <-ticker.C:
			sm.CleanupExpiredSessions()
		}
	}
}
