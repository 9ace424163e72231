package trx

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// actionEntry 会话动作列表中的一项
type actionEntry struct {
	action    *RowAction
	op        ActionType // 本次执行的操作: ACTION_INSERT 或 ACTION_DELETE
	row       RowID
	store     PersistentStore
	timestamp int64
}

// Savepoint 保存点，ActionIndex是会话动作列表中的边界
type Savepoint struct {
	Name        string
	ActionIndex int
	Timestamp   int64
}

// SessionOption 会话选项
type SessionOption func(*Session)

// WithLockTimeout 设置锁等待超时
func WithLockTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.lockTimeout = d
	}
}

// WithReadOnly 只读会话
func WithReadOnly(readOnly bool) SessionOption {
	return func(s *Session) {
		s.readOnly = readOnly
	}
}

// Session 会话的事务上下文。一个会话同一时刻只由一个执行线程使用，
// 事务管理器和管理性的ResetSession通过mu访问它。
type Session struct {
	mu sync.Mutex
	id int64

	startSCN        atomic.Int64
	actionTimestamp atomic.Int64
	inTransaction   atomic.Bool
	executing       atomic.Bool
	closed          atomic.Bool

	snapshotRead bool
	readOnly     bool
	lockTimeout  time.Duration

	actionIndex int
	actions     []actionEntry
	completed   []actionEntry
	savepoints  []Savepoint
	statement   *Statement
	abortCause  error

	results      map[string]interface{}
	tempTables   map[string]*Table
	lastActivity atomic.Int64
}

// NewSession 创建会话
func NewSession(id int64, opts ...SessionOption) *Session {
	s := &Session{
		id:          id,
		lockTimeout: -1,
		results:     make(map[string]interface{}),
		tempTables:  make(map[string]*Table),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.touch()
	return s
}

// ID 会话ID
func (s *Session) ID() int64 {
	return s.id
}

// StartSCN 事务开始时的系统变更号，即快照序号
func (s *Session) StartSCN() int64 {
	return s.startSCN.Load()
}

// ActionTimestamp 当前语句的时间戳
func (s *Session) ActionTimestamp() int64 {
	return s.actionTimestamp.Load()
}

// IsInTransaction 是否处于事务中
func (s *Session) IsInTransaction() bool {
	return s.inTransaction.Load()
}

// IsExecuting 是否正在执行语句
func (s *Session) IsExecuting() bool {
	return s.executing.Load()
}

// IsClosed 是否已关闭
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// IsReadOnly 是否只读
func (s *Session) IsReadOnly() bool {
	return s.readOnly
}

// SetReadOnly 设置只读，只能在事务之外修改
func (s *Session) SetReadOnly(readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsInTransaction() {
		return errors.New("cannot change read-only mode inside a transaction")
	}
	s.readOnly = readOnly
	return nil
}

// LockTimeout 锁等待超时，负数表示使用管理器的默认值
func (s *Session) LockTimeout() time.Duration {
	return s.lockTimeout
}

// SetLockTimeout 设置锁等待超时
func (s *Session) SetLockTimeout(d time.Duration) {
	s.mu.Lock()
	s.lockTimeout = d
	s.mu.Unlock()
}

// LastActivity 最后活跃时间
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// ActionCount 当前事务的动作数
func (s *Session) ActionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// Actions 当前事务的动作(按执行顺序)
func (s *Session) Actions() []*RowAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RowAction, len(s.actions))
	for i, e := range s.actions {
		out[i] = e.action
	}
	return out
}

// SetSavepoint 设置保存点并返回其在保存点栈中的下标。同名保存点会被替换。
func (s *Session) SetSavepoint(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sp := range s.savepoints {
		if sp.Name == name {
			s.savepoints = append(s.savepoints[:i], s.savepoints[i+1:]...)
			break
		}
	}
	s.savepoints = append(s.savepoints, Savepoint{
		Name:        name,
		ActionIndex: len(s.actions),
		Timestamp:   s.ActionTimestamp(),
	})
	return len(s.savepoints) - 1
}

// FindSavepoint 按名称查找保存点下标
func (s *Session) FindSavepoint(name string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.savepoints) - 1; i >= 0; i-- {
		if s.savepoints[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// ReleaseSavepoint 释放保存点及其之后的保存点，不回滚任何动作
func (s *Session) ReleaseSavepoint(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.savepoints) - 1; i >= 0; i-- {
		if s.savepoints[i].Name == name {
			s.savepoints = s.savepoints[:i]
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidSavepoint, "%q", name)
}

// Savepoints 保存点栈
func (s *Session) Savepoints() []Savepoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Savepoint(nil), s.savepoints...)
}

// SetResult 保存一个结果集
func (s *Session) SetResult(name string, result interface{}) {
	s.mu.Lock()
	s.results[name] = result
	s.mu.Unlock()
}

// Result 获取结果集
func (s *Session) Result(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[name]
	return r, ok
}

// ResultCount 结果集数量
func (s *Session) ResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// AddTempTable 注册会话临时表
func (s *Session) AddTempTable(t *Table) {
	s.mu.Lock()
	s.tempTables[t.Name] = t
	s.mu.Unlock()
}

// TempTableCount 临时表数量
func (s *Session) TempTableCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tempTables)
}

// takeAbortCause 取出管理性中止的原因，调用方持有mu
func (s *Session) takeAbortCause() error {
	err := s.abortCause
	s.abortCause = nil
	return err
}

// trimSavepoints 删除边界超出动作列表的保存点，调用方持有mu
func (s *Session) trimSavepoints() {
	for len(s.savepoints) > 0 && s.savepoints[len(s.savepoints)-1].ActionIndex > len(s.actions) {
		s.savepoints = s.savepoints[:len(s.savepoints)-1]
	}
}

// stores 当前事务用到的存储，调用方持有mu
func (s *Session) stores(entries []actionEntry) []PersistentStore {
	var out []PersistentStore
	seen := make(map[PersistentStore]bool)
	for _, e := range entries {
		if !seen[e.store] {
			seen[e.store] = true
			out = append(out, e.store)
		}
	}
	return out
}
