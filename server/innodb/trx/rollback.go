package trx

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-trx/logger"
)

// Rollback 回滚整个事务，重复调用没有副作用
func (m *txManagerCommon) Rollback(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.rollbackLocked(s)
}

func (m *txManagerCommon) rollbackLocked(s *Session) {
	wasActive := s.IsInTransaction()
	entries := s.actions
	stores := s.stores(entries)
	undone := m.undoLocked(s, 0, 0)
	m.endTransactionLocked(s)

	m.releaseLocks(s)
	for _, st := range stores {
		st.ReleaseTouched(s.ID())
	}
	if wasActive {
		m.rollbacks.Add(1)
		logger.WithSession(s.ID()).Debugf("rolled back %d actions", undone)
	}
}

// RollbackAction 回滚当前语句的动作，事务继续
func (m *txManagerCommon) RollbackAction(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.undoLocked(s, s.actionIndex, s.ActionTimestamp())
	s.executing.Store(false)
}

// RollbackSavepoint 回滚到保存点，保存点本身保留
func (m *txManagerCommon) RollbackSavepoint(s *Session, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.savepoints) {
		return errors.Wrapf(ErrInvalidSavepoint, "index %d of %d", index, len(s.savepoints))
	}
	sp := s.savepoints[index]
	m.undoLocked(s, sp.ActionIndex, 0)
	s.savepoints = s.savepoints[:index+1]
	if s.actionIndex > len(s.actions) {
		s.actionIndex = len(s.actions)
	}
	logger.Debugf("session %d rolled back to savepoint %s", s.ID(), sp.Name)
	return nil
}

// RollbackPartial 回滚从start开始、时间戳不早于timestamp的动作
func (m *txManagerCommon) RollbackPartial(s *Session, start int, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.undoLocked(s, start, timestamp)
}

// undoLocked 倒序撤销从start开始、时间戳不早于timestamp的动作，保留其余动作的原有顺序。
// 调用方持有s.mu，返回撤销的动作数。
func (m *txManagerCommon) undoLocked(s *Session, start int, timestamp int64) int {
	if start < 0 {
		start = 0
	}
	if start >= len(s.actions) {
		return 0
	}

	undone := 0
	for i := len(s.actions) - 1; i >= start; i-- {
		if e := s.actions[i]; e.timestamp >= timestamp {
			m.undoEntry(s, e)
			undone++
		}
	}

	kept := s.actions[:start]
	for i := start; i < len(s.actions); i++ {
		if e := s.actions[i]; e.timestamp < timestamp {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(s.actions); i++ {
		s.actions[i] = actionEntry{}
	}
	s.actions = kept
	s.trimSavepoints()
	if s.actionIndex > len(s.actions) {
		s.actionIndex = len(s.actions)
	}
	return undone
}

func (m *txManagerCommon) undoEntry(s *Session, e actionEntry) {
	a := e.action
	if a.IsCommitted() {
		m.violations.Add(1)
		logger.Errorf("session %d: cannot undo committed %s on %s", s.ID(), a.Type(), e.row)
		return
	}

	// 删除自己未提交的插入时动作被原地升级，撤销删除只需恢复类型
	if e.op == ACTION_DELETE && a.kind.CompareAndSwap(int32(ACTION_INSERT_DELETE), int32(ACTION_INSERT)) {
		return
	}
	if a.IsRolledBack() {
		return
	}

	row, ok := e.store.Get(e.row)
	if !ok {
		a.rolledBack.Store(true)
		return
	}
	if a.Type() == ACTION_INSERT && a.Prev() == nil {
		// 新位置上的插入: 位置直接释放，动作留在行上使残留引用不可见
		a.rolledBack.Store(true)
		if row.Action() == a {
			e.store.Delete(row)
		}
		return
	}
	if !detachAction(row, a) {
		logger.Debugf("session %d: %s on %s was not the head when rolled back", s.ID(), a.Type(), e.row)
	}
}
