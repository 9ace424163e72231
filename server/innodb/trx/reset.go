package trx

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-trx/logger"
)

// ResetSession 管理性重置。target为nil时重置s自身；s为nil表示系统发起(例如会话过期)。
// statementTimestamp非0时，rollback和statement两种模式只在target仍在执行该语句时生效。
func (m *txManagerCommon) ResetSession(s, target *Session, statementTimestamp int64, mode ResetMode) error {
	if target == nil {
		target = s
	}
	if target == nil {
		return errors.New("reset session: no target session")
	}
	requester := int64(-1)
	if s != nil {
		requester = s.ID()
	}

	target.mu.Lock()
	defer target.mu.Unlock()

	if target.IsClosed() && mode != ResetClose {
		return errors.Wrapf(ErrSessionClosed, "session %d", target.ID())
	}
	stale := statementTimestamp != 0 &&
		(target.ActionTimestamp() != statementTimestamp || !target.IsExecuting())

	switch mode {
	case ResetResults:
		target.results = make(map[string]interface{})

	case ResetTables:
		target.tempTables = make(map[string]*Table)

	case ResetAll:
		m.rollbackLocked(target)
		target.results = make(map[string]interface{})
		target.tempTables = make(map[string]*Table)
		target.abortCause = nil

	case ResetRollback:
		if stale {
			return nil
		}
		active := target.IsInTransaction()
		m.rollbackLocked(target)
		if active && requester != target.ID() {
			target.abortCause = errors.Wrapf(ErrTransactionAborted, "session %d rolled back by session %d",
				target.ID(), requester)
		}

	case ResetStatement:
		if stale {
			return nil
		}
		m.undoLocked(target, target.actionIndex, target.ActionTimestamp())
		target.executing.Store(false)

	case ResetClose:
		if target.IsClosed() {
			return nil
		}
		m.rollbackLocked(target)
		target.results = make(map[string]interface{})
		target.tempTables = make(map[string]*Table)
		target.completed = nil
		target.abortCause = nil
		target.closed.Store(true)

	default:
		return errors.Errorf("unknown reset mode %d", int(mode))
	}

	logger.Debugf("session %d reset session %d, mode %s", requester, target.ID(), mode)
	return nil
}
