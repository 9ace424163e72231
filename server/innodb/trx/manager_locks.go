package trx

import (
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/lock"
)

// txManagerLocks 严格两阶段锁: 读加S锁，写加X锁，锁持有到事务结束，读取最新的已提交版本
type txManagerLocks struct {
	*txManagerCommon
}

// BeginAction 读表加IS锁，写表加IX锁，排他语句加X锁
func (m *txManagerLocks) BeginAction(s *Session, st *Statement) error {
	if err := m.startAction(s, st); err != nil {
		return err
	}
	return m.lockStatement(s, st, true)
}

func (m *txManagerLocks) BeginActionResume(s *Session) error {
	st, err := m.resumeAction(s)
	if err != nil {
		return err
	}
	return m.lockStatement(s, st, true)
}

func (m *txManagerLocks) AddInsertAction(s *Session, table *Table, store PersistentStore, row *Row, changedColumns []int) error {
	if err := m.lockForWrite(s, table, row); err != nil {
		return err
	}
	return m.addInsert(s, table, store, row, changedColumns)
}

func (m *txManagerLocks) AddDeleteAction(s *Session, table *Table, store PersistentStore, row *Row, changedColumns []int) (*RowAction, error) {
	if err := m.lockForWrite(s, table, row); err != nil {
		return nil, err
	}
	return m.addDelete(s, table, store, row, false, changedColumns)
}

// CanReadRow 普通读先加S锁，等待持有X锁的会话结束
func (m *txManagerLocks) CanReadRow(s *Session, store PersistentStore, row *Row, purpose Purpose) (bool, error) {
	if purpose == PurposeRead {
		if err := m.BeginTransaction(s); err != nil {
			return false, err
		}
		if err := m.lockRow(s, row.ID(), lock.LOCK_S); err != nil {
			m.abandonLocks(s)
			return false, err
		}
		if err := m.checkLocked(s); err != nil {
			return false, err
		}
	}
	return m.readRow(s, store, row, purpose)
}

// PrepareCommitActions 冲突已经由锁阻止
func (m *txManagerLocks) PrepareCommitActions(s *Session) bool {
	return true
}

func (m *txManagerLocks) CommitTransaction(s *Session) error {
	return m.commit(s, false)
}
