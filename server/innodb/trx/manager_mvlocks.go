package trx

// txManagerMVLocks 多版本 + 行锁: 写加X锁，读取开始时的快照不加锁。
// 被快照之后的提交修改过的行在挂接删除时就报告写冲突。
type txManagerMVLocks struct {
	*txManagerCommon
}

// BeginAction 只对修改的表加意向锁
func (m *txManagerMVLocks) BeginAction(s *Session, st *Statement) error {
	if err := m.startAction(s, st); err != nil {
		return err
	}
	return m.lockStatement(s, st, false)
}

func (m *txManagerMVLocks) BeginActionResume(s *Session) error {
	st, err := m.resumeAction(s)
	if err != nil {
		return err
	}
	return m.lockStatement(s, st, false)
}

func (m *txManagerMVLocks) AddInsertAction(s *Session, table *Table, store PersistentStore, row *Row, changedColumns []int) error {
	if err := m.lockForWrite(s, table, row); err != nil {
		return err
	}
	return m.addInsert(s, table, store, row, changedColumns)
}

func (m *txManagerMVLocks) AddDeleteAction(s *Session, table *Table, store PersistentStore, row *Row, changedColumns []int) (*RowAction, error) {
	if err := m.lockForWrite(s, table, row); err != nil {
		return nil, err
	}
	return m.addDelete(s, table, store, row, false, changedColumns)
}

func (m *txManagerMVLocks) CanReadRow(s *Session, store PersistentStore, row *Row, purpose Purpose) (bool, error) {
	return m.readRow(s, store, row, purpose)
}

func (m *txManagerMVLocks) PrepareCommitActions(s *Session) bool {
	return true
}

func (m *txManagerMVLocks) CommitTransaction(s *Session) error {
	return m.commit(s, false)
}
