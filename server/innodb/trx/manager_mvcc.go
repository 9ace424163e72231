package trx

// txManagerMVCC 纯乐观多版本: 不加锁，任何操作都不会因冲突而等待。
// 遇到其他会话未提交的头动作立即失败，与快照之后提交的冲突在提交前校验。
type txManagerMVCC struct {
	*txManagerCommon
}

func (m *txManagerMVCC) BeginAction(s *Session, st *Statement) error {
	return m.startAction(s, st)
}

func (m *txManagerMVCC) BeginActionResume(s *Session) error {
	_, err := m.resumeAction(s)
	return err
}

func (m *txManagerMVCC) AddInsertAction(s *Session, table *Table, store PersistentStore, row *Row, changedColumns []int) error {
	return m.addInsert(s, table, store, row, changedColumns)
}

func (m *txManagerMVCC) AddDeleteAction(s *Session, table *Table, store PersistentStore, row *Row, changedColumns []int) (*RowAction, error) {
	return m.addDelete(s, table, store, row, true, changedColumns)
}

func (m *txManagerMVCC) CanReadRow(s *Session, store PersistentStore, row *Row, purpose Purpose) (bool, error) {
	return m.readRow(s, store, row, purpose)
}

// PrepareCommitActions 检查每个动作之前是否有晚于快照的提交
func (m *txManagerMVCC) PrepareCommitActions(s *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.validateLocked(s, true) == nil
}

func (m *txManagerMVCC) CommitTransaction(s *Session) error {
	return m.commit(s, true)
}
