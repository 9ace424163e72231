package trx

import (
	"github.com/zhukovaskychina/xmysql-trx/logger"
)

// purgeHorizon 最老的活跃快照，没有活跃事务时为当前SCN。
// 不晚于该值提交的动作对所有现在和将来的快照都可见。
func (m *txManagerCommon) purgeHorizon() int64 {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	horizon := m.scn.Load()
	m.snapshots.Scan(func(start int64, _ int) bool {
		if start < horizon {
			horizon = start
		}
		return false
	})
	return horizon
}

// Purge 压缩所有已知存储中的版本链，返回回收的动作数
func (m *txManagerCommon) Purge() int {
	horizon := m.purgeHorizon()
	total := 0
	for _, store := range m.registeredStores() {
		for _, tableID := range store.Tables() {
			store.Scan(tableID, func(row *Row) bool {
				total += m.compactRow(store, row, horizon)
				return true
			})
		}
	}
	if total > 0 {
		m.purged.Add(uint64(total))
		logger.Debugf("purge removed %d actions below scn %d", total, horizon)
	}
	return total
}

func (m *txManagerCommon) compactEntries(entries []actionEntry) {
	horizon := m.purgeHorizon()
	total := 0
	for _, e := range entries {
		if row, ok := e.store.Get(e.row); ok {
			total += m.compactRow(e.store, row, horizon)
		}
	}
	if total > 0 {
		m.purged.Add(uint64(total))
	}
}

// compactRow 找到不晚于horizon提交的最新动作，截断它之前的链。
// 如果它就是头动作: 插入则清空头动作成为基础行，删除则从存储中移除该行。
func (m *txManagerCommon) compactRow(store PersistentStore, row *Row, horizon int64) int {
	head := row.Action()
	if head == nil {
		return 0
	}

	var keep *RowAction
	for a := head; a != nil; a = a.Prev() {
		if a.IsRolledBack() {
			continue
		}
		if scn := a.CommitSCN(); scn != 0 && scn <= horizon {
			keep = a
			break
		}
	}
	if keep == nil {
		if head.IsRolledBack() && head.Prev() == nil && head.Type() == ACTION_INSERT {
			if store.Delete(row) {
				return 1
			}
		}
		return 0
	}

	removed := 0
	if prev := keep.Prev(); prev != nil {
		removed = prev.ChainLength()
		keep.prev.Store(nil)
	}
	if keep != head {
		return removed
	}

	switch keep.Type() {
	case ACTION_INSERT:
		if row.casAction(head, nil) {
			removed++
		}
	case ACTION_DELETE, ACTION_INSERT_DELETE:
		if store.Delete(row) {
			if row.Action() != head {
				// 删除期间有会话在该行上挂接了新动作，放回存储
				if existing, loaded := store.Put(row); loaded && existing != row {
					m.violations.Add(1)
					logger.Errorf("purge: position of %s taken by another row while restoring it, its new actions are orphaned",
						row.ID())
				}
			} else {
				removed++
			}
		}
	}
	return removed
}
