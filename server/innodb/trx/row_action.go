package trx

import (
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
)

// RowAction 一个会话在一行上做的一次插入或删除。
// prev 指向同一行上更早的动作，构成从新到旧的版本链。
type RowAction struct {
	kind           atomic.Int32
	sessionID      int64
	row            RowID
	timestamp      int64 // 挂接时会话的语句时间戳
	changedColumns []int

	commitSCN  atomic.Int64 // 0表示未提交
	rolledBack atomic.Bool
	prev       atomic.Pointer[RowAction]
}

func newRowAction(kind ActionType, s *Session, row *Row, prev *RowAction, changedColumns []int) *RowAction {
	a := &RowAction{
		sessionID:      s.ID(),
		row:            row.ID(),
		timestamp:      s.ActionTimestamp(),
		changedColumns: changedColumns,
	}
	a.kind.Store(int32(kind))
	a.prev.Store(prev)
	return a
}

// Type 动作类型
func (a *RowAction) Type() ActionType {
	return ActionType(a.kind.Load())
}

// SessionID 所属会话
func (a *RowAction) SessionID() int64 {
	return a.sessionID
}

// RowID 所属行
func (a *RowAction) RowID() RowID {
	return a.row
}

// Timestamp 创建时间戳
func (a *RowAction) Timestamp() int64 {
	return a.timestamp
}

// ChangedColumns 更新涉及的列
func (a *RowAction) ChangedColumns() []int {
	return a.changedColumns
}

// CommitSCN 提交序号，未提交为0
func (a *RowAction) CommitSCN() int64 {
	return a.commitSCN.Load()
}

// IsCommitted 是否已提交
func (a *RowAction) IsCommitted() bool {
	return a.commitSCN.Load() != 0
}

// IsRolledBack 是否已回滚
func (a *RowAction) IsRolledBack() bool {
	return a.rolledBack.Load()
}

// Prev 前一个动作
func (a *RowAction) Prev() *RowAction {
	return a.prev.Load()
}

// ChainLength 版本链长度
func (a *RowAction) ChainLength() int {
	n := 0
	for cur := a; cur != nil; cur = cur.Prev() {
		n++
	}
	return n
}

// CanRead 判断以a为头的版本链所代表的行对会话s是否可读
func (a *RowAction) CanRead(s *Session, purpose Purpose) bool {
	return canReadChain(a, s, purpose)
}

// canReadChain 从头开始找到第一个对s生效的动作: 自己未提交的动作，或者允许看到的已提交动作。
// 插入表示可读，删除表示不可读。链表遍历完仍未找到时，最老的动作是插入则行还不存在。
func canReadChain(head *RowAction, s *Session, purpose Purpose) bool {
	sessionID := int64(-1)
	snapshot := int64(math.MaxInt64)
	if s != nil {
		sessionID = s.ID()
		if purpose == PurposeRead && s.snapshotRead && s.IsInTransaction() {
			snapshot = s.StartSCN()
		}
	}

	var last *RowAction
	for a := head; a != nil; a = a.Prev() {
		last = a
		if a.IsRolledBack() {
			continue
		}
		kind := a.Type()
		scn := a.CommitSCN()
		switch {
		case scn == 0 && a.sessionID == sessionID:
			return kind == ACTION_INSERT
		case scn != 0:
			if scn <= snapshot {
				return kind == ACTION_INSERT
			}
		case purpose == PurposeDuplicate && kind == ACTION_INSERT:
			// 其他会话未提交的插入同样占用该位置
			return true
		}
	}
	if last == nil {
		return true
	}
	kind := last.Type()
	return kind != ACTION_INSERT && kind != ACTION_INSERT_DELETE
}

// latestCommitted 链上最新的已提交动作
func latestCommitted(head *RowAction) *RowAction {
	for a := head; a != nil; a = a.Prev() {
		if a.IsCommitted() {
			return a
		}
	}
	return nil
}

// isUncommittedHead 头动作是未提交的
func isUncommittedHead(head *RowAction) bool {
	return head != nil && !head.IsCommitted() && !head.IsRolledBack()
}

// attachInsert 在行上挂接插入动作
func attachInsert(row *Row, s *Session, changedColumns []int) (*RowAction, error) {
	for {
		head := row.Action()
		if head != nil {
			if isUncommittedHead(head) {
				if head.SessionID() == s.ID() && head.Type() == ACTION_DELETE {
					// 每个会话在一行上最多一个未提交动作，重新插入要用新的位置
					return nil, errors.Wrapf(ErrDuplicatePosition, "%s was deleted by session %d in this transaction",
						row.ID(), s.ID())
				}
				return nil, errors.Wrapf(ErrDuplicatePosition, "%s has uncommitted %s of session %d",
					row.ID(), head.Type(), head.SessionID())
			}
			if head.CanRead(s, PurposeDuplicate) {
				return nil, errors.Wrapf(ErrDuplicatePosition, "%s is live", row.ID())
			}
		}

		a := newRowAction(ACTION_INSERT, s, row, head, changedColumns)
		if row.casAction(head, a) {
			return a, nil
		}
	}
}

// attachDelete 在行上挂接删除动作。
// deferConflict为true时，被快照之后提交的动作覆盖的行仍允许挂接，冲突留到提交前校验。
func attachDelete(row *Row, s *Session, deferConflict bool, changedColumns []int) (*RowAction, error) {
	for {
		head := row.Action()
		if isUncommittedHead(head) {
			if head.SessionID() != s.ID() {
				return nil, errors.Wrapf(ErrWriteConflict, "%s has uncommitted %s of session %d",
					row.ID(), head.Type(), head.SessionID())
			}
			if head.Type() == ACTION_INSERT {
				// 删除自己未提交的插入，原地升级，保证每个会话在一行上最多一个未提交动作
				if head.kind.CompareAndSwap(int32(ACTION_INSERT), int32(ACTION_INSERT_DELETE)) {
					return head, nil
				}
				continue
			}
			return nil, errors.Wrapf(ErrRowNotFound, "%s already deleted by session %d", row.ID(), s.ID())
		}

		if !canReadChain(head, s, PurposeRead) {
			if c := latestCommitted(head); s.snapshotRead && c != nil && c.CommitSCN() > s.StartSCN() {
				return nil, errors.Wrapf(ErrWriteConflict, "%s changed by commit %d after snapshot %d",
					row.ID(), c.CommitSCN(), s.StartSCN())
			}
			return nil, errors.Wrapf(ErrRowNotFound, "%s", row.ID())
		}

		if head != nil && s.snapshotRead && !deferConflict && head.CommitSCN() > s.StartSCN() {
			return nil, errors.Wrapf(ErrWriteConflict, "%s changed by commit %d after snapshot %d",
				row.ID(), head.CommitSCN(), s.StartSCN())
		}

		a := newRowAction(ACTION_DELETE, s, row, head, changedColumns)
		if row.casAction(head, a) {
			return a, nil
		}
	}
}

// detachAction 把未提交的动作标记为已回滚并尝试从链头摘除。
// 标记先于摘除，读者在两步之间会跳过该动作；摘除失败时它留在链中，由清理回收。
func detachAction(row *Row, a *RowAction) bool {
	a.rolledBack.Store(true)
	return row.casAction(a, a.Prev())
}

// hasNewerCommit 在a之前的链上是否有晚于snapshot提交的动作
func hasNewerCommit(a *RowAction, snapshot int64) (int64, bool) {
	for p := a.Prev(); p != nil; p = p.Prev() {
		scn := p.CommitSCN()
		if scn == 0 {
			continue
		}
		if scn > snapshot {
			return scn, true
		}
		return 0, false
	}
	return 0, false
}
