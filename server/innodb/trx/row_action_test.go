package trx

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAction(kind ActionType, sessionID, scn int64, prev *RowAction) *RowAction {
	a := &RowAction{sessionID: sessionID, row: RowID{TableID: 1, Position: 1}}
	a.kind.Store(int32(kind))
	a.commitSCN.Store(scn)
	a.prev.Store(prev)
	return a
}

func snapshotSession(id, start int64) *Session {
	s := NewSession(id)
	s.startSCN.Store(start)
	s.snapshotRead = true
	s.inTransaction.Store(true)
	return s
}

func TestCanReadChain(t *testing.T) {
	t.Run("空链和基础行", func(t *testing.T) {
		assert.True(t, canReadChain(nil, snapshotSession(1, 10), PurposeRead))
	})

	t.Run("快照之后提交的删除不可见", func(t *testing.T) {
		ins := newTestAction(ACTION_INSERT, 2, 5, nil)
		del := newTestAction(ACTION_DELETE, 3, 12, ins)

		assert.True(t, canReadChain(del, snapshotSession(1, 10), PurposeRead))
		assert.False(t, canReadChain(del, snapshotSession(1, 12), PurposeRead))
		assert.False(t, canReadChain(del, snapshotSession(1, 20), PurposeRead))
	})

	t.Run("两阶段锁读取最新提交", func(t *testing.T) {
		ins := newTestAction(ACTION_INSERT, 2, 5, nil)
		del := newTestAction(ACTION_DELETE, 3, 12, ins)
		s := snapshotSession(1, 10)
		s.snapshotRead = false
		assert.False(t, canReadChain(del, s, PurposeRead))
	})

	t.Run("快照之后提交的插入不可见", func(t *testing.T) {
		ins := newTestAction(ACTION_INSERT, 2, 15, nil)
		assert.False(t, canReadChain(ins, snapshotSession(1, 10), PurposeRead))
		assert.True(t, canReadChain(ins, snapshotSession(1, 15), PurposeRead))
	})

	t.Run("未提交的动作只对自己生效", func(t *testing.T) {
		ins := newTestAction(ACTION_INSERT, 2, 5, nil)
		del := newTestAction(ACTION_DELETE, 1, 0, ins)

		assert.False(t, canReadChain(del, snapshotSession(1, 10), PurposeRead))
		assert.True(t, canReadChain(del, snapshotSession(3, 10), PurposeRead))

		pending := newTestAction(ACTION_INSERT, 1, 0, nil)
		assert.True(t, canReadChain(pending, snapshotSession(1, 10), PurposeRead))
		assert.False(t, canReadChain(pending, snapshotSession(3, 10), PurposeRead))
	})

	t.Run("唯一性检查看到其他会话未提交的插入", func(t *testing.T) {
		pending := newTestAction(ACTION_INSERT, 2, 0, nil)
		s := snapshotSession(1, 10)
		assert.False(t, canReadChain(pending, s, PurposeRead))
		assert.True(t, canReadChain(pending, s, PurposeDuplicate))
	})

	t.Run("唯一性检查不受快照限制", func(t *testing.T) {
		ins := newTestAction(ACTION_INSERT, 2, 15, nil)
		assert.True(t, canReadChain(ins, snapshotSession(1, 10), PurposeDuplicate))
		assert.True(t, canReadChain(ins, snapshotSession(1, 10), PurposeReference))
	})

	t.Run("已回滚的动作被跳过", func(t *testing.T) {
		ins := newTestAction(ACTION_INSERT, 2, 5, nil)
		del := newTestAction(ACTION_DELETE, 3, 0, ins)
		del.rolledBack.Store(true)
		assert.True(t, canReadChain(del, snapshotSession(1, 10), PurposeRead))

		lone := newTestAction(ACTION_INSERT, 3, 0, nil)
		lone.rolledBack.Store(true)
		assert.False(t, canReadChain(lone, snapshotSession(3, 10), PurposeRead))
	})

	t.Run("插入后删除对任何会话都不可见", func(t *testing.T) {
		a := newTestAction(ACTION_INSERT_DELETE, 1, 0, nil)
		assert.False(t, canReadChain(a, snapshotSession(1, 10), PurposeRead))
		assert.False(t, canReadChain(a, snapshotSession(2, 10), PurposeRead))
	})
}

func TestAttachActions(t *testing.T) {
	t.Run("同一会话删除自己的插入原地升级", func(t *testing.T) {
		s := snapshotSession(1, 10)
		row := NewRow(1, 1, nil)
		ins, err := attachInsert(row, s, nil)
		require.NoError(t, err)

		del, err := attachDelete(row, s, false, nil)
		require.NoError(t, err)
		assert.Same(t, ins, del)
		assert.Equal(t, ACTION_INSERT_DELETE, del.Type())
		assert.Equal(t, 1, row.Action().ChainLength())

		_, err = attachDelete(row, s, false, nil)
		assert.True(t, errors.Is(err, ErrRowNotFound))
	})

	t.Run("其他会话未提交的头动作", func(t *testing.T) {
		row := NewRow(1, 1, nil)
		row.action.Store(newTestAction(ACTION_INSERT, 2, 0, nil))

		_, err := attachDelete(row, snapshotSession(1, 10), true, nil)
		assert.True(t, errors.Is(err, ErrWriteConflict))

		_, err = attachInsert(row, snapshotSession(1, 10), nil)
		assert.True(t, errors.Is(err, ErrDuplicatePosition))
	})

	t.Run("快照之后的提交", func(t *testing.T) {
		row := NewRow(1, 1, nil)
		row.action.Store(newTestAction(ACTION_INSERT, 2, 15, newTestAction(ACTION_DELETE, 2, 12, newTestAction(ACTION_INSERT, 2, 5, nil))))

		// 快照中该行已删除，最新提交晚于快照
		_, err := attachDelete(row, snapshotSession(1, 13), true, nil)
		assert.True(t, errors.Is(err, ErrWriteConflict))

		// 快照中可见但已被覆盖: 立即报告或推迟到提交前
		_, err = attachDelete(row, snapshotSession(1, 10), false, nil)
		assert.True(t, errors.Is(err, ErrWriteConflict))

		s := snapshotSession(1, 10)
		a, err := attachDelete(row, s, true, nil)
		require.NoError(t, err)
		scn, newer := hasNewerCommit(a, s.StartSCN())
		assert.True(t, newer)
		assert.Equal(t, int64(15), scn)
	})

	t.Run("已提交删除的行", func(t *testing.T) {
		row := NewRow(1, 1, nil)
		row.action.Store(newTestAction(ACTION_DELETE, 2, 5, newTestAction(ACTION_INSERT, 2, 3, nil)))

		_, err := attachDelete(row, snapshotSession(1, 10), false, nil)
		assert.True(t, errors.Is(err, ErrRowNotFound))

		a, err := attachInsert(row, snapshotSession(1, 10), nil)
		require.NoError(t, err)
		assert.Equal(t, 3, a.ChainLength())
	})

	t.Run("摘除动作", func(t *testing.T) {
		s := snapshotSession(1, 10)
		base := newTestAction(ACTION_INSERT, 2, 5, nil)
		row := NewRow(1, 1, nil)
		row.action.Store(base)

		del, err := attachDelete(row, s, false, nil)
		require.NoError(t, err)
		assert.True(t, detachAction(row, del))
		assert.True(t, del.IsRolledBack())
		assert.Same(t, base, row.Action())
		assert.False(t, detachAction(row, del))
	})
}
