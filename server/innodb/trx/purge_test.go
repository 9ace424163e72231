package trx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestPurge_KeepsVersionsVisibleToActiveSnapshots(t *testing.T) {
	m := newTestManager(t, MVCC)
	store := NewMemStore("purge")
	r := insertCommitted(t, m, store, 100, 1, 1)

	reader := NewSession(9)
	require.NoError(t, m.BeginTransaction(reader))

	s1 := NewSession(1)
	require.NoError(t, m.BeginAction(s1, writeStmt()))
	r2, err := updateRow(m, s1, store, r, 2)
	require.NoError(t, err)
	require.NoError(t, m.CommitTransaction(s1))

	m.Purge()
	_, stored := store.Get(r.ID())
	assert.True(t, stored, "old version is still visible to the reader")
	assert.True(t, canRead(t, m, reader, store, r))
	assert.False(t, canRead(t, m, reader, store, r2))
	assert.Equal(t, 2, r.Action().ChainLength())

	m.Rollback(reader)
	removed := m.Purge()
	assert.Equal(t, 3, removed)
	_, stored = store.Get(r.ID())
	assert.False(t, stored)
	assert.Nil(t, r2.Action(), "committed insert becomes a base row")

	fresh := NewSession(10)
	assert.True(t, canRead(t, m, fresh, store, r2))
	assert.Equal(t, uint64(3), m.Stats().PurgedActions)
}

func TestPurge_TruncatesShadowedChain(t *testing.T) {
	m := newTestManager(t, MVCC)
	store := NewMemStore("purge")

	s1 := NewSession(1)
	require.NoError(t, m.BeginAction(s1, writeStmt()))
	row := newAccountRow(store, 1, 1)
	require.NoError(t, m.AddInsertAction(s1, testTable, store, row, nil))
	require.NoError(t, m.CommitTransaction(s1))

	// 删除后在同一行对象上重新插入
	require.NoError(t, m.BeginAction(s1, writeStmt()))
	_, err := m.AddDeleteAction(s1, testTable, store, row, nil)
	require.NoError(t, err)
	require.NoError(t, m.CommitTransaction(s1))

	reader := NewSession(9)
	require.NoError(t, m.BeginTransaction(reader))

	require.NoError(t, m.BeginAction(s1, writeStmt()))
	require.NoError(t, m.AddInsertAction(s1, testTable, store, row, nil))
	require.NoError(t, m.CommitTransaction(s1))
	require.Equal(t, 3, row.Action().ChainLength())

	// reader的快照停在删除之后: 删除之前的插入可以截断
	assert.Equal(t, 1, m.Purge())
	assert.Equal(t, 2, row.Action().ChainLength())
	assert.False(t, canRead(t, m, reader, store, row))

	m.Rollback(reader)
	assert.Equal(t, 2, m.Purge())
	assert.Nil(t, row.Action())
}

func TestCompleteActions_CompactsInBackground(t *testing.T) {
	m := newTestManager(t, MVCC)
	store := NewMemStore("purge")

	s := NewSession(1)
	require.NoError(t, m.BeginAction(s, writeStmt()))
	row := newAccountRow(store, 1, 1)
	require.NoError(t, m.AddInsertAction(s, testTable, store, row, nil))
	require.NoError(t, m.CommitTransaction(s))
	m.CompleteActions(s)

	require.Eventually(t, func() bool {
		return row.Action() == nil
	}, time.Second, 5*time.Millisecond)
}

func TestCompleteActions_ConfirmsLockRelease(t *testing.T) {
	m := newTestManager(t, LOCKS)
	store := NewMemStore("purge")
	r := insertCommitted(t, m, store, 100, 1, 1)

	s := NewSession(1, WithLockTimeout(0))
	require.NoError(t, m.BeginAction(s, writeStmt()))
	_, err := m.AddDeleteAction(s, testTable, store, r, nil)
	require.NoError(t, err)
	require.NoError(t, m.CommitTransaction(s))
	m.CompleteActions(s)
	assert.Equal(t, uint64(0), m.Stats().Locks.GrantedLocks)
}

func TestCompactRow_RestoreAfterConcurrentAttach(t *testing.T) {
	// deletedRow 返回一个头动作是已提交删除的行
	deletedRow := func(m TransactionManager) *Row {
		store := NewMemStore("purge")
		r := insertCommitted(t, m, store, 100, 1, 1)
		s := NewSession(1)
		require.NoError(t, m.BeginAction(s, writeStmt()))
		_, err := m.AddDeleteAction(s, testTable, store, r, nil)
		require.NoError(t, err)
		require.NoError(t, m.CommitTransaction(s))
		return r
	}
	attachDuringDelete := func(r *Row) bool {
		_, err := attachInsert(r, NewSession(7), nil)
		require.NoError(t, err)
		return true
	}

	t.Run("放回存储", func(t *testing.T) {
		m := newTestManager(t, MVCC).(*txManagerMVCC)
		r := deletedRow(m)

		ctrl := gomock.NewController(t)
		store := NewMockPersistentStore(ctrl)
		gomock.InOrder(
			store.EXPECT().Delete(r).DoAndReturn(attachDuringDelete),
			store.EXPECT().Put(r).Return(nil, false),
		)

		assert.Equal(t, 1, m.compactRow(store, r, m.GetSystemChangeNumber()))
		assert.Zero(t, m.Stats().InvariantViolations)
	})

	t.Run("位置已被其他行占用", func(t *testing.T) {
		m := newTestManager(t, MVCC).(*txManagerMVCC)
		r := deletedRow(m)
		other := NewRow(testTable.ID, r.Position(), accountData(2, 2))

		ctrl := gomock.NewController(t)
		store := NewMockPersistentStore(ctrl)
		gomock.InOrder(
			store.EXPECT().Delete(r).DoAndReturn(attachDuringDelete),
			store.EXPECT().Put(r).Return(other, true),
		)

		assert.Equal(t, 1, m.compactRow(store, r, m.GetSystemChangeNumber()))
		assert.Equal(t, uint64(1), m.Stats().InvariantViolations)
	})
}
