package trx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// heldLocks 会话在锁管理器中持有的锁数
func heldLocks(m TransactionManager, sessionID int64) int {
	switch tm := m.(type) {
	case *txManagerLocks:
		return len(tm.locks.HeldLocks(sessionID))
	case *txManagerMVLocks:
		return len(tm.locks.HeldLocks(sessionID))
	}
	return 0
}

func TestRejectedWriteReleasesLocks(t *testing.T) {
	for _, control := range []TransactionControl{LOCKS, MVLOCKS} {
		t.Run(control.String(), func(t *testing.T) {
			t.Run("语句执行中会话被关闭", func(t *testing.T) {
				m := newTestManager(t, control)
				store := NewMemStore("accounts")
				row := insertCommitted(t, m, store, 1, 1, 100)

				s1 := NewSession(2)
				require.NoError(t, m.BeginAction(s1, writeStmt()))
				require.NoError(t, m.ResetSession(nil, s1, 0, ResetClose))

				_, err := m.AddDeleteAction(s1, testTable, store, row, nil)
				assert.ErrorIs(t, err, ErrSessionClosed)
				err = m.AddInsertAction(s1, testTable, store, newAccountRow(store, 2, 1), nil)
				assert.ErrorIs(t, err, ErrSessionClosed)
				assert.Zero(t, heldLocks(m, s1.ID()))

				s2 := NewSession(3, WithLockTimeout(200*time.Millisecond))
				require.NoError(t, m.BeginAction(s2, writeStmt()))
				_, err = m.AddDeleteAction(s2, testTable, store, row, nil)
				require.NoError(t, err)
				require.NoError(t, m.CommitTransaction(s2))
			})

			t.Run("只读会话的写被拒绝", func(t *testing.T) {
				m := newTestManager(t, control)
				store := NewMemStore("accounts")
				row := insertCommitted(t, m, store, 1, 1, 100)

				s1 := NewSession(2, WithReadOnly(true))
				_, err := m.AddDeleteAction(s1, testTable, store, row, nil)
				assert.ErrorIs(t, err, ErrReadOnlyTransaction)
				require.NoError(t, m.CommitTransaction(s1))
				assert.Zero(t, heldLocks(m, s1.ID()))

				s2 := NewSession(3, WithLockTimeout(200*time.Millisecond))
				_, err = m.AddDeleteAction(s2, testTable, store, row, nil)
				require.NoError(t, err)
				require.NoError(t, m.CommitTransaction(s2))
			})

			t.Run("事务外的写等锁超时", func(t *testing.T) {
				m := newTestManager(t, control)
				store := NewMemStore("accounts")
				row := insertCommitted(t, m, store, 1, 1, 100)

				holder := NewSession(2)
				require.NoError(t, m.BeginAction(holder, writeStmt()))
				_, err := m.AddDeleteAction(holder, testTable, store, row, nil)
				require.NoError(t, err)

				// 没有BeginAction，超时前已经拿到了表意向锁
				s1 := NewSession(3, WithLockTimeout(50*time.Millisecond))
				_, err = m.AddDeleteAction(s1, testTable, store, row, nil)
				assert.ErrorIs(t, err, ErrLockTimeout)
				assert.False(t, s1.IsInTransaction())
				assert.Zero(t, heldLocks(m, s1.ID()))

				m.Rollback(holder)
				exclusive := NewSession(4, WithLockTimeout(200*time.Millisecond))
				st := writeStmt()
				st.Exclusive = true
				require.NoError(t, m.BeginAction(exclusive, st))
				require.NoError(t, m.CommitTransaction(exclusive))
			})
		})
	}
}
