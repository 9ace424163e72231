package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-trx/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/trx"
)

var testTable = &trx.Table{ID: 7, Name: "items"}

func newManagers(t *testing.T, maxSessions int, timeout time.Duration) (trx.TransactionManager, *SessionManagerImpl) {
	cfg := trx.DefaultConfig()
	cfg.LockTimeout = time.Second
	tm := trx.NewTransactionManager(cfg)
	sm := NewSessionManager(tm, maxSessions, timeout, 0)
	t.Cleanup(func() {
		sm.Close()
		tm.Close()
	})
	return tm, sm
}

func insertUncommitted(t *testing.T, tm trx.TransactionManager, store *trx.MemStore, s *trx.Session) *trx.Row {
	st := &trx.Statement{SQL: "INSERT INTO items", WriteTables: []uint32{testTable.ID}}
	require.NoError(t, tm.BeginAction(s, st))
	row := trx.NewRow(testTable.ID, store.NextPosition(testTable.ID), []basic.Value{basic.NewIntValue(1)})
	require.NoError(t, tm.AddInsertAction(s, testTable, store, row, nil))
	return row
}

func TestSessionManager(t *testing.T) {
	t.Run("创建和查找会话", func(t *testing.T) {
		_, sm := newManagers(t, 10, time.Minute)
		s1, err := sm.CreateSession("root")
		require.NoError(t, err)
		s2, err := sm.CreateSession("app", trx.WithReadOnly(true))
		require.NoError(t, err)

		assert.NotEqual(t, s1.ID(), s2.ID())
		assert.Equal(t, s1.ID(), s1.Trx().ID())
		assert.True(t, s2.Trx().IsReadOnly())

		got, ok := sm.GetSession(s2.ID())
		require.True(t, ok)
		assert.Equal(t, "app", got.User())

		active := sm.GetActiveSessions()
		require.Len(t, active, 2)
		assert.Equal(t, s1.ID(), active[0].ID())
	})

	t.Run("会话数量限制", func(t *testing.T) {
		_, sm := newManagers(t, 1, time.Minute)
		_, err := sm.CreateSession("root")
		require.NoError(t, err)
		_, err = sm.CreateSession("root")
		assert.ErrorIs(t, err, ErrTooManySessions)
	})

	t.Run("关闭会话回滚未提交的修改", func(t *testing.T) {
		tm, sm := newManagers(t, 10, time.Minute)
		store := trx.NewMemStore("items")
		s, err := sm.CreateSession("root")
		require.NoError(t, err)
		row := insertUncommitted(t, tm, store, s.Trx())
		assert.Equal(t, 1, store.Len(testTable.ID))

		require.NoError(t, sm.CloseSession(s.ID()))
		assert.True(t, s.IsClosed())
		assert.False(t, s.Trx().IsInTransaction())
		_, ok := store.Get(row.ID())
		assert.False(t, ok)

		_, ok = sm.GetSession(s.ID())
		assert.False(t, ok)
		assert.ErrorIs(t, sm.CloseSession(s.ID()), ErrSessionNotFound)
		assert.ErrorIs(t, tm.BeginTransaction(s.Trx()), trx.ErrSessionClosed)
	})

	t.Run("会话属性", func(t *testing.T) {
		_, sm := newManagers(t, 10, time.Minute)
		s, err := sm.CreateSession("root")
		require.NoError(t, err)
		assert.Nil(t, s.GetAttribute("autocommit"))
		s.SetAttribute("autocommit", false)
		assert.Equal(t, false, s.GetAttribute("autocommit"))
	})
}

func TestCleanupExpiredSessions(t *testing.T) {
	t.Run("空闲会话被关闭", func(t *testing.T) {
		tm, sm := newManagers(t, 10, 20*time.Millisecond)
		store := trx.NewMemStore("items")
		idle, err := sm.CreateSession("idle")
		require.NoError(t, err)
		insertUncommitted(t, tm, store, idle.Trx())
		tm.RollbackAction(idle.Trx())

		time.Sleep(50 * time.Millisecond)
		fresh, err := sm.CreateSession("fresh")
		require.NoError(t, err)

		assert.Equal(t, 1, sm.CleanupExpiredSessions())
		assert.True(t, idle.IsClosed())
		assert.False(t, fresh.IsClosed())
		assert.Len(t, sm.GetActiveSessions(), 1)
	})

	t.Run("正在执行语句的会话不会过期", func(t *testing.T) {
		tm, sm := newManagers(t, 10, 10*time.Millisecond)
		store := trx.NewMemStore("items")
		busy, err := sm.CreateSession("busy")
		require.NoError(t, err)
		insertUncommitted(t, tm, store, busy.Trx())

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, 0, sm.CleanupExpiredSessions())
		assert.False(t, busy.IsClosed())
	})

	t.Run("清理协程", func(t *testing.T) {
		cfg := trx.DefaultConfig()
		tm := trx.NewTransactionManager(cfg)
		defer tm.Close()
		sm := NewSessionManager(tm, 10, 10*time.Millisecond, 5*time.Millisecond)
		defer sm.Close()

		s, err := sm.CreateSession("root")
		require.NoError(t, err)
		assert.Eventually(t, func() bool { return s.IsClosed() }, time.Second, 5*time.Millisecond)
	})
}
