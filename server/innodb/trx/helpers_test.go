package trx

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-trx/server/innodb/basic"
)

var testTable = &Table{ID: 1, Name: "accounts"}

func newTestManager(t *testing.T, control TransactionControl) TransactionManager {
	cfg := DefaultConfig()
	cfg.TransactionControl = control
	cfg.LockTimeout = 2 * time.Second
	cfg.PurgeWorkers = 2
	m := NewTransactionManager(cfg)
	t.Cleanup(m.Close)
	return m
}

func writeStmt() *Statement {
	return &Statement{SQL: "UPDATE accounts", WriteTables: []uint32{testTable.ID}}
}

func accountData(key int, balance int64) []basic.Value {
	return []basic.Value{basic.NewIntValue(int32(key)), basic.NewBigIntValue(balance)}
}

func accountKey(row *Row) int {
	return int(row.Data()[0].(basic.IntValue).Int64())
}

func accountBalance(row *Row) int64 {
	return row.Data()[1].(basic.BigIntValue).Int64()
}

func newAccountRow(store PersistentStore, key int, balance int64) *Row {
	return NewRow(testTable.ID, store.NextPosition(testTable.ID), accountData(key, balance))
}

// insertCommitted 用一个独立会话插入一行并提交
func insertCommitted(t *testing.T, m TransactionManager, store PersistentStore, sessionID int64, key int, balance int64) *Row {
	s := NewSession(sessionID)
	require.NoError(t, m.BeginAction(s, writeStmt()))
	row := newAccountRow(store, key, balance)
	require.NoError(t, m.AddInsertAction(s, testTable, store, row, nil))
	require.NoError(t, m.CommitTransaction(s))
	return row
}

func canRead(t *testing.T, m TransactionManager, s *Session, store PersistentStore, row *Row) bool {
	ok, err := m.CanReadRow(s, store, row, PurposeRead)
	require.NoError(t, err)
	return ok
}

// updateRow 删除旧行并插入新版本
func updateRow(m TransactionManager, s *Session, store PersistentStore, row *Row, balance int64) (*Row, error) {
	if _, err := m.AddDeleteAction(s, testTable, store, row, []int{1}); err != nil {
		return nil, err
	}
	nr := newAccountRow(store, accountKey(row), balance)
	if err := m.AddInsertAction(s, testTable, store, nr, []int{1}); err != nil {
		return nil, err
	}
	return nr, nil
}

// findAccount 找到对会话可见的账户行
func findAccount(m TransactionManager, s *Session, store PersistentStore, key int) (*Row, error) {
	var (
		found   *Row
		scanErr error
	)
	store.Scan(testTable.ID, func(row *Row) bool {
		if accountKey(row) != key {
			return true
		}
		ok, err := m.CanReadRow(s, store, row, PurposeRead)
		if err != nil {
			scanErr = err
			return false
		}
		if ok {
			found = row
			return false
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	if found == nil {
		return nil, fmt.Errorf("account %d not visible to session %d", key, s.ID())
	}
	return found, nil
}

// visibleAccounts 会话看到的每个账户的版本数和余额总和
func visibleAccounts(m TransactionManager, s *Session, store PersistentStore) (map[int]int, int64, error) {
	seen := make(map[int]int)
	var (
		sum     int64
		scanErr error
	)
	store.Scan(testTable.ID, func(row *Row) bool {
		ok, err := m.CanReadRow(s, store, row, PurposeRead)
		if err != nil {
			scanErr = err
			return false
		}
		if ok {
			seen[accountKey(row)]++
			sum += accountBalance(row)
		}
		return true
	})
	return seen, sum, scanErr
}
