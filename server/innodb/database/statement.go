package database

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-trx/logger"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/trx"
	"github.com/zhukovaskychina/xmysql-trx/server/session"
)

// DMLResult DML执行结果
type DMLResult struct {
	AffectedRows int
	ResultType   string
}

func (r *DMLResult) String() string {
	return fmt.Sprintf("%s执行成功，影响行数: %d", r.ResultType, r.AffectedRows)
}

// Predicate 行过滤条件，nil表示全部行
type Predicate func(data []basic.Value) bool

// Assignment 根据旧值计算新值
type Assignment func(data []basic.Value) []basic.Value

func (p Predicate) match(data []basic.Value) bool {
	return p == nil || p(data)
}

// run 在一条语句中执行fn，失败时只回滚这条语句的动作
func (db *Database) run(s session.Session, st *trx.Statement, fn func(ts *trx.Session) error) error {
	ts := s.Trx()
	s.UpdateActivity()
	if err := db.tm.BeginAction(ts, st); err != nil {
		return err
	}
	if err := fn(ts); err != nil {
		db.tm.RollbackAction(ts)
		logger.Debugf("会话 %d 语句 %q 失败，已回滚: %v", ts.ID(), st.SQL, err)
		return err
	}
	return nil
}

// visibleRows 在语句内读取对会话可见的行
func (db *Database) visibleRows(ts *trx.Session, table *trx.Table, pred Predicate) ([]*trx.Row, error) {
	var (
		rows    []*trx.Row
		readErr error
	)
	db.store.Scan(table.ID, func(row *trx.Row) bool {
		ok, err := db.tm.CanReadRow(ts, db.store, row, trx.PurposeRead)
		if err != nil {
			readErr = err
			return false
		}
		if ok && pred.match(row.Data()) {
			rows = append(rows, row)
		}
		return true
	})
	return rows, readErr
}

// Insert 插入一行
func (db *Database) Insert(s session.Session, table *trx.Table, data []basic.Value) (*trx.Row, error) {
	st := &trx.Statement{SQL: "INSERT INTO " + table.Name, WriteTables: []uint32{table.ID}}
	var row *trx.Row
	err := db.run(s, st, func(ts *trx.Session) error {
		row = trx.NewRow(table.ID, db.store.NextPosition(table.ID), data)
		return db.tm.AddInsertAction(ts, table, db.store, row, nil)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Delete 删除满足条件的行
func (db *Database) Delete(s session.Session, table *trx.Table, pred Predicate) (*DMLResult, error) {
	st := &trx.Statement{SQL: "DELETE FROM " + table.Name, ReadTables: []uint32{table.ID}, WriteTables: []uint32{table.ID}}
	result := &DMLResult{ResultType: "DELETE"}
	err := db.run(s, st, func(ts *trx.Session) error {
		rows, err := db.visibleRows(ts, table, pred)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if _, err := db.tm.AddDeleteAction(ts, table, db.store, row, nil); err != nil {
				return err
			}
			result.AffectedRows++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update 更新满足条件的行: 删除旧版本并在新位置插入新版本
func (db *Database) Update(s session.Session, table *trx.Table, pred Predicate, set Assignment, changedColumns []int) (*DMLResult, error) {
	st := &trx.Statement{SQL: "UPDATE " + table.Name, ReadTables: []uint32{table.ID}, WriteTables: []uint32{table.ID}}
	result := &DMLResult{ResultType: "UPDATE"}
	err := db.run(s, st, func(ts *trx.Session) error {
		rows, err := db.visibleRows(ts, table, pred)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if _, err := db.tm.AddDeleteAction(ts, table, db.store, row, changedColumns); err != nil {
				return err
			}
			nr := trx.NewRow(table.ID, db.store.NextPosition(table.ID), set(row.Data()))
			if err := db.tm.AddInsertAction(ts, table, db.store, nr, changedColumns); err != nil {
				return err
			}
			result.AffectedRows++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Select 读取满足条件的行
func (db *Database) Select(s session.Session, table *trx.Table, pred Predicate) ([][]basic.Value, error) {
	st := &trx.Statement{SQL: "SELECT FROM " + table.Name, ReadTables: []uint32{table.ID}}
	var out [][]basic.Value
	err := db.run(s, st, func(ts *trx.Session) error {
		rows, err := db.visibleRows(ts, table, pred)
		if err != nil {
			return err
		}
		for _, row := range rows {
			out = append(out, row.Data())
		}
		return nil
	})
	return out, err
}

// Commit 提交事务。准备失败或提交失败时整个事务回滚
func (db *Database) Commit(s session.Session) error {
	ts := s.Trx()
	s.UpdateActivity()
	if !db.tm.PrepareCommitActions(ts) {
		db.tm.Rollback(ts)
		return errors.Wrapf(trx.ErrWriteConflict, "session %d prepare failed", ts.ID())
	}
	if err := db.tm.CommitTransaction(ts); err != nil {
		db.tm.Rollback(ts)
		return err
	}
	db.tm.CompleteActions(ts)
	return nil
}

// Rollback 回滚事务
func (db *Database) Rollback(s session.Session) {
	s.UpdateActivity()
	db.tm.Rollback(s.Trx())
}

// Savepoint 设置保存点
func (db *Database) Savepoint(s session.Session, name string) {
	s.Trx().SetSavepoint(name)
}

// RollbackToSavepoint 回滚到保存点，保存点本身保留
func (db *Database) RollbackToSavepoint(s session.Session, name string) error {
	index, ok := s.Trx().FindSavepoint(name)
	if !ok {
		return errors.Wrapf(trx.ErrInvalidSavepoint, "savepoint %s", name)
	}
	return db.tm.RollbackSavepoint(s.Trx(), index)
}
