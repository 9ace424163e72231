package trx

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"

	"github.com/zhukovaskychina/xmysql-trx/server/innodb/latch"
)

//go:generate mockgen -source=store.go -destination=mock_store_test.go -package=trx

// PersistentStore 按位置存取行的存储。事务管理器只通过这些操作访问行，
// 从不复制行数据。
type PersistentStore interface {
	// Get 返回该位置上当前存放的行
	Get(id RowID) (*Row, bool)
	// Put 位置空闲时存入row，否则返回已存在的行和true
	Put(row *Row) (*Row, bool)
	// Replace 只有当前存放的是old时才替换为row
	Replace(old, row *Row) bool
	// Delete 只有当前存放的是row时才删除，位置随即可以重用
	Delete(row *Row) bool
	// NextPosition 分配一个新的行位置
	NextPosition(tableID uint32) int64
	// Scan 按位置顺序遍历表中的行，fn返回false时停止
	Scan(tableID uint32, fn func(row *Row) bool)
	// Tables 存储中出现过的表
	Tables() []uint32

	// MarkTouched 记录会话修改过的行
	MarkTouched(sessionID int64, id RowID)
	// TouchedRows 会话修改过的行
	TouchedRows(sessionID int64) []RowID
	// ReleaseTouched 清除会话的修改记录
	ReleaseTouched(sessionID int64)
}

type memTable struct {
	id    uint32
	latch *latch.Latch
	rows  btree.Map[int64, *Row]
	next  atomic.Int64
}

// MemStore 内存行存储，每张表一棵有序树，各自由一个闩保护
type MemStore struct {
	name   string
	dict   *latch.Latch
	tables map[uint32]*memTable

	touchedMu sync.Mutex
	touched   map[int64]map[RowID]struct{}
}

// NewMemStore 创建内存存储
func NewMemStore(name string) *MemStore {
	return &MemStore{
		name:    name,
		dict:    latch.NewLatch(name + ".dict"),
		tables:  make(map[uint32]*memTable),
		touched: make(map[int64]map[RowID]struct{}),
	}
}

func (ms *MemStore) String() string {
	return fmt.Sprintf("MemStore(%s)", ms.name)
}

func (ms *MemStore) table(tableID uint32, create bool) *memTable {
	ms.dict.RLock()
	t := ms.tables[tableID]
	ms.dict.RUnlock()
	if t != nil || !create {
		return t
	}

	ms.dict.Lock()
	defer ms.dict.Unlock()
	if t = ms.tables[tableID]; t == nil {
		t = &memTable{
			id:    tableID,
			latch: latch.NewLatch(fmt.Sprintf("%s.table.%d", ms.name, tableID)),
		}
		ms.tables[tableID] = t
	}
	return t
}

// Get 获取行
func (ms *MemStore) Get(id RowID) (*Row, bool) {
	t := ms.table(id.TableID, false)
	if t == nil {
		return nil, false
	}
	t.latch.RLock()
	defer t.latch.RUnlock()
	return t.rows.Get(id.Position)
}

// Put 位置空闲时存入
func (ms *MemStore) Put(row *Row) (*Row, bool) {
	t := ms.table(row.TableID(), true)
	t.latch.Lock()
	defer t.latch.Unlock()
	if existing, ok := t.rows.Get(row.Position()); ok {
		return existing, true
	}
	t.rows.Set(row.Position(), row)
	t.advance(row.Position())
	return row, false
}

// Replace 比较并替换
func (ms *MemStore) Replace(old, row *Row) bool {
	if !old.Equals(row) {
		return false
	}
	t := ms.table(row.TableID(), false)
	if t == nil {
		return false
	}
	t.latch.Lock()
	defer t.latch.Unlock()
	if cur, ok := t.rows.Get(row.Position()); !ok || cur != old {
		return false
	}
	t.rows.Set(row.Position(), row)
	return true
}

// Delete 比较并删除
func (ms *MemStore) Delete(row *Row) bool {
	t := ms.table(row.TableID(), false)
	if t == nil {
		return false
	}
	t.latch.Lock()
	defer t.latch.Unlock()
	if cur, ok := t.rows.Get(row.Position()); !ok || cur != row {
		return false
	}
	t.rows.Delete(row.Position())
	return true
}

// NextPosition 位置单调递增，显式指定的更大位置会推高计数器
func (ms *MemStore) NextPosition(tableID uint32) int64 {
	return ms.table(tableID, true).next.Add(1)
}

func (t *memTable) advance(pos int64) {
	for {
		cur := t.next.Load()
		if pos <= cur || t.next.CompareAndSwap(cur, pos) {
			return
		}
	}
}

// Scan 遍历时先在读闩内取出快照，回调在闩外执行，回调中可以再次访问存储
func (ms *MemStore) Scan(tableID uint32, fn func(row *Row) bool) {
	t := ms.table(tableID, false)
	if t == nil {
		return
	}
	t.latch.RLock()
	rows := make([]*Row, 0, t.rows.Len())
	t.rows.Scan(func(_ int64, row *Row) bool {
		rows = append(rows, row)
		return true
	})
	t.latch.RUnlock()

	for _, row := range rows {
		if !fn(row) {
			return
		}
	}
}

// Len 表中存放的行数，包括对部分会话不可见的版本
func (ms *MemStore) Len(tableID uint32) int {
	t := ms.table(tableID, false)
	if t == nil {
		return 0
	}
	t.latch.RLock()
	defer t.latch.RUnlock()
	return t.rows.Len()
}

// Tables 表ID，升序
func (ms *MemStore) Tables() []uint32 {
	ms.dict.RLock()
	ids := make([]uint32, 0, len(ms.tables))
	for id := range ms.tables {
		ids = append(ids, id)
	}
	ms.dict.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MarkTouched 记录修改
func (ms *MemStore) MarkTouched(sessionID int64, id RowID) {
	ms.touchedMu.Lock()
	defer ms.touchedMu.Unlock()
	rows := ms.touched[sessionID]
	if rows == nil {
		rows = make(map[RowID]struct{})
		ms.touched[sessionID] = rows
	}
	rows[id] = struct{}{}
}

// TouchedRows 会话修改过的行，按表和位置排序
func (ms *MemStore) TouchedRows(sessionID int64) []RowID {
	ms.touchedMu.Lock()
	ids := make([]RowID, 0, len(ms.touched[sessionID]))
	for id := range ms.touched[sessionID] {
		ids = append(ids, id)
	}
	ms.touchedMu.Unlock()

	sort.Slice(ids, func(i, j int) bool {
		if ids[i].TableID != ids[j].TableID {
			return ids[i].TableID < ids[j].TableID
		}
		return ids[i].Position < ids[j].Position
	})
	return ids
}

// ReleaseTouched 清除修改记录
func (ms *MemStore) ReleaseTouched(sessionID int64) {
	ms.touchedMu.Lock()
	delete(ms.touched, sessionID)
	ms.touchedMu.Unlock()
}
