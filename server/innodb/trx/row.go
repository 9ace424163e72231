package trx

import (
	"fmt"
	"sync/atomic"

	"github.com/zhukovaskychina/xmysql-trx/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-trx/util"
)

// RowID 行标识: 所属表 + 稳定的行位置
type RowID struct {
	TableID  uint32
	Position int64
}

func (id RowID) String() string {
	return fmt.Sprintf("row(%d:%d)", id.TableID, id.Position)
}

// Row 带版本的行。行数据不可变，版本信息全部挂在头动作上。
//
// 行标识只在该位置没有被物理重用之前有效：物理删除后同一位置上插入的新行
// 与旧引用比较相等，跨越提交边界保留的Row引用必须重新校验。
type Row struct {
	id     RowID
	data   []basic.Value
	action atomic.Pointer[RowAction] // 最近一次动作，所有会话并发读写
}

// NewRow 创建行，此时还没有挂接动作
func NewRow(tableID uint32, position int64, data []basic.Value) *Row {
	return &Row{
		id:   RowID{TableID: tableID, Position: position},
		data: data,
	}
}

// ID 行标识
func (r *Row) ID() RowID {
	return r.id
}

// TableID 所属表ID
func (r *Row) TableID() uint32 {
	return r.id.TableID
}

// Position 行位置
func (r *Row) Position() int64 {
	return r.id.Position
}

// Data 行数据
func (r *Row) Data() []basic.Value {
	return r.data
}

// Action 获取当前的头动作，nil表示对所有会话可见的已提交行
func (r *Row) Action() *RowAction {
	return r.action.Load()
}

func (r *Row) casAction(old, new *RowAction) bool {
	return r.action.CompareAndSwap(old, new)
}

// Equals 只比较位置
func (r *Row) Equals(other *Row) bool {
	return other != nil && r.id == other.id
}

// HashCode 只由位置决定
func (r *Row) HashCode() uint64 {
	return util.HashPosition(r.id.TableID, r.id.Position)
}

// IsDeleted 通过存储重新读取该位置上的当前行，判断它对session是否已删除。
// 头动作随时可能被其他会话修改，不能使用缓存的引用。
func (r *Row) IsDeleted(s *Session, store PersistentStore) bool {
	current, ok := store.Get(r.id)
	if !ok {
		return true
	}
	head := current.Action()
	return head != nil && !head.CanRead(s, PurposeRead)
}

func (r *Row) String() string {
	return fmt.Sprintf("%s%s", r.id, basic.FormatRow(r.data))
}
