package trx

import (
	"fmt"
	"strings"
)

// TransactionControl 事务并发控制模式
type TransactionControl int

const (
	LOCKS   TransactionControl = iota // 严格两阶段锁
	MVLOCKS                           // 多版本 + 行锁
	MVCC                              // 纯乐观多版本
)

func (tc TransactionControl) String() string {
	switch tc {
	case LOCKS:
		return "LOCKS"
	case MVLOCKS:
		return "MVLOCKS"
	case MVCC:
		return "MVCC"
	}
	return fmt.Sprintf("TransactionControl(%d)", int(tc))
}

// ParseTransactionControl 解析配置中的模式名称
func ParseTransactionControl(s string) (TransactionControl, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOCKS", "2PL":
		return LOCKS, nil
	case "MVLOCKS":
		return MVLOCKS, nil
	case "MVCC", "":
		return MVCC, nil
	}
	return MVCC, fmt.Errorf("unknown transaction control %q", s)
}

// ActionType 行动作类型
type ActionType int32

const (
	ACTION_NONE          ActionType = iota
	ACTION_INSERT                   // 插入
	ACTION_DELETE                   // 删除
	ACTION_INSERT_DELETE            // 同一会话插入后又删除
)

func (t ActionType) String() string {
	switch t {
	case ACTION_INSERT:
		return "INSERT"
	case ACTION_DELETE:
		return "DELETE"
	case ACTION_INSERT_DELETE:
		return "INSERT_DELETE"
	}
	return "NONE"
}

// Purpose 访问目的，决定可见性规则
type Purpose int

const (
	PurposeRead      Purpose = iota // 普通读
	PurposeDuplicate                // 唯一性检查
	PurposeReference                // 外键引用检查
)

// ResetMode ResetSession的粒度
type ResetMode int

const (
	ResetResults   ResetMode = iota // 只清理结果集
	ResetTables                     // 只清理会话临时表
	ResetAll                        // 回滚并清理会话全部状态，会话保持打开
	ResetRollback                   // 回滚事务并标记为已中止
	ResetStatement                  // 回滚当前语句
	ResetClose                      // 回滚并关闭会话
)

func (m ResetMode) String() string {
	switch m {
	case ResetResults:
		return "results"
	case ResetTables:
		return "tables"
	case ResetAll:
		return "all"
	case ResetRollback:
		return "rollback"
	case ResetStatement:
		return "statement"
	case ResetClose:
		return "close"
	}
	return fmt.Sprintf("ResetMode(%d)", int(m))
}

// Table 表标识，表结构由上层维护
type Table struct {
	ID   uint32
	Name string
}

// Statement 即将执行的语句，只包含并发控制需要的信息
type Statement struct {
	SQL         string
	ReadTables  []uint32 // 读取的表
	WriteTables []uint32 // 修改的表
	Exclusive   bool     // 对修改的表加表级排他锁，例如DDL
}

// IsReadOnly 语句是否只读
func (st *Statement) IsReadOnly() bool {
	return st == nil || (len(st.WriteTables) == 0 && !st.Exclusive)
}
