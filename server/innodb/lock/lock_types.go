package lock

import (
	"fmt"
	"time"
)

// LockType 锁类型
type LockType int

const (
	LOCK_IS LockType = iota // 意向共享锁
	LOCK_IX                 // 意向排他锁
	LOCK_S                  // 共享锁
	LOCK_X                  // 排他锁
)

func (t LockType) String() string {
	switch t {
	case LOCK_IS:
		return "IS"
	case LOCK_IX:
		return "IX"
	case LOCK_S:
		return "S"
	case LOCK_X:
		return "X"
	}
	return fmt.Sprintf("LockType(%d)", int(t))
}

// lockCompatibility 锁兼容矩阵 [已持有][请求]
var lockCompatibility = [4][4]bool{
	LOCK_IS: {LOCK_IS: true, LOCK_IX: true, LOCK_S: true, LOCK_X: false},
	LOCK_IX: {LOCK_IS: true, LOCK_IX: true, LOCK_S: false, LOCK_X: false},
	LOCK_S:  {LOCK_IS: true, LOCK_IX: false, LOCK_S: true, LOCK_X: false},
	LOCK_X:  {LOCK_IS: false, LOCK_IX: false, LOCK_S: false, LOCK_X: false},
}

// isLockCompatible 检查锁兼容性
func isLockCompatible(held, requested LockType) bool {
	return lockCompatibility[held][requested]
}

// covers 已持有的锁是否已经覆盖请求的锁
func (t LockType) covers(requested LockType) bool {
	switch t {
	case LOCK_X:
		return true
	case LOCK_S:
		return requested == LOCK_S || requested == LOCK_IS
	case LOCK_IX:
		return requested == LOCK_IX || requested == LOCK_IS
	case LOCK_IS:
		return requested == LOCK_IS
	}
	return false
}

// upgradeTarget 锁升级后的类型
func upgradeTarget(held, requested LockType) LockType {
	if held.covers(requested) {
		return held
	}
	if requested.covers(held) {
		return requested
	}
	// S + IX 没有SIX，直接升级为X
	return LOCK_X
}

// TableResource 表示整张表的资源位置
const TableResource int64 = -1

// ResourceID 资源标识: 表ID + 行位置，行位置为TableResource时表示表锁
type ResourceID struct {
	TableID  uint32
	Position int64
}

// RecordID 行资源
func RecordID(tableID uint32, position int64) ResourceID {
	return ResourceID{TableID: tableID, Position: position}
}

// TableID 表资源
func TableID(tableID uint32) ResourceID {
	return ResourceID{TableID: tableID, Position: TableResource}
}

// IsTable 是否表级资源
func (r ResourceID) IsTable() bool {
	return r.Position == TableResource
}

func (r ResourceID) String() string {
	if r.IsTable() {
		return fmt.Sprintf("table(%d)", r.TableID)
	}
	return fmt.Sprintf("row(%d:%d)", r.TableID, r.Position)
}

// LockStats 锁统计信息
type LockStats struct {
	GrantedLocks  uint64 // 已授予锁数
	WaitingLocks  uint64 // 等待中锁数
	LockWaits     uint64 // 发生等待的次数
	Deadlocks     uint64 // 死锁次数
	LockTimeouts  uint64 // 锁超时次数
	LockAborts    uint64 // 等待被取消次数
	MaxWaitTime   time.Duration
	TotalWaitTime time.Duration
}

// LockConfig 锁配置
type LockConfig struct {
	LockTimeout    time.Duration // 默认锁等待超时，0表示不等待，负数表示无限等待
	DeadlockDetect bool          // 是否在排队时检测死锁
	Shards         int           // 锁表分片数
	WheelSpan      time.Duration // 时间轮精度
}

// DefaultLockConfig 默认锁配置
func DefaultLockConfig() LockConfig {
	return LockConfig{
		LockTimeout:    50 * time.Second,
		DeadlockDetect: true,
		Shards:         16,
		WheelSpan:      10 * time.Millisecond,
	}
}
