package trx

import (
	"time"

	"github.com/zhukovaskychina/xmysql-trx/server/innodb/lock"
)

// Config 事务管理器配置
type Config struct {
	TransactionControl TransactionControl
	LockTimeout        time.Duration // 会话未指定时的锁等待超时，负数表示一直等待
	DeadlockDetect     bool
	LockShards         int
	PurgeWorkers       int // 版本链清理任务池的大小
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	lc := lock.DefaultLockConfig()
	return Config{
		TransactionControl: MVCC,
		LockTimeout:        lc.LockTimeout,
		DeadlockDetect:     lc.DeadlockDetect,
		LockShards:         lc.Shards,
		PurgeWorkers:       4,
	}
}

func (c Config) lockConfig() lock.LockConfig {
	lc := lock.DefaultLockConfig()
	lc.LockTimeout = c.LockTimeout
	lc.DeadlockDetect = c.DeadlockDetect
	if c.LockShards > 0 {
		lc.Shards = c.LockShards
	}
	return lc
}
