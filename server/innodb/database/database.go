package database

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-trx/logger"
	"github.com/zhukovaskychina/xmysql-trx/server/conf"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/trx"
	"github.com/zhukovaskychina/xmysql-trx/server/session"
)

var (
	ErrTableExists   = errors.New("table already exists")
	ErrTableNotFound = errors.New("table not found")
	ErrClosed        = errors.New("database closed")
)

// Database 数据库实例，持有行存储、事务管理器和会话管理器
type Database struct {
	cfg      *conf.Cfg
	store    *trx.MemStore
	tm       trx.TransactionManager
	sessions *session.SessionManagerImpl

	tablesMu    sync.RWMutex
	tables      map[string]*trx.Table
	nextTableID uint32

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open 根据配置打开数据库，PurgeIntervalDuration大于0时启动后台清理
func Open(cfg *conf.Cfg) (*Database, error) {
	if cfg == nil {
		cfg = conf.NewCfg()
	}
	tm := trx.NewTransactionManager(cfg.TrxConfig())
	db := &Database{
		cfg:      cfg,
		store:    trx.NewMemStore("xmysql"),
		tm:       tm,
		sessions: session.NewSessionManager(tm, cfg.SessionNumber, cfg.SessionTimeoutDuration, cfg.SessionTimeoutDuration/2),
		tables:   make(map[string]*trx.Table),
		done:     make(chan struct{}),
	}

	if cfg.PurgeIntervalDuration > 0 {
		db.wg.Add(1)
		go db.purgeRoutine(cfg.PurgeIntervalDuration)
	}

	logger.Infof("数据库已打开, transaction_control=%s, lock_wait_timeout=%s",
		tm.GetTransactionControl(), cfg.LockWaitTimeoutDuration)
	return db, nil
}

// Close 关闭所有会话并停止事务管理器
func (db *Database) Close() {
	db.closeOnce.Do(func() {
		close(db.done)
		db.wg.Wait()
		db.sessions.Close()
		db.tm.Close()
		logger.Infof("数据库已关闭")
	})
}

func (db *Database) purgeRoutine(interval time.Duration) {
	defer db.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-db.done:
			return
		case <-ticker.C:
			if n := db.tm.Purge(); n > 0 {
				logger.Debugf("清理了 %d 个历史版本", n)
			}
		}
	}
}

// TransactionManager 事务管理器
func (db *Database) TransactionManager() trx.TransactionManager {
	return db.tm
}

// Store 行存储
func (db *Database) Store() *trx.MemStore {
	return db.store
}

// Sessions 会话管理器
func (db *Database) Sessions() session.SessionManager {
	return db.sessions
}

// Connect 创建会话，未指定锁等待超时时使用配置中的值
func (db *Database) Connect(user string, opts ...trx.SessionOption) (session.Session, error) {
	select {
	case <-db.done:
		return nil, errors.WithStack(ErrClosed)
	default:
	}
	return db.sessions.CreateSession(user, opts...)
}

// Disconnect 回滚未提交的事务并关闭会话
func (db *Database) Disconnect(s session.Session) error {
	return db.sessions.CloseSession(s.ID())
}

// CreateTable 创建表
func (db *Database) CreateTable(name string) (*trx.Table, error) {
	db.tablesMu.Lock()
	defer db.tablesMu.Unlock()

	if _, ok := db.tables[name]; ok {
		return nil, errors.Wrapf(ErrTableExists, "table %s", name)
	}
	db.nextTableID++
	table := &trx.Table{ID: db.nextTableID, Name: name}
	db.tables[name] = table
	return table, nil
}

// Table 根据名称查找表
func (db *Database) Table(name string) (*trx.Table, error) {
	db.tablesMu.RLock()
	defer db.tablesMu.RUnlock()

	table, ok := db.tables[name]
	if !ok {
		return nil, errors.Wrapf(ErrTableNotFound, "table %s", name)
	}
	return table, nil
}

// Stats 事务统计
func (db *Database) Stats() trx.Stats {
	return db.tm.Stats()
}
