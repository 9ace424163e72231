package trx

import (
	"sort"
	"sync"
	"sync/atomic"

	gxsync "github.com/dubbogo/gost/sync"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"

	"github.com/zhukovaskychina/xmysql-trx/logger"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/lock"
)

// TransactionManager 事务管理器。三种并发控制模式共用这一组操作，
// 具体实现在数据库打开时根据配置选定。
type TransactionManager interface {
	GetTransactionControl() TransactionControl
	IsMVRows() bool
	IsMVCC() bool
	Is2PL() bool

	BeginTransaction(s *Session) error
	BeginAction(s *Session, st *Statement) error
	BeginActionResume(s *Session) error
	AddInsertAction(s *Session, table *Table, store PersistentStore, row *Row, changedColumns []int) error
	AddDeleteAction(s *Session, table *Table, store PersistentStore, row *Row, changedColumns []int) (*RowAction, error)
	CanReadRow(s *Session, store PersistentStore, row *Row, purpose Purpose) (bool, error)

	PrepareCommitActions(s *Session) bool
	CommitTransaction(s *Session) error
	CompleteActions(s *Session)

	Rollback(s *Session)
	RollbackAction(s *Session)
	RollbackSavepoint(s *Session, index int) error
	RollbackPartial(s *Session, start int, timestamp int64)
	ResetSession(s, target *Session, statementTimestamp int64, mode ResetMode) error

	GetSystemChangeNumber() int64
	GetNextSystemChangeNumber() int64
	SetSystemChangeNumber(scn int64) error

	ActiveSessions() []*Session
	Purge() int
	Stats() Stats
	Close()
}

// Stats 事务统计
type Stats struct {
	Commits             uint64
	Rollbacks           uint64
	WriteConflicts      uint64
	InvariantViolations uint64
	PurgedActions       uint64
	ActiveSessions      int
	SystemChangeNumber  int64
	Locks               lock.LockStats
}

// NewTransactionManager 按配置的并发控制模式创建事务管理器
func NewTransactionManager(config Config) TransactionManager {
	common := newTxManagerCommon(config)
	switch config.TransactionControl {
	case LOCKS:
		return &txManagerLocks{common}
	case MVLOCKS:
		return &txManagerMVLocks{common}
	default:
		return &txManagerMVCC{common}
	}
}

// txManagerCommon 三种模式共用的状态和操作
type txManagerCommon struct {
	control TransactionControl
	config  Config

	scn      atomic.Int64
	commitMu sync.RWMutex // 提交持写锁分配并写入SCN，开启事务持读锁读取SCN

	sessionsMu sync.Mutex
	live       map[int64]*Session
	snapshots  btree.Map[int64, int] // 活跃事务的开始SCN -> 个数

	locks     *lock.LockManager // MVCC模式下为nil
	purgePool gxsync.GenericTaskPool

	storesMu sync.Mutex
	stores   map[PersistentStore]struct{}

	closed     atomic.Bool
	commits    atomic.Uint64
	rollbacks  atomic.Uint64
	conflicts  atomic.Uint64
	violations atomic.Uint64
	purged     atomic.Uint64
}

func newTxManagerCommon(config Config) *txManagerCommon {
	if config.PurgeWorkers <= 0 {
		config.PurgeWorkers = 1
	}
	m := &txManagerCommon{
		control:   config.TransactionControl,
		config:    config,
		live:      make(map[int64]*Session),
		purgePool: gxsync.NewTaskPoolSimple(config.PurgeWorkers),
		stores:    make(map[PersistentStore]struct{}),
	}
	if m.control != MVCC {
		m.locks = lock.NewLockManager(config.lockConfig())
	}
	logger.Infof("transaction manager started, control=%s", m.control)
	return m
}

func (m *txManagerCommon) GetTransactionControl() TransactionControl {
	return m.control
}

// IsMVRows 是否保留多版本行
func (m *txManagerCommon) IsMVRows() bool {
	return m.control != LOCKS
}

func (m *txManagerCommon) IsMVCC() bool {
	return m.control == MVCC
}

func (m *txManagerCommon) Is2PL() bool {
	return m.control == LOCKS
}

// GetSystemChangeNumber 当前系统变更号
func (m *txManagerCommon) GetSystemChangeNumber() int64 {
	return m.scn.Load()
}

// GetNextSystemChangeNumber 推进并返回系统变更号
func (m *txManagerCommon) GetNextSystemChangeNumber() int64 {
	return m.scn.Add(1)
}

// SetSystemChangeNumber 只用于恢复和启动，有活跃事务或者值回退时拒绝
func (m *txManagerCommon) SetSystemChangeNumber(scn int64) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.sessionsMu.Lock()
	active := len(m.live)
	m.sessionsMu.Unlock()
	if active > 0 {
		return errors.Errorf("cannot set system change number with %d active transactions", active)
	}
	if cur := m.scn.Load(); scn < cur {
		return invariantf("system change number cannot move backward from %d to %d", cur, scn)
	}
	m.scn.Store(scn)
	return nil
}

// ActiveSessions 处于事务中的会话，按ID排序
func (m *txManagerCommon) ActiveSessions() []*Session {
	m.sessionsMu.Lock()
	out := make([]*Session, 0, len(m.live))
	for _, s := range m.live {
		out = append(out, s)
	}
	m.sessionsMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Stats 统计信息
func (m *txManagerCommon) Stats() Stats {
	m.sessionsMu.Lock()
	active := len(m.live)
	m.sessionsMu.Unlock()

	st := Stats{
		Commits:             m.commits.Load(),
		Rollbacks:           m.rollbacks.Load(),
		WriteConflicts:      m.conflicts.Load(),
		InvariantViolations: m.violations.Load(),
		PurgedActions:       m.purged.Load(),
		ActiveSessions:      active,
		SystemChangeNumber:  m.scn.Load(),
	}
	if m.locks != nil {
		st.Locks = m.locks.Stats()
	}
	return st
}

// Close 关闭事务管理器，停止清理任务和锁等待
func (m *txManagerCommon) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.purgePool.Close()
	if m.locks != nil {
		m.locks.Close()
	}
	logger.Infof("transaction manager closed, scn=%d", m.scn.Load())
}

// checkSession 调用方持有s.mu
func (m *txManagerCommon) checkSession(s *Session) error {
	if m.closed.Load() {
		return errors.WithStack(ErrManagerClosed)
	}
	if s.IsClosed() {
		return errors.Wrapf(ErrSessionClosed, "session %d", s.ID())
	}
	if err := s.takeAbortCause(); err != nil {
		if !s.IsInTransaction() {
			// 被中止时可能刚刚拿到锁
			m.releaseLocks(s)
		}
		return err
	}
	return nil
}

// BeginTransaction 开启事务，已在事务中时什么也不做
func (m *txManagerCommon) BeginTransaction(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.checkSession(s); err != nil {
		return err
	}
	m.beginTransactionLocked(s)
	return nil
}

func (m *txManagerCommon) beginTransactionLocked(s *Session) {
	if s.IsInTransaction() {
		return
	}
	m.commitMu.RLock()
	start := m.scn.Load()
	m.sessionsMu.Lock()
	m.live[s.ID()] = s
	n, _ := m.snapshots.Get(start)
	m.snapshots.Set(start, n+1)
	m.sessionsMu.Unlock()
	m.commitMu.RUnlock()

	s.startSCN.Store(start)
	s.snapshotRead = m.IsMVRows()
	s.actionIndex = 0
	s.inTransaction.Store(true)
	logger.WithSession(s.ID()).Debugf("begin transaction, start scn %d", start)
}

// endTransactionLocked 把会话移出活跃事务表
func (m *txManagerCommon) endTransactionLocked(s *Session) {
	if !s.IsInTransaction() {
		return
	}
	start := s.StartSCN()
	m.sessionsMu.Lock()
	delete(m.live, s.ID())
	if n, ok := m.snapshots.Get(start); ok {
		if n <= 1 {
			m.snapshots.Delete(start)
		} else {
			m.snapshots.Set(start, n-1)
		}
	}
	m.sessionsMu.Unlock()

	s.inTransaction.Store(false)
	s.executing.Store(false)
	s.actions = nil
	s.savepoints = nil
	s.statement = nil
	s.actionIndex = 0
}

// startAction 记录语句开始，不加锁
func (m *txManagerCommon) startAction(s *Session, st *Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.checkSession(s); err != nil {
		return err
	}
	if s.readOnly && !st.IsReadOnly() {
		return errors.Wrapf(ErrReadOnlyTransaction, "session %d", s.ID())
	}
	m.beginTransactionLocked(s)
	s.statement = st
	s.actionIndex = len(s.actions)
	s.actionTimestamp.Store(m.GetNextSystemChangeNumber())
	s.executing.Store(true)
	s.touch()
	return nil
}

// resumeAction 语句在等待之后继续执行，返回当前语句
func (m *txManagerCommon) resumeAction(s *Session) (*Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.checkSession(s); err != nil {
		return nil, err
	}
	m.beginTransactionLocked(s)
	s.executing.Store(true)
	s.touch()
	return s.statement, nil
}

// lockTables 为语句加表锁: 修改的表IX(排他语句为X)，withRead时读取的表IS
func (m *txManagerCommon) lockTables(s *Session, st *Statement, withRead bool) error {
	if st == nil {
		return nil
	}
	for _, id := range st.WriteTables {
		lt := lock.LOCK_IX
		if st.Exclusive {
			lt = lock.LOCK_X
		}
		if err := m.acquire(s, lock.TableID(id), lt); err != nil {
			return err
		}
	}
	if withRead {
		for _, id := range st.ReadTables {
			if err := m.acquire(s, lock.TableID(id), lock.LOCK_IS); err != nil {
				return err
			}
		}
	}
	return nil
}

// lockRow 加行锁，先加对应的表意向锁。调用方不能持有s.mu
func (m *txManagerCommon) lockRow(s *Session, id RowID, lt lock.LockType) error {
	intent := lock.LOCK_IS
	if lt == lock.LOCK_X {
		intent = lock.LOCK_IX
	}
	if err := m.acquire(s, lock.TableID(id.TableID), intent); err != nil {
		return err
	}
	return m.acquire(s, lock.RecordID(id.TableID, id.Position), lt)
}

func (m *txManagerCommon) acquire(s *Session, res lock.ResourceID, lt lock.LockType) error {
	timeout := s.LockTimeout()
	if timeout < 0 {
		timeout = m.config.LockTimeout
	}
	err := m.locks.AcquireLock(s.ID(), res, lt, timeout)
	if err != nil {
		logger.Debugf("session %d failed to lock %s %s: %v", s.ID(), lt, res, err)
	}
	return err
}

func (m *txManagerCommon) releaseLocks(s *Session) {
	if m.locks != nil {
		m.locks.ReleaseLocks(s.ID())
	}
}

func (m *txManagerCommon) registerStore(store PersistentStore) {
	m.storesMu.Lock()
	m.stores[store] = struct{}{}
	m.storesMu.Unlock()
}

func (m *txManagerCommon) registeredStores() []PersistentStore {
	m.storesMu.Lock()
	defer m.storesMu.Unlock()
	out := make([]PersistentStore, 0, len(m.stores))
	for st := range m.stores {
		out = append(out, st)
	}
	return out
}

// checkWriteLocked 写操作的会话检查，不改变会话状态。调用方持有s.mu
func (m *txManagerCommon) checkWriteLocked(s *Session, table *Table, row *Row) error {
	if err := m.checkSession(s); err != nil {
		return err
	}
	if s.readOnly {
		return errors.Wrapf(ErrReadOnlyTransaction, "session %d", s.ID())
	}
	if table != nil && table.ID != row.TableID() {
		return invariantf("%s does not belong to table %s(%d)", row.ID(), table.Name, table.ID)
	}
	return nil
}

// prepareWrite 写操作前的会话检查，必要时开启事务。调用方持有s.mu
func (m *txManagerCommon) prepareWrite(s *Session, table *Table, row *Row) error {
	if err := m.checkWriteLocked(s, table, row); err != nil {
		return err
	}
	if !s.IsInTransaction() {
		m.beginTransactionLocked(s)
		s.actionIndex = len(s.actions)
		s.actionTimestamp.Store(m.GetNextSystemChangeNumber())
	}
	s.touch()
	return nil
}

// lockForWrite 先做会话检查再加X行锁，被拒绝的写不会留下锁
func (m *txManagerCommon) lockForWrite(s *Session, table *Table, row *Row) error {
	s.mu.Lock()
	err := m.checkWriteLocked(s, table, row)
	if err != nil {
		m.abandonLocksLocked(s)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := m.lockRow(s, row.ID(), lock.LOCK_X); err != nil {
		m.abandonLocks(s)
		return err
	}
	return nil
}

// lockStatement 为语句加表锁，加锁期间会话被关闭时释放刚拿到的锁
func (m *txManagerCommon) lockStatement(s *Session, st *Statement, withRead bool) error {
	if err := m.lockTables(s, st, withRead); err != nil {
		m.abandonLocks(s)
		return err
	}
	return m.checkLocked(s)
}

// checkLocked 加锁之后确认会话没有在等待期间被关闭
func (m *txManagerCommon) checkLocked(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsClosed() {
		m.releaseLocks(s)
		return errors.Wrapf(ErrSessionClosed, "session %d", s.ID())
	}
	return nil
}

func (m *txManagerCommon) abandonLocks(s *Session) {
	s.mu.Lock()
	m.abandonLocksLocked(s)
	s.mu.Unlock()
}

// abandonLocksLocked 已关闭或不在事务中的会话不应持有锁，全部释放。调用方持有s.mu
func (m *txManagerCommon) abandonLocksLocked(s *Session) {
	if s.IsClosed() || !s.IsInTransaction() {
		m.releaseLocks(s)
	}
}

// addInsert 挂接插入动作并记入会话动作列表
func (m *txManagerCommon) addInsert(s *Session, table *Table, store PersistentStore, row *Row, changedColumns []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.prepareWrite(s, table, row); err != nil {
		m.abandonLocksLocked(s)
		return err
	}

	a, err := m.insertRow(s, store, row, changedColumns)
	if err != nil {
		return err
	}
	s.actions = append(s.actions, actionEntry{
		action:    a,
		op:        ACTION_INSERT,
		row:       row.ID(),
		store:     store,
		timestamp: s.ActionTimestamp(),
	})
	store.MarkTouched(s.ID(), row.ID())
	m.registerStore(store)
	return nil
}

// insertRow 新行在发布到存储之前先挂上插入动作，其他会话永远看不到没有动作的新行
func (m *txManagerCommon) insertRow(s *Session, store PersistentStore, row *Row, changedColumns []int) (*RowAction, error) {
	if cur, ok := store.Get(row.ID()); ok && cur == row {
		if row.Action() == nil {
			return nil, errors.Wrapf(ErrDuplicatePosition, "%s is a live row", row.ID())
		}
		return attachInsert(row, s, changedColumns)
	}

	a, err := attachInsert(row, s, changedColumns)
	if err != nil {
		return nil, err
	}
	for {
		existing, loaded := store.Put(row)
		if !loaded || existing == row {
			return a, nil
		}
		if !m.reclaimable(existing) {
			detachAction(row, a)
			return nil, errors.Wrapf(ErrDuplicatePosition, "%s is occupied", row.ID())
		}
		if store.Replace(existing, row) {
			logger.Debugf("session %d reuses position of %s", s.ID(), row.ID())
			return a, nil
		}
	}
}

// reclaimable 该位置上的行已被删除，并且没有活跃快照还能看到它
func (m *txManagerCommon) reclaimable(row *Row) bool {
	head := row.Action()
	if head == nil {
		return false
	}
	if head.IsRolledBack() {
		return head.Prev() == nil && head.Type() == ACTION_INSERT
	}
	switch head.Type() {
	case ACTION_DELETE, ACTION_INSERT_DELETE:
		scn := head.CommitSCN()
		return scn != 0 && scn <= m.purgeHorizon()
	}
	return false
}

// addDelete 挂接删除动作并记入会话动作列表
func (m *txManagerCommon) addDelete(s *Session, table *Table, store PersistentStore, row *Row, deferConflict bool, changedColumns []int) (*RowAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.prepareWrite(s, table, row); err != nil {
		m.abandonLocksLocked(s)
		return nil, err
	}

	cur, ok := store.Get(row.ID())
	if !ok || cur != row {
		return nil, errors.Wrapf(ErrRowNotFound, "%s is no longer stored", row.ID())
	}
	a, err := attachDelete(row, s, deferConflict, changedColumns)
	if err != nil {
		if errors.Is(err, ErrWriteConflict) {
			m.conflicts.Add(1)
		}
		return nil, err
	}
	s.actions = append(s.actions, actionEntry{
		action:    a,
		op:        ACTION_DELETE,
		row:       row.ID(),
		store:     store,
		timestamp: s.ActionTimestamp(),
	})
	store.MarkTouched(s.ID(), row.ID())
	m.registerStore(store)
	return a, nil
}

// readRow 通过存储重新读取该位置上的行并判断可见性
func (m *txManagerCommon) readRow(s *Session, store PersistentStore, row *Row, purpose Purpose) (bool, error) {
	if s.IsClosed() {
		return false, errors.Wrapf(ErrSessionClosed, "session %d", s.ID())
	}
	if purpose == PurposeRead && !s.IsInTransaction() {
		if err := m.BeginTransaction(s); err != nil {
			return false, err
		}
	}
	cur, ok := store.Get(row.ID())
	if !ok || cur != row {
		return false, nil
	}
	return canReadChain(cur.Action(), s, purpose), nil
}

// validateLocked 提交前校验动作状态，checkNewer为true时还要检查快照之后的提交。调用方持有s.mu
func (m *txManagerCommon) validateLocked(s *Session, checkNewer bool) error {
	for _, e := range s.actions {
		a := e.action
		if a.IsRolledBack() || a.IsCommitted() {
			return invariantf("session %d action %s on %s is not pending", s.ID(), a.Type(), e.row)
		}
		if !checkNewer {
			continue
		}
		if scn, ok := hasNewerCommit(a, s.StartSCN()); ok {
			return errors.Wrapf(ErrWriteConflict, "%s changed by commit %d after snapshot %d",
				e.row, scn, s.StartSCN())
		}
	}
	return nil
}

// commit 校验、分配提交SCN并写入全部动作、释放锁
func (m *txManagerCommon) commit(s *Session, checkNewer bool) error {
	s.mu.Lock()
	if err := m.checkSession(s); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.IsInTransaction() {
		s.mu.Unlock()
		return nil
	}

	m.commitMu.Lock()
	if err := m.validateLocked(s, checkNewer); err != nil {
		m.commitMu.Unlock()
		s.mu.Unlock()
		if errors.Is(err, ErrInvariantViolation) {
			m.violations.Add(1)
			logger.Errorf("session %d commit aborted: %v", s.ID(), err)
			m.Rollback(s)
			return err
		}
		m.conflicts.Add(1)
		logger.Debugf("session %d commit rejected: %v", s.ID(), err)
		return err
	}

	scn := m.scn.Add(1)
	for _, e := range s.actions {
		if !e.action.commitSCN.CompareAndSwap(0, scn) && e.action.CommitSCN() != scn {
			// 校验已在提交闩内完成，走到这里说明动作被并发修改
			m.violations.Add(1)
			logger.Errorf("session %d: action on %s stamped %d, expected %d",
				s.ID(), e.row, e.action.CommitSCN(), scn)
		}
	}
	m.commitMu.Unlock()

	entries := s.actions
	count := len(entries)
	stores := s.stores(entries)
	m.endTransactionLocked(s)
	s.completed = append(s.completed, entries...)
	s.mu.Unlock()

	m.releaseLocks(s)
	for _, st := range stores {
		st.ReleaseTouched(s.ID())
	}
	m.commits.Add(1)
	logger.WithSession(s.ID()).Debugf("committed %d actions at scn %d", count, scn)
	return nil
}

// CompleteActions 提交之后的清理: 把刚提交的行交给清理任务池压缩版本链，确认锁已释放
func (m *txManagerCommon) CompleteActions(s *Session) {
	s.mu.Lock()
	entries := s.completed
	s.completed = nil
	inTx := s.IsInTransaction()
	s.mu.Unlock()

	if !inTx && m.locks != nil {
		if held := m.locks.HeldLocks(s.ID()); len(held) > 0 {
			logger.Warnf("session %d still holds %d locks after commit", s.ID(), len(held))
			m.locks.ReleaseLocks(s.ID())
		}
	}
	if len(entries) == 0 || m.closed.Load() {
		return
	}
	if !m.purgePool.AddTask(func() { m.compactEntries(entries) }) {
		logger.Debugf("purge pool closed, %d rows of session %d left for full purge", len(entries), s.ID())
	}
}
