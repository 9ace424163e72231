package lock

import (
	"sync"
	"sync/atomic"
	"time"

	gxtime "github.com/dubbogo/gost/time"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-trx/logger"
	"github.com/zhukovaskychina/xmysql-trx/util"
)

// MaxWheelTimeSpan 时间轮覆盖的最长等待时间，更长的超时按此值截断
const MaxWheelTimeSpan = 15 * time.Minute

// LockRequest 锁请求
type LockRequest struct {
	OwnerID  int64     // 持有者(会话)ID
	LockType LockType  // 锁类型
	Granted  bool      // 是否已授予
	Created  time.Time // 创建时间

	upgrade *LockRequest // 锁升级时指向原来已授予的请求
	ready   chan struct{}
	err     error
}

// lockQueue 单个资源上的请求队列: 已授予的在前，等待的按FIFO在后
type lockQueue struct {
	resource ResourceID
	requests []*LockRequest
}

type lockShard struct {
	mu    sync.Mutex
	table map[ResourceID]*lockQueue
}

// LockManager 锁管理器
type LockManager struct {
	config   LockConfig
	shards   []*lockShard
	detector *DeadlockDetector
	wheel    *gxtime.Wheel
	maxWait  time.Duration

	ownersMu sync.Mutex
	owned    map[int64]map[ResourceID]LockType // 事务持有的锁
	waiting  map[int64]ResourceID              // 事务正在等待的资源

	closed    atomic.Bool
	waits     atomic.Uint64
	deadlocks atomic.Uint64
	timeouts  atomic.Uint64
	aborts    atomic.Uint64
	totalWait atomic.Int64
	maxWaited atomic.Int64
}

// NewLockManager 创建锁管理器
func NewLockManager(config LockConfig) *LockManager {
	if config.Shards <= 0 {
		config.Shards = 1
	}
	if config.WheelSpan <= 0 {
		config.WheelSpan = 10 * time.Millisecond
	}
	buckets := int(MaxWheelTimeSpan / config.WheelSpan)

	lm := &LockManager{
		config:   config,
		shards:   make([]*lockShard, config.Shards),
		detector: NewDeadlockDetector(),
		wheel:    gxtime.NewWheel(config.WheelSpan, buckets),
		maxWait:  MaxWheelTimeSpan,
		owned:    make(map[int64]map[ResourceID]LockType),
		waiting:  make(map[int64]ResourceID),
	}
	for i := range lm.shards {
		lm.shards[i] = &lockShard{table: make(map[ResourceID]*lockQueue)}
	}
	return lm
}

// Close 关闭锁管理器
func (lm *LockManager) Close() {
	if lm.closed.CompareAndSwap(false, true) {
		lm.wheel.Stop()
	}
}

// Config 锁配置
func (lm *LockManager) Config() LockConfig {
	return lm.config
}

func (lm *LockManager) shardFor(res ResourceID) *lockShard {
	h := util.HashPosition(res.TableID, res.Position)
	return lm.shards[util.ShardIndex(h, len(lm.shards))]
}

func (s *lockShard) queue(res ResourceID) *lockQueue {
	q, ok := s.table[res]
	if !ok {
		q = &lockQueue{resource: res}
		s.table[res] = q
	}
	return q
}

func (s *lockShard) dropIfEmpty(q *lockQueue) {
	if len(q.requests) == 0 {
		delete(s.table, q.resource)
	}
}

// blockers 计算请求req的阻塞者: 其他事务不兼容的已授予锁，以及排在它前面不兼容的等待请求
func (q *lockQueue) blockers(req *LockRequest, ahead int) []int64 {
	var holders []int64
	seen := make(map[int64]bool)
	for i, r := range q.requests {
		if r == req || r.OwnerID == req.OwnerID || seen[r.OwnerID] {
			continue
		}
		if !r.Granted && i >= ahead {
			continue
		}
		if !isLockCompatible(r.LockType, req.LockType) || !isLockCompatible(req.LockType, r.LockType) {
			seen[r.OwnerID] = true
			holders = append(holders, r.OwnerID)
		}
	}
	return holders
}

func (q *lockQueue) enqueue(req *LockRequest) {
	if req.upgrade == nil {
		q.requests = append(q.requests, req)
		return
	}
	// 升级请求排在所有等待请求之前
	pos := 0
	for pos < len(q.requests) && q.requests[pos].Granted {
		pos++
	}
	q.requests = append(q.requests, nil)
	copy(q.requests[pos+1:], q.requests[pos:])
	q.requests[pos] = req
}

func (q *lockQueue) remove(req *LockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// AcquireLock 获取锁，必要时阻塞等待直到授予、超时或检测到死锁
func (lm *LockManager) AcquireLock(owner int64, res ResourceID, lockType LockType, timeout time.Duration) error {
	if lm.closed.Load() {
		return ErrLockClosed
	}

	shard := lm.shardFor(res)
	shard.mu.Lock()
	q := shard.queue(res)

	// 检查是否已持有锁
	var held *LockRequest
	for _, r := range q.requests {
		if r.OwnerID == owner && r.Granted {
			held = r
			break
		}
	}
	target := lockType
	if held != nil {
		if held.LockType.covers(lockType) {
			shard.mu.Unlock()
			return nil
		}
		target = upgradeTarget(held.LockType, lockType)
	}

	req := &LockRequest{
		OwnerID:  owner,
		LockType: target,
		Created:  time.Now(),
		upgrade:  held,
		ready:    make(chan struct{}),
	}

	blockers := q.blockers(req, len(q.requests))
	if held != nil {
		// 升级请求不受等待队列影响
		blockers = q.blockers(req, 0)
	}
	if len(blockers) == 0 {
		if held != nil {
			held.LockType = target
		} else {
			req.Granted = true
			q.requests = append(q.requests, req)
		}
		lm.recordOwned(owner, res, target)
		shard.mu.Unlock()
		return nil
	}

	if timeout == 0 {
		shard.dropIfEmpty(q)
		shard.mu.Unlock()
		lm.timeouts.Add(1)
		return errors.Wrapf(ErrLockTimeout, "%s %s held by %v (nowait)", target, res, blockers)
	}

	q.enqueue(req)
	lm.setWaiting(owner, res)

	if lm.config.DeadlockDetect {
		if cycle := lm.detector.SetWaitFor(owner, blockers); cycle != nil {
			q.remove(req)
			lm.detector.ClearWaiter(owner)
			lm.clearWaiting(owner)
			lm.promote(q)
			shard.dropIfEmpty(q)
			shard.mu.Unlock()

			lm.deadlocks.Add(1)
			logger.Warnf("deadlock detected: session %d requesting %s %s, cycle %v", owner, target, res, cycle)
			return errors.Wrapf(ErrDeadlock, "%s %s cycle %v", target, res, cycle)
		}
	}
	shard.mu.Unlock()

	lm.waits.Add(1)
	return lm.wait(shard, q, req, timeout)
}

// after 使用时间轮获取超时通道，nil表示永不超时
func (lm *LockManager) after(timeout time.Duration) <-chan struct{} {
	if timeout < 0 {
		return nil
	}
	if timeout > lm.maxWait {
		timeout = lm.maxWait
	}
	return lm.wheel.After(timeout)
}

func (lm *LockManager) wait(shard *lockShard, q *lockQueue, req *LockRequest, timeout time.Duration) error {
	start := time.Now()
	select {
	case <-req.ready:
	case <-lm.after(timeout):
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	lm.recordWaitTime(time.Since(start))

	select {
	case <-req.ready:
		// 已授予或被取消
		return req.err
	default:
	}

	q.remove(req)
	lm.detector.ClearWaiter(req.OwnerID)
	lm.clearWaiting(req.OwnerID)
	lm.promote(q)
	shard.dropIfEmpty(q)

	lm.timeouts.Add(1)
	logger.Debugf("lock wait timeout: session %d %s %s after %v", req.OwnerID, req.LockType, q.resource, timeout)
	return errors.Wrapf(ErrLockTimeout, "%s %s after %v", req.LockType, q.resource, timeout)
}

// promote 授予可以授予的等待请求，重新计算等待关系，并中止陷入死锁的等待者
func (lm *LockManager) promote(q *lockQueue) {
	for {
		granted := false
		for i, r := range q.requests {
			if r.Granted {
				continue
			}
			if len(q.blockers(r, i)) == 0 {
				lm.grantWaiter(q, r)
				granted = true
				break
			}
		}
		if granted {
			continue
		}

		if !lm.config.DeadlockDetect {
			return
		}
		aborted := false
		for i, r := range q.requests {
			if r.Granted {
				continue
			}
			if cycle := lm.detector.SetWaitFor(r.OwnerID, q.blockers(r, i)); cycle != nil {
				lm.deadlocks.Add(1)
				logger.Warnf("deadlock detected: session %d waiting for %s %s, cycle %v", r.OwnerID, r.LockType, q.resource, cycle)
				lm.abortWaiter(q, r, errors.Wrapf(ErrDeadlock, "%s %s cycle %v", r.LockType, q.resource, cycle))
				aborted = true
				break
			}
		}
		if !aborted {
			return
		}
	}
}

func (lm *LockManager) grantWaiter(q *lockQueue, r *LockRequest) {
	if r.upgrade != nil {
		q.remove(r.upgrade)
		r.upgrade = nil
	}
	r.Granted = true
	// 保持已授予的请求排在等待请求之前
	q.remove(r)
	pos := 0
	for pos < len(q.requests) && q.requests[pos].Granted {
		pos++
	}
	q.requests = append(q.requests, nil)
	copy(q.requests[pos+1:], q.requests[pos:])
	q.requests[pos] = r

	lm.detector.ClearWaiter(r.OwnerID)
	lm.clearWaiting(r.OwnerID)
	lm.recordOwned(r.OwnerID, q.resource, r.LockType)
	close(r.ready)
}

func (lm *LockManager) abortWaiter(q *lockQueue, r *LockRequest, cause error) {
	q.remove(r)
	r.err = cause
	lm.detector.ClearWaiter(r.OwnerID)
	lm.clearWaiting(r.OwnerID)
	close(r.ready)
}

// releaseSnapshotHook 测试用，在ReleaseLocks取得持有者快照之后调用
var releaseSnapshotHook func(owner int64)

// ReleaseLocks 释放事务持有的所有锁，并取消其正在进行的等待。
// 取快照和处理分片之间可能有新的请求登记，所以重复到持有者没有任何锁和等待为止。
func (lm *LockManager) ReleaseLocks(owner int64) int {
	released := 0
	for {
		resources := lm.takeOwned(owner)
		if len(resources) == 0 {
			break
		}
		if releaseSnapshotHook != nil {
			releaseSnapshotHook(owner)
		}
		released += lm.releaseResources(owner, resources)
	}
	lm.detector.RemoveTransaction(owner)
	return released
}

// takeOwned 取出并清空持有者登记的锁和等待的资源
func (lm *LockManager) takeOwned(owner int64) []ResourceID {
	lm.ownersMu.Lock()
	defer lm.ownersMu.Unlock()
	resources := make([]ResourceID, 0, len(lm.owned[owner])+1)
	for res := range lm.owned[owner] {
		resources = append(resources, res)
	}
	delete(lm.owned, owner)
	if res, ok := lm.waiting[owner]; ok {
		resources = append(resources, res)
		delete(lm.waiting, owner)
	}
	return resources
}

func (lm *LockManager) releaseResources(owner int64, resources []ResourceID) int {
	released := 0
	for _, res := range resources {
		shard := lm.shardFor(res)
		shard.mu.Lock()
		if q, ok := shard.table[res]; ok {
			for _, r := range append([]*LockRequest(nil), q.requests...) {
				if r.OwnerID != owner {
					continue
				}
				if r.Granted {
					q.remove(r)
					released++
					continue
				}
				lm.aborts.Add(1)
				lm.abortWaiter(q, r, errors.Wrapf(ErrLockAborted, "%s %s", r.LockType, res))
			}
			lm.promote(q)
			shard.dropIfEmpty(q)
		}
		shard.mu.Unlock()
	}
	return released
}

func (lm *LockManager) recordOwned(owner int64, res ResourceID, lockType LockType) {
	lm.ownersMu.Lock()
	defer lm.ownersMu.Unlock()
	m, ok := lm.owned[owner]
	if !ok {
		m = make(map[ResourceID]LockType)
		lm.owned[owner] = m
	}
	m[res] = lockType
}

func (lm *LockManager) setWaiting(owner int64, res ResourceID) {
	lm.ownersMu.Lock()
	lm.waiting[owner] = res
	lm.ownersMu.Unlock()
}

func (lm *LockManager) clearWaiting(owner int64) {
	lm.ownersMu.Lock()
	delete(lm.waiting, owner)
	lm.ownersMu.Unlock()
}

func (lm *LockManager) recordWaitTime(d time.Duration) {
	lm.totalWait.Add(int64(d))
	for {
		cur := lm.maxWaited.Load()
		if int64(d) <= cur || lm.maxWaited.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// HeldLocks 获取事务持有的锁
func (lm *LockManager) HeldLocks(owner int64) map[ResourceID]LockType {
	lm.ownersMu.Lock()
	defer lm.ownersMu.Unlock()
	out := make(map[ResourceID]LockType, len(lm.owned[owner]))
	for res, lt := range lm.owned[owner] {
		out[res] = lt
	}
	return out
}

// IsWaiting 事务是否正在等待锁
func (lm *LockManager) IsWaiting(owner int64) bool {
	lm.ownersMu.Lock()
	defer lm.ownersMu.Unlock()
	_, ok := lm.waiting[owner]
	return ok
}

// Stats 获取锁统计信息
func (lm *LockManager) Stats() LockStats {
	stats := LockStats{
		LockWaits:     lm.waits.Load(),
		Deadlocks:     lm.deadlocks.Load(),
		LockTimeouts:  lm.timeouts.Load(),
		LockAborts:    lm.aborts.Load(),
		TotalWaitTime: time.Duration(lm.totalWait.Load()),
		MaxWaitTime:   time.Duration(lm.maxWaited.Load()),
	}
	for _, shard := range lm.shards {
		shard.mu.Lock()
		for _, q := range shard.table {
			for _, r := range q.requests {
				if r.Granted {
					stats.GrantedLocks++
				} else {
					stats.WaitingLocks++
				}
			}
		}
		shard.mu.Unlock()
	}
	return stats
}
