package lock

import (
	"sync"
)

// DeadlockDetector 死锁检测器，维护事务之间的等待图
type DeadlockDetector struct {
	mu           sync.RWMutex
	waitForGraph map[int64]map[int64]bool // waiter -> holders
}

// NewDeadlockDetector 创建死锁检测器
func NewDeadlockDetector() *DeadlockDetector {
	return &DeadlockDetector{
		waitForGraph: make(map[int64]map[int64]bool),
	}
}

// SetWaitFor 用新的持有者集合替换waiter的等待关系，并返回由此形成的等待环
func (dd *DeadlockDetector) SetWaitFor(waiter int64, holders []int64) []int64 {
	dd.mu.Lock()
	defer dd.mu.Unlock()

	if len(holders) == 0 {
		delete(dd.waitForGraph, waiter)
		return nil
	}
	set := make(map[int64]bool, len(holders))
	for _, h := range holders {
		if h != waiter {
			set[h] = true
		}
	}
	if len(set) == 0 {
		delete(dd.waitForGraph, waiter)
		return nil
	}
	dd.waitForGraph[waiter] = set
	return dd.findCycle(waiter)
}

// ClearWaiter 移除waiter作为等待者的所有关系
func (dd *DeadlockDetector) ClearWaiter(waiter int64) {
	dd.mu.Lock()
	defer dd.mu.Unlock()
	delete(dd.waitForGraph, waiter)
}

// RemoveTransaction 移除事务的所有等待关系
func (dd *DeadlockDetector) RemoveTransaction(txnID int64) {
	dd.mu.Lock()
	defer dd.mu.Unlock()

	delete(dd.waitForGraph, txnID)
	for waiter, waitSet := range dd.waitForGraph {
		delete(waitSet, txnID)
		if len(waitSet) == 0 {
			delete(dd.waitForGraph, waiter)
		}
	}
}

// FindCycle 查找经过start的等待环
func (dd *DeadlockDetector) FindCycle(start int64) []int64 {
	dd.mu.RLock()
	defer dd.mu.RUnlock()
	return dd.findCycle(start)
}

// findCycle 深度优先搜索，返回 start -> ... -> start 的路径(不含重复的start)
func (dd *DeadlockDetector) findCycle(start int64) []int64 {
	visited := make(map[int64]bool)
	path := []int64{start}

	var dfs func(current int64) bool
	dfs = func(current int64) bool {
		for next := range dd.waitForGraph[current] {
			if next == start {
				return true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			if dfs(next) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	if dfs(start) {
		return path
	}
	return nil
}

// GetWaitForGraph 获取等待图的快照(用于调试)
func (dd *DeadlockDetector) GetWaitForGraph() map[int64][]int64 {
	dd.mu.RLock()
	defer dd.mu.RUnlock()

	result := make(map[int64][]int64, len(dd.waitForGraph))
	for waiter, waitSet := range dd.waitForGraph {
		holders := make([]int64, 0, len(waitSet))
		for holder := range waitSet {
			holders = append(holders, holder)
		}
		result[waiter] = holders
	}
	return result
}
