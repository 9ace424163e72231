package latch

import (
	"sync"
	"sync/atomic"
)

// Latch 短期持有的读写闩锁，记录争用次数
type Latch struct {
	mu    sync.RWMutex
	name  string
	waits atomic.Uint64
}

// NewLatch 创建一个新的闩锁
func NewLatch(name string) *Latch {
	return &Latch{name: name}
}

// Name 闩锁名称
func (l *Latch) Name() string {
	return l.name
}

// Lock 获取写闩锁
func (l *Latch) Lock() {
	if l.mu.TryLock() {
		return
	}
	l.waits.Add(1)
	l.mu.Lock()
}

// Unlock 释放写闩锁
func (l *Latch) Unlock() {
	l.mu.Unlock()
}

// RLock 获取读闩锁
func (l *Latch) RLock() {
	if l.mu.TryRLock() {
		return
	}
	l.waits.Add(1)
	l.mu.RLock()
}

// RUnlock 释放读闩锁
func (l *Latch) RUnlock() {
	l.mu.RUnlock()
}

// WithLock 在写闩锁保护下执行fn
func (l *Latch) WithLock(fn func()) {
	l.Lock()
	defer l.Unlock()
	fn()
}

// WithRLock 在读闩锁保护下执行fn
func (l *Latch) WithRLock(fn func()) {
	l.RLock()
	defer l.RUnlock()
	fn()
}

// Waits 获取因争用而等待的次数
func (l *Latch) Waits() uint64 {
	return l.waits.Load()
}
