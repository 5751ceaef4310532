package cache

import "sync"

// PathLocker 保证同一目标路径在进程内同一时刻只有一个写入者。
type PathLocker struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewPathLocker 创建空的路径锁表。
func NewPathLocker() *PathLocker {
	return &PathLocker{locks: make(map[string]*entryLock)}
}

// Lock 阻塞直到获得 key 的写锁，返回的函数用于释放。
func (l *PathLocker) Lock(key string) func() {
	l.mu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &entryLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Held 返回当前登记的路径数量，供诊断与测试使用。
func (l *PathLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
