// Package flight 记录正在回源的资源，保证同一 URL 同时只有一个下载者。
// 未抢到的请求不会等待，由调用方直接重定向到源站。
package flight

import (
	"sort"
	"sync"
	"time"
)

// Flight 是一次进行中的回源，Done 在 Release 后关闭。
type Flight struct {
	Key     string
	Started time.Time

	gate *Gate
	done chan struct{}
	err  error
}

// Release 结束本次下载；key 已被新的下载者占用时不会误删。
func (f *Flight) Release(err error) {
	f.gate.release(f, err)
}

// Done 返回在下载结束时关闭的 channel。
func (f *Flight) Done() <-chan struct{} {
	return f.done
}

// Err 在 Done 关闭后返回下载结果。
func (f *Flight) Err() error {
	<-f.done
	return f.err
}

// Gate 是 key → Flight 的并发安全表。
type Gate struct {
	mu      sync.Mutex
	flights map[string]*Flight
	now     func() time.Time
}

// NewGate 创建空表。
func NewGate() *Gate {
	return &Gate{flights: make(map[string]*Flight), now: time.Now}
}

// TryAcquire 原子地登记 key；已有下载者时返回现有 Flight 与 false。
func (g *Gate) TryAcquire(key string) (*Flight, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.flights[key]; ok {
		return existing, false
	}
	f := &Flight{Key: key, Started: g.now(), gate: g, done: make(chan struct{})}
	g.flights[key] = f
	return f, true
}

// Release 移除 key 并唤醒关注该 Flight 的协程；重复调用是安全的。
func (g *Gate) Release(key string, err error) {
	g.mu.Lock()
	f, ok := g.flights[key]
	g.mu.Unlock()
	if ok {
		g.release(f, err)
	}
}

func (g *Gate) release(f *Flight, err error) {
	g.mu.Lock()
	if g.flights[f.Key] != f {
		g.mu.Unlock()
		return
	}
	delete(g.flights, f.Key)
	g.mu.Unlock()

	f.err = err
	close(f.done)
}

// InFlight 判断 key 是否正在下载。
func (g *Gate) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.flights[key]
	return ok
}

// Entry 是诊断接口输出的一行。
type Entry struct {
	Key       string `json:"key"`
	StartedAt string `json:"started_at"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Snapshot 按开始时间返回所有进行中的下载。
func (g *Gate) Snapshot() []Entry {
	g.mu.Lock()
	items := make([]*Flight, 0, len(g.flights))
	for _, f := range g.flights {
		items = append(items, f)
	}
	g.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Started.Equal(items[j].Started) {
			return items[i].Key < items[j].Key
		}
		return items[i].Started.Before(items[j].Started)
	})
	now := g.now()
	result := make([]Entry, len(items))
	for i, f := range items {
		result[i] = Entry{
			Key:       f.Key,
			StartedAt: f.Started.UTC().Format(time.RFC3339),
			ElapsedMs: now.Sub(f.Started).Milliseconds(),
		}
	}
	return result
}
