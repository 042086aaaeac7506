package syncgroup

import (
	"sync"
)

// SyncGroup 收集一批 goroutine 函数，Run 一次性启动，Wait 等待全部结束。
// supervisor 用它在 Wait 进程之前排空 stdout/stderr。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []func()
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个函数，Run 之前不会执行
func (w *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, fn)
	w.mu.Unlock()
}

// Run 启动所有已登记的函数并清空登记列表；重复调用只会启动新登记的函数
func (w *SyncGroup) Run() {
	w.mu.Lock()
	fns := w.pending
	w.pending = nil
	w.wg.Add(len(fns))
	w.mu.Unlock()

	for _, fn := range fns {
		go func(doFunc func()) {
			defer w.wg.Done()
			doFunc()
		}(fn)
	}
}

// Wait 等待已启动的函数全部返回
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}

// WaitAndClear 等待完成并丢弃尚未 Run 的函数
func (w *SyncGroup) WaitAndClear() {
	w.wg.Wait()
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}
