// Package rotator 周期性把后台标签页置前，避免宿主浏览器对
// 不活跃标签页做节流。并行跑几十个站点时只有前台标签页全速执行，
// 轮换是保证所有会话都能推进的手段。
package rotator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/flowerr"
	"sequence_engine/internal/logbus"
)

type tabEntry struct {
	id       string
	page     browser.Page
	complete bool
}

// Rotator 每个 tick 把一个符合条件的会话置前（轮转下标）。
// 符合条件 = 已注册、未标记完成、标签页还活着。
// 条件集合变空时自行停止，不需要外部知道什么时候所有工作结束。
type Rotator struct {
	mu   sync.Mutex
	tabs []*tabEntry
	// seen 在第一个会话注册后置位。置位之前空集不算结束，
	// 因为轮换器在批次启动时就先跑起来了，比第一个页面打开要早。
	seen    bool
	tick    time.Duration
	bus     *logbus.Bus
	cancel  context.CancelFunc
	running bool
	stopped chan struct{}

	rr          atomic.Uint64
	activations atomic.Uint64
}

func New(tick time.Duration, bus *logbus.Bus) *Rotator {
	if tick <= 0 {
		tick = 2 * time.Second
	}
	return &Rotator{tick: tick, bus: bus}
}

func (r *Rotator) Register(id string, page browser.Page) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = true
	for _, e := range r.tabs {
		if e.id == id {
			e.page = page
			e.complete = false
			return
		}
	}
	r.tabs = append(r.tabs, &tabEntry{id: id, page: page})
}

// Complete 把会话移出轮换（不关闭标签页，只是不再触碰）。
func (r *Rotator) Complete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.tabs {
		if e.id == id {
			e.complete = true
			return
		}
	}
}

func (r *Rotator) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.stopped = make(chan struct{})
	stopped := r.stopped
	r.mu.Unlock()

	go r.loop(ctx, stopped)
}

func (r *Rotator) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Rotator) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done 返回轮换循环退出时关闭的通道（测试用来等自停）。
func (r *Rotator) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Rotator) Activations() uint64 {
	return r.activations.Load()
}

func (r *Rotator) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !r.rotateOnce(ctx) {
			r.Stop()
			return
		}
	}
}

// rotateOnce 返回 false 表示没有可轮换的会话或遇到系统性错误，应当停止。
func (r *Rotator) rotateOnce(ctx context.Context) bool {
	eligible, seen := r.eligible()
	if len(eligible) == 0 {
		if !seen {
			return true
		}
		if r.bus != nil {
			r.bus.Log("info", "标签页轮换结束：没有待处理会话", nil)
		}
		return false
	}

	idx := int(r.rr.Add(1)-1) % len(eligible)
	e := eligible[idx]

	frontCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := e.page.BringToFront(frontCtx)
	cancel()
	if err == nil {
		r.activations.Add(1)
		return true
	}

	switch flowerr.Classify(err) {
	case flowerr.KindTabClosed:
		// 单个标签页被关不影响其他会话的轮换。
		r.Complete(e.id)
	case flowerr.KindContextDestroyed:
		if r.bus != nil {
			r.bus.Log("warn", "标签页轮换遇到系统性错误，停止轮换", map[string]any{"error": err.Error()})
		}
		return false
	default:
		if r.bus != nil {
			r.bus.Log("debug", "置前标签页失败，忽略", map[string]any{"id": e.id, "error": err.Error()})
		}
	}
	return true
}

func (r *Rotator) eligible() ([]*tabEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*tabEntry
	for _, e := range r.tabs {
		if e.complete {
			continue
		}
		if !e.page.IsAlive() {
			e.complete = true
			continue
		}
		out = append(out, e)
	}
	return out, r.seen
}

type Status struct {
	Total     int  `json:"total"`
	Completed int  `json:"completed"`
	Running   bool `json:"running"`
}

func (r *Rotator) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{Total: len(r.tabs), Running: r.running}
	for _, e := range r.tabs {
		if e.complete {
			st.Completed++
		}
	}
	return st
}
