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

// PromoRotator 是优惠上下文的轮换变体：
// 共享上下文里的标签页少、生命周期短，所以每个 tick 把
// 所有仍然打开的标签页都置前一遍（每个停留 dwell），
// 而不是一次只转一个。
type PromoRotator struct {
	browserCtx browser.Context
	tick       time.Duration
	dwell      time.Duration
	bus        *logbus.Bus

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	stopped chan struct{}

	// seen 在第一次扫到打开的标签页后置位。置位之前空集不算结束，
	// 因为轮换器通常比第一个优惠标签页先启动。
	seen bool

	activations atomic.Uint64
}

func NewPromo(browserCtx browser.Context, tick, dwell time.Duration, bus *logbus.Bus) *PromoRotator {
	if tick <= 0 {
		tick = 3 * time.Second
	}
	if dwell <= 0 {
		dwell = 200 * time.Millisecond
	}
	return &PromoRotator{
		browserCtx: browserCtx,
		tick:       tick,
		dwell:      dwell,
		bus:        bus,
	}
}

func (r *PromoRotator) Start() {
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

func (r *PromoRotator) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *PromoRotator) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *PromoRotator) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *PromoRotator) Activations() uint64 {
	return r.activations.Load()
}

func (r *PromoRotator) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !r.sweepOnce(ctx) {
			r.Stop()
			return
		}
	}
}

func (r *PromoRotator) sweepOnce(ctx context.Context) bool {
	if !r.browserCtx.IsAlive() {
		if r.bus != nil {
			r.bus.Log("warn", "优惠上下文已销毁，停止优惠标签页轮换", nil)
		}
		return false
	}

	pages, err := r.browserCtx.Pages(ctx)
	if err != nil {
		if r.bus != nil {
			r.bus.Log("warn", "优惠标签页轮换读取页面失败，停止轮换", map[string]any{"error": err.Error()})
		}
		return false
	}

	open := 0
	for _, p := range pages {
		if !p.IsAlive() {
			continue
		}
		open++

		frontCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.BringToFront(frontCtx)
		cancel()
		if err != nil {
			switch flowerr.Classify(err) {
			case flowerr.KindContextDestroyed:
				return false
			default:
				// 单个标签页的失败不影响本轮其他标签页。
				continue
			}
		}
		r.activations.Add(1)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.dwell):
		}
	}

	if open == 0 {
		if !r.seen {
			return true
		}
		if r.bus != nil {
			r.bus.Log("info", "优惠标签页轮换结束：没有打开的页面", nil)
		}
		return false
	}
	r.seen = true
	return true
}
