// Package pool 管理批次内共享的昂贵资源（登录窗口、优惠上下文）。
// 同一个 key 的创建操作在并发首访下至多执行一次：第一个调用方启动创建
// 并发布一个未完成的句柄，其余调用方等待同一个句柄完成。
package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/flowerr"
	"sequence_engine/internal/logbus"
)

const (
	KeyLoginWindow  = "loginWindow"
	KeyPromoContext = "promoContext"
)

type CreateFunc func(ctx context.Context) (browser.Context, error)

type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	bus     *logbus.Bus
}

type entry struct {
	done chan struct{}
	res  browser.Context
	err  error
}

func New(bus *logbus.Bus) *Pool {
	return &Pool{
		entries: make(map[string]*entry),
		bus:     bus,
	}
}

// GetOrCreate 返回 key 对应的共享资源，必要时创建。
// 创建结果（包括失败）在本池生命周期内被记住：失败不会触发静默重建，
// 资源消失时快速失败返回 resource lost，而不是破坏“全批共享”的约定。
func (p *Pool) GetOrCreate(ctx context.Context, key string, create CreateFunc) (browser.Context, error) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &entry{done: make(chan struct{})}
		p.entries[key] = e
		p.mu.Unlock()

		res, err := create(ctx)
		e.res, e.err = res, err
		close(e.done)
		if err != nil {
			if p.bus != nil {
				p.bus.Log("error", "共享资源创建失败", map[string]any{"key": key, "error": err.Error()})
			}
			return nil, err
		}
		if p.bus != nil {
			p.bus.Log("info", "共享资源已创建", map[string]any{"key": key})
		}
		return res, nil
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
	}
	if e.err != nil {
		return nil, e.err
	}
	if !e.res.IsAlive() {
		return nil, fmt.Errorf("%w: %s", flowerr.ErrResourceLost, key)
	}
	return e.res, nil
}

// ReconcileBlankTabs 关掉新窗口自带的空白占位标签页，
// 但绝不动调用方正在使用的那一个。
func (p *Pool) ReconcileBlankTabs(ctx context.Context, c browser.Context, keep browser.Page) error {
	pages, err := c.Pages(ctx)
	if err != nil {
		return err
	}
	for _, pg := range pages {
		if pg == keep {
			continue
		}
		if !isBlankURL(pg.URL()) {
			continue
		}
		_ = pg.Close()
	}
	return nil
}

func isBlankURL(u string) bool {
	switch strings.TrimSpace(u) {
	case "", "about:blank", "chrome://newtab/", "chrome://new-tab-page/":
		return true
	}
	return false
}

// CloseAll 是批次收尾时的显式清理；消费方永远不会触发资源关闭。
func (p *Pool) CloseAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for key, e := range entries {
		select {
		case <-e.done:
		default:
			continue
		}
		if e.err != nil || e.res == nil {
			continue
		}
		if err := e.res.Close(); err != nil && p.bus != nil {
			p.bus.Log("warn", "共享资源关闭失败", map[string]any{"key": key, "error": err.Error()})
		}
	}
}
