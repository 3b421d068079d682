// Package browsertest 提供 browser 接口的内存假实现，供各包测试复用。
package browsertest

import (
	"context"
	"sync"
	"time"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/model"
)

type FakePage struct {
	mu         sync.Mutex
	name       string
	url        string
	alive      bool
	cookies    []model.Cookie
	frontCount int
	navs       []string

	NavigateErr error
	InjectErr   error
	FrontErr    error
	EvalFn      func(expr string) (browser.Value, error)
	Shot        []byte
}

func NewPage(name string) *FakePage {
	return &FakePage{name: name, alive: true, Shot: []byte("png")}
}

func (p *FakePage) Name() string { return p.name }

func (p *FakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.url = url
	p.navs = append(p.navs, url)
	return nil
}

func (p *FakePage) Inject(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.InjectErr
}

func (p *FakePage) Evaluate(_ context.Context, expr string) (browser.Value, error) {
	p.mu.Lock()
	fn := p.EvalFn
	p.mu.Unlock()
	if fn != nil {
		return fn(expr)
	}
	return browser.NewValue(nil), nil
}

func (p *FakePage) Cookies(_ context.Context) ([]model.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Cookie, len(p.cookies))
	copy(out, p.cookies)
	return out, nil
}

func (p *FakePage) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *FakePage) BringToFront(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FrontErr != nil {
		return p.FrontErr
	}
	p.frontCount++
	return nil
}

func (p *FakePage) Screenshot(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Shot, nil
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
	return nil
}

func (p *FakePage) SetCookies(cs []model.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = cs
}

func (p *FakePage) SetAlive(alive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = alive
}

func (p *FakePage) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

func (p *FakePage) SetEval(fn func(expr string) (browser.Value, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EvalFn = fn
}

func (p *FakePage) FrontCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frontCount
}

func (p *FakePage) Navs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.navs))
	copy(out, p.navs)
	return out
}

type FakeContext struct {
	mu    sync.Mutex
	pages []*FakePage
	alive bool
	seq   int

	OpenErr error
	// PageHook 在新开页面时调用，测试用它预置页面行为。
	PageHook func(p *FakePage)
}

func NewContext() *FakeContext {
	return &FakeContext{alive: true}
}

func (c *FakeContext) Open(_ context.Context, url string) (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	c.seq++
	p := NewPage("ctx-page")
	p.url = url
	c.pages = append(c.pages, p)
	hook := c.PageHook
	if hook != nil {
		c.mu.Unlock()
		hook(p)
		c.mu.Lock()
	}
	return p, nil
}

func (c *FakeContext) Pages(_ context.Context) ([]browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.Page, 0, len(c.pages))
	for _, p := range c.pages {
		out = append(out, p)
	}
	return out, nil
}

func (c *FakeContext) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *FakeContext) SetAlive(alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = alive
}

// AddBlank 模拟新窗口自带的空白占位标签页。
func (c *FakeContext) AddBlank(n int) []*FakePage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []*FakePage
	for i := 0; i < n; i++ {
		p := NewPage("blank")
		p.url = "about:blank"
		c.pages = append(c.pages, p)
		added = append(added, p)
	}
	return added
}

func (c *FakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
	return nil
}

type FakeAdapter struct {
	mu           sync.Mutex
	openCount    int
	contextCount int
	contexts     []*FakeContext
	pages        []*FakePage

	OpenErr      error
	ContextErr   error
	ContextDelay time.Duration
	PageHook     func(p *FakePage)
}

func NewAdapter() *FakeAdapter {
	return &FakeAdapter{}
}

func (a *FakeAdapter) Open(_ context.Context, url string) (browser.Page, error) {
	a.mu.Lock()
	if a.OpenErr != nil {
		defer a.mu.Unlock()
		return nil, a.OpenErr
	}
	a.openCount++
	p := NewPage("page")
	p.url = url
	a.pages = append(a.pages, p)
	hook := a.PageHook
	a.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return p, nil
}

func (a *FakeAdapter) NewContext(_ context.Context) (browser.Context, error) {
	a.mu.Lock()
	delay := a.ContextDelay
	a.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ContextErr != nil {
		return nil, a.ContextErr
	}
	a.contextCount++
	c := NewContext()
	c.PageHook = a.PageHook
	a.contexts = append(a.contexts, c)
	return c, nil
}

func (a *FakeAdapter) Close() error { return nil }

func (a *FakeAdapter) OpenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openCount
}

func (a *FakeAdapter) ContextCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contextCount
}

func (a *FakeAdapter) Contexts() []*FakeContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*FakeContext, len(a.contexts))
	copy(out, a.contexts)
	return out
}

func (a *FakeAdapter) Pages() []*FakePage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*FakePage, len(a.pages))
	copy(out, a.pages)
	return out
}
