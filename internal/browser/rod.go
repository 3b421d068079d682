package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"sequence_engine/internal/config"
	"sequence_engine/internal/flowerr"
	"sequence_engine/internal/model"
)

// RodAdapter 用一个常驻的 Chromium 实例实现 Adapter。
// 目标站点会做自动化检测，所以新建页面一律走 stealth。
type RodAdapter struct {
	browser    *rod.Browser
	launcher   *launcher.Launcher
	navTimeout time.Duration
}

func NewRod(cfg config.BrowserConfig) (*RodAdapter, error) {
	l := launcher.New().Headless(cfg.Headless)
	u, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	return &RodAdapter{
		browser:    b,
		launcher:   l,
		navTimeout: cfg.NavTimeout(),
	}, nil
}

func (a *RodAdapter) Open(ctx context.Context, url string) (Page, error) {
	return openStealthPage(ctx, a.browser, url, a.navTimeout)
}

func (a *RodAdapter) NewContext(ctx context.Context) (Context, error) {
	incognito, err := a.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("new incognito context: %w", err)
	}
	return &rodContext{browser: incognito, navTimeout: a.navTimeout}, nil
}

func (a *RodAdapter) Close() error {
	var firstErr error
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			firstErr = err
		}
	}
	if a.launcher != nil {
		a.launcher.Kill()
	}
	return firstErr
}

type rodContext struct {
	browser    *rod.Browser
	navTimeout time.Duration
}

func (c *rodContext) Open(ctx context.Context, url string) (Page, error) {
	return openStealthPage(ctx, c.browser, url, c.navTimeout)
}

func (c *rodContext) Pages(ctx context.Context) ([]Page, error) {
	pages, err := c.browser.Pages()
	if err != nil {
		return nil, mapRodErr(err)
	}
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, &rodPage{page: p, navTimeout: c.navTimeout})
	}
	return out, nil
}

func (c *rodContext) IsAlive() bool {
	_, err := c.browser.Pages()
	return err == nil
}

func (c *rodContext) Close() error {
	return c.browser.Close()
}

func openStealthPage(ctx context.Context, b *rod.Browser, url string, navTimeout time.Duration) (Page, error) {
	var page *rod.Page
	if err := rod.Try(func() {
		page = stealth.MustPage(b)
	}); err != nil {
		return nil, mapRodErr(err)
	}

	p := &rodPage{page: page, navTimeout: navTimeout}
	if url != "" {
		if err := p.Navigate(ctx, url); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return p, nil
}

type rodPage struct {
	page       *rod.Page
	navTimeout time.Duration
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.navTimeout)
	waitDom := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(url); err != nil {
		return mapRodErr(err)
	}
	if err := rod.Try(waitDom); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", flowerr.ErrNavigationTimeout, url)
		}
		return mapRodErr(err)
	}
	return nil
}

func (p *rodPage) Inject(ctx context.Context, script string) error {
	if _, err := p.page.Context(ctx).Eval(script); err != nil {
		return fmt.Errorf("%w: %v", flowerr.ErrScriptInjection, mapRodErr(err))
	}
	return nil
}

func (p *rodPage) Evaluate(ctx context.Context, expr string) (Value, error) {
	res, err := p.page.Context(ctx).Eval(expr)
	if err != nil {
		return Value{}, mapRodErr(err)
	}
	raw, err := json.Marshal(res.Value.Val())
	if err != nil {
		return Value{}, err
	}
	return RawValue(raw), nil
}

func (p *rodPage) Cookies(ctx context.Context) ([]model.Cookie, error) {
	cookies, err := p.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, mapRodErr(err)
	}
	out := make([]model.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, model.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  int64(c.Expires * 1000),
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func (p *rodPage) IsAlive() bool {
	_, err := p.page.Info()
	return err == nil
}

func (p *rodPage) BringToFront(ctx context.Context) error {
	_, err := p.page.Context(ctx).Activate()
	return mapRodErr(err)
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	b, err := p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, mapRodErr(err)
	}
	return b, nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// mapRodErr 把驱动层错误折算成可分类的流程错误。
func mapRodErr(err error) error {
	if err == nil {
		return nil
	}
	switch flowerr.Classify(err) {
	case flowerr.KindTabClosed:
		return fmt.Errorf("%w: %v", flowerr.ErrTabClosed, err)
	case flowerr.KindContextDestroyed:
		return fmt.Errorf("%w: %v", flowerr.ErrContextDestroyed, err)
	}
	return err
}
