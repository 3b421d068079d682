// Package browser 定义流程核心对浏览器的全部依赖面。
// 核心只通过这里的接口驱动页面；站点相关的选择器、表单脚本
// 由调用方作为不透明的 JS 函数串传入。
package browser

import (
	"context"
	"encoding/json"

	"sequence_engine/internal/model"
)

// Page 是一个浏览器标签页的句柄。
// 所有调用都可能因为标签页被用户关闭、页面导航等原因失败，
// 错误分类交给 flowerr.Classify。
type Page interface {
	// Navigate 跳转并等待 DOMContentLoaded（不等图片等资源）。
	Navigate(ctx context.Context, url string) error
	// Inject 在当前页面里执行一段自动化脚本包（JS 函数串）。
	Inject(ctx context.Context, script string) error
	// Evaluate 在页面上下文中求值一个 JS 函数串，返回其结果。
	Evaluate(ctx context.Context, expr string) (Value, error)
	Cookies(ctx context.Context) ([]model.Cookie, error)
	IsAlive() bool
	BringToFront(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL() string
	Close() error
}

// Context 是一个隔离的浏览器上下文（独立 cookie/storage），
// 批次内的优惠阶段共用一个这样的上下文。
type Context interface {
	Open(ctx context.Context, url string) (Page, error)
	Pages(ctx context.Context) ([]Page, error)
	IsAlive() bool
	Close() error
}

// Adapter 是创建页面/上下文的入口。
type Adapter interface {
	Open(ctx context.Context, url string) (Page, error)
	NewContext(ctx context.Context) (Context, error)
	Close() error
}

// Value 包一层 Evaluate 的返回值，屏蔽底层驱动的 JSON 表达。
type Value struct {
	raw json.RawMessage
}

func NewValue(v any) Value {
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}
	}
	return Value{raw: b}
}

func RawValue(raw []byte) Value {
	return Value{raw: raw}
}

func (v Value) Exists() bool {
	return len(v.raw) > 0 && string(v.raw) != "null"
}

func (v Value) Bool() bool {
	var b bool
	_ = json.Unmarshal(v.raw, &b)
	return b
}

func (v Value) Str() string {
	var s string
	if json.Unmarshal(v.raw, &s) == nil {
		return s
	}
	return string(v.raw)
}

func (v Value) Num() float64 {
	var f float64
	_ = json.Unmarshal(v.raw, &f)
	return f
}

func (v Value) Decode(out any) error {
	if len(v.raw) == 0 {
		return json.Unmarshal([]byte("null"), out)
	}
	return json.Unmarshal(v.raw, out)
}
