// Package flowerr 定义流程层的错误分类。
// 页面驱动返回的错误文本并不规范，这里统一收敛成少数几个哨兵错误，
// 重试策略只依据分类结果做决策。
package flowerr

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNavigationTimeout     = errors.New("navigation timeout")
	ErrScriptInjection       = errors.New("script injection failed")
	ErrVerificationAmbiguous = errors.New("verification ambiguous")
	ErrVerificationFailed    = errors.New("verification failed")
	ErrTabClosed             = errors.New("tab closed by user")
	ErrContextDestroyed      = errors.New("context destroyed")
	ErrResourceLost          = errors.New("resource lost")
	ErrDuplicateBatch        = errors.New("duplicate batch")
)

type Kind string

const (
	KindTransient        Kind = "transient"
	KindTabClosed        Kind = "tabClosed"
	KindContextDestroyed Kind = "contextDestroyed"
	KindFatal            Kind = "fatal"
)

// 浏览器协议层错误没有稳定的类型，只能按文本识别。
// 这些片段来自 CDP/驱动在对应场景下的实际报错。
var (
	tabClosedMarkers = []string{
		"target closed",
		"session closed",
		"tab closed",
		"page closed",
	}
	contextDestroyedMarkers = []string{
		"execution context was destroyed",
		"context destroyed",
		"cannot find context",
	}
)

// Classify 将任意错误映射到重试分类。
// 未识别的错误一律按 transient 处理：宁可多试一次，也不要把
// 偶发的协议抖动当成终态失败。
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	switch {
	case errors.Is(err, ErrTabClosed):
		return KindTabClosed
	case errors.Is(err, ErrContextDestroyed):
		return KindContextDestroyed
	case errors.Is(err, ErrVerificationFailed),
		errors.Is(err, ErrResourceLost),
		errors.Is(err, ErrDuplicateBatch),
		errors.Is(err, context.Canceled):
		return KindFatal
	case errors.Is(err, ErrNavigationTimeout),
		errors.Is(err, ErrScriptInjection),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, m := range tabClosedMarkers {
		if strings.Contains(msg, m) {
			return KindTabClosed
		}
	}
	for _, m := range contextDestroyedMarkers {
		if strings.Contains(msg, m) {
			return KindContextDestroyed
		}
	}
	return KindTransient
}
