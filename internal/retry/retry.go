// Package retry 提供有界重试与轮询组合子。
// 所有多秒级的等待循环都应该经过这里，而不是散落在各个阶段函数里。
package retry

import (
	"context"
	"time"

	"sequence_engine/internal/flowerr"
)

type Policy struct {
	MaxAttempts int
	// Delay 固定间隔退避。页面驱动的失败大多是“页面还没就绪”，
	// 指数退避在这里没有意义。
	Delay time.Duration
	// Grace contextDestroyed 之后、调用 Recheck 之前的等待，
	// 给页面完成导航留时间。
	Grace time.Duration
	// Recheck 在 contextDestroyed 时重新核验页面状态：
	// 返回 nil 表示动作其实已经生效；返回错误则继续按失败处理。
	// 为 nil 时 contextDestroyed 直接向上抛。
	Recheck func(ctx context.Context) error
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}

func (p Policy) delay() time.Duration {
	if p.Delay <= 0 {
		return 1500 * time.Millisecond
	}
	return p.Delay
}

// Do 按策略执行 op。
// transient 错误重试到次数耗尽；tabClosed/fatal 立即终止；
// contextDestroyed 走 Recheck 分支（导航往往意味着动作已成功）。
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		switch flowerr.Classify(err) {
		case flowerr.KindTabClosed, flowerr.KindFatal:
			return err
		case flowerr.KindContextDestroyed:
			if p.Recheck == nil {
				return err
			}
			if !sleep(ctx, p.grace()) {
				return ctx.Err()
			}
			return p.Recheck(ctx)
		}

		if attempt == p.attempts() {
			break
		}
		if !sleep(ctx, p.delay()) {
			return ctx.Err()
		}
	}
	return lastErr
}

func (p Policy) grace() time.Duration {
	if p.Grace <= 0 {
		return 2 * time.Second
	}
	return p.Grace
}

// PollUntil 以固定间隔调用 pred，最多 attempts 次。
// 只有 pred 明确返回 true 才算命中；次数耗尽返回 false 而不是错误，
// 由调用方决定超时语义（比如 token 核验“超时即失败”）。
// pred 返回错误会立即中止轮询。
func PollUntil(ctx context.Context, interval time.Duration, attempts int, pred func(ctx context.Context) (bool, error)) (bool, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := pred(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if i == attempts-1 {
			break
		}
		if !sleep(ctx, interval) {
			return false, ctx.Err()
		}
	}
	return false, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
