// Package verify 判定一个阶段是否真的成功。
// 被驱动页面的自报结果不可信，必须独立核验（token、展示字段、启发式信号）。
package verify

import (
	"context"
	"encoding/json"
	"fmt"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/config"
	"sequence_engine/internal/logbus"
	"sequence_engine/internal/retry"
)

// Outcome 是三态核验结果：
// Success && Verified   —— 确认成功；
// Success && !Verified  —— 动作自称成功但无法独立确认，下游需保守处理；
// !Success              —— 确认失败。
type Outcome struct {
	Success    bool   `json:"success"`
	Verified   bool   `json:"verified"`
	Confidence int    `json:"confidence,omitempty"`
	Details    string `json:"details,omitempty"`
}

type Engine struct {
	cfg config.VerifyConfig
	bus *logbus.Bus
}

func New(cfg config.VerifyConfig, bus *logbus.Bus) *Engine {
	return &Engine{cfg: cfg, bus: bus}
}

// ConfirmToken 轮询认证痕迹（cookie 名单 + localStorage 键名单）。
// 只有在窗口内明确探测到 token 才算成功——超时永远不会被当成成功。
func (e *Engine) ConfirmToken(ctx context.Context, page browser.Page) (Outcome, error) {
	probe := storageProbeScript(e.cfg.TokenStorageKeys)

	found, err := retry.PollUntil(ctx, e.cfg.TokenPollInterval(), e.cfg.TokenPollAttempts, func(ctx context.Context) (bool, error) {
		cookies, err := page.Cookies(ctx)
		if err != nil {
			return false, err
		}
		for _, c := range cookies {
			if c.Value == "" {
				continue
			}
			for _, name := range e.cfg.TokenCookieNames {
				if c.Name == name {
					return true, nil
				}
			}
		}

		val, err := page.Evaluate(ctx, probe)
		if err != nil {
			return false, err
		}
		return val.Bool(), nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if found {
		return Outcome{Success: true, Verified: true, Confidence: 100}, nil
	}
	return Outcome{
		Success: false,
		Details: fmt.Sprintf("轮询 %d 次未发现认证 token", e.cfg.TokenPollAttempts),
	}, nil
}

func storageProbeScript(keys []string) string {
	b, _ := json.Marshal(keys)
	return fmt.Sprintf(`() => {
		const keys = %s;
		for (const k of keys) {
			const v = window.localStorage.getItem(k);
			if (v && v.length > 0) return true;
		}
		return false;
	}`, string(b))
}

// LoginSignals 是登录启发式的弱信号集合，由站点适配脚本在页面里采集。
type LoginSignals struct {
	HasAuthTokens    bool `json:"hasAuthTokens"`
	HasLogoutControl bool `json:"hasLogoutControl"`
	HasLoginForm     bool `json:"hasLoginForm"`
	LoggedInURL      bool `json:"loggedInUrl"`
	HasUserInfo      bool `json:"hasUserInfo"`
	HasSuccessMarker bool `json:"hasSuccessMarker"`
	BalanceShown     bool `json:"balanceShown"`
}

// Score 把弱信号加权求和成 0-100 的置信度。
// 权重按各信号的历史误报率手工调过：token 最硬，URL 之类最软。
func Score(sig LoginSignals) int {
	score := 0
	if sig.HasAuthTokens {
		score += 50
	}
	if sig.HasSuccessMarker {
		score += 40
	}
	if sig.HasLogoutControl {
		score += 30
	}
	if !sig.HasLoginForm {
		score += 25
	}
	if sig.LoggedInURL {
		score += 20
	}
	if sig.HasUserInfo {
		score += 15
	}
	if sig.BalanceShown {
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score
}

// ConfirmLoginHeuristic 是 token 核验不可用时的退路：
// 采集信号、打分、按阈值判定。结果永远只是 Success，不会给出 Verified。
func (e *Engine) ConfirmLoginHeuristic(ctx context.Context, page browser.Page, signalScript string) (Outcome, error) {
	val, err := page.Evaluate(ctx, signalScript)
	if err != nil {
		return Outcome{}, err
	}
	var sig LoginSignals
	if err := val.Decode(&sig); err != nil {
		return Outcome{}, fmt.Errorf("decode login signals: %w", err)
	}

	confidence := Score(sig)
	loggedIn := confidence >= e.cfg.LoginConfidenceThreshold
	out := Outcome{
		Success:    loggedIn,
		Verified:   false,
		Confidence: confidence,
		Details:    fmt.Sprintf("置信度 %d（阈值 %d）", confidence, e.cfg.LoginConfidenceThreshold),
	}
	if e.bus != nil && loggedIn {
		e.bus.Log("debug", "启发式判定已登录", map[string]any{"confidence": confidence})
	}
	return out, nil
}
