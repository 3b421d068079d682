// Package sequence 驱动单个站点走完 Register → Login → AddBank → CheckPromo。
// 阶段严格向前推进：上游失败或未确认时，下游阶段标记 skipped，绝不尝试。
// 阶段内部的重试由 retry 策略完成，不存在跨阶段的从头再来。
package sequence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/config"
	"sequence_engine/internal/flowerr"
	"sequence_engine/internal/logbus"
	"sequence_engine/internal/model"
	"sequence_engine/internal/pool"
	"sequence_engine/internal/retry"
	"sequence_engine/internal/rotator"
	"sequence_engine/internal/verify"
)

// Scripts 是站点适配层提供的自动化脚本包（不透明的 JS 函数串）。
// 核心只负责注入与核验，不理解脚本内容。
type Scripts struct {
	Register     string
	Login        string
	AddBank      string
	CheckPromo   string
	BankSnapshot string
	LoginSignals string
	// CaptchaImage / CaptchaSubmit 可选：注册表单带图片验证码的站点用。
	// CaptchaImage 取 Base64 图片，CaptchaSubmit 接收识别出的文本回填。
	CaptchaImage  string
	CaptchaSubmit string
}

// CaptchaSolver 由打码客户端实现。
type CaptchaSolver interface {
	SolveImage(ctx context.Context, apiKey, imageB64 string) (string, error)
}

type Options struct {
	Adapter       browser.Adapter
	Pool          *pool.Pool
	Verifier      *verify.Engine
	Bus           *logbus.Bus
	Rotator       *rotator.Rotator
	RetryCfg      config.RetryConfig
	BrowserCfg    config.BrowserConfig
	Promo         model.PromoSettings
	ScreenshotDir string
	Limiter       *rate.Limiter
	Captcha       CaptchaSolver
}

type Runner struct {
	opts Options
}

func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

type pages struct {
	register browser.Page
	login    browser.Page
}

// EffectiveStages 归一化请求的阶段子集：空集等于全量，
// 优惠检查未开启时整体剔除 checkPromo（不记录、不计入进度）。
func EffectiveStages(stages []model.Stage, promo model.PromoSettings) []model.Stage {
	if len(stages) == 0 {
		stages = model.Stages
	}
	out := make([]model.Stage, 0, len(stages))
	for _, s := range stages {
		if s == model.StageCheckPromo && !promo.Enabled {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Run 执行一个站点的（可能是子集的）阶段序列，返回完整的运行结果。
// report 在每个阶段落定后被调用一次，驱动批次级进度。
func (r *Runner) Run(ctx context.Context, site model.Site, profile model.Profile, scripts Scripts, stages []model.Stage, report func(model.StepResult)) model.SequenceRun {
	stages = EffectiveStages(stages, r.opts.Promo)
	run := model.SequenceRun{
		ID:          uuid.NewString(),
		SiteID:      site.ID,
		SiteName:    site.Name,
		Status:      model.RunStatusRunning,
		StartedAtMs: time.Now().UnixMilli(),
	}

	var st pages
	abort := false
	abortReason := ""

	for _, stage := range stages {
		run.Stage = stage

		var step model.StepResult
		if abort {
			step = skipped(stage, abortReason)
		} else {
			step = r.runStage(ctx, stage, site, profile, scripts, &st)
		}
		step.AtMs = time.Now().UnixMilli()
		run.Steps = append(run.Steps, step)
		if report != nil {
			report(step)
		}

		if !abort && !step.Skipped {
			if reason, stop := gate(stage, step, r.opts.Promo); stop {
				abort = true
				abortReason = reason
			} else if stage == model.StageAddBank && step.Success && !step.Verified && r.opts.Promo.Enabled {
				if r.opts.Bus != nil {
					r.opts.Bus.Log("warn", "绑卡结果未逐项确认，按策略继续优惠检查", map[string]any{"site": site.Name})
				}
			}
		}
	}

	r.markComplete(site)
	run.Status = aggregate(run.Steps)
	run.FinishedAtMs = time.Now().UnixMilli()
	return run
}

// gate 决定一个阶段的结果是否让后续阶段全部跳过。
func gate(stage model.Stage, step model.StepResult, promo model.PromoSettings) (string, bool) {
	switch stage {
	case model.StageRegister:
		if !step.Success || !step.Verified {
			return "注册未确认成功", true
		}
	case model.StageLogin:
		if !step.Success || !step.Verified {
			return "登录未确认成功", true
		}
	case model.StageAddBank:
		if !step.Success {
			return "绑卡失败", true
		}
		if promo.RequireVerified && !step.Verified {
			return "绑卡未逐项确认，策略要求 verified", true
		}
	}
	return "", false
}

func (r *Runner) runStage(ctx context.Context, stage model.Stage, site model.Site, profile model.Profile, scripts Scripts, st *pages) model.StepResult {
	switch stage {
	case model.StageRegister:
		return r.stageRegister(ctx, site, profile, scripts, st)
	case model.StageLogin:
		return r.stageLogin(ctx, site, scripts, st)
	case model.StageAddBank:
		return r.stageAddBank(ctx, site, profile, scripts, st)
	case model.StageCheckPromo:
		return r.stageCheckPromo(ctx, site, scripts)
	}
	return skipped(stage, "未知阶段")
}

func (r *Runner) stageRegister(ctx context.Context, site model.Site, profile model.Profile, scripts Scripts, st *pages) model.StepResult {
	if err := r.waitNav(ctx); err != nil {
		return failed(model.StageRegister, err)
	}

	page, err := r.opts.Adapter.Open(ctx, site.RegisterURL)
	if err != nil {
		return r.failWithShot(ctx, model.StageRegister, site, nil, err)
	}
	st.register = page
	if r.opts.Rotator != nil {
		r.opts.Rotator.Register(site.ID, page)
	}

	err = retry.Do(ctx, retry.Policy{
		MaxAttempts: r.opts.RetryCfg.InjectAttempts,
		Delay:       r.opts.RetryCfg.Delay(),
	}, func(ctx context.Context) error {
		return page.Inject(ctx, scripts.Register)
	})
	if err != nil && flowerr.Classify(err) != flowerr.KindContextDestroyed {
		return r.failWithShot(ctx, model.StageRegister, site, page, err)
	}

	r.solveRegisterCaptcha(ctx, page, site, profile, scripts)

	out, err := r.opts.Verifier.ConfirmToken(ctx, page)
	if err != nil {
		return r.failWithShot(ctx, model.StageRegister, site, page, err)
	}
	if !out.Verified {
		r.screenshot(ctx, page, site, model.StageRegister)
		return model.StepResult{Stage: model.StageRegister, Success: false, Reason: out.Details}
	}
	return model.StepResult{Stage: model.StageRegister, Success: true, Verified: true}
}

func (r *Runner) stageLogin(ctx context.Context, site model.Site, scripts Scripts, st *pages) model.StepResult {
	loginCtx, err := r.opts.Pool.GetOrCreate(ctx, pool.KeyLoginWindow, func(ctx context.Context) (browser.Context, error) {
		return r.opts.Adapter.NewContext(ctx)
	})
	if err != nil {
		return failed(model.StageLogin, fmt.Errorf("共享登录窗口不可用: %w", err))
	}
	if !loginCtx.IsAlive() {
		return failed(model.StageLogin, fmt.Errorf("%w: %s", flowerr.ErrResourceLost, pool.KeyLoginWindow))
	}

	if err := r.waitNav(ctx); err != nil {
		return failed(model.StageLogin, err)
	}
	page, err := loginCtx.Open(ctx, site.LoginURL)
	if err != nil {
		return r.failWithShot(ctx, model.StageLogin, site, nil, err)
	}
	st.login = page
	_ = r.opts.Pool.ReconcileBlankTabs(ctx, loginCtx, page)
	if r.opts.Rotator != nil {
		r.opts.Rotator.Register(site.ID+":login", page)
	}

	err = retry.Do(ctx, retry.Policy{
		MaxAttempts: r.opts.RetryCfg.SubmitAttempts,
		Delay:       r.opts.RetryCfg.Delay(),
	}, func(ctx context.Context) error {
		return page.Inject(ctx, scripts.Login)
	})
	if err != nil && flowerr.Classify(err) != flowerr.KindContextDestroyed {
		return r.failWithShot(ctx, model.StageLogin, site, page, err)
	}

	// 严格模式：拿不到 token 就是失败，绝不因为动作自称成功而放行。
	out, err := r.opts.Verifier.ConfirmToken(ctx, page)
	if err != nil {
		return r.failWithShot(ctx, model.StageLogin, site, page, err)
	}
	if !out.Verified {
		r.screenshot(ctx, page, site, model.StageLogin)
		return model.StepResult{Stage: model.StageLogin, Success: false, Reason: out.Details}
	}
	return model.StepResult{Stage: model.StageLogin, Success: true, Verified: true}
}

func (r *Runner) stageAddBank(ctx context.Context, site model.Site, profile model.Profile, scripts Scripts, st *pages) model.StepResult {
	page := st.login
	if page == nil {
		// 单独跑绑卡（登录阶段不在本次请求里）时自己开页面。
		var err error
		if err = r.waitNav(ctx); err != nil {
			return failed(model.StageAddBank, err)
		}
		page, err = r.opts.Adapter.Open(ctx, site.BankURL)
		if err != nil {
			return r.failWithShot(ctx, model.StageAddBank, site, nil, err)
		}
		st.login = page
	} else {
		if err := r.waitNav(ctx); err != nil {
			return failed(model.StageAddBank, err)
		}
		if err := page.Navigate(ctx, site.BankURL); err != nil {
			return r.failWithShot(ctx, model.StageAddBank, site, page, err)
		}
	}

	expect := verify.BankExpect{
		HolderName:    profile.FullName,
		Branch:        profile.BankBranch,
		AccountNumber: profile.BankAccount,
	}

	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: r.opts.RetryCfg.SubmitAttempts,
		Delay:       r.opts.RetryCfg.Delay(),
		Grace:       r.opts.RetryCfg.ContextGrace(),
		Recheck: func(ctx context.Context) error {
			// 提交后上下文被销毁多半是页面跳转：重读展示字段再下结论。
			out, rerr := r.opts.Verifier.ConfirmBankFields(ctx, page, scripts.BankSnapshot, expect)
			if rerr != nil {
				return rerr
			}
			if out.Success {
				return nil
			}
			return fmt.Errorf("%w: %s", flowerr.ErrVerificationFailed, out.Details)
		},
	}, func(ctx context.Context) error {
		return page.Inject(ctx, scripts.AddBank)
	})
	if err != nil {
		return r.failWithShot(ctx, model.StageAddBank, site, page, err)
	}

	out, err := r.opts.Verifier.ConfirmBankFields(ctx, page, scripts.BankSnapshot, expect)
	if err != nil {
		return r.failWithShot(ctx, model.StageAddBank, site, page, err)
	}
	step := model.StepResult{
		Stage:    model.StageAddBank,
		Success:  out.Success,
		Verified: out.Verified,
		Reason:   out.Details,
	}
	if !out.Success {
		r.screenshot(ctx, page, site, model.StageAddBank)
	}
	return step
}

func (r *Runner) stageCheckPromo(ctx context.Context, site model.Site, scripts Scripts) model.StepResult {
	if !r.opts.Promo.Enabled {
		return skipped(model.StageCheckPromo, "优惠检查未开启")
	}
	promoURL := site.PromoURL(r.opts.Promo.PromoType)
	if promoURL == "" {
		return skipped(model.StageCheckPromo, fmt.Sprintf("站点未配置 %s 类型优惠页", r.opts.Promo.PromoType))
	}

	promoCtx, err := r.opts.Pool.GetOrCreate(ctx, pool.KeyPromoContext, func(ctx context.Context) (browser.Context, error) {
		return r.opts.Adapter.NewContext(ctx)
	})
	if err != nil {
		// 共享优惠上下文起不来时整批降级：跳过而不是失败。
		return skipped(model.StageCheckPromo, "共享优惠上下文不可用: "+err.Error())
	}

	stageCtx, cancel := context.WithTimeout(ctx, r.opts.BrowserCfg.PromoNavTimeout())
	defer cancel()

	if err := r.waitNav(stageCtx); err != nil {
		return failed(model.StageCheckPromo, err)
	}
	page, err := promoCtx.Open(stageCtx, promoURL)
	if err != nil {
		return failed(model.StageCheckPromo, err)
	}
	defer func() { _ = page.Close() }()
	_ = r.opts.Pool.ReconcileBlankTabs(stageCtx, promoCtx, page)

	// 优惠流程（填身份 → 选优惠 → 过二次验证 → 提交）整体是一个
	// 不透明子操作，这里只关心它的最终结果。
	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	err = retry.Do(stageCtx, retry.Policy{
		MaxAttempts: r.opts.RetryCfg.SubmitAttempts,
		Delay:       r.opts.RetryCfg.Delay(),
	}, func(ctx context.Context) error {
		val, err := page.Evaluate(ctx, scripts.CheckPromo)
		if err != nil {
			return err
		}
		return val.Decode(&result)
	})
	if err != nil {
		return failed(model.StageCheckPromo, err)
	}
	if !result.Success {
		return model.StepResult{Stage: model.StageCheckPromo, Success: false, Reason: result.Message}
	}
	return model.StepResult{Stage: model.StageCheckPromo, Success: true, Verified: true, Reason: result.Message}
}

// solveRegisterCaptcha 注册表单带图片验证码时走打码服务。
// 任何一步失败都只打日志：后面的 token 核验自然会暴露问题。
func (r *Runner) solveRegisterCaptcha(ctx context.Context, page browser.Page, site model.Site, profile model.Profile, scripts Scripts) {
	if r.opts.Captcha == nil || scripts.CaptchaImage == "" || scripts.CaptchaSubmit == "" || profile.CaptchaAPIKey == "" {
		return
	}
	val, err := page.Evaluate(ctx, scripts.CaptchaImage)
	if err != nil {
		return
	}
	img := val.Str()
	if img == "" {
		return
	}
	text, err := r.opts.Captcha.SolveImage(ctx, profile.CaptchaAPIKey, img)
	if err != nil {
		if r.opts.Bus != nil {
			r.opts.Bus.Log("warn", "验证码识别失败", map[string]any{"site": site.Name, "error": err.Error()})
		}
		return
	}
	if _, err := page.Evaluate(ctx, fmt.Sprintf("(%s)(%q)", scripts.CaptchaSubmit, text)); err != nil {
		if r.opts.Bus != nil {
			r.opts.Bus.Log("warn", "验证码回填失败", map[string]any{"site": site.Name, "error": err.Error()})
		}
	}
}

func (r *Runner) waitNav(ctx context.Context) error {
	if r.opts.Limiter == nil {
		return nil
	}
	return r.opts.Limiter.Wait(ctx)
}

func (r *Runner) markComplete(site model.Site) {
	if r.opts.Rotator == nil {
		return
	}
	r.opts.Rotator.Complete(site.ID)
	r.opts.Rotator.Complete(site.ID + ":login")
}

// failWithShot 统一处理阶段终态失败：归类原因、补一张现场截图。
// 标签页被手动关闭时额外向总线广播，让外部界面能对上状态。
func (r *Runner) failWithShot(ctx context.Context, stage model.Stage, site model.Site, page browser.Page, err error) model.StepResult {
	if errors.Is(err, context.Canceled) {
		return failed(stage, err)
	}
	if flowerr.Classify(err) == flowerr.KindTabClosed {
		if r.opts.Bus != nil {
			r.opts.Bus.Log("warn", "标签页被手动关闭，序列终止", map[string]any{
				"site": site.Name, "stage": string(stage),
			})
		}
		return model.StepResult{Stage: stage, Success: false, Reason: "标签页被手动关闭"}
	}
	if page != nil {
		r.screenshot(ctx, page, site, stage)
	}
	return failed(stage, err)
}

func (r *Runner) screenshot(ctx context.Context, page browser.Page, site model.Site, stage model.Stage) {
	if r.opts.ScreenshotDir == "" || page == nil {
		return
	}
	shot, err := page.Screenshot(ctx)
	if err != nil || len(shot) == 0 {
		return
	}
	if err := os.MkdirAll(r.opts.ScreenshotDir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%s_%s_%d.png", site.ID, stage, time.Now().UnixMilli())
	path := filepath.Join(r.opts.ScreenshotDir, name)
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		return
	}
	if r.opts.Bus != nil {
		r.opts.Bus.Publish(logbus.TypeScreenshot, logbus.ScreenshotData{
			SiteID: site.ID, Stage: stage, Path: path, Bytes: len(shot),
		})
	}
}

func failed(stage model.Stage, err error) model.StepResult {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return model.StepResult{Stage: stage, Success: false, Reason: reason}
}

func skipped(stage model.Stage, reason string) model.StepResult {
	return model.StepResult{Stage: stage, Skipped: true, Reason: reason}
}

// aggregate 把逐阶段结果折算成整体状态：
// 注册/登录失败 → failed；全部达成且绑卡 verified → succeeded；其余 partial。
func aggregate(steps []model.StepResult) model.RunStatus {
	for _, s := range steps {
		if s.Skipped {
			continue
		}
		if !s.Success && (s.Stage == model.StageRegister || s.Stage == model.StageLogin) {
			return model.RunStatusFailed
		}
	}

	full := true
	attempted := 0
	for _, s := range steps {
		if s.Skipped {
			full = false
			continue
		}
		attempted++
		if !s.Success {
			full = false
		}
		if s.Stage == model.StageAddBank && !s.Verified {
			full = false
		}
	}
	if attempted == 0 {
		return model.RunStatusFailed
	}
	if full {
		return model.RunStatusSucceeded
	}
	return model.RunStatusPartial
}
