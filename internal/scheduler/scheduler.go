// Package scheduler 接收批次并按执行模式驱动各站点的序列。
// 一个调度器实例自己持有在途批次指纹表：多实例（比如测试里）互不干扰。
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/config"
	"sequence_engine/internal/flowerr"
	"sequence_engine/internal/logbus"
	"sequence_engine/internal/model"
	"sequence_engine/internal/notify"
	"sequence_engine/internal/pool"
	"sequence_engine/internal/rotator"
	"sequence_engine/internal/sequence"
	"sequence_engine/internal/verify"
)

// ScriptsFor 由站点适配层提供：给定站点和身份，产出要注入的脚本包。
type ScriptsFor func(site model.Site, profile model.Profile) sequence.Scripts

type RunSink func(ctx context.Context, runs []model.SequenceRun)

type Options struct {
	Cfg      config.Config
	Adapter  browser.Adapter
	Bus      *logbus.Bus
	Verifier *verify.Engine
	Notifier notify.Notifier
	Captcha  sequence.CaptchaSolver
	Scripts  ScriptsFor
	// RunSink 批次结束时收走终态结果（落库）。失败只记日志，不影响批次。
	RunSink RunSink
}

type BatchRequest struct {
	Sites   []model.Site
	Profile model.Profile
	Mode    model.BatchMode
	Window  int
	Stages  []model.Stage
	Promo   model.PromoSettings
}

type batchRun struct {
	state  model.BatchState
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	opts    Options
	limiter *rate.Limiter

	mu      sync.Mutex
	running map[string]string // fingerprint -> batchID
	current *batchRun
	recent  []model.BatchState

	wg sync.WaitGroup
}

func New(opts Options) *Scheduler {
	cfg := opts.Cfg.Scheduler
	return &Scheduler{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(cfg.NavQPS), cfg.NavBurst),
		running: make(map[string]string),
	}
}

// Fingerprint 是批次目标集的规范指纹：注册地址排序后的 JSON。
// 同一组站点不管提交顺序如何都会算出同一个指纹。
func Fingerprint(sites []model.Site) string {
	urls := make([]string, 0, len(sites))
	for _, s := range sites {
		urls = append(urls, strings.TrimSpace(s.RegisterURL))
	}
	sort.Strings(urls)
	b, _ := json.Marshal(urls)
	return string(b)
}

// Submit 校验并启动一个批次。
// 指纹在批次真正开始执行时登记，批次彻底结束时摘除（不论成败）；
// 在途期间的同指纹提交被拒绝，而不是排队或合并。
func (s *Scheduler) Submit(req BatchRequest) (string, error) {
	if len(req.Sites) == 0 {
		return "", errors.New("batch has no sites")
	}
	seen := make(map[string]struct{}, len(req.Sites))
	for _, site := range req.Sites {
		u := strings.TrimSpace(site.RegisterURL)
		if u == "" {
			return "", fmt.Errorf("site %s has no register url", site.ID)
		}
		if _, dup := seen[u]; dup {
			return "", fmt.Errorf("duplicate site in batch: %s", u)
		}
		seen[u] = struct{}{}
	}
	if req.Mode == "" {
		req.Mode = s.opts.Cfg.Scheduler.Mode
	}
	if req.Window <= 0 {
		req.Window = s.opts.Cfg.Scheduler.WindowSize
	}

	fp := Fingerprint(req.Sites)
	batchID := uuid.NewString()

	s.mu.Lock()
	if other, exists := s.running[fp]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: batch %s is still executing", flowerr.ErrDuplicateBatch, other)
	}
	s.running[fp] = batchID

	ctx, cancel := context.WithCancel(context.Background())
	br := &batchRun{
		cancel: cancel,
		done:   make(chan struct{}),
		state: model.BatchState{
			ID:          batchID,
			Mode:        req.Mode,
			Window:      req.Window,
			Running:     true,
			Runs:        make([]model.SequenceRun, len(req.Sites)),
			StartedAtMs: time.Now().UnixMilli(),
		},
	}
	for i, site := range req.Sites {
		br.state.Runs[i] = model.SequenceRun{
			SiteID:   site.ID,
			SiteName: site.Name,
			Status:   model.RunStatusPending,
		}
	}
	s.current = br
	s.mu.Unlock()

	s.opts.Bus.Log("info", "批次已受理", map[string]any{
		"batchId": batchID, "mode": string(req.Mode), "sites": len(req.Sites),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runBatch(ctx, br, req, fp)
	}()
	return batchID, nil
}

func (s *Scheduler) runBatch(ctx context.Context, br *batchRun, req BatchRequest, fp string) {
	defer close(br.done)
	// finally 语义：无论成败，批次结束时摘除指纹，允许同指纹重新提交。
	defer func() {
		s.mu.Lock()
		delete(s.running, fp)
		br.state.Running = false
		br.state.FinishedAtMs = time.Now().UnixMilli()
		s.recent = append(s.recent, br.state)
		if len(s.recent) > 20 {
			s.recent = s.recent[len(s.recent)-20:]
		}
		if s.current == br {
			s.current = nil
		}
		final := cloneState(br.state)
		s.mu.Unlock()

		s.opts.Bus.BatchState(final)
		s.finishBatch(final)
	}()

	promo := req.Promo
	resPool := pool.New(s.opts.Bus)
	defer resPool.CloseAll()

	rot := rotator.New(s.opts.Cfg.Rotator.Tick(), s.opts.Bus)
	rot.Start()
	defer rot.Stop()

	var promoRot *rotator.PromoRotator
	if promo.Enabled {
		// 优惠上下文在批次启动前统一创建：起不来就整批降级，
		// 注册/登录/绑卡照常进行。
		promoCtx, err := resPool.GetOrCreate(ctx, pool.KeyPromoContext, func(ctx context.Context) (browser.Context, error) {
			return s.opts.Adapter.NewContext(ctx)
		})
		if err != nil {
			s.opts.Bus.Log("warn", "共享优惠上下文创建失败，本批次跳过优惠检查", map[string]any{"error": err.Error()})
			promo.Enabled = false
		} else {
			promoRot = rotator.NewPromo(promoCtx, s.opts.Cfg.Rotator.PromoTick(), s.opts.Cfg.Rotator.PromoDwell(), s.opts.Bus)
			promoRot.Start()
			defer promoRot.Stop()
		}
	}

	runner := sequence.NewRunner(sequence.Options{
		Adapter:       s.opts.Adapter,
		Pool:          resPool,
		Verifier:      s.opts.Verifier,
		Bus:           s.opts.Bus,
		Rotator:       rot,
		RetryCfg:      s.opts.Cfg.Retry,
		BrowserCfg:    s.opts.Cfg.Browser,
		Promo:         promo,
		ScreenshotDir: s.opts.Cfg.Storage.ScreenshotDir,
		Limiter:       s.limiter,
		Captcha:       s.opts.Captcha,
	})

	stages := sequence.EffectiveStages(req.Stages, promo)
	total := len(req.Sites) * len(stages)
	var current atomic.Int64

	exec := func(idx int) {
		site := req.Sites[idx]
		s.setRunStatus(br, idx, model.RunStatusRunning)

		report := func(step model.StepResult) {
			label := stepLabel(site, step)
			s.opts.Bus.Progress(logbus.ProgressData{
				BatchID: br.state.ID,
				SiteID:  site.ID,
				Stage:   step.Stage,
				Current: int(current.Add(1)),
				Total:   total,
				Label:   label,
			})
		}

		run := runner.Run(ctx, site, req.Profile, s.opts.Scripts(site, req.Profile), req.Stages, report)
		run.BatchID = br.state.ID

		s.mu.Lock()
		br.state.Runs[idx] = run
		br.state.Progress = model.Progress{Current: int(current.Load()), Total: total}
		stateCopy := cloneState(br.state)
		s.mu.Unlock()
		s.opts.Bus.BatchState(stateCopy)
	}

	switch req.Mode {
	case model.BatchModeSequential:
		s.runSequential(ctx, len(req.Sites), exec)
	case model.BatchModeParallel:
		s.runParallel(len(req.Sites), exec)
	default:
		s.runWindow(ctx, len(req.Sites), req.Window, exec)
	}
}

// runWindow 是经典有界工作池：任意一个槽位完成立即回填下一个目标，
// 不存在“等一轮结束”的批次化行为。
func (s *Scheduler) runWindow(ctx context.Context, n, width int, exec func(int)) {
	if width <= 0 {
		width = 1
	}
	sem := make(chan struct{}, width)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			exec(idx)
		}(i)
	}
	wg.Wait()
}

func (s *Scheduler) runParallel(n int, exec func(int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			exec(idx)
		}(i)
	}
	wg.Wait()
}

func (s *Scheduler) runSequential(ctx context.Context, n int, exec func(int)) {
	delay := s.opts.Cfg.Scheduler.SettleDelay()
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		exec(i)
		if i == n-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) setRunStatus(br *batchRun, idx int, status model.RunStatus) {
	s.mu.Lock()
	br.state.Runs[idx].Status = status
	s.mu.Unlock()
}

func stepLabel(site model.Site, step model.StepResult) string {
	verb := map[model.Stage]string{
		model.StageRegister:   "注册",
		model.StageLogin:      "登录",
		model.StageAddBank:    "绑卡",
		model.StageCheckPromo: "优惠检查",
	}[step.Stage]
	switch {
	case step.Skipped:
		return fmt.Sprintf("%s %s：跳过（%s）", site.Name, verb, step.Reason)
	case step.Success && step.Verified:
		return fmt.Sprintf("%s %s：已确认", site.Name, verb)
	case step.Success:
		return fmt.Sprintf("%s %s：成功但未确认", site.Name, verb)
	default:
		return fmt.Sprintf("%s %s：失败", site.Name, verb)
	}
}

func (s *Scheduler) finishBatch(state model.BatchState) {
	var ok, partial, failed int
	for _, r := range state.Runs {
		switch r.Status {
		case model.RunStatusSucceeded:
			ok++
		case model.RunStatusPartial:
			partial++
		default:
			failed++
		}
	}
	s.opts.Bus.Log("info", "批次结束", map[string]any{
		"batchId": state.ID, "succeeded": ok, "partial": partial, "failed": failed,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if s.opts.RunSink != nil {
		s.opts.RunSink(ctx, state.Runs)
	}
	if s.opts.Notifier != nil {
		s.opts.Notifier.NotifyBatchFinished(ctx, notify.BatchFinishedEvent{
			At:        time.Now().UnixMilli(),
			BatchID:   state.ID,
			Mode:      string(state.Mode),
			Succeeded: ok,
			Partial:   partial,
			Failed:    failed,
			Runs:      state.Runs,
		})
	}
}

// cloneState 深拷贝 Runs 再放出锁外。批次状态会被 WS 订阅者和
// HTTP 处理器在任意时刻序列化，不能让它们共享还在被写的底层数组。
func cloneState(st model.BatchState) model.BatchState {
	st.Runs = append([]model.SequenceRun(nil), st.Runs...)
	return st
}

// State 返回在途批次与最近历史。
func (s *Scheduler) State() []model.BatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.BatchState, 0, len(s.recent)+1)
	if s.current != nil {
		out = append(out, cloneState(s.current.state))
	}
	for i := len(s.recent) - 1; i >= 0; i-- {
		out = append(out, cloneState(s.recent[i]))
	}
	return out
}

// StopCurrent 协作式取消在途批次；没有在途批次时返回 false。
func (s *Scheduler) StopCurrent() bool {
	s.mu.Lock()
	br := s.current
	s.mu.Unlock()
	if br == nil {
		return false
	}
	br.cancel()
	return true
}

// Shutdown 等全部批次收尾，超时放弃。
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil {
		s.current.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitBatch 阻塞到指定批次结束（主要给测试和顺手的同步调用用）。
func (s *Scheduler) WaitBatch(ctx context.Context, batchID string) error {
	s.mu.Lock()
	var br *batchRun
	if s.current != nil && s.current.state.ID == batchID {
		br = s.current
	}
	s.mu.Unlock()
	if br == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-br.done:
		return nil
	}
}
