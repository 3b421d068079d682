package sequence

import (
	"context"
	"strings"
	"testing"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/browser/browsertest"
	"sequence_engine/internal/config"
	"sequence_engine/internal/logbus"
	"sequence_engine/internal/model"
	"sequence_engine/internal/pool"
	"sequence_engine/internal/verify"
)

var testScripts = Scripts{
	Register:     "() => register()",
	Login:        "() => login()",
	AddBank:      "() => addBank()",
	CheckPromo:   "() => promo()",
	BankSnapshot: "() => bankSnap()",
	LoginSignals: "() => signals()",
}

var testSite = model.Site{
	ID:              "s1",
	Name:            "site-one",
	RegisterURL:     "https://one.example/Account/Register",
	LoginURL:        "https://one.example/Account/Login",
	BankURL:         "https://one.example/Account/Bank",
	PromoDepositURL: "https://one.example/Promo/Deposit",
}

var testProfile = model.Profile{
	Username:    "user01",
	FullName:    "NGUYEN VAN AN",
	BankBranch:  "Hồ Chí Minh",
	BankAccount: "0123456789",
}

type scenario struct {
	tokenPresent bool
	bankSnap     verify.BankSnapshot
	promoOK      bool
}

func hookFor(sc scenario) func(p *browsertest.FakePage) {
	return func(p *browsertest.FakePage) {
		if sc.tokenPresent {
			p.SetCookies([]model.Cookie{{Name: "_pat", Value: "tok"}})
		}
		p.SetEval(func(expr string) (browser.Value, error) {
			switch {
			case strings.Contains(expr, "bankSnap"):
				return browser.NewValue(sc.bankSnap), nil
			case strings.Contains(expr, "promo"):
				return browser.NewValue(map[string]any{"success": sc.promoOK, "message": "promo done"}), nil
			case strings.Contains(expr, "localStorage"):
				return browser.NewValue(false), nil
			}
			return browser.NewValue(nil), nil
		})
	}
}

func verifyCfg() config.VerifyConfig {
	return config.VerifyConfig{
		TokenPollIntervalMs: 1,
		TokenPollAttempts:   2,
		TokenCookieNames:    []string{"_pat"},
		TokenStorageKeys:    []string{"token"},
		BankRecheckCount:    1,
		BankRecheckGapMs:    1,
	}
}

func newRunner(adapter *browsertest.FakeAdapter, promo model.PromoSettings) *Runner {
	bus := logbus.New(50)
	return NewRunner(Options{
		Adapter:    adapter,
		Pool:       pool.New(bus),
		Verifier:   verify.New(verifyCfg(), bus),
		Bus:        bus,
		RetryCfg:   config.RetryConfig{InjectAttempts: 2, SubmitAttempts: 2, DelayMs: 1, ContextGraceMs: 1},
		BrowserCfg: config.BrowserConfig{},
		Promo:      promo,
	})
}

var exactRows = verify.BankSnapshot{
	Rows: []verify.BankRow{
		{Label: "HỌ VÀ TÊN", Value: "Nguyen Van An"},
		{Label: "CHI NHÁNH", Value: "CHI NHÁNH HỒ CHÍ MINH"},
		{Label: "SỐ TÀI KHOẢN", Value: "***6789"},
	},
}

func TestRunFullSuccess(t *testing.T) {
	adapter := browsertest.NewAdapter()
	adapter.PageHook = hookFor(scenario{tokenPresent: true, bankSnap: exactRows, promoOK: true})
	r := newRunner(adapter, model.PromoSettings{Enabled: true, PromoType: model.PromoTypeDeposit})

	run := r.Run(context.Background(), testSite, testProfile, testScripts, nil, nil)
	if run.Status != model.RunStatusSucceeded {
		t.Fatalf("status = %s, want succeeded (steps: %+v)", run.Status, run.Steps)
	}
	bank, _ := run.Step(model.StageAddBank)
	if !bank.Verified {
		t.Fatalf("addBank not verified: %+v", bank)
	}
	promo, ok := run.Step(model.StageCheckPromo)
	if !ok || !promo.Success {
		t.Fatalf("checkPromo = %+v", promo)
	}
}

func TestRunRegisterFailureSkipsEverything(t *testing.T) {
	adapter := browsertest.NewAdapter()
	adapter.PageHook = hookFor(scenario{tokenPresent: false})
	r := newRunner(adapter, model.PromoSettings{Enabled: true, PromoType: model.PromoTypeDeposit})

	run := r.Run(context.Background(), testSite, testProfile, testScripts, nil, nil)
	if run.Status != model.RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	reg, _ := run.Step(model.StageRegister)
	if reg.Success || reg.Skipped {
		t.Fatalf("register = %+v, want hard failure", reg)
	}
	for _, st := range []model.Stage{model.StageLogin, model.StageAddBank, model.StageCheckPromo} {
		step, ok := run.Step(st)
		if !ok || !step.Skipped {
			t.Fatalf("%s = %+v, want skipped", st, step)
		}
	}
	// 注册失败时不应该再去碰共享登录窗口。
	if adapter.ContextCount() != 0 {
		t.Fatalf("contexts created = %d, want 0", adapter.ContextCount())
	}
}

func TestRunStageOrdering(t *testing.T) {
	adapter := browsertest.NewAdapter()
	adapter.PageHook = hookFor(scenario{tokenPresent: true, bankSnap: exactRows, promoOK: true})
	r := newRunner(adapter, model.PromoSettings{Enabled: true, PromoType: model.PromoTypeDeposit})

	run := r.Run(context.Background(), testSite, testProfile, testScripts, nil, nil)
	login, _ := run.Step(model.StageLogin)
	bank, _ := run.Step(model.StageAddBank)
	if bank.AtMs < login.AtMs {
		t.Fatalf("addBank at %d before login at %d", bank.AtMs, login.AtMs)
	}
}

func TestRunWeakBankWithRequireVerifiedSkipsPromo(t *testing.T) {
	adapter := browsertest.NewAdapter()
	adapter.PageHook = hookFor(scenario{tokenPresent: true, bankSnap: verify.BankSnapshot{SuccessToast: true}, promoOK: true})
	r := newRunner(adapter, model.PromoSettings{Enabled: true, RequireVerified: true, PromoType: model.PromoTypeDeposit})

	run := r.Run(context.Background(), testSite, testProfile, testScripts, nil, nil)
	if run.Status != model.RunStatusPartial {
		t.Fatalf("status = %s, want partial", run.Status)
	}
	promo, ok := run.Step(model.StageCheckPromo)
	if !ok || !promo.Skipped {
		t.Fatalf("checkPromo = %+v, want skipped under requireVerified", promo)
	}
}

func TestRunWeakBankWithoutRequireVerifiedRunsPromo(t *testing.T) {
	adapter := browsertest.NewAdapter()
	adapter.PageHook = hookFor(scenario{tokenPresent: true, bankSnap: verify.BankSnapshot{SuccessToast: true}, promoOK: true})
	r := newRunner(adapter, model.PromoSettings{Enabled: true, PromoType: model.PromoTypeDeposit})

	run := r.Run(context.Background(), testSite, testProfile, testScripts, nil, nil)
	promo, ok := run.Step(model.StageCheckPromo)
	if !ok || promo.Skipped || !promo.Success {
		t.Fatalf("checkPromo = %+v, want attempted success", promo)
	}
	if run.Status != model.RunStatusPartial {
		t.Fatalf("status = %s, want partial (bank unverified)", run.Status)
	}
}

func TestRunPromoBootstrapFailureDegrades(t *testing.T) {
	adapter := browsertest.NewAdapter()
	adapter.PageHook = hookFor(scenario{tokenPresent: true, promoOK: true})
	adapter.ContextErr = context.DeadlineExceeded
	r := newRunner(adapter, model.PromoSettings{Enabled: true, PromoType: model.PromoTypeDeposit})

	run := r.Run(context.Background(), testSite, testProfile, testScripts, []model.Stage{model.StageCheckPromo}, nil)
	promo, ok := run.Step(model.StageCheckPromo)
	if !ok || !promo.Skipped {
		t.Fatalf("checkPromo = %+v, want graceful skip", promo)
	}
}

func TestRunStageSubset(t *testing.T) {
	adapter := browsertest.NewAdapter()
	adapter.PageHook = hookFor(scenario{tokenPresent: true})
	r := newRunner(adapter, model.PromoSettings{})

	run := r.Run(context.Background(), testSite, testProfile, testScripts, []model.Stage{model.StageLogin}, nil)
	if len(run.Steps) != 1 {
		t.Fatalf("steps = %+v, want exactly the login step", run.Steps)
	}
	login := run.Steps[0]
	if login.Stage != model.StageLogin || !login.Verified {
		t.Fatalf("login = %+v", login)
	}
	if run.Status != model.RunStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", run.Status)
	}
}

func TestRunProgressReport(t *testing.T) {
	adapter := browsertest.NewAdapter()
	adapter.PageHook = hookFor(scenario{tokenPresent: true, bankSnap: exactRows, promoOK: true})
	r := newRunner(adapter, model.PromoSettings{Enabled: true, PromoType: model.PromoTypeDeposit})

	var reported []model.Stage
	r.Run(context.Background(), testSite, testProfile, testScripts, nil, func(step model.StepResult) {
		reported = append(reported, step.Stage)
	})
	want := []model.Stage{model.StageRegister, model.StageLogin, model.StageAddBank, model.StageCheckPromo}
	if len(reported) != len(want) {
		t.Fatalf("reported = %v, want %v", reported, want)
	}
	for i := range want {
		if reported[i] != want[i] {
			t.Fatalf("reported[%d] = %s, want %s", i, reported[i], want[i])
		}
	}
}
