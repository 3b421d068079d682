package verify

import (
	"context"
	"strings"
	"testing"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/browser/browsertest"
	"sequence_engine/internal/config"
	"sequence_engine/internal/model"
)

func testCfg() config.VerifyConfig {
	return config.VerifyConfig{
		TokenPollIntervalMs:      1,
		TokenPollAttempts:        3,
		TokenCookieNames:         []string{"_pat", "token"},
		TokenStorageKeys:         []string{"token", "auth"},
		BankRecheckCount:         2,
		BankRecheckGapMs:         1,
		LoginConfidenceThreshold: 45,
	}
}

func TestConfirmTokenByCookie(t *testing.T) {
	page := browsertest.NewPage("p")
	page.SetCookies([]model.Cookie{{Name: "_pat", Value: "abc123"}})

	out, err := New(testCfg(), nil).ConfirmToken(context.Background(), page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || !out.Verified {
		t.Fatalf("got %+v, want success+verified", out)
	}
}

func TestConfirmTokenByStorage(t *testing.T) {
	page := browsertest.NewPage("p")
	page.SetEval(func(expr string) (browser.Value, error) {
		if strings.Contains(expr, "localStorage") {
			return browser.NewValue(true), nil
		}
		return browser.NewValue(nil), nil
	})

	out, err := New(testCfg(), nil).ConfirmToken(context.Background(), page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || !out.Verified {
		t.Fatalf("got %+v, want success+verified", out)
	}
}

// 窗口内没探测到 token 就必须判失败，绝不允许超时被当成成功。
func TestConfirmTokenNeverSucceedsByTimeout(t *testing.T) {
	page := browsertest.NewPage("p")
	page.SetEval(func(expr string) (browser.Value, error) {
		return browser.NewValue(false), nil
	})

	out, err := New(testCfg(), nil).ConfirmToken(context.Background(), page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Success || out.Verified {
		t.Fatalf("got %+v, want failure", out)
	}
}

func TestScoreWeights(t *testing.T) {
	cases := []struct {
		name string
		sig  LoginSignals
		want int
	}{
		{"nothing but login form", LoginSignals{HasLoginForm: true}, 0},
		{"only no-form", LoginSignals{}, 25},
		{"tokens and form", LoginSignals{HasAuthTokens: true, HasLoginForm: true}, 50},
		{"logout and url", LoginSignals{HasLogoutControl: true, LoggedInURL: true, HasLoginForm: true}, 50},
		{"everything capped", LoginSignals{
			HasAuthTokens: true, HasLogoutControl: true, LoggedInURL: true,
			HasUserInfo: true, HasSuccessMarker: true, BalanceShown: true,
		}, 100},
	}
	for _, tc := range cases {
		if got := Score(tc.sig); got != tc.want {
			t.Errorf("%s: score = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestConfirmLoginHeuristicThreshold(t *testing.T) {
	eng := New(testCfg(), nil)

	page := browsertest.NewPage("p")
	page.SetEval(func(expr string) (browser.Value, error) {
		return browser.NewValue(LoginSignals{HasAuthTokens: true, HasLoginForm: true}), nil
	})
	out, err := eng.ConfirmLoginHeuristic(context.Background(), page, "() => signals()")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || out.Confidence != 50 {
		t.Fatalf("got %+v, want success at confidence 50", out)
	}
	if out.Verified {
		t.Fatal("heuristic outcome must never be verified")
	}

	page.SetEval(func(expr string) (browser.Value, error) {
		return browser.NewValue(LoginSignals{LoggedInURL: true, HasLoginForm: true}), nil
	})
	out, err = eng.ConfirmLoginHeuristic(context.Background(), page, "() => signals()")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Success {
		t.Fatalf("got %+v, want below-threshold failure", out)
	}
}
