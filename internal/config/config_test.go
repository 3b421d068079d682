package config

import (
	"os"
	"path/filepath"
	"testing"

	"sequence_engine/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  addr: \":9000\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Scheduler.Mode != model.BatchModeWindow {
		t.Fatalf("default mode = %q", cfg.Scheduler.Mode)
	}
	if cfg.Scheduler.WindowSize != 3 {
		t.Fatalf("default window = %d", cfg.Scheduler.WindowSize)
	}
	if cfg.Verify.TokenPollAttempts != 10 {
		t.Fatalf("default token poll attempts = %d", cfg.Verify.TokenPollAttempts)
	}
	if cfg.Promo.Type != model.PromoTypeDeposit {
		t.Fatalf("default promo type = %q", cfg.Promo.Type)
	}
	if cfg.Captcha.BaseURL == "" {
		t.Fatal("captcha base url not defaulted")
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	_, err := Load(writeConfig(t, "scheduler:\n  mode: turbo\n"))
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestDurationAccessorsFallBack(t *testing.T) {
	var sc SchedulerConfig
	if sc.SettleDelay() <= 0 {
		t.Fatal("settle delay fallback missing")
	}
	var rc RotatorConfig
	if rc.Tick() <= 0 || rc.PromoTick() <= 0 || rc.PromoDwell() <= 0 {
		t.Fatal("rotator fallbacks missing")
	}
}
