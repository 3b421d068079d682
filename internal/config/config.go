package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sequence_engine/internal/model"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Verify    VerifyConfig    `yaml:"verify"`
	Retry     RetryConfig     `yaml:"retry"`
	Rotator   RotatorConfig   `yaml:"rotator"`
	Promo     PromoConfig     `yaml:"promo"`
	Browser   BrowserConfig   `yaml:"browser"`
	Captcha   CaptchaConfig   `yaml:"captcha"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath    string `yaml:"sqlitePath"`
	ScreenshotDir string `yaml:"screenshotDir"`
}

type SchedulerConfig struct {
	// Mode 是批次未显式指定模式时的默认执行模式。
	Mode       model.BatchMode `yaml:"mode"`
	WindowSize int             `yaml:"windowSize"`
	// SettleDelayMs 顺序模式下两个站点之间的固定等待。
	SettleDelayMs int     `yaml:"settleDelayMs"`
	NavQPS        float64 `yaml:"navQPS"`
	NavBurst      int     `yaml:"navBurst"`
}

func (c SchedulerConfig) SettleDelay() time.Duration {
	if c.SettleDelayMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

type VerifyConfig struct {
	TokenPollIntervalMs int `yaml:"tokenPollIntervalMs"`
	TokenPollAttempts   int `yaml:"tokenPollAttempts"`
	// TokenCookieNames / TokenStorageKeys 是认证痕迹的已知名单。
	TokenCookieNames []string `yaml:"tokenCookieNames"`
	TokenStorageKeys []string `yaml:"tokenStorageKeys"`
	BankRecheckCount int      `yaml:"bankRecheckCount"`
	BankRecheckGapMs int      `yaml:"bankRecheckGapMs"`
	// LoginConfidenceThreshold 登录启发式判定的及格线（0-100）。
	LoginConfidenceThreshold int `yaml:"loginConfidenceThreshold"`
}

func (c VerifyConfig) TokenPollInterval() time.Duration {
	if c.TokenPollIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.TokenPollIntervalMs) * time.Millisecond
}

func (c VerifyConfig) BankRecheckGap() time.Duration {
	if c.BankRecheckGapMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.BankRecheckGapMs) * time.Millisecond
}

type RetryConfig struct {
	InjectAttempts int `yaml:"injectAttempts"`
	SubmitAttempts int `yaml:"submitAttempts"`
	DelayMs        int `yaml:"delayMs"`
	// ContextGraceMs contextDestroyed 之后、重新核验页面状态之前的等待。
	ContextGraceMs int `yaml:"contextGraceMs"`
}

func (c RetryConfig) Delay() time.Duration {
	if c.DelayMs <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(c.DelayMs) * time.Millisecond
}

func (c RetryConfig) ContextGrace() time.Duration {
	if c.ContextGraceMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.ContextGraceMs) * time.Millisecond
}

type RotatorConfig struct {
	TickMs      int `yaml:"tickMs"`
	PromoTickMs int `yaml:"promoTickMs"`
	// PromoDwellMs 优惠轮换里每个标签页置前后的停留时间。
	PromoDwellMs int `yaml:"promoDwellMs"`
}

func (c RotatorConfig) Tick() time.Duration {
	if c.TickMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TickMs) * time.Millisecond
}

func (c RotatorConfig) PromoTick() time.Duration {
	if c.PromoTickMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.PromoTickMs) * time.Millisecond
}

func (c RotatorConfig) PromoDwell() time.Duration {
	if c.PromoDwellMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.PromoDwellMs) * time.Millisecond
}

type PromoConfig struct {
	Enabled         bool            `yaml:"enabled"`
	RequireVerified bool            `yaml:"requireVerified"`
	Type            model.PromoType `yaml:"type"`
}

type BrowserConfig struct {
	Headless          bool `yaml:"headless"`
	NavTimeoutMs      int  `yaml:"navTimeoutMs"`
	PromoNavTimeoutMs int  `yaml:"promoNavTimeoutMs"`
}

func (c BrowserConfig) NavTimeout() time.Duration {
	if c.NavTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavTimeoutMs) * time.Millisecond
}

func (c BrowserConfig) PromoNavTimeout() time.Duration {
	if c.PromoNavTimeoutMs <= 0 {
		return 150 * time.Second
	}
	return time.Duration(c.PromoNavTimeoutMs) * time.Millisecond
}

type CaptchaConfig struct {
	BaseURL        string `yaml:"baseURL"`
	TimeoutMs      int    `yaml:"timeoutMs"`
	PollIntervalMs int    `yaml:"pollIntervalMs"`
	PollAttempts   int    `yaml:"pollAttempts"`
}

func (c CaptchaConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c CaptchaConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/sequence_engine.db"
	}
	if c.Storage.ScreenshotDir == "" {
		c.Storage.ScreenshotDir = "./data/screenshots"
	}
	if c.Scheduler.Mode == "" {
		c.Scheduler.Mode = model.BatchModeWindow
	}
	if c.Scheduler.WindowSize <= 0 {
		c.Scheduler.WindowSize = 3
	}
	if c.Scheduler.NavQPS <= 0 {
		c.Scheduler.NavQPS = 2
	}
	if c.Scheduler.NavBurst <= 0 {
		c.Scheduler.NavBurst = 4
	}
	if c.Verify.TokenPollAttempts <= 0 {
		c.Verify.TokenPollAttempts = 10
	}
	if len(c.Verify.TokenCookieNames) == 0 {
		c.Verify.TokenCookieNames = []string{"_pat", "token"}
	}
	if len(c.Verify.TokenStorageKeys) == 0 {
		c.Verify.TokenStorageKeys = []string{"token", "auth"}
	}
	if c.Verify.BankRecheckCount <= 0 {
		c.Verify.BankRecheckCount = 3
	}
	if c.Verify.LoginConfidenceThreshold <= 0 {
		c.Verify.LoginConfidenceThreshold = 45
	}
	if c.Retry.InjectAttempts <= 0 {
		c.Retry.InjectAttempts = 10
	}
	if c.Retry.SubmitAttempts <= 0 {
		c.Retry.SubmitAttempts = 3
	}
	if c.Promo.Type == "" {
		c.Promo.Type = model.PromoTypeDeposit
	}
	if c.Captcha.BaseURL == "" {
		c.Captcha.BaseURL = "https://autocaptcha.pro/apiv3"
	}
	if c.Captcha.PollAttempts <= 0 {
		c.Captcha.PollAttempts = 20
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	switch c.Scheduler.Mode {
	case model.BatchModeParallel, model.BatchModeWindow, model.BatchModeSequential:
	default:
		return fmt.Errorf("scheduler.mode invalid: %s", c.Scheduler.Mode)
	}
	if c.Promo.Type != model.PromoTypeDeposit && c.Promo.Type != model.PromoTypeExperience {
		return fmt.Errorf("promo.type invalid: %s", c.Promo.Type)
	}
	return nil
}
