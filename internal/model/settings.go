package model

type EmailSettings struct {
	Enabled  bool   `json:"enabled"`
	Email    string `json:"email"`
	AuthCode string `json:"authCode,omitempty"`
}

type PromoSettings struct {
	// Enabled 为 false 时整个批次跳过 checkPromo 阶段。
	Enabled bool `json:"enabled"`
	// RequireVerified 为 true 时，addBank 必须 verified=true 才允许进入
	// checkPromo；为 false 时 success=true 即可（未确认时会打告警日志）。
	RequireVerified bool      `json:"requireVerified"`
	PromoType       PromoType `json:"promoType,omitempty"`
}
