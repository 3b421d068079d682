package model

import "time"

// Profile 是一个批次内所有站点共用的身份信息（只读）。
type Profile struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Password         string    `json:"password"`
	WithdrawPassword string    `json:"withdrawPassword,omitempty"`
	FullName         string    `json:"fullName,omitempty"`
	BankName         string    `json:"bankName,omitempty"`
	BankBranch       string    `json:"bankBranch,omitempty"`
	BankAccount      string    `json:"bankAccount,omitempty"`
	CaptchaAPIKey    string    `json:"captchaApiKey,omitempty"`
	PromoType        PromoType `json:"promoType,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
