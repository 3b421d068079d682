package model

import (
	"strings"
	"time"
)

type PromoType string

const (
	PromoTypeDeposit    PromoType = "deposit"
	PromoTypeExperience PromoType = "experience"
)

type Site struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	RegisterURL        string    `json:"registerUrl"`
	LoginURL           string    `json:"loginUrl"`
	BankURL            string    `json:"bankUrl"`
	PromoDepositURL    string    `json:"promoDepositUrl,omitempty"`
	PromoExperienceURL string    `json:"promoExperienceUrl,omitempty"`
	Enabled            bool      `json:"enabled"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// PromoURL 返回指定类型的优惠页地址；该类型没有配置时返回空串。
func (s Site) PromoURL(t PromoType) string {
	switch t {
	case PromoTypeExperience:
		return strings.TrimSpace(s.PromoExperienceURL)
	default:
		return strings.TrimSpace(s.PromoDepositURL)
	}
}
