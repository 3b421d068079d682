package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"sequence_engine/internal/model"
)

func (s *Store) UpsertProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	if strings.TrimSpace(p.Username) == "" {
		return model.Profile{}, errors.New("username is required")
	}
	if p.PromoType != "" && p.PromoType != model.PromoTypeDeposit && p.PromoType != model.PromoTypeExperience {
		return model.Profile{}, errors.New("invalid promoType")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, password, withdraw_password, full_name, bank_name, bank_branch, bank_account, captcha_api_key, promo_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			password = excluded.password,
			withdraw_password = excluded.withdraw_password,
			full_name = excluded.full_name,
			bank_name = excluded.bank_name,
			bank_branch = excluded.bank_branch,
			bank_account = excluded.bank_account,
			captcha_api_key = excluded.captcha_api_key,
			promo_type = excluded.promo_type,
			updated_at = excluded.updated_at
	`, p.ID, p.Username, p.Password, p.WithdrawPassword, p.FullName, p.BankName, p.BankBranch, p.BankAccount, p.CaptchaAPIKey, string(p.PromoType), p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	if err != nil {
		return model.Profile{}, err
	}
	return s.GetProfile(ctx, p.ID)
}

func (s *Store) GetProfile(ctx context.Context, id string) (model.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, withdraw_password, full_name, bank_name, bank_branch, bank_account, captcha_api_key, promo_type, created_at, updated_at
		FROM profiles WHERE id = ?
	`, id)
	return scanProfile(row)
}

func (s *Store) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, withdraw_password, full_name, bank_name, bank_branch, bank_account, captcha_api_key, promo_type, created_at, updated_at
		FROM profiles ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	return err
}

func scanProfile(r rowScanner) (model.Profile, error) {
	var row struct {
		id               string
		username         string
		password         string
		withdrawPassword string
		fullName         string
		bankName         string
		bankBranch       string
		bankAccount      string
		captchaAPIKey    string
		promoType        string
		createdAt        int64
		updatedAt        int64
	}
	if err := r.Scan(&row.id, &row.username, &row.password, &row.withdrawPassword, &row.fullName, &row.bankName, &row.bankBranch, &row.bankAccount, &row.captchaAPIKey, &row.promoType, &row.createdAt, &row.updatedAt); err != nil {
		return model.Profile{}, err
	}
	return model.Profile{
		ID:               row.id,
		Username:         row.username,
		Password:         row.password,
		WithdrawPassword: row.withdrawPassword,
		FullName:         row.fullName,
		BankName:         row.bankName,
		BankBranch:       row.bankBranch,
		BankAccount:      row.bankAccount,
		CaptchaAPIKey:    row.captchaAPIKey,
		PromoType:        model.PromoType(row.promoType),
		CreatedAt:        time.UnixMilli(row.createdAt),
		UpdatedAt:        time.UnixMilli(row.updatedAt),
	}, nil
}
