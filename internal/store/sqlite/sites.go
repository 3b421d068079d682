package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"sequence_engine/internal/model"
)

func (s *Store) UpsertSite(ctx context.Context, site model.Site) (model.Site, error) {
	if strings.TrimSpace(site.RegisterURL) == "" {
		return model.Site{}, errors.New("registerUrl is required")
	}
	if site.ID == "" {
		site.ID = uuid.NewString()
	}
	now := time.Now()
	if site.CreatedAt.IsZero() {
		site.CreatedAt = now
	}
	site.UpdatedAt = now

	enabled := 0
	if site.Enabled {
		enabled = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, register_url, login_url, bank_url, promo_deposit_url, promo_experience_url, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			register_url = excluded.register_url,
			login_url = excluded.login_url,
			bank_url = excluded.bank_url,
			promo_deposit_url = excluded.promo_deposit_url,
			promo_experience_url = excluded.promo_experience_url,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, site.ID, site.Name, site.RegisterURL, site.LoginURL, site.BankURL, site.PromoDepositURL, site.PromoExperienceURL, enabled, site.CreatedAt.UnixMilli(), site.UpdatedAt.UnixMilli())
	if err != nil {
		return model.Site{}, err
	}
	return s.GetSite(ctx, site.ID)
}

func (s *Store) GetSite(ctx context.Context, id string) (model.Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, register_url, login_url, bank_url, promo_deposit_url, promo_experience_url, enabled, created_at, updated_at
		FROM sites WHERE id = ?
	`, id)
	return scanSite(row)
}

func (s *Store) ListSites(ctx context.Context) ([]model.Site, error) {
	return s.listSites(ctx, `
		SELECT id, name, register_url, login_url, bank_url, promo_deposit_url, promo_experience_url, enabled, created_at, updated_at
		FROM sites ORDER BY updated_at DESC
	`)
}

func (s *Store) ListEnabledSites(ctx context.Context) ([]model.Site, error) {
	return s.listSites(ctx, `
		SELECT id, name, register_url, login_url, bank_url, promo_deposit_url, promo_experience_url, enabled, created_at, updated_at
		FROM sites WHERE enabled = 1 ORDER BY updated_at DESC
	`)
}

func (s *Store) listSites(ctx context.Context, query string) ([]model.Site, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteSite(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(r rowScanner) (model.Site, error) {
	var row struct {
		id                 string
		name               string
		registerURL        string
		loginURL           string
		bankURL            string
		promoDepositURL    string
		promoExperienceURL string
		enabled            int
		createdAt          int64
		updatedAt          int64
	}
	if err := r.Scan(&row.id, &row.name, &row.registerURL, &row.loginURL, &row.bankURL, &row.promoDepositURL, &row.promoExperienceURL, &row.enabled, &row.createdAt, &row.updatedAt); err != nil {
		return model.Site{}, err
	}
	return model.Site{
		ID:                 row.id,
		Name:               row.name,
		RegisterURL:        row.registerURL,
		LoginURL:           row.loginURL,
		BankURL:            row.bankURL,
		PromoDepositURL:    row.promoDepositURL,
		PromoExperienceURL: row.promoExperienceURL,
		Enabled:            row.enabled == 1,
		CreatedAt:          time.UnixMilli(row.createdAt),
		UpdatedAt:          time.UnixMilli(row.updatedAt),
	}, nil
}
