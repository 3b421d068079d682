package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"sequence_engine/internal/model"
)

const (
	emailSettingsKey = "email_settings"
	promoSettingsKey = "promo_settings"
)

func (s *Store) GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error) {
	var out model.EmailSettings
	ok, err := s.getSettings(ctx, emailSettingsKey, &out)
	return out, ok, err
}

func (s *Store) UpsertEmailSettings(ctx context.Context, v model.EmailSettings) (model.EmailSettings, error) {
	if err := s.putSettings(ctx, emailSettingsKey, v); err != nil {
		return model.EmailSettings{}, err
	}
	return v, nil
}

func (s *Store) GetPromoSettings(ctx context.Context) (model.PromoSettings, bool, error) {
	var out model.PromoSettings
	ok, err := s.getSettings(ctx, promoSettingsKey, &out)
	return out, ok, err
}

func (s *Store) UpsertPromoSettings(ctx context.Context, v model.PromoSettings) (model.PromoSettings, error) {
	if v.PromoType != "" && v.PromoType != model.PromoTypeDeposit && v.PromoType != model.PromoTypeExperience {
		return model.PromoSettings{}, errors.New("invalid promoType")
	}
	if err := s.putSettings(ctx, promoSettingsKey, v); err != nil {
		return model.PromoSettings{}, err
	}
	return v, nil
}

func (s *Store) getSettings(ctx context.Context, key string, out any) (bool, error) {
	var valueJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT value_json FROM settings WHERE key = ?
	`, key).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(valueJSON), out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putSettings(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, key, string(b), time.Now().UnixMilli())
	return err
}
