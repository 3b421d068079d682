package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"sequence_engine/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSiteCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	site, err := s.UpsertSite(ctx, model.Site{
		Name:        "site-a",
		RegisterURL: "https://a.example/Account/Register",
		LoginURL:    "https://a.example/Account/Login",
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if site.ID == "" {
		t.Fatal("id not assigned")
	}

	site.Name = "site-a-renamed"
	site.Enabled = false
	if _, err := s.UpsertSite(ctx, site); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetSite(ctx, site.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "site-a-renamed" || got.Enabled {
		t.Fatalf("got = %+v", got)
	}

	enabled, err := s.ListEnabledSites(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 0 {
		t.Fatalf("enabled = %d, want 0", len(enabled))
	}

	if err := s.DeleteSite(ctx, site.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err := s.ListSites(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("sites after delete = %d", len(all))
	}
}

func TestSiteRequiresRegisterURL(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.UpsertSite(context.Background(), model.Site{Name: "no-url"}); err == nil {
		t.Fatal("expected error for missing registerUrl")
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.UpsertProfile(ctx, model.Profile{
		Username:    "user01",
		Password:    "pw",
		FullName:    "NGUYEN VAN AN",
		BankBranch:  "Hồ Chí Minh",
		BankAccount: "0123456789",
		PromoType:   model.PromoTypeDeposit,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BankBranch != "Hồ Chí Minh" || got.PromoType != model.PromoTypeDeposit {
		t.Fatalf("got = %+v", got)
	}
}

func TestSaveRunsSkipsNonTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runs := []model.SequenceRun{
		{ID: "r1", BatchID: "b1", SiteID: "s1", Status: model.RunStatusSucceeded,
			Steps: []model.StepResult{{Stage: model.StageRegister, Success: true, Verified: true}}},
		{ID: "r2", BatchID: "b1", SiteID: "s2", Status: model.RunStatusRunning},
	}
	if err := s.SaveRuns(ctx, runs); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.ListRunsByBatch(ctx, "b1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("got = %+v, want only the terminal run", got)
	}
	if len(got[0].Steps) != 1 || got[0].Steps[0].Stage != model.StageRegister {
		t.Fatalf("steps = %+v", got[0].Steps)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetEmailSettings(ctx); err != nil || ok {
		t.Fatalf("empty get: ok=%v err=%v", ok, err)
	}
	if _, err := s.UpsertEmailSettings(ctx, model.EmailSettings{Enabled: true, Email: "ops@example.com", AuthCode: "code"}); err != nil {
		t.Fatalf("upsert email: %v", err)
	}
	email, ok, err := s.GetEmailSettings(ctx)
	if err != nil || !ok || email.Email != "ops@example.com" {
		t.Fatalf("email = %+v ok=%v err=%v", email, ok, err)
	}

	if _, err := s.UpsertPromoSettings(ctx, model.PromoSettings{Enabled: true, RequireVerified: true, PromoType: model.PromoTypeExperience}); err != nil {
		t.Fatalf("upsert promo: %v", err)
	}
	promo, ok, err := s.GetPromoSettings(ctx)
	if err != nil || !ok || !promo.RequireVerified || promo.PromoType != model.PromoTypeExperience {
		t.Fatalf("promo = %+v ok=%v err=%v", promo, ok, err)
	}
}
