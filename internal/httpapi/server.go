package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sequence_engine/internal/config"
	"sequence_engine/internal/flowerr"
	"sequence_engine/internal/logbus"
	"sequence_engine/internal/model"
	"sequence_engine/internal/notify"
	"sequence_engine/internal/scheduler"
	"sequence_engine/internal/store/sqlite"
	"sequence_engine/internal/ws"
)

type Options struct {
	Cfg       config.Config
	Bus       *logbus.Bus
	Store     *sqlite.Store
	Scheduler *scheduler.Scheduler
}

type Server struct {
	cfg   config.Config
	bus   *logbus.Bus
	store *sqlite.Store
	sched *scheduler.Scheduler
	ws    *ws.Handler
}

func New(opts Options) *Server {
	return &Server{
		cfg:   opts.Cfg,
		bus:   opts.Bus,
		store: opts.Store,
		sched: opts.Scheduler,
		ws:    ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/sites", s.handleSites)
	api.HandleFunc("/api/v1/profiles", s.handleProfiles)
	api.HandleFunc("/api/v1/batch/start", s.handleBatchStart)
	api.HandleFunc("/api/v1/batch/stop", s.handleBatchStop)
	api.HandleFunc("/api/v1/batch/state", s.handleBatchState)
	api.HandleFunc("/api/v1/runs", s.handleRuns)
	api.HandleFunc("/api/v1/settings/email", s.handleEmailSettings)
	api.HandleFunc("/api/v1/settings/email/test", s.handleEmailTest)
	api.HandleFunc("/api/v1/settings/promo", s.handlePromoSettings)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sites, err := s.store.ListSites(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": sites})
	case http.MethodPost:
		type siteUpsertPayload struct {
			ID                 string `json:"id,omitempty"`
			Name               string `json:"name,omitempty"`
			RegisterURL        string `json:"registerUrl"`
			LoginURL           string `json:"loginUrl,omitempty"`
			BankURL            string `json:"bankUrl,omitempty"`
			PromoDepositURL    string `json:"promoDepositUrl,omitempty"`
			PromoExperienceURL string `json:"promoExperienceUrl,omitempty"`
			Enabled            bool   `json:"enabled"`
		}
		var body siteUpsertPayload
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		site, err := s.store.UpsertSite(r.Context(), model.Site{
			ID:                 strings.TrimSpace(body.ID),
			Name:               strings.TrimSpace(body.Name),
			RegisterURL:        strings.TrimSpace(body.RegisterURL),
			LoginURL:           strings.TrimSpace(body.LoginURL),
			BankURL:            strings.TrimSpace(body.BankURL),
			PromoDepositURL:    strings.TrimSpace(body.PromoDepositURL),
			PromoExperienceURL: strings.TrimSpace(body.PromoExperienceURL),
			Enabled:            body.Enabled,
		})
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": site})
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "id is required"})
			return
		}
		if err := s.store.DeleteSite(r.Context(), id); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		profiles, err := s.store.ListProfiles(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		// 口令不回显。
		for i := range profiles {
			if profiles[i].Password != "" {
				profiles[i].Password = "******"
			}
			if profiles[i].WithdrawPassword != "" {
				profiles[i].WithdrawPassword = "******"
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": profiles})
	case http.MethodPost:
		type profileUpsertPayload struct {
			ID               string  `json:"id,omitempty"`
			Username         string  `json:"username"`
			Password         *string `json:"password,omitempty"`
			WithdrawPassword *string `json:"withdrawPassword,omitempty"`
			FullName         *string `json:"fullName,omitempty"`
			BankName         *string `json:"bankName,omitempty"`
			BankBranch       *string `json:"bankBranch,omitempty"`
			BankAccount      *string `json:"bankAccount,omitempty"`
			CaptchaAPIKey    *string `json:"captchaApiKey,omitempty"`
			PromoType        *string `json:"promoType,omitempty"`
		}
		var body profileUpsertPayload
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		var current model.Profile
		if strings.TrimSpace(body.ID) != "" {
			if found, err := s.store.GetProfile(r.Context(), strings.TrimSpace(body.ID)); err == nil {
				current = found
			}
		}
		next := current
		next.ID = strings.TrimSpace(body.ID)
		next.Username = strings.TrimSpace(body.Username)
		if body.Password != nil && strings.TrimSpace(*body.Password) != "******" {
			next.Password = strings.TrimSpace(*body.Password)
		}
		if body.WithdrawPassword != nil && strings.TrimSpace(*body.WithdrawPassword) != "******" {
			next.WithdrawPassword = strings.TrimSpace(*body.WithdrawPassword)
		}
		if body.FullName != nil {
			next.FullName = strings.TrimSpace(*body.FullName)
		}
		if body.BankName != nil {
			next.BankName = strings.TrimSpace(*body.BankName)
		}
		if body.BankBranch != nil {
			next.BankBranch = strings.TrimSpace(*body.BankBranch)
		}
		if body.BankAccount != nil {
			next.BankAccount = strings.TrimSpace(*body.BankAccount)
		}
		if body.CaptchaAPIKey != nil {
			next.CaptchaAPIKey = strings.TrimSpace(*body.CaptchaAPIKey)
		}
		if body.PromoType != nil {
			next.PromoType = model.PromoType(strings.TrimSpace(*body.PromoType))
		}

		p, err := s.store.UpsertProfile(r.Context(), next)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		p.Password = ""
		p.WithdrawPassword = ""
		writeJSON(w, http.StatusOK, map[string]any{"data": p})
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "id is required"})
			return
		}
		if err := s.store.DeleteProfile(r.Context(), id); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type batchStartPayload struct {
	SiteIDs   []string      `json:"siteIds,omitempty"`
	ProfileID string        `json:"profileId"`
	Mode      string        `json:"mode,omitempty"`
	Window    int           `json:"window,omitempty"`
	Stages    []model.Stage `json:"stages,omitempty"`
}

func (s *Server) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "scheduler unavailable"})
		return
	}
	var body batchStartPayload
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(body.ProfileID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "profileId is required"})
		return
	}

	profile, err := s.store.GetProfile(r.Context(), strings.TrimSpace(body.ProfileID))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "profile not found"})
		return
	}

	var sites []model.Site
	if len(body.SiteIDs) > 0 {
		for _, id := range body.SiteIDs {
			site, err := s.store.GetSite(r.Context(), strings.TrimSpace(id))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("site %s not found", id)})
				return
			}
			sites = append(sites, site)
		}
	} else {
		sites, err = s.store.ListEnabledSites(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
	}
	if len(sites) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "no sites to run"})
		return
	}

	promo := s.resolvePromoSettings(r.Context(), profile)

	batchID, err := s.sched.Submit(scheduler.BatchRequest{
		Sites:   sites,
		Profile: profile,
		Mode:    model.BatchMode(strings.TrimSpace(body.Mode)),
		Window:  body.Window,
		Stages:  body.Stages,
		Promo:   promo,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, flowerr.ErrDuplicateBatch) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"batchId": batchID}})
}

// resolvePromoSettings 合并优惠配置：库里的全局设置优先，
// 其次配置文件，优惠类型可被身份信息覆盖。
func (s *Server) resolvePromoSettings(ctx context.Context, profile model.Profile) model.PromoSettings {
	promo := model.PromoSettings{
		Enabled:         s.cfg.Promo.Enabled,
		RequireVerified: s.cfg.Promo.RequireVerified,
		PromoType:       s.cfg.Promo.Type,
	}
	if stored, ok, err := s.store.GetPromoSettings(ctx); err == nil && ok {
		promo = stored
	}
	if profile.PromoType != "" {
		promo.PromoType = profile.PromoType
	}
	if promo.PromoType == "" {
		promo.PromoType = model.PromoTypeDeposit
	}
	return promo
}

func (s *Server) handleBatchStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "scheduler unavailable"})
		return
	}
	stopped := s.sched.StopCurrent()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stopped": stopped})
}

func (s *Server) handleBatchState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "scheduler unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.sched.State()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if batchID := strings.TrimSpace(r.URL.Query().Get("batchId")); batchID != "" {
		runs, err := s.store.ListRunsByBatch(r.Context(), batchID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": runs})
		return
	}
	limit, err := parseInt(r.URL.Query().Get("limit"), 100)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
		return
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": runs})
}

type emailSettingsPayload struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Email    *string `json:"email,omitempty"`
	AuthCode *string `json:"authCode,omitempty"`
}

func (s *Server) handleEmailSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, ok, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"enabled":  false,
					"email":    "",
					"authCode": "",
				},
			})
			return
		}
		if val.AuthCode != "" {
			val.AuthCode = "******"
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPost:
		var body emailSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		current, _, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}

		next := current
		if body.Enabled != nil {
			next.Enabled = *body.Enabled
		}
		if body.Email != nil {
			next.Email = strings.TrimSpace(*body.Email)
		}
		if body.AuthCode != nil {
			ac := strings.TrimSpace(*body.AuthCode)
			if ac != "******" {
				next.AuthCode = ac
			}
		}

		saved, err := s.store.UpsertEmailSettings(r.Context(), next)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if saved.AuthCode != "" {
			saved.AuthCode = "******"
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type emailTestPayload struct {
	Email    string `json:"email,omitempty"`
	AuthCode string `json:"authCode,omitempty"`
}

func (s *Server) handleEmailTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body emailTestPayload
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	val, _, err := s.store.GetEmailSettings(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(body.Email) != "" {
		val.Email = strings.TrimSpace(body.Email)
	}
	if strings.TrimSpace(body.AuthCode) != "" {
		val.AuthCode = strings.TrimSpace(body.AuthCode)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	if err := notify.SendBatchSummaryEmail(ctx, val, notify.BatchFinishedEvent{
		At:        time.Now().UnixMilli(),
		BatchID:   "TEST-BATCH-" + strconv.FormatInt(time.Now().Unix(), 10),
		Succeeded: 1,
		Runs: []model.SequenceRun{{
			SiteID:   "test",
			SiteName: "邮件测试站点",
			Status:   model.RunStatusSucceeded,
			Steps: []model.StepResult{
				{Stage: model.StageRegister, Success: true, Verified: true},
				{Stage: model.StageLogin, Success: true, Verified: true},
			},
		}},
	}); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type promoSettingsPayload struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	RequireVerified *bool   `json:"requireVerified,omitempty"`
	PromoType       *string `json:"promoType,omitempty"`
}

func (s *Server) handlePromoSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, ok, err := s.store.GetPromoSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			val = model.PromoSettings{
				Enabled:         s.cfg.Promo.Enabled,
				RequireVerified: s.cfg.Promo.RequireVerified,
				PromoType:       s.cfg.Promo.Type,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPost:
		var body promoSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		current, ok, err := s.store.GetPromoSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			current = model.PromoSettings{
				Enabled:         s.cfg.Promo.Enabled,
				RequireVerified: s.cfg.Promo.RequireVerified,
				PromoType:       s.cfg.Promo.Type,
			}
		}

		next := current
		if body.Enabled != nil {
			next.Enabled = *body.Enabled
		}
		if body.RequireVerified != nil {
			next.RequireVerified = *body.RequireVerified
		}
		if body.PromoType != nil {
			next.PromoType = model.PromoType(strings.TrimSpace(*body.PromoType))
		}

		saved, err := s.store.UpsertPromoSettings(r.Context(), next)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func parseInt(v string, def int) (int, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	return n, nil
}
