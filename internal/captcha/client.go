// Package captcha 对接打码服务：提交 Base64 图片，拿回识别出的文本。
// 服务端可能同步回结果，也可能先给 taskId 再让客户端轮询。
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"sequence_engine/internal/config"
	"sequence_engine/internal/logbus"
)

type Client struct {
	http *resty.Client
	cfg  config.CaptchaConfig
	bus  *logbus.Bus
}

func New(cfg config.CaptchaConfig, bus *logbus.Bus) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout()).
		SetHeader("Content-Type", "application/json")
	return &Client{http: httpClient, cfg: cfg, bus: bus}
}

type processRequest struct {
	APIKey string `json:"apikey"`
	Type   string `json:"type"`
	Img    string `json:"img"`
}

type processResponse struct {
	Success bool   `json:"success"`
	Captcha string `json:"captcha"`
	TaskID  int64  `json:"taskId"`
	Message string `json:"message"`
}

type resultRequest struct {
	APIKey string `json:"apikey"`
	TaskID int64  `json:"taskId"`
}

type resultResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Captcha string `json:"captcha"`
	Message string `json:"message"`
}

// SolveImage 提交验证码图片并等待识别结果。
func (c *Client) SolveImage(ctx context.Context, apiKey, imageB64 string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", errors.New("captcha api key is empty")
	}
	if strings.TrimSpace(imageB64) == "" {
		return "", errors.New("captcha image is empty")
	}

	var created processResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(processRequest{APIKey: apiKey, Type: "imagetotext", Img: imageB64}).
		SetResult(&created).
		Post("/process")
	if err != nil {
		return "", fmt.Errorf("captcha submit: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("captcha submit: http %d", resp.StatusCode())
	}
	if !created.Success {
		return "", fmt.Errorf("captcha submit rejected: %s", strings.TrimSpace(created.Message))
	}
	if text := strings.TrimSpace(created.Captcha); text != "" {
		return text, nil
	}
	if created.TaskID == 0 {
		return "", errors.New("captcha submit returned neither result nor taskId")
	}
	return c.pollResult(ctx, apiKey, created.TaskID)
}

func (c *Client) pollResult(ctx context.Context, apiKey string, taskID int64) (string, error) {
	interval := c.cfg.PollInterval()
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		}

		var result resultResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(resultRequest{APIKey: apiKey, TaskID: taskID}).
			SetResult(&result).
			Post("/result")
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// 单次轮询失败不放弃，服务端偶发抖动很常见。
			if c.bus != nil {
				c.bus.Log("warn", "打码结果轮询失败", map[string]any{"attempt": attempt, "error": err.Error()})
			}
			continue
		}
		if resp.IsError() {
			if c.bus != nil {
				c.bus.Log("warn", "打码结果轮询失败", map[string]any{"attempt": attempt, "status": resp.StatusCode()})
			}
			continue
		}
		if result.Success && strings.TrimSpace(result.Captcha) != "" {
			return strings.TrimSpace(result.Captcha), nil
		}
		if strings.EqualFold(result.Status, "processing") || strings.EqualFold(result.Status, "pending") {
			continue
		}
		if !result.Success && strings.TrimSpace(result.Message) != "" {
			return "", fmt.Errorf("captcha failed: %s", strings.TrimSpace(result.Message))
		}
	}
	return "", errors.New("captcha result timed out")
}
