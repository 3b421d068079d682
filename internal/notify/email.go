package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"sequence_engine/internal/logbus"
	"sequence_engine/internal/model"
	"sequence_engine/internal/store/sqlite"
)

// EmailNotifier 批次收尾后异步发汇总邮件。
// 邮件配置每次发送时从库里现读，改配置不用重启。
type EmailNotifier struct {
	store *sqlite.Store
	bus   *logbus.Bus

	mu     sync.Mutex
	queue  chan BatchFinishedEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
}

func NewEmailNotifier(store *sqlite.Store, bus *logbus.Bus) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		store:  store,
		bus:    bus,
		queue:  make(chan BatchFinishedEvent, 50),
		ctx:    ctx,
		cancel: cancel,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyBatchFinished(_ context.Context, evt BatchFinishedEvent) {
	select {
	case n.queue <- evt:
	default:
		if n.bus != nil {
			n.bus.Log("warn", "邮件通知丢弃：队列已满", map[string]any{"batchId": evt.BatchID})
		}
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case evt := <-n.queue:
			n.handle(evt)
		}
	}
}

func (n *EmailNotifier) handle(evt BatchFinishedEvent) {
	if n.store == nil {
		return
	}

	settings, ok, err := n.store.GetEmailSettings(n.ctx)
	if err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "读取邮件配置失败", map[string]any{"error": err.Error()})
		}
		return
	}
	if !ok || !settings.Enabled {
		if n.bus != nil {
			n.bus.Log("info", "邮件通知未启用", map[string]any{"batchId": evt.BatchID})
		}
		return
	}
	if err := validateEmailSettings(settings); err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "邮件配置无效", map[string]any{"error": err.Error()})
		}
		return
	}

	if err := SendBatchSummaryEmail(n.ctx, settings, evt); err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "邮件发送失败", map[string]any{
				"error":   err.Error(),
				"batchId": evt.BatchID,
			})
		}
		return
	}
	if n.bus != nil {
		n.bus.Log("info", "通知邮件已发送", map[string]any{
			"batchId": evt.BatchID,
			"to":      strings.TrimSpace(settings.Email),
		})
	}
}

func validateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

func SendBatchSummaryEmail(ctx context.Context, settings model.EmailSettings, evt BatchFinishedEvent) error {
	if err := validateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpConfigForEmail(email)
	if err != nil {
		return err
	}
	subject := buildSummarySubject(evt)
	htmlBody, textBody, err := buildSummaryEmailBody(evt)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email, "批量开户助手"))
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))

	switch {
	case domain == "qq.com" || strings.HasSuffix(domain, ".qq.com") || domain == "foxmail.com" || strings.HasSuffix(domain, ".foxmail.com"):
		return "smtp.qq.com", 465, true, nil
	case domain == "163.com" || strings.HasSuffix(domain, ".163.com") ||
		domain == "126.com" || strings.HasSuffix(domain, ".126.com") ||
		domain == "yeah.net" || strings.HasSuffix(domain, ".yeah.net"):
		return "smtp.163.com", 465, true, nil
	case domain == "gmail.com" || strings.HasSuffix(domain, ".gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case domain == "outlook.com" || strings.HasSuffix(domain, ".outlook.com") ||
		domain == "hotmail.com" || strings.HasSuffix(domain, ".hotmail.com") ||
		domain == "live.com" || strings.HasSuffix(domain, ".live.com"):
		return "smtp.office365.com", 587, false, nil
	case domain == "sina.com" || strings.HasSuffix(domain, ".sina.com"):
		return "smtp.sina.com", 465, true, nil
	case domain == "aliyun.com" || strings.HasSuffix(domain, ".aliyun.com"):
		return "smtp.aliyun.com", 465, true, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildSummarySubject(evt BatchFinishedEvent) string {
	return fmt.Sprintf("批次结果汇总：成功 %d / 部分 %d / 失败 %d", evt.Succeeded, evt.Partial, evt.Failed)
}

var emailSummaryHTMLTpl = template.Must(template.New("email-summary").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width" />
    <title>批次结果汇总</title>
  </head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,'Helvetica Neue',Arial,'PingFang SC','Hiragino Sans GB','Microsoft YaHei',sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#0ea5e9,#6366f1);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;letter-spacing:.2px;">批次结果汇总</div>
          <div style="margin-top:6px;font-size:12px;opacity:.95;">批量开户助手通知</div>
        </div>

        <div style="padding:22px;">
          <div style="font-size:14px;color:#111827;">
            共 <strong>{{ .Total }}</strong> 个站点：成功 {{ .Succeeded }}，部分 {{ .Partial }}，失败 {{ .Failed }}（{{ .At }}）
          </div>

          <div style="margin-top:12px;border:1px solid #eef0f6;border-radius:12px;overflow:hidden;">
            <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="width:100%;border-collapse:collapse;">
              <thead>
                <tr style="background:#fafbff;">
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">站点</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">状态</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">各阶段</th>
                </tr>
              </thead>
              <tbody>
                {{ range .Rows }}
                <tr>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Site }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Status }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Stages }}</td>
                </tr>
                {{ end }}
              </tbody>
            </table>
          </div>

          <div style="margin-top:14px;color:#9ca3af;font-size:12px;line-height:1.6;">
            此邮件由系统自动发送
          </div>
        </div>
      </div>
      <div style="text-align:center;margin-top:12px;color:#9ca3af;font-size:12px;">
        © 批量开户助手
      </div>
    </div>
  </body>
</html>
`))

func buildSummaryEmailBody(evt BatchFinishedEvent) (htmlBody string, textBody string, err error) {
	type summaryRow struct {
		Site   string
		Status string
		Stages string
	}

	at := time.Now()
	if evt.At > 0 {
		at = time.UnixMilli(evt.At)
	}

	rows := make([]summaryRow, 0, len(evt.Runs))
	for _, run := range evt.Runs {
		name := strings.TrimSpace(run.SiteName)
		if name == "" {
			name = run.SiteID
		}
		rows = append(rows, summaryRow{
			Site:   name,
			Status: statusLabel(run.Status),
			Stages: stageSummary(run.Steps),
		})
	}

	data := struct {
		Total     int
		Succeeded int
		Partial   int
		Failed    int
		At        string
		Rows      []summaryRow
	}{
		Total:     len(evt.Runs),
		Succeeded: evt.Succeeded,
		Partial:   evt.Partial,
		Failed:    evt.Failed,
		At:        at.Format("2006-01-02 15:04:05"),
		Rows:      rows,
	}

	var buf bytes.Buffer
	if err := emailSummaryHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	text.WriteString("批次结果汇总\n")
	text.WriteString(fmt.Sprintf("共 %d 个站点：成功 %d，部分 %d，失败 %d\n", data.Total, data.Succeeded, data.Partial, data.Failed))
	for _, row := range rows {
		text.WriteString(fmt.Sprintf("- %s | %s | %s\n", row.Site, row.Status, row.Stages))
	}

	return buf.String(), text.String(), nil
}

func statusLabel(s model.RunStatus) string {
	switch s {
	case model.RunStatusSucceeded:
		return "成功"
	case model.RunStatusPartial:
		return "部分成功"
	case model.RunStatusFailed:
		return "失败"
	case model.RunStatusRunning:
		return "进行中"
	default:
		return "未开始"
	}
}

func stageSummary(steps []model.StepResult) string {
	labels := map[model.Stage]string{
		model.StageRegister:   "注册",
		model.StageLogin:      "登录",
		model.StageAddBank:    "绑卡",
		model.StageCheckPromo: "优惠",
	}
	parts := make([]string, 0, len(steps))
	for _, st := range steps {
		mark := "✗"
		switch {
		case st.Skipped:
			mark = "－"
		case st.Success && st.Verified:
			mark = "✓"
		case st.Success:
			mark = "✓?"
		}
		parts = append(parts, labels[st.Stage]+mark)
	}
	if len(parts) == 0 {
		return "无记录"
	}
	return strings.Join(parts, " ")
}
