package verify

import (
	"context"
	"fmt"
	"strings"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/flowerr"
	"sequence_engine/internal/retry"
)

// BankExpect 是绑卡后页面上应当展示的字段。
type BankExpect struct {
	HolderName    string
	Branch        string
	AccountNumber string
}

// BankSnapshot 由站点适配脚本从页面采集，核验引擎只做判定。
type BankSnapshot struct {
	ErrorModal   bool      `json:"errorModal"`
	ErrorText    string    `json:"errorText,omitempty"`
	SuccessToast bool      `json:"successToast"`
	FormVisible  bool      `json:"formVisible"`
	Rows         []BankRow `json:"rows,omitempty"`
}

type BankRow struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// 页面报错弹窗里的失败文案片段（目标站点是越南语站）。
var bankErrorMarkers = []string{
	"thất bại",
	"không hợp lệ",
	"lỗi",
	"error",
	"failed",
}

// ConfirmBankFields 做三档核验，按优先级：
//  1. 展示字段逐项精确匹配（归一化后）→ success+verified，唯一能给出 verified 的出口；
//  2. 出现成功提示或银行信息展示但字段对不齐 → success，verified=false；
//  3. 明确的失败弹窗 → failure。
//
// 表单消失但以上都没有命中，按“大概率成功但无法证明”降级处理。
// 提交后页面可能还在重渲染，所以整个核验会隔几秒重读若干次；
// 核验途中 context 被销毁通常是页面跳转，同样降级为未确认成功。
func (e *Engine) ConfirmBankFields(ctx context.Context, page browser.Page, snapshotScript string, expect BankExpect) (Outcome, error) {
	var last BankSnapshot
	decisive := Outcome{}
	found := false

	_, err := retry.PollUntil(ctx, e.cfg.BankRecheckGap(), e.cfg.BankRecheckCount, func(ctx context.Context) (bool, error) {
		val, err := page.Evaluate(ctx, snapshotScript)
		if err != nil {
			return false, err
		}
		var snap BankSnapshot
		if err := val.Decode(&snap); err != nil {
			return false, fmt.Errorf("decode bank snapshot: %w", err)
		}
		last = snap

		if snap.ErrorModal && hasBankError(snap.ErrorText) {
			decisive = Outcome{Success: false, Details: "页面报错弹窗: " + strings.TrimSpace(snap.ErrorText)}
			found = true
			return true, nil
		}
		if len(snap.Rows) > 0 && matchBankRows(snap.Rows, expect) {
			decisive = Outcome{Success: true, Verified: true, Confidence: 100, Details: "展示字段逐项匹配"}
			found = true
			return true, nil
		}
		if snap.SuccessToast {
			decisive = Outcome{Success: true, Verified: false, Confidence: 70, Details: "出现成功提示，字段未逐项确认"}
			found = true
			return true, nil
		}
		if len(snap.Rows) > 0 {
			decisive = Outcome{Success: true, Verified: false, Confidence: 60, Details: "银行信息已展示但字段不完全一致"}
			found = true
			return true, nil
		}
		// 没有任何信号：页面可能还在重渲染，下一轮再看。
		return false, nil
	})
	if err != nil {
		if flowerr.Classify(err) == flowerr.KindContextDestroyed {
			return Outcome{
				Success:  true,
				Verified: false,
				Details:  "核验途中页面上下文被销毁，视为大概率成功",
			}, nil
		}
		return Outcome{}, err
	}
	if found {
		return decisive, nil
	}

	if !last.FormVisible {
		return Outcome{
			Success:  true,
			Verified: false,
			Details:  "表单已消失且无其他信号，视为大概率成功",
		}, nil
	}
	return Outcome{
		Success: false,
		Details: "表单仍然可见，提交似乎没有生效",
	}, nil
}

func hasBankError(text string) bool {
	t := strings.ToLower(text)
	for _, m := range bankErrorMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	// 弹窗存在但没识别出文案，同样按失败处理。
	return strings.TrimSpace(text) == ""
}

// matchBankRows 要求期望的每个字段都能在展示行里找到匹配。
func matchBankRows(rows []BankRow, expect BankExpect) bool {
	matched := 0
	want := 0

	if expect.HolderName != "" {
		want++
		for _, r := range rows {
			if isHolderLabel(r.Label) && NormalizeField(r.Value) == NormalizeField(expect.HolderName) {
				matched++
				break
			}
		}
	}
	if expect.Branch != "" {
		want++
		for _, r := range rows {
			if isBranchLabel(r.Label) && branchMatches(r.Value, expect.Branch) {
				matched++
				break
			}
		}
	}
	if expect.AccountNumber != "" {
		want++
		for _, r := range rows {
			if isAccountLabel(r.Label) && lastDigitsMatch(r.Value, expect.AccountNumber, 4) {
				matched++
				break
			}
		}
	}
	return want > 0 && matched == want
}

func isHolderLabel(label string) bool {
	l := NormalizeField(label)
	return strings.Contains(l, "HỌ") && strings.Contains(l, "TÊN")
}

func isBranchLabel(label string) bool {
	return strings.Contains(NormalizeField(label), "CHI NHÁNH")
}

func isAccountLabel(label string) bool {
	return strings.Contains(NormalizeField(label), "SỐ TÀI KHOẢN")
}

// NormalizeField 统一两侧字符串后再比较：
// 大写、去掉城市前缀（THÀNH PHỐ / TP.）、压缩空白。
func NormalizeField(s string) string {
	up := strings.ToUpper(strings.TrimSpace(s))
	up = strings.ReplaceAll(up, "THÀNH PHỐ", " ")
	up = strings.ReplaceAll(up, "TP.", " ")
	return strings.Join(strings.Fields(up), " ")
}

// branchMatches 支行名称双向包含即算匹配：
// 页面展示和用户录入经常一个带省市一个不带。
func branchMatches(observed, expected string) bool {
	o := NormalizeField(observed)
	e := NormalizeField(expected)
	if o == "" || e == "" {
		return false
	}
	return strings.Contains(o, e) || strings.Contains(e, o)
}

func lastDigitsMatch(observed, expected string, n int) bool {
	od := digits(observed)
	ed := digits(expected)
	if len(od) < n || len(ed) < n {
		return od != "" && od == ed
	}
	return od[len(od)-n:] == ed[len(ed)-n:]
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
