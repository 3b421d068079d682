package verify

import (
	"context"
	"errors"
	"testing"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/browser/browsertest"
)

var bankExpect = BankExpect{
	HolderName:    "nguyen van an",
	Branch:        "TP. Hồ Chí Minh",
	AccountNumber: "0123456789",
}

func snapPage(snap BankSnapshot) *browsertest.FakePage {
	page := browsertest.NewPage("bank")
	page.SetEval(func(expr string) (browser.Value, error) {
		return browser.NewValue(snap), nil
	})
	return page
}

func TestConfirmBankExactMatch(t *testing.T) {
	page := snapPage(BankSnapshot{
		FormVisible: false,
		Rows: []BankRow{
			{Label: "HỌ VÀ TÊN", Value: "NGUYEN   VAN AN"},
			{Label: "CHI NHÁNH", Value: "Thành phố Hồ Chí Minh"},
			{Label: "SỐ TÀI KHOẢN", Value: "****6789"},
		},
	})

	out, err := New(testCfg(), nil).ConfirmBankFields(context.Background(), page, "() => snap()", bankExpect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || !out.Verified {
		t.Fatalf("got %+v, want success+verified", out)
	}
}

func TestConfirmBankSuccessToastIsNotVerified(t *testing.T) {
	page := snapPage(BankSnapshot{SuccessToast: true})

	out, err := New(testCfg(), nil).ConfirmBankFields(context.Background(), page, "() => snap()", bankExpect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || out.Verified {
		t.Fatalf("got %+v, want success without verified", out)
	}
}

func TestConfirmBankPartialRowsDowngrade(t *testing.T) {
	page := snapPage(BankSnapshot{
		Rows: []BankRow{
			{Label: "HỌ VÀ TÊN", Value: "SOMEONE ELSE"},
		},
	})

	out, err := New(testCfg(), nil).ConfirmBankFields(context.Background(), page, "() => snap()", bankExpect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || out.Verified {
		t.Fatalf("got %+v, want success without verified", out)
	}
}

func TestConfirmBankErrorModal(t *testing.T) {
	page := snapPage(BankSnapshot{ErrorModal: true, ErrorText: "Thêm ngân hàng thất bại"})

	out, err := New(testCfg(), nil).ConfirmBankFields(context.Background(), page, "() => snap()", bankExpect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Success {
		t.Fatalf("got %+v, want failure", out)
	}
}

func TestConfirmBankFormDisappeared(t *testing.T) {
	page := snapPage(BankSnapshot{FormVisible: false})

	out, err := New(testCfg(), nil).ConfirmBankFields(context.Background(), page, "() => snap()", bankExpect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || out.Verified {
		t.Fatalf("got %+v, want weak success", out)
	}
}

func TestConfirmBankFormStillVisible(t *testing.T) {
	page := snapPage(BankSnapshot{FormVisible: true})

	out, err := New(testCfg(), nil).ConfirmBankFields(context.Background(), page, "() => snap()", bankExpect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Success {
		t.Fatalf("got %+v, want failure when submit had no effect", out)
	}
}

func TestConfirmBankContextDestroyedMeansProbableSuccess(t *testing.T) {
	page := browsertest.NewPage("bank")
	page.SetEval(func(expr string) (browser.Value, error) {
		return browser.Value{}, errors.New("Execution context was destroyed")
	})

	out, err := New(testCfg(), nil).ConfirmBankFields(context.Background(), page, "() => snap()", bankExpect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || out.Verified {
		t.Fatalf("got %+v, want unverified success", out)
	}
}

func TestNormalizeField(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  thành phố   Hồ Chí Minh ", "HỒ CHÍ MINH"},
		{"TP. Hà Nội", "HÀ NỘI"},
		{"nguyen   van  an", "NGUYEN VAN AN"},
	}
	for _, tc := range cases {
		if got := NormalizeField(tc.in); got != tc.want {
			t.Errorf("NormalizeField(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBranchMatchesBidirectional(t *testing.T) {
	if !branchMatches("CHI NHÁNH HỒ CHÍ MINH", "Hồ Chí Minh") {
		t.Fatal("observed superset should match")
	}
	if !branchMatches("Hồ Chí Minh", "Thành phố Hồ Chí Minh - Chi nhánh 2") {
		t.Fatal("expected superset should match")
	}
	if branchMatches("HÀ NỘI", "Hồ Chí Minh") {
		t.Fatal("distinct branches must not match")
	}
}
