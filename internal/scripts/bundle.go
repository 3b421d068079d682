// Package scripts 生成注入到页面里的自动化脚本包。
// 目标站点都是同一套模板建站，表单结构高度一致，
// 所以一份通用脚本配上身份数据就能覆盖全部站点。
package scripts

import (
	"encoding/json"
	"fmt"

	"sequence_engine/internal/model"
	"sequence_engine/internal/sequence"
)

type payload struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	WithdrawPassword string `json:"withdrawPassword"`
	FullName         string `json:"fullName"`
	BankName         string `json:"bankName"`
	BankBranch       string `json:"bankBranch"`
	BankAccount      string `json:"bankAccount"`
	PromoType        string `json:"promoType"`
}

// For 给一个站点构造脚本包。站点维度目前没有差异化参数，
// 保留 site 入参是为了以后接每站点的选择器覆写。
func For(site model.Site, profile model.Profile) sequence.Scripts {
	promoType := string(profile.PromoType)
	if promoType == "" {
		promoType = string(model.PromoTypeDeposit)
	}
	data, _ := json.Marshal(payload{
		Username:         profile.Username,
		Password:         profile.Password,
		WithdrawPassword: profile.WithdrawPassword,
		FullName:         profile.FullName,
		BankName:         profile.BankName,
		BankBranch:       profile.BankBranch,
		BankAccount:      profile.BankAccount,
		PromoType:        promoType,
	})
	_ = site

	return sequence.Scripts{
		Register:      fmt.Sprintf(registerJS, data),
		Login:         fmt.Sprintf(loginJS, data),
		AddBank:       fmt.Sprintf(addBankJS, data),
		CheckPromo:    fmt.Sprintf(checkPromoJS, data),
		BankSnapshot:  bankSnapshotJS,
		LoginSignals:  loginSignalsJS,
		CaptchaImage:  captchaImageJS,
		CaptchaSubmit: captchaSubmitJS,
	}
}

const registerJS = `() => {
	const p = %s;
	const set = (sel, v) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		const setter = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value').set;
		setter.call(el, v);
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	};
	set('input[name="username"], input[name="account"], #username', p.username);
	set('input[name="password"], #password', p.password);
	set('input[name="confirm_password"], input[name="repassword"], #confirm_password', p.password);
	set('input[name="fullname"], input[name="realname"], #fullname', p.fullName);
	const btn = document.querySelector('button[type="submit"], #register-btn, .btn-register');
	if (btn) btn.click();
	return true;
}`

const loginJS = `() => {
	const p = %s;
	const set = (sel, v) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		const setter = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value').set;
		setter.call(el, v);
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	};
	set('input[name="username"], input[name="account"], #username', p.username);
	set('input[name="password"], #password', p.password);
	const btn = document.querySelector('button[type="submit"], #login-btn, .btn-login');
	if (btn) btn.click();
	return true;
}`

const addBankJS = `() => {
	const p = %s;
	const set = (sel, v) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		const setter = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value').set;
		setter.call(el, v);
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	};
	set('input[name="fullname"], input[name="account_name"], #fullname', p.fullName);
	set('input[name="bank_branch"], input[name="branch"], #bank_branch', p.bankBranch);
	set('input[name="bank_account"], input[name="account_number"], #bank_account', p.bankAccount);
	set('input[name="withdraw_password"], #withdraw_password', p.withdrawPassword);
	const bankSel = document.querySelector('select[name="bank_name"], #bank_name');
	if (bankSel && p.bankName) {
		for (const opt of bankSel.options) {
			if (opt.text.toUpperCase().includes(p.bankName.toUpperCase())) {
				bankSel.value = opt.value;
				bankSel.dispatchEvent(new Event('change', {bubbles: true}));
				break;
			}
		}
	}
	const btn = document.querySelector('button[type="submit"], #bank-submit, .btn-submit');
	if (btn) btn.click();
	return true;
}`

// 优惠流程在页面侧是一个整体：填信息、选优惠类型、提交，
// 最后回传 {success, message}。
const checkPromoJS = `() => {
	const p = %s;
	const set = (sel, v) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		const setter = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value').set;
		setter.call(el, v);
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	};
	set('input[name="username"], #username', p.username);
	const radio = document.querySelector('input[type="radio"][value="' + p.promoType + '"]');
	if (radio) radio.click();
	const btn = document.querySelector('button[type="submit"], #promo-submit, .btn-promo');
	if (!btn) {
		return {success: false, message: 'promo form not found'};
	}
	btn.click();
	const toast = document.querySelector('.toast-success, .alert-success');
	const errEl = document.querySelector('.toast-error, .alert-danger');
	if (errEl && errEl.textContent.trim() !== '') {
		return {success: false, message: errEl.textContent.trim()};
	}
	return {success: true, message: toast ? toast.textContent.trim() : 'submitted'};
}`

// bankSnapshotJS 只采集，不判定：错误弹窗、成功提示、表单可见性、
// 展示出来的银行信息行，统统原样带回去给核验引擎。
const bankSnapshotJS = `() => {
	const modal = document.querySelector('.modal.show .modal-body, .swal2-popup.swal2-show');
	const toast = document.querySelector('.toast-success, .alert-success');
	const form = document.querySelector('form#bank-form, form[name="bank"]');
	const rows = [];
	for (const tr of document.querySelectorAll('.bank-info tr, table.info-table tr')) {
		const cells = tr.querySelectorAll('td, th');
		if (cells.length >= 2) {
			rows.push({label: cells[0].textContent.trim(), value: cells[1].textContent.trim()});
		}
	}
	return {
		errorModal: !!modal,
		errorText: modal ? modal.textContent.trim() : '',
		successToast: !!toast,
		formVisible: !!form && form.offsetParent !== null,
		rows: rows,
	};
}`

const loginSignalsJS = `() => {
	let hasAuth = false;
	try {
		hasAuth = !!(localStorage.getItem('token') || localStorage.getItem('auth'));
	} catch (e) {}
	return {
		hasAuthTokens: hasAuth,
		hasLogoutControl: !!document.querySelector('a[href*="logout" i], .btn-logout'),
		hasLoginForm: !!document.querySelector('form[action*="login" i], #login-form'),
		loggedInUrl: !location.pathname.toLowerCase().includes('login'),
		hasUserInfo: !!document.querySelector('.user-info, .member-name, #username-display'),
		hasSuccessMarker: !!document.querySelector('.toast-success, .alert-success'),
		balanceShown: !!document.querySelector('.balance, .member-balance'),
	};
}`

const captchaImageJS = `() => {
	const img = document.querySelector('img.captcha, img[src*="captcha" i], #captcha-img');
	if (!img || !img.complete) return '';
	const canvas = document.createElement('canvas');
	canvas.width = img.naturalWidth;
	canvas.height = img.naturalHeight;
	canvas.getContext('2d').drawImage(img, 0, 0);
	return canvas.toDataURL('image/png').split(',')[1] || '';
}`

const captchaSubmitJS = `(text) => {
	const el = document.querySelector('input[name="captcha"], input[name="verify_code"], #captcha');
	if (!el) return false;
	const setter = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value').set;
	setter.call(el, text);
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	const btn = document.querySelector('button[type="submit"], #register-btn, .btn-register');
	if (btn) btn.click();
	return true;
}`
