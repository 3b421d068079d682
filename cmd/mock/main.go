// mock 是一个本地假目标站，页面结构仿照目标站点的通用模板，
// 用来在不碰真实站点的情况下手动跑完整的四阶段流程。
package main

import (
	"bytes"
	crand "crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"net/http"
	"sync"
	"time"
)

type bankInfo struct {
	FullName string
	Branch   string
	Account  string
}

type mockSite struct {
	mu    sync.Mutex
	banks map[string]bankInfo
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	site := &mockSite{banks: make(map[string]bankInfo)}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/register", http.StatusFound)
	})
	mux.HandleFunc("/register", site.handleRegister)
	mux.HandleFunc("/login", site.handleLogin)
	mux.HandleFunc("/member", site.handleMember)
	mux.HandleFunc("/bank", site.handleBank)
	mux.HandleFunc("/promo", site.handlePromo)
	mux.HandleFunc("/captcha.png", handleCaptchaImage)
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "_pat", Value: "", Path: "/", MaxAge: -1})
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock site listening on %s", *addr)
	log.Fatal(srv.ListenAndServe())
}

func (s *mockSite) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		username := r.FormValue("username")
		if username == "" {
			writePage(w, "注册", `<div class="alert-danger">đăng ký thất bại</div>`+registerForm)
			return
		}
		issueToken(w, username)
		http.Redirect(w, r, "/member", http.StatusSeeOther)
		return
	}
	writePage(w, "注册", registerForm)
}

func (s *mockSite) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		username := r.FormValue("username")
		if username == "" || r.FormValue("password") == "" {
			writePage(w, "登录", `<div class="alert-danger">đăng nhập thất bại</div>`+loginForm)
			return
		}
		issueToken(w, username)
		http.Redirect(w, r, "/member", http.StatusSeeOther)
		return
	}
	writePage(w, "登录", loginForm)
}

func (s *mockSite) handleMember(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	body := fmt.Sprintf(`<div class="toast-success">welcome</div>
<div class="user-info">%s</div>
<div class="balance">0.00</div>
<a href="/logout">Logout</a>
<a href="/bank">Bank</a>
<a href="/promo">Promo</a>`, username)
	writePage(w, "会员中心", body)
}

func (s *mockSite) handleBank(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	if r.Method == http.MethodPost {
		info := bankInfo{
			FullName: r.FormValue("fullname"),
			Branch:   r.FormValue("bank_branch"),
			Account:  r.FormValue("bank_account"),
		}
		if info.Account == "" {
			writePage(w, "绑卡", `<div class="modal show"><div class="modal-body">số tài khoản không hợp lệ</div></div>`+bankForm)
			return
		}
		s.mu.Lock()
		s.banks[username] = info
		s.mu.Unlock()
		http.Redirect(w, r, "/bank", http.StatusSeeOther)
		return
	}

	s.mu.Lock()
	info, bound := s.banks[username]
	s.mu.Unlock()

	if !bound {
		writePage(w, "绑卡", bankForm)
		return
	}
	body := fmt.Sprintf(`<div class="toast-success">thành công</div>
<a href="/logout">Logout</a>
<table class="bank-info">
<tr><td>HỌ VÀ TÊN</td><td>%s</td></tr>
<tr><td>CHI NHÁNH</td><td>%s</td></tr>
<tr><td>SỐ TÀI KHOẢN</td><td>%s</td></tr>
</table>`, info.FullName, info.Branch, info.Account)
	writePage(w, "绑卡", body)
}

func (s *mockSite) handlePromo(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if r.FormValue("username") == "" {
			writePage(w, "优惠", `<div class="toast-error">tên đăng nhập không hợp lệ</div>`+promoForm)
			return
		}
		writePage(w, "优惠", `<div class="toast-success">đăng ký khuyến mãi thành công</div>`+promoForm)
		return
	}
	writePage(w, "优惠", promoForm)
}

// handleCaptchaImage 出一张纯色小图凑数，识别结果无所谓，
// 注册接口不校验验证码内容。
func handleCaptchaImage(w http.ResponseWriter, _ *http.Request) {
	img := image.NewRGBA(image.Rect(0, 0, 120, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{R: 230, G: 230, B: 240, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func issueToken(w http.ResponseWriter, username string) {
	raw := make([]byte, 16)
	_, _ = crand.Read(raw)
	http.SetCookie(w, &http.Cookie{
		Name:  "_pat",
		Value: username + "." + hex.EncodeToString(raw),
		Path:  "/",
	})
}

func currentUser(r *http.Request) (string, bool) {
	c, err := r.Cookie("_pat")
	if err != nil || c.Value == "" {
		return "", false
	}
	for i, ch := range c.Value {
		if ch == '.' {
			return c.Value[:i], true
		}
	}
	return c.Value, true
}

func writePage(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, pageShell, title, body)
}

const pageShell = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
%s
</body>
</html>`

const registerForm = `<form method="POST" action="/register" id="register-form">
<input name="username" id="username">
<input type="password" name="password" id="password">
<input type="password" name="confirm_password" id="confirm_password">
<input name="fullname" id="fullname">
<img class="captcha" src="/captcha.png" id="captcha-img">
<input name="captcha" id="captcha">
<button type="submit" id="register-btn">Đăng ký</button>
</form>`

const loginForm = `<form method="POST" action="/login" id="login-form">
<input name="username" id="username">
<input type="password" name="password" id="password">
<button type="submit" id="login-btn">Đăng nhập</button>
</form>`

const bankForm = `<form method="POST" action="/bank" id="bank-form">
<input name="fullname" id="fullname">
<select name="bank_name" id="bank_name">
<option value="vcb">VIETCOMBANK</option>
<option value="tcb">TECHCOMBANK</option>
<option value="acb">ACB</option>
</select>
<input name="bank_branch" id="bank_branch">
<input name="bank_account" id="bank_account">
<input type="password" name="withdraw_password" id="withdraw_password">
<button type="submit" id="bank-submit">Liên kết</button>
</form>`

const promoForm = `<form method="POST" action="/promo" id="promo-form">
<input name="username" id="username">
<label><input type="radio" name="promo_type" value="deposit"> Khuyến mãi nạp đầu</label>
<label><input type="radio" name="promo_type" value="experience"> Tiền trải nghiệm</label>
<button type="submit" id="promo-submit">Nhận</button>
</form>`
