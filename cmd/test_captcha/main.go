// test_captcha 是一个手动排查工具：读一张验证码图片，
// 直接走打码平台跑一次识别，方便验证 apikey 和网络是否正常。
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"sequence_engine/internal/captcha"
	"sequence_engine/internal/config"
	"sequence_engine/internal/logbus"
)

func main() {
	apiKey := flag.String("key", "", "autocaptcha apikey")
	imgPath := flag.String("img", "", "path to captcha image file")
	baseURL := flag.String("base", "", "override captcha base url")
	flag.Parse()

	if *apiKey == "" || *imgPath == "" {
		fmt.Println("用法: test_captcha -key <apikey> -img <captcha.png>")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*imgPath)
	if err != nil {
		fmt.Printf("读取图片失败: %v\n", err)
		os.Exit(1)
	}

	cli := captcha.New(config.CaptchaConfig{BaseURL: *baseURL}, logbus.New(50))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := time.Now()
	text, err := cli.SolveImage(ctx, *apiKey, base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		fmt.Printf("识别失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("识别结果: %s（耗时 %s）\n", text, time.Since(start).Round(time.Millisecond))
}
