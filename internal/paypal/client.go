// Package paypal 实现了 PayPal IPN 回验客户端。
//
// IPN 通知本身不带签名，接收方必须把原始报文原样回传给 PayPal，
// 由 PayPal 判定 VERIFIED 或 INVALID，以此识别伪造的通知。
package paypal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// 回验端点常量定义
const (
	// LiveVerifyURL 是生产环境的回验地址
	LiveVerifyURL = "https://ipnpb.paypal.com/cgi-bin/webscr"
	// SandboxVerifyURL 是沙箱环境的回验地址
	SandboxVerifyURL = "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr"
)

// 回验结果常量定义
const (
	// StatusVerified 表示通知确由 PayPal 发出
	StatusVerified = "VERIFIED"
	// StatusInvalid 表示通知未通过校验（疑似伪造或报文被改动）
	StatusInvalid = "INVALID"
)

// Client 是 IPN 回验客户端。
type Client struct {
	verifyURL  string
	httpClient *http.Client
}

// Config 是回验客户端的配置。
type Config struct {
	// Sandbox 为 true 时指向沙箱回验端点
	Sandbox bool
	// VerifyURL 覆盖回验地址，测试用
	VerifyURL string
	// HTTPClient 覆盖底层 HTTP 客户端，留空时使用带超时的默认客户端
	HTTPClient *http.Client
}

// NewClient 创建一个 IPN 回验客户端。
func NewClient(cfg Config) *Client {
	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		if cfg.Sandbox {
			verifyURL = SandboxVerifyURL
		} else {
			verifyURL = LiveVerifyURL
		}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{verifyURL: verifyURL, httpClient: httpClient}
}

// Sandbox 报告客户端是否指向沙箱端点。
func (c *Client) Sandbox() bool {
	return c.verifyURL == SandboxVerifyURL
}

// Verify 把 IPN 原始报文回传给 PayPal 并返回判定结果。
//
// 按 IPN 协议，回传报文必须在原文前加上 cmd=_notify-validate& 前缀，
// 其余字节保持原样，任何重排或重编码都会导致 INVALID。
// 返回值是去除空白后的判定文本（VERIFIED 或 INVALID）。
func (c *Client) Verify(ctx context.Context, rawIPN string) (string, error) {
	payload := "cmd=_notify-validate&" + rawIPN

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("paypal: build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: verify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paypal: verify endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("paypal: read verify response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}
