package paypal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestVerify 验证回验请求：cmd 前缀、原文逐字节回传与表单内容类型。
func TestVerify(t *testing.T) {
	raw := "txn_id=TX1&payer_email=alice%40example.com&mc_gross=25.00"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "cmd=_notify-validate&"+raw {
			t.Errorf("payload = %q; the raw message must be echoed byte for byte", body)
		}
		w.Write([]byte("VERIFIED\n"))
	}))
	defer srv.Close()

	c := NewClient(Config{VerifyURL: srv.URL, HTTPClient: srv.Client()})
	got, err := c.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != StatusVerified {
		t.Errorf("Verify = %q, want %q", got, StatusVerified)
	}
}

// TestVerifyInvalid 验证 INVALID 判定按原样返回而不是报错。
func TestVerifyInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("INVALID"))
	}))
	defer srv.Close()

	c := NewClient(Config{VerifyURL: srv.URL, HTTPClient: srv.Client()})
	got, err := c.Verify(context.Background(), "txn_id=TX1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != StatusInvalid {
		t.Errorf("Verify = %q, want %q", got, StatusInvalid)
	}
}

// TestVerifyEndpointFailure 验证回验端点非成功状态映射为错误。
func TestVerifyEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	c := NewClient(Config{VerifyURL: srv.URL, HTTPClient: srv.Client()})
	if _, err := c.Verify(context.Background(), "txn_id=TX1"); err == nil {
		t.Fatal("Verify should fail on a non-2xx verify endpoint response")
	}
}

// TestNewClientEndpoints 验证生产与沙箱端点选择。
func TestNewClientEndpoints(t *testing.T) {
	if c := NewClient(Config{}); c.verifyURL != LiveVerifyURL || c.Sandbox() {
		t.Errorf("default client should target the live endpoint, got %q", c.verifyURL)
	}
	if c := NewClient(Config{Sandbox: true}); c.verifyURL != SandboxVerifyURL || !c.Sandbox() {
		t.Errorf("sandbox client should target the sandbox endpoint, got %q", c.verifyURL)
	}
}
