package mailchimp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/squamishaccess/squamishaccess-functions/internal/domain"
)

// TestNewClientDatacenter 验证 API 根地址按密钥末段的数据中心标识推导。
func TestNewClientDatacenter(t *testing.T) {
	c, err := NewClient(Config{APIKey: "0123456789abcdef-us6", ListID: "list1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.baseURL != "https://us6.api.mailchimp.com" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

// TestNewClientRejectsBadConfig 验证缺失配置与无数据中心后缀的密钥被拒绝。
func TestNewClientRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no api key", cfg: Config{ListID: "l"}},
		{name: "no list id", cfg: Config{APIKey: "k-us6"}},
		{name: "no datacenter suffix", cfg: Config{APIKey: "keywithoutdc", ListID: "l"}},
		{name: "trailing dash", cfg: Config{APIKey: "key-", ListID: "l"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg); err == nil {
				t.Error("NewClient should fail")
			}
		})
	}
}

// TestSubscriberHash 验证成员定位哈希为小写邮箱的 MD5。
func TestSubscriberHash(t *testing.T) {
	// Mailchimp 文档中的已知样例
	got := SubscriberHash("Urist.McVankab@freddiesjokes.com")
	want := "62eeb292278cc15f5817cb78f7790b08"
	if got != want {
		t.Errorf("SubscriberHash = %q, want %q", got, want)
	}
	if got != SubscriberHash("urist.mcvankab@freddiesjokes.com") {
		t.Error("hash must be case insensitive on the email")
	}
}

// newTestClient 搭建一个指向 httptest 服务端的客户端。
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "testkey-us1", ListID: "list1", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

// TestGetMember 验证成员读取：路径哈希、basic auth 与响应解码。
func TestGetMember(t *testing.T) {
	wantPath := "/3.0/lists/list1/members/" + SubscriberHash("alice@example.com")
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != wantPath {
			t.Errorf("path = %q, want %q", r.URL.Path, wantPath)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "any" || pass != "testkey-us1" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		json.NewEncoder(w).Encode(Member{
			EmailAddress: "alice@example.com",
			Status:       domain.StatusSubscribed,
			MergeFields:  MergeFields{FirstName: "Alice", Expires: "2027-01-15"},
		})
	})

	m, err := c.GetMember(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if m.Status != domain.StatusSubscribed {
		t.Errorf("status = %q", m.Status)
	}
	if m.MergeFields.Expires != "2027-01-15" {
		t.Errorf("EXPIRES = %q", m.MergeFields.Expires)
	}
}

// TestGetMemberNotFound 验证 404 被映射为领域错误。
func TestGetMemberNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title":"Resource Not Found"}`, http.StatusNotFound)
	})

	if _, err := c.GetMember(context.Background(), "ghost@example.com"); err != domain.ErrMemberNotFound {
		t.Fatalf("err = %v, want ErrMemberNotFound", err)
	}
}

// TestGetMemberAPIError 验证其余非成功响应保留状态码与响应体。
func TestGetMemberAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title":"API Key Invalid"}`, http.StatusUnauthorized)
	})

	_, err := c.GetMember(context.Background(), "alice@example.com")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %T(%v), want *APIError", err, err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
	if !strings.Contains(apiErr.Body, "API Key Invalid") {
		t.Errorf("body = %q", apiErr.Body)
	}
}

// TestUpsertMember 验证 PUT 写入：status_if_new 语义与合并字段序列化。
func TestUpsertMember(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		body, _ := io.ReadAll(r.Body)

		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload["status_if_new"] != "pending" {
			t.Errorf("status_if_new = %v, want pending", payload["status_if_new"])
		}
		merge, _ := payload["merge_fields"].(map[string]interface{})
		if merge[MergeFieldExpires] != "2027-03-01" {
			t.Errorf("EXPIRES = %v", merge[MergeFieldExpires])
		}

		json.NewEncoder(w).Encode(Member{
			EmailAddress: "bob@example.com",
			Status:       domain.StatusPending,
			MergeFields:  MergeFields{FirstName: "Bob", Expires: "2027-03-01"},
		})
	})

	out, err := c.UpsertMember(context.Background(), &Member{
		EmailAddress: "bob@example.com",
		Status:       domain.StatusPending,
		MergeFields:  MergeFields{FirstName: "Bob", Expires: "2027-03-01"},
	})
	if err != nil {
		t.Fatalf("UpsertMember: %v", err)
	}
	if out.Status != domain.StatusPending {
		t.Errorf("status = %q", out.Status)
	}
}
