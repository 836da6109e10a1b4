// Package mailchimp 实现了 Mailchimp Marketing API 的最小客户端，
// 覆盖会员业务需要的名单成员读取与写入。
package mailchimp

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/squamishaccess/squamishaccess-functions/internal/domain"
)

// 合并字段标签常量定义
// 这些标签必须与名单在 Mailchimp 侧配置的合并字段一致。
const (
	// MergeFieldFirstName 是名字段
	MergeFieldFirstName = "FNAME"
	// MergeFieldLastName 是姓氏字段
	MergeFieldLastName = "LNAME"
	// MergeFieldJoined 是入会日期字段
	MergeFieldJoined = "JOINED"
	// MergeFieldExpires 是会员到期日期字段
	MergeFieldExpires = "EXPIRES"
)

// Config 是 Mailchimp 客户端的配置。
type Config struct {
	// APIKey 是 Mailchimp API 密钥，末段携带数据中心标识（如 xxx-us6）
	APIKey string
	// ListID 是会员名单（audience）的 ID
	ListID string
	// BaseURL 覆盖 API 根地址，留空时按密钥中的数据中心推导，测试用
	BaseURL string
	// HTTPClient 覆盖底层 HTTP 客户端，留空时使用带超时的默认客户端
	HTTPClient *http.Client
}

// Client 是 Mailchimp API 客户端。
type Client struct {
	baseURL    string
	apiKey     string
	listID     string
	httpClient *http.Client
}

// NewClient 创建一个 Mailchimp 客户端。
// API 密钥的数据中心后缀（最后一个连字符之后）决定请求指向的区域域名。
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mailchimp: api key is required")
	}
	if cfg.ListID == "" {
		return nil, fmt.Errorf("mailchimp: list id is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		idx := strings.LastIndex(cfg.APIKey, "-")
		if idx < 0 || idx == len(cfg.APIKey)-1 {
			return nil, fmt.Errorf("mailchimp: api key has no datacenter suffix")
		}
		baseURL = fmt.Sprintf("https://%s.api.mailchimp.com", cfg.APIKey[idx+1:])
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		listID:     cfg.ListID,
		httpClient: httpClient,
	}, nil
}

// SubscriberHash 计算名单成员的定位哈希：小写邮箱的 MD5 十六进制。
// 这是 Mailchimp 成员资源路径的规定格式。
func SubscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// Member 表示名单中的一位成员。
type Member struct {
	// EmailAddress 是成员邮箱
	EmailAddress string `json:"email_address"`
	// Status 是订阅状态
	Status domain.MemberStatus `json:"status"`
	// MergeFields 是成员的合并字段集合
	MergeFields MergeFields `json:"merge_fields"`
}

// MergeFields 表示成员合并字段。
// 日期字段按 Mailchimp 的 YYYY-MM-DD 文本格式存取。
type MergeFields struct {
	FirstName string `json:"FNAME,omitempty"`
	LastName  string `json:"LNAME,omitempty"`
	Joined    string `json:"JOINED,omitempty"`
	Expires   string `json:"EXPIRES,omitempty"`
}

// APIError 表示 Mailchimp 返回的非成功响应。
type APIError struct {
	// Status 是 HTTP 状态码
	Status int
	// Body 是响应体原文，Mailchimp 的错误详情以 JSON 形式在其中
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mailchimp: status %d: %s", e.Status, e.Body)
}

// GetMember 按邮箱读取名单成员。
// 成员不存在时返回 domain.ErrMemberNotFound，其余非成功响应返回 *APIError。
func (c *Client) GetMember(ctx context.Context, email string) (*Member, error) {
	path := fmt.Sprintf("/3.0/lists/%s/members/%s", c.listID, SubscriberHash(email))
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}

	var m Member
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("mailchimp: decode member: %w", err)
	}
	return &m, nil
}

// UpsertMember 以 PUT 语义写入名单成员：不存在则创建，存在则更新。
// status_if_new 仅在创建时生效，已有成员的订阅状态不会被改写。
func (c *Client) UpsertMember(ctx context.Context, m *Member) (*Member, error) {
	payload := struct {
		EmailAddress string              `json:"email_address"`
		StatusIfNew  domain.MemberStatus `json:"status_if_new"`
		MergeFields  MergeFields         `json:"merge_fields"`
	}{
		EmailAddress: m.EmailAddress,
		StatusIfNew:  m.Status,
		MergeFields:  m.MergeFields,
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mailchimp: encode member: %w", err)
	}

	path := fmt.Sprintf("/3.0/lists/%s/members/%s", c.listID, SubscriberHash(m.EmailAddress))
	body, err := c.do(ctx, http.MethodPut, path, buf)
	if err != nil {
		return nil, err
	}

	var out Member
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("mailchimp: decode member: %w", err)
	}
	return &out, nil
}

// do 执行一次 API 请求并返回成功响应体。
// Mailchimp 的认证是 basic auth，用户名任意，密码为 API 密钥。
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("mailchimp: build request: %w", err)
	}
	req.SetBasicAuth("any", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailchimp: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mailchimp: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}
