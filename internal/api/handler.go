// Package api 提供了 Azure Functions 自定义处理程序的 HTTP 处理器。
// 该包实现了会员系统的函数端点，主要功能包括：
//   - 接收并处理 PayPal IPN 付款通知
//   - 按邮箱查询会员资格
//   - 存活探针
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/squamishaccess/squamishaccess-functions/internal/azure"
	"github.com/squamishaccess/squamishaccess-functions/internal/domain"
	"github.com/squamishaccess/squamishaccess-functions/internal/mailchimp"
	"github.com/squamishaccess/squamishaccess-functions/internal/metrics"
)

// Handler 是函数请求处理器的核心结构体。
// 它封装了对外部依赖的访问，负责处理宿主转发的所有调用。
//
// dedupe、audit、events 均为可选依赖：传 nil 时对应能力关闭，
// IPN 处理退化为无状态模式（完全依赖 PayPal 回验与 Mailchimp 幂等写入）。
type Handler struct {
	paypal    PaypalVerifier
	mailchimp MailchimpClient
	dedupe    TransactionDeduper
	audit     AuditStore
	events    EventPublisher
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// PaypalVerifier 定义了 IPN 回验所需的最小能力。
type PaypalVerifier interface {
	// Verify 把原始报文回传 PayPal，返回 VERIFIED 或 INVALID
	Verify(ctx context.Context, rawIPN string) (string, error)
	// Sandbox 报告是否指向沙箱端点
	Sandbox() bool
}

// MailchimpClient 定义了名单操作所需的最小能力。
type MailchimpClient interface {
	// GetMember 按邮箱读取成员，不存在时返回 domain.ErrMemberNotFound
	GetMember(ctx context.Context, email string) (*mailchimp.Member, error)
	// UpsertMember 以 PUT 语义写入成员
	UpsertMember(ctx context.Context, m *mailchimp.Member) (*mailchimp.Member, error)
}

// TransactionDeduper 定义了交易去重存储的接口。
type TransactionDeduper interface {
	SeenTransaction(ctx context.Context, txnID string) (bool, error)
	MarkTransactionProcessed(ctx context.Context, txnID string) error
}

// AuditStore 定义了审计落库的接口。
type AuditStore interface {
	RecordTransaction(ctx context.Context, rec *domain.IPNRecord) error
}

// EventPublisher 定义了会员事件发布的接口。
type EventPublisher interface {
	PublishMembershipActivated(ctx context.Context, rec *domain.IPNRecord) error
	PublishIPNRejected(ctx context.Context, rec *domain.IPNRecord) error
}

// HandlerConfig 聚合 Handler 的全部依赖。
type HandlerConfig struct {
	Paypal    PaypalVerifier
	Mailchimp MailchimpClient
	Dedupe    TransactionDeduper
	Audit     AuditStore
	Events    EventPublisher
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
}

// NewHandler 创建并返回一个新的 Handler 实例。
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		paypal:    cfg.Paypal,
		mailchimp: cfg.Mailchimp,
		dedupe:    cfg.Dedupe,
		audit:     cfg.Audit,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Ping 是存活探针。
// 宿主启动时会访问根路径确认处理程序已经就绪。
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.respondText(w, http.StatusOK, "Membership functions are running.")
}

// respondText 以纯文本写出响应。
func (h *Handler) respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.WithError(err).Warn("Failed to write response body")
	}
}

// fail 记录结构化错误并写出错误响应。
// 错误同时进入请求 context，供错误观察中间件生成调用诊断日志。
func (h *Handler) fail(r *http.Request, w http.ResponseWriter, status int, errType, message string) {
	azure.SetHandlerError(r.Context(), &azure.HandlerError{
		Status:  status,
		Type:    errType,
		Message: message,
	})
	h.logger.WithFields(logrus.Fields{
		"status":     status,
		"error_type": errType,
	}).Error(message)
	h.respondText(w, status, message)
}

// observe 记录一次函数调用的指标。
func (h *Handler) observe(function, status string, start time.Time) {
	h.metrics.RecordInvocation(function, status, float64(time.Since(start).Milliseconds()))
}

// observeUpstream 记录一次出站请求的指标。
func (h *Handler) observeUpstream(service string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordUpstream(service, status, float64(time.Since(start).Milliseconds()))
}
