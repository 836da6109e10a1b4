package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/squamishaccess/squamishaccess-functions/internal/azure"
	"github.com/squamishaccess/squamishaccess-functions/internal/domain"
	"github.com/squamishaccess/squamishaccess-functions/internal/mailchimp"
)

// membershipCheckRequest 是会员资格查询的请求体。
type membershipCheckRequest struct {
	Email string `json:"email"`
}

// membershipCheckResponse 是会员资格查询的响应体。
type membershipCheckResponse struct {
	// Membership 取值 active 或 expired
	Membership string `json:"membership"`
	// Expiration 是到期日（2006-01-02）
	Expiration string              `json:"expiration,omitempty"`
	Email      string              `json:"email"`
	Status     domain.MemberStatus `json:"status"`
	Joined     string              `json:"joined,omitempty"`
}

// MembershipCheck 按邮箱查询会员资格。
//
// 查不到成员返回 404，名单服务故障返回 502，
// 两类错误都会在调用日志中留下诊断行。
func (h *Handler) MembershipCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req membershipCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observe("Membership-Check", "error", start)
		h.fail(r, w, http.StatusBadRequest, "membership", "Request body is not valid JSON.")
		return
	}

	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		h.observe("Membership-Check", "error", start)
		h.fail(r, w, http.StatusBadRequest, "membership", "A valid email address is required.")
		return
	}

	member, err := h.mailchimp.GetMember(ctx, email)
	if err == domain.ErrMemberNotFound {
		h.observe("Membership-Check", "not_found", start)
		h.fail(r, w, http.StatusNotFound, "membership", "No such member.")
		return
	}
	if err != nil {
		h.observe("Membership-Check", "error", start)
		h.fail(r, w, http.StatusBadGateway, "mailchimp", "Failed to look up list member.")
		return
	}

	resp := membershipCheckResponse{
		Membership: "expired",
		Expiration: member.MergeFields.Expires,
		Email:      member.EmailAddress,
		Status:     member.Status,
		Joined:     member.MergeFields.Joined,
	}
	if memberActive(member.Status, member.MergeFields.Expires) {
		resp.Membership = "active"
	}

	azure.Log(ctx, "Membership check: %s, status: %s, membership: %s", email, resp.Status, resp.Membership)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.WithError(err).Warn("Failed to write response body")
	}
	h.observe("Membership-Check", "ok", start)
}

// memberActive 判断会员资格是否有效：已订阅（或待确认）且到期日未过。
// "今天"按俱乐部所在地的太平洋日历计算，与入会、续费的日期口径一致。
func memberActive(status domain.MemberStatus, expires string) bool {
	if status != domain.StatusSubscribed && status != domain.StatusPending {
		return false
	}
	if _, err := mailchimp.ParseDate(expires); err != nil {
		return false
	}
	// 同为 2006-01-02 文本，字典序即日期序
	return expires >= mailchimp.FormatDate(mailchimp.TodayPacific())
}
