package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/squamishaccess/squamishaccess-functions/internal/azure"
	"github.com/squamishaccess/squamishaccess-functions/internal/domain"
	"github.com/squamishaccess/squamishaccess-functions/internal/mailchimp"
	"github.com/squamishaccess/squamishaccess-functions/internal/paypal"
)

// PaypalIPN 处理 PayPal 即时付款通知。
//
// 处理流程：
//  1. 回验：把原始报文回传 PayPal，判定 VERIFIED / INVALID
//  2. 准入：只处理已完成的、金额达标的会员类付款
//  3. 去重：同一交易号只允许产生一次会员变更
//  4. 写入：按 Mailchimp 幂等语义开通或续期会员
//
// 状态码约定：2xx 让 PayPal 停止重发，5xx 触发重发。
// 因此业务上"不处理"的通知（类型不符、重复、伪造）一律确认 200，
// 只有下游依赖故障才返回 5xx 等待重试。
func (h *Handler) PaypalIPN(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.observe("Paypal-IPN", "error", start)
		h.fail(r, w, http.StatusInternalServerError, "ipn", "Failed to read request body.")
		return
	}

	if h.paypal.Sandbox() {
		azure.Log(ctx, "Sandbox mode.")
	}

	msg, err := domain.ParseIPNMessage(string(body))
	if err != nil {
		h.observe("Paypal-IPN", "error", start)
		h.fail(r, w, http.StatusBadRequest, "ipn", "Malformed IPN payload.")
		return
	}

	// 回验必须先于一切业务判断，未经验证的字段不可信
	verifyStart := time.Now()
	verdict, err := h.paypal.Verify(ctx, msg.Raw)
	h.observeUpstream("paypal", verifyStart, err)
	if err != nil {
		h.recordOutcome(ctx, msg, domain.OutcomeFailed)
		h.observe("Paypal-IPN", "error", start)
		h.fail(r, w, http.StatusInternalServerError, "paypal", "IPN verification request failed.")
		return
	}
	if verdict != paypal.StatusVerified {
		azure.Log(ctx, "IPN rejected: verification returned %s, txn_id: %s", verdict, msg.TxnID)
		rec := h.recordOutcome(ctx, msg, domain.OutcomeInvalid)
		if h.events != nil {
			if err := h.events.PublishIPNRejected(ctx, rec); err != nil {
				h.logger.WithError(err).Warn("Failed to publish rejection event")
			}
		}
		h.observe("Paypal-IPN", "rejected", start)
		h.respondText(w, http.StatusOK, "IPN rejected.")
		return
	}

	if !msg.IsAcceptedTxnType() {
		azure.Log(ctx, "IPN: txn_type not acceptable: %s", msg.TxnType)
		h.recordOutcome(ctx, msg, domain.OutcomeIgnored)
		h.observe("Paypal-IPN", "ignored", start)
		h.respondText(w, http.StatusOK, "IPN ignored.")
		return
	}
	if !msg.IsCompleted() {
		azure.Log(ctx, "IPN: payment_status not Completed: %s", msg.PaymentStatus)
		h.recordOutcome(ctx, msg, domain.OutcomeIgnored)
		h.observe("Paypal-IPN", "ignored", start)
		h.respondText(w, http.StatusOK, "IPN ignored.")
		return
	}
	if msg.GrossCAD() < domain.MinimumMembershipGross {
		azure.Log(ctx, "IPN: amount below membership minimum: %.2f %s", msg.McGross, msg.McCurrency)
		h.recordOutcome(ctx, msg, domain.OutcomeIgnored)
		h.observe("Paypal-IPN", "ignored", start)
		h.respondText(w, http.StatusOK, "IPN ignored.")
		return
	}
	if msg.TxnID == "" {
		h.observe("Paypal-IPN", "error", start)
		h.fail(r, w, http.StatusBadRequest, "ipn", "IPN message has no txn_id.")
		return
	}

	if h.dedupe != nil {
		seen, err := h.dedupe.SeenTransaction(ctx, msg.TxnID)
		if err != nil {
			// 去重存储故障时继续处理，Mailchimp 写入本身是幂等的
			h.logger.WithError(err).Warn("Transaction dedupe lookup failed")
		} else if seen {
			azure.Log(ctx, "IPN: duplicate txn_id: %s", msg.TxnID)
			h.recordOutcome(ctx, msg, domain.OutcomeDuplicate)
			h.observe("Paypal-IPN", "duplicate", start)
			h.respondText(w, http.StatusOK, "Duplicate IPN.")
			return
		}
	}

	email, err := domain.NormalizeEmail(msg.PayerEmail)
	if err != nil {
		h.observe("Paypal-IPN", "error", start)
		h.fail(r, w, http.StatusBadRequest, "ipn", "IPN message has no usable payer_email.")
		return
	}

	lookupStart := time.Now()
	existing, err := h.mailchimp.GetMember(ctx, email)
	if err == domain.ErrMemberNotFound {
		// 名单里查不到是正常路径，新付款人走开通流程
		existing, err = nil, nil
	}
	h.observeUpstream("mailchimp", lookupStart, err)
	if err != nil {
		h.recordOutcome(ctx, msg, domain.OutcomeFailed)
		h.observe("Paypal-IPN", "error", start)
		h.fail(r, w, http.StatusBadGateway, "mailchimp", "Failed to look up list member.")
		return
	}

	var existingStatus domain.MemberStatus
	var existingJoined, existingExpires string
	if existing != nil {
		existingStatus = existing.Status
		existingJoined = existing.MergeFields.Joined
		existingExpires = existing.MergeFields.Expires
	}

	// 退订的会员绝不因付款被拉回名单
	if existingStatus == domain.StatusUnsubscribed {
		azure.Log(ctx, "IPN: member has unsubscribed, skipping update: %s", email)
		h.recordOutcome(ctx, msg, domain.OutcomeIgnored)
		h.observe("Paypal-IPN", "ignored", start)
		h.respondText(w, http.StatusOK, "Member has unsubscribed.")
		return
	}

	today := mailchimp.TodayPacific()
	joined := existingJoined
	if joined == "" {
		joined = mailchimp.FormatDate(today)
	}
	expires := mailchimp.FormatDate(mailchimp.ExtendExpiry(today, existingExpires))

	member := &mailchimp.Member{
		EmailAddress: email,
		Status:       domain.NextStatus(existingStatus),
		MergeFields: mailchimp.MergeFields{
			FirstName: msg.FirstName,
			LastName:  msg.LastName,
			Joined:    joined,
			Expires:   expires,
		},
	}
	upsertStart := time.Now()
	_, err = h.mailchimp.UpsertMember(ctx, member)
	h.observeUpstream("mailchimp", upsertStart, err)
	if err != nil {
		h.recordOutcome(ctx, msg, domain.OutcomeFailed)
		h.observe("Paypal-IPN", "error", start)
		h.fail(r, w, http.StatusBadGateway, "mailchimp", "Failed to update list member.")
		return
	}

	azure.Log(ctx, "Membership updated: %s, status: %s, expires: %s", email, member.Status, expires)

	if h.dedupe != nil {
		if err := h.dedupe.MarkTransactionProcessed(ctx, msg.TxnID); err != nil {
			h.logger.WithError(err).Warn("Failed to mark transaction as processed")
		}
	}
	rec := h.recordOutcome(ctx, msg, domain.OutcomeProcessed)
	if h.events != nil {
		if err := h.events.PublishMembershipActivated(ctx, rec); err != nil {
			h.logger.WithError(err).Warn("Failed to publish activation event")
		}
	}

	h.observe("Paypal-IPN", "processed", start)
	h.respondText(w, http.StatusOK, "IPN processed.")
}

// recordOutcome 记录一条通知的处理结果：指标计数加审计落库。
// 审计失败不影响主流程，只留日志。
func (h *Handler) recordOutcome(ctx context.Context, msg *domain.IPNMessage, outcome domain.IPNOutcome) *domain.IPNRecord {
	rec := &domain.IPNRecord{
		TxnID:      msg.TxnID,
		TxnType:    msg.TxnType,
		PayerEmail: msg.PayerEmail,
		Gross:      msg.McGross,
		Currency:   msg.McCurrency,
		Outcome:    outcome,
		ReceivedAt: time.Now().UTC(),
	}
	h.metrics.RecordIPNOutcome(string(outcome))
	if h.audit != nil {
		if err := h.audit.RecordTransaction(ctx, rec); err != nil {
			h.logger.WithError(err).Warn("Failed to record audit row")
		}
	}
	return rec
}
