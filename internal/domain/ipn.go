// Package domain 定义了会员系统的核心领域模型。
package domain

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 交易类型常量定义
// 只有这两类交易会触发会员开通或续费，其余类型（退款、争议等）直接忽略。
const (
	// TxnTypeWebAccept 表示网站一次性付款
	TxnTypeWebAccept = "web_accept"
	// TxnTypeSubscrPayment 表示订阅周期付款
	TxnTypeSubscrPayment = "subscr_payment"
)

// PaymentStatusCompleted 是 PayPal 报告的付款完成状态。
// 其余状态（Pending、Refunded 等）不授予会员资格。
const PaymentStatusCompleted = "Completed"

// MinimumMembershipGross 是授予会员资格的最低付款金额（加元）。
const MinimumMembershipGross = 10.0

// IPNMessage 表示一条解析后的 PayPal 即时付款通知。
// 字段名与 PayPal IPN 变量一一对应，原始报文保留在 Raw 中供回验使用。
type IPNMessage struct {
	// TxnID 是 PayPal 交易号，作为幂等去重的键
	TxnID string
	// TxnType 是交易类型（web_accept、subscr_payment 等）
	TxnType string
	// PaymentStatus 是付款状态
	PaymentStatus string
	// PayerEmail 是付款人邮箱，用于定位会员记录
	PayerEmail string
	// FirstName 是付款人的名
	FirstName string
	// LastName 是付款人的姓
	LastName string
	// McCurrency 是付款币种
	McCurrency string
	// McGross 是付款总额（付款币种）
	McGross float64
	// ExchangeRate 是付款币种到收款币种的汇率，同币种时为 0
	ExchangeRate float64
	// PaymentDate 是 PayPal 报告的付款时间原文
	PaymentDate string
	// Raw 是未经改动的原始报文，回验时必须逐字节回传
	Raw string
}

// ParseIPNMessage 按表单编码解析 IPN 原始报文。
// 数值字段解析失败时按零值处理而不报错，缺字段同理：
// 通知内容由 PayPal 生成，这里只负责提取，取舍交给上层业务判断。
func ParseIPNMessage(raw string) (*IPNMessage, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, ErrInvalidIPNPayload
	}

	m := &IPNMessage{
		TxnID:         values.Get("txn_id"),
		TxnType:       values.Get("txn_type"),
		PaymentStatus: values.Get("payment_status"),
		PayerEmail:    values.Get("payer_email"),
		FirstName:     values.Get("first_name"),
		LastName:      values.Get("last_name"),
		McCurrency:    values.Get("mc_currency"),
		PaymentDate:   values.Get("payment_date"),
		Raw:           raw,
	}
	m.McGross, _ = strconv.ParseFloat(values.Get("mc_gross"), 64)
	m.ExchangeRate, _ = strconv.ParseFloat(values.Get("exchange_rate"), 64)
	return m, nil
}

// IsAcceptedTxnType 判断交易类型是否属于会员业务关心的两类付款。
func (m *IPNMessage) IsAcceptedTxnType() bool {
	return m.TxnType == TxnTypeWebAccept || m.TxnType == TxnTypeSubscrPayment
}

// IsCompleted 判断付款是否已完成。
func (m *IPNMessage) IsCompleted() bool {
	return m.PaymentStatus == PaymentStatusCompleted
}

// GrossCAD 返回折算为加元的付款总额。
// 非加元付款时按 PayPal 提供的汇率折算，汇率缺失则原样返回。
func (m *IPNMessage) GrossCAD() float64 {
	if !strings.EqualFold(m.McCurrency, "CAD") && m.ExchangeRate > 0 {
		return m.McGross * m.ExchangeRate
	}
	return m.McGross
}

// IPNOutcome 表示一条 IPN 通知的最终处理结果。
type IPNOutcome string

// 处理结果常量定义
const (
	// OutcomeProcessed 表示通知已处理且会员资格已更新
	OutcomeProcessed IPNOutcome = "processed"
	// OutcomeIgnored 表示交易类型或付款状态不在业务范围内，直接确认
	OutcomeIgnored IPNOutcome = "ignored"
	// OutcomeDuplicate 表示同一交易号已处理过
	OutcomeDuplicate IPNOutcome = "duplicate"
	// OutcomeInvalid 表示 PayPal 回验判定通知为伪造
	OutcomeInvalid IPNOutcome = "invalid"
	// OutcomeFailed 表示下游依赖失败，等待 PayPal 重试
	OutcomeFailed IPNOutcome = "failed"
)

// IPNRecord 表示一条 IPN 处理审计记录。
// 每条进入业务范围的通知都会落一行，便于事后对账。
type IPNRecord struct {
	// TxnID 是 PayPal 交易号
	TxnID string `json:"txn_id"`
	// TxnType 是交易类型
	TxnType string `json:"txn_type"`
	// PayerEmail 是付款人邮箱
	PayerEmail string `json:"payer_email"`
	// Gross 是付款总额（付款币种）
	Gross float64 `json:"gross"`
	// Currency 是付款币种
	Currency string `json:"currency"`
	// Outcome 是最终处理结果
	Outcome IPNOutcome `json:"outcome"`
	// ReceivedAt 是通知的接收时间
	ReceivedAt time.Time `json:"received_at"`
}
