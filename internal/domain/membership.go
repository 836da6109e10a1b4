// Package domain 定义了会员系统的核心领域模型。
package domain

import "strings"

// MemberStatus 表示会员在邮件名单中的订阅状态。
type MemberStatus string

// 订阅状态常量定义
const (
	// StatusSubscribed 表示会员已订阅，会收到名单邮件
	StatusSubscribed MemberStatus = "subscribed"
	// StatusPending 表示等待会员确认订阅（双重确认邮件已发出）
	StatusPending MemberStatus = "pending"
	// StatusUnsubscribed 表示会员已主动退订
	StatusUnsubscribed MemberStatus = "unsubscribed"
	// StatusCleaned 表示邮箱被名单服务判定为无效并清理
	StatusCleaned MemberStatus = "cleaned"
)

// NextStatus 计算付款后会员应落到的订阅状态。
//
// 新会员走双重确认流程落 pending；已退订的会员保持退订，
// 绝不因付款被重新拉回名单（反垃圾邮件法规要求退订必须由本人操作）。
func NextStatus(existing MemberStatus) MemberStatus {
	switch existing {
	case StatusUnsubscribed:
		return StatusUnsubscribed
	case StatusSubscribed:
		return StatusSubscribed
	default:
		return StatusPending
	}
}

// NormalizeEmail 返回用于会员匹配的规范化邮箱（小写、去首尾空白）。
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
