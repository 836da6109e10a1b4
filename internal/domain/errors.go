// Package domain 定义了会员系统的核心领域模型。
package domain

import "errors"

// 领域错误定义
// 这些错误用于在应用程序的不同层之间传递业务逻辑相关的错误信息。

var (
	// ========== IPN 相关错误 ==========

	// ErrInvalidIPNPayload 表示 IPN 消息体无法按表单编码解析
	ErrInvalidIPNPayload = errors.New("invalid ipn payload")

	// ========== 会员相关错误 ==========

	// ErrMemberNotFound 表示名单中不存在该邮箱对应的会员
	ErrMemberNotFound = errors.New("member not found")
	// ErrInvalidEmail 表示邮箱地址无效（为空或缺少 @）
	ErrInvalidEmail = errors.New("invalid email address")

	// ========== 存储相关错误 ==========

	// ErrStorageConnection 表示存储连接错误（如数据库连接失败）
	ErrStorageConnection = errors.New("storage connection error")
	// ErrStorageQuery 表示存储查询错误（如 SQL 查询失败）
	ErrStorageQuery = errors.New("storage query error")
)
