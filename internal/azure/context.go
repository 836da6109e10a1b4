package azure

import (
	"context"
	"fmt"
)

// HandlerError 是下游处理器暴露给观察中间件的结构化错误。
// 处理器在写出 4xx/5xx 响应时记录一份，观察中间件据此生成诊断日志，
// 不会改变响应本身。
type HandlerError struct {
	// Status 是处理器写出的 HTTP 状态码
	Status int
	// Type 是错误的分类标识，如 "paypal_verify"、"mailchimp"
	Type string
	// Message 是人类可读的错误描述
	Message string
}

// Error 实现 error 接口。
func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// RequestState 保存一次调用在中间件链中共享的请求级状态。
// 状态对象在信封解码阶段创建一次，按引用贯穿整条处理链，
// 收集器与各个运行一次标记都是具名字段而不是按类型散落在 context 里。
//
// 同一请求的所有持有方都运行在同一个逻辑任务中，
// 字段访问无需额外加锁（日志追加本身由 Collector 内部的锁串行化）。
type RequestState struct {
	// Logs 是本次调用的日志收集器，信封编码阶段将其独占排空
	Logs *Collector

	// envelopeApplied 与 logObserverApplied 是两个中间件各自的运行一次标记，
	// 使适配层在嵌套管线中被重复挂载时退化为透传
	envelopeApplied    bool
	logObserverApplied bool

	// handlerErr 是处理器记录的结构化错误，成功路径上保持为 nil
	handlerErr *HandlerError
}

// HandlerError 返回处理器记录的结构化错误，没有则返回 nil。
func (s *RequestState) HandlerError() *HandlerError {
	return s.handlerErr
}

// ctxKey 是 RequestState 在 context 中的私有键类型。
type ctxKey struct{}

// WithRequestState 将请求级状态挂到 context 上。
func WithRequestState(ctx context.Context, s *RequestState) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// StateFrom 取出请求级状态，信封中间件尚未运行时返回 nil。
func StateFrom(ctx context.Context) *RequestState {
	s, _ := ctx.Value(ctxKey{}).(*RequestState)
	return s
}

// mustState 取出请求级状态，不存在时 panic。
// 处理器与观察中间件必须挂载在信封中间件之后。
func mustState(ctx context.Context) *RequestState {
	s := StateFrom(ctx)
	if s == nil {
		panic("azure: Envelope middleware must be installed")
	}
	return s
}

// Log 向当前调用的日志收集器追加一行格式化日志。
// 这是处理器侧的便捷入口：即取即用，不保留句柄，
// 因而不会触碰 Finalize 的所有权约束。
func Log(ctx context.Context, format string, args ...interface{}) {
	mustState(ctx).Logs.Append(fmt.Sprintf(format, args...))
}

// SetHandlerError 记录处理器产生的结构化错误，供观察中间件读取。
func SetHandlerError(ctx context.Context, err *HandlerError) {
	mustState(ctx).handlerErr = err
}
