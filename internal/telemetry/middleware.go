// Package telemetry 提供 OpenTelemetry 分布式追踪功能的封装。
// 本文件实现了 HTTP 中间件和客户端传输层的追踪集成，
// 用于自动为 HTTP 请求创建和传播追踪上下文。
package telemetry

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware 返回一个 HTTP 中间件，用于为传入的 HTTP 请求自动创建追踪 Span。
// 该中间件会：
//   - 从请求头中提取追踪上下文（如果存在）
//   - 创建新的 Span 来追踪请求处理
//   - 自动记录请求方法、路径、状态码等信息
//   - 将追踪上下文传递给下游处理器
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithPropagators(otel.GetTextMapPropagator()),
			otelhttp.WithSpanOptions(
				trace.WithAttributes(
					attribute.String("service.name", serviceName),
				),
			),
			// Span 名称格式：HTTP 方法 + 路径（如 "POST /Paypal-IPN"）
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// HTTPClientTransport 返回一个带追踪功能的 http.RoundTripper。
// 该传输层会为所有发出的 HTTP 请求自动创建客户端 Span，
// 并将追踪上下文注入到请求头中（用于跨服务追踪传播）。
// base 为 nil 时使用 http.DefaultTransport。
func HTTPClientTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
	)
}

// InstrumentedHTTPClient 返回一个预配置了追踪功能的 HTTP 客户端。
// 用于对 PayPal 与 Mailchimp 的出站请求，追踪上下文会通过
// HTTP 头传播到下游服务。
func InstrumentedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: HTTPClientTransport(nil),
	}
}
