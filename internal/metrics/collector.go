// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义函数应用的关键指标（调用、IPN 处理、外部依赖），便于在各模块复用并保持标签一致。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 封装函数应用的运行时指标集合。
// 所有字段均为 Prometheus 指标类型，通过辅助方法更新指标值。
//
// 指标分类:
//   - 调用指标: 跟踪各函数端点的调用次数与耗时
//   - IPN 指标: 按处理结果统计 PayPal 通知
//   - 依赖指标: 监控对 PayPal 与 Mailchimp 的出站请求
type Metrics struct {
	// ========== 调用相关指标 ==========

	// InvocationsTotal 函数调用总次数计数器
	// 标签: function, status
	InvocationsTotal *prometheus.CounterVec

	// InvocationDuration 函数调用耗时直方图（单位：毫秒）
	// 标签: function
	// 桶边界: 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000 ms
	InvocationDuration *prometheus.HistogramVec

	// ========== IPN 相关指标 ==========

	// IPNOutcomes IPN 通知处理结果计数器
	// 标签: outcome (processed/ignored/duplicate/invalid/failed)
	IPNOutcomes *prometheus.CounterVec

	// ========== 外部依赖相关指标 ==========

	// UpstreamRequests 出站请求计数器
	// 标签: service (paypal/mailchimp), status
	UpstreamRequests *prometheus.CounterVec

	// UpstreamDuration 出站请求耗时直方图（单位：毫秒）
	// 标签: service
	UpstreamDuration *prometheus.HistogramVec
}

// NewMetrics 创建并注册一组 Prometheus 指标。
// namespace 用于作为所有指标名前缀，便于在同一 Prometheus 中区分不同应用。
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		InvocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of function invocations",
			},
			[]string{"function", "status"},
		),
		InvocationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_ms",
				Help:      "Function invocation duration in milliseconds",
				Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"function"},
		),
		IPNOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ipn_outcomes_total",
				Help:      "Total number of IPN notifications by outcome",
			},
			[]string{"outcome"},
		),
		UpstreamRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Total number of upstream requests",
			},
			[]string{"service", "status"},
		),
		UpstreamDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_ms",
				Help:      "Upstream request duration in milliseconds",
				Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"service"},
		),
	}
}

// RecordInvocation 记录一次函数调用的统计信息。
// durationMs 为调用耗时（毫秒）。
// 接收者为 nil 时直接返回，调用方不必为可选指标加判空。
func (m *Metrics) RecordInvocation(function, status string, durationMs float64) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(function, status).Inc()
	m.InvocationDuration.WithLabelValues(function).Observe(durationMs)
}

// RecordIPNOutcome 记录一条 IPN 通知的处理结果。
func (m *Metrics) RecordIPNOutcome(outcome string) {
	if m == nil {
		return
	}
	m.IPNOutcomes.WithLabelValues(outcome).Inc()
}

// RecordUpstream 记录一次出站请求的统计信息。
func (m *Metrics) RecordUpstream(service, status string, durationMs float64) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(service, status).Inc()
	m.UpstreamDuration.WithLabelValues(service).Observe(durationMs)
}
