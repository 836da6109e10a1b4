// Package telemetry 提供 OpenTelemetry 分布式追踪功能的封装。
// 本文件实现了日志与追踪的集成，通过 Logrus Hook 和辅助函数
// 自动将追踪上下文（Trace ID、Span ID）注入到日志条目中，
// 便于在日志系统中关联追踪数据进行问题排查。
package telemetry

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// LogrusHook 是一个 Logrus 钩子，用于自动将追踪上下文添加到日志条目中。
// 当日志条目包含有效的追踪上下文时，会自动添加 trace_id、span_id 和
// trace_sampled 字段，实现日志与追踪数据的关联。
type LogrusHook struct{}

// NewLogrusHook 创建一个新的 LogrusHook 实例。
// 将返回的钩子添加到 Logrus Logger 即可启用自动追踪上下文注入。
//
// 使用示例：
//
//	logger := logrus.New()
//	logger.AddHook(telemetry.NewLogrusHook())
func NewLogrusHook() *LogrusHook {
	return &LogrusHook{}
}

// Levels 返回 logrus.AllLevels，确保所有日志都能关联追踪上下文。
func (h *LogrusHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 在日志条目生成时被调用，用于向日志添加追踪上下文信息。
// 日志条目的上下文中包含有效 Span 时，将 trace_id、span_id
// 和采样标记添加到日志数据中。
func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		return nil
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}

	spanCtx := span.SpanContext()
	entry.Data["trace_id"] = spanCtx.TraceID().String()
	entry.Data["span_id"] = spanCtx.SpanID().String()
	if spanCtx.IsSampled() {
		entry.Data["trace_sampled"] = true
	}

	return nil
}

// LoggerWithTraceContext 返回一个带有追踪上下文字段的日志条目。
// 上下文中没有有效追踪信息时返回不带追踪字段的日志条目。
//
// 使用示例：
//
//	entry := telemetry.LoggerWithTraceContext(ctx, logger)
//	entry.Info("Processing notification")
func LoggerWithTraceContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logrus.NewEntry(logger)
	}

	spanCtx := span.SpanContext()
	return logger.WithFields(logrus.Fields{
		"trace_id":      spanCtx.TraceID().String(),
		"span_id":       spanCtx.SpanID().String(),
		"trace_sampled": spanCtx.IsSampled(),
	})
}
