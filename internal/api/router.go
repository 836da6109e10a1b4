// Package api 提供了 Azure Functions 自定义处理程序的 HTTP 处理器。
// 该文件负责配置 HTTP 路由器和中间件，将宿主转发的调用映射到各函数处理器。
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/squamishaccess/squamishaccess-functions/internal/azure"
	"github.com/squamishaccess/squamishaccess-functions/internal/config"
	"github.com/squamishaccess/squamishaccess-functions/internal/telemetry"
)

// RouterConfig 路由器配置选项
type RouterConfig struct {
	// Handler 函数处理器
	Handler *Handler
	// Envelope 调用信封适配配置
	Envelope config.EnvelopeConfig
	// ServiceName 追踪用服务名
	ServiceName string
	// Logger 日志记录器
	Logger *logrus.Logger
}

// NewRouter 创建并配置 HTTP 路由器。
//
// 中间件按添加顺序执行，形成洋葱模型。信封适配层挂在 Recoverer 之前：
// 日志收集器的所有权违规属于致命缺陷，必须让进程崩溃暴露出来，
// 而不是被 Recoverer 吞掉后带着缺失的日志继续服务。
//
// 路由结构：
//
//	/                  - 存活探针（宿主启动检查）
//	/Paypal-IPN        - PayPal IPN 接收端点
//	/Membership-Check  - 会员资格查询端点
func NewRouter(cfg *RouterConfig) *chi.Mux {
	h := cfg.Handler
	r := chi.NewRouter()

	// 遥测中间件：记录 HTTP 请求的追踪信息
	r.Use(telemetry.HTTPMiddleware(cfg.ServiceName))

	// RequestID 中间件：为每个请求生成唯一 ID，便于日志追踪
	r.Use(middleware.RequestID)

	// RealIP 中间件：从 X-Forwarded-For 等头部获取真实客户端 IP
	r.Use(middleware.RealIP)

	// 存活探针不走信封适配：宿主的启动检查是普通 HTTP 请求
	r.Get("/", h.Ping)

	// 函数端点路由组：宿主以调用信封转发请求
	r.Group(func(r chi.Router) {
		// 信封适配层：解码宿主调用信封、挂载日志收集器、重编码响应
		r.Use(azure.Envelope(envelopeOptions(cfg.Envelope), cfg.Logger))

		// 错误观察中间件：4xx/5xx 时向调用日志追加诊断行
		r.Use(azure.LogObserver())

		// Recoverer 中间件：捕获下游处理器 panic 并返回 500
		r.Use(middleware.Recoverer)

		// Timeout 中间件：设置请求超时时间为 60 秒
		r.Use(middleware.Timeout(60 * time.Second))

		// POST /Paypal-IPN - PayPal 即时付款通知
		r.Post("/Paypal-IPN", h.PaypalIPN)

		// POST /Membership-Check - 会员资格查询
		r.Post("/Membership-Check", h.MembershipCheck)
	})

	return r
}

// NewMetricsRouter 创建指标路由器。
// Prometheus 指标走独立端口，避免被调用信封包裹。
func NewMetricsRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

// envelopeOptions 把配置翻译为信封适配选项。
func envelopeOptions(cfg config.EnvelopeConfig) azure.Options {
	idSource := azure.IDSourceHeader
	if cfg.IDSource == "metadata" {
		idSource = azure.IDSourceMetadata
	}
	shape := azure.ShapeOutputs
	if cfg.Shape == "returnvalue" {
		shape = azure.ShapeReturnValue
	}
	return azure.Options{
		IDSource:           idSource,
		Shape:              shape,
		InnerBodyPointer:   cfg.InnerBodyPointer,
		MetadataIDPointer:  cfg.MetadataIDPointer,
		IncludeAllHeaders:  cfg.IncludeAllHeaders,
		ForceSuccessStatus: !cfg.PropagateStatus,
	}
}
